package gologger

import (
	"strings"

	job "github.com/goliatone/go-job"
	glog "github.com/goliatone/go-logger/glog"

	"github.com/goliatone/go-payhooks/core"
)

const (
	ComponentDispatcher = "inbound"
	ComponentRunner     = "handlers"
	ComponentFollowUp   = "followup"
)

// Loggers are the named loggers of one service instance.
type Loggers struct {
	Provider   glog.LoggerProvider
	Service    glog.Logger
	Dispatcher glog.Logger
	Runner     glog.Logger
	FollowUp   glog.Logger
}

// ResolveComponents resolves provider > logger > nop once for service, then
// asks the provider for "<service>.<component>" loggers. A plain logger is
// shared by every component.
func ResolveComponents(service string, provider glog.LoggerProvider, logger glog.Logger) Loggers {
	service = strings.TrimSpace(service)
	if service == "" {
		service = "payhooks"
	}
	resolvedProvider, _ := glog.Resolve(service, provider, logger)
	base := core.ResolveLogger(service, provider, logger)

	named := func(component string) glog.Logger {
		if provider == nil {
			return base
		}
		if l := provider.GetLogger(service + "." + component); l != nil {
			return glog.Ensure(l)
		}
		return base
	}
	return Loggers{
		Provider:   resolvedProvider,
		Service:    base,
		Dispatcher: named(ComponentDispatcher),
		Runner:     named(ComponentRunner),
		FollowUp:   named(ComponentFollowUp),
	}
}

// JobLogger hands the follow-up logger to go-job workers.
func (l Loggers) JobLogger() job.Logger {
	if l.FollowUp == nil {
		return nil
	}
	return job.GoLogger(l.FollowUp)
}

func (l Loggers) JobProvider() job.LoggerProvider {
	if l.Provider == nil {
		return nil
	}
	return job.GoLoggerProvider(l.Provider)
}
