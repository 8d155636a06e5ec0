package gologger

import (
	"context"
	"testing"

	glog "github.com/goliatone/go-logger/glog"
)

func TestResolveComponentsNamesLoggersFromProvider(t *testing.T) {
	provider := &namedProvider{loggers: map[string]*capturingLogger{}}

	loggers := ResolveComponents("billing", provider, &capturingLogger{id: "direct"})
	for component, logger := range map[string]glog.Logger{
		"billing.inbound":  loggers.Dispatcher,
		"billing.handlers": loggers.Runner,
		"billing.followup": loggers.FollowUp,
	} {
		got, ok := logger.(*capturingLogger)
		if !ok || got.id != component {
			t.Fatalf("expected %s logger from provider, got %#v", component, logger)
		}
	}
	if got := loggers.Service.(*capturingLogger); got.id != "billing" {
		t.Fatalf("expected provider service logger, got %q", got.id)
	}
}

func TestResolveComponentsSharesPlainLogger(t *testing.T) {
	direct := &capturingLogger{id: "direct"}
	loggers := ResolveComponents("", nil, direct)
	if loggers.Dispatcher != glog.Logger(direct) || loggers.Runner != glog.Logger(direct) || loggers.FollowUp != glog.Logger(direct) {
		t.Fatalf("expected every component to share the plain logger")
	}
	if loggers.Provider == nil {
		t.Fatalf("expected provider wrapper from logger")
	}

	nop := ResolveComponents("payhooks", nil, nil)
	if nop.Service == nil || nop.FollowUp == nil {
		t.Fatalf("expected nop logger fallback")
	}
}

func TestJobBridgeWritesToFollowUpLogger(t *testing.T) {
	provider := &namedProvider{loggers: map[string]*capturingLogger{}}
	loggers := ResolveComponents("payhooks", provider, nil)

	jobLogger := loggers.JobLogger()
	if jobLogger == nil || loggers.JobProvider() == nil {
		t.Fatalf("expected go-job bridges")
	}
	loggers.JobProvider().GetLogger("payhooks.followup").Info("follow-up done", "job_id", "ledger.sync")

	captured := provider.loggers["payhooks.followup"].lastInfo
	if captured.msg != "follow-up done" {
		t.Fatalf("expected bridged message, got %q", captured.msg)
	}
	if len(captured.args) != 2 || captured.args[0] != "job_id" || captured.args[1] != "ledger.sync" {
		t.Fatalf("expected bridged args, got %#v", captured.args)
	}

	if (Loggers{}).JobLogger() != nil || (Loggers{}).JobProvider() != nil {
		t.Fatalf("expected nil bridges for empty loggers")
	}
}

var (
	_ glog.Logger         = (*capturingLogger)(nil)
	_ glog.LoggerProvider = (*namedProvider)(nil)
)

type namedProvider struct {
	loggers map[string]*capturingLogger
}

func (p *namedProvider) GetLogger(name string) glog.Logger {
	logger, ok := p.loggers[name]
	if !ok {
		logger = &capturingLogger{id: name}
		p.loggers[name] = logger
	}
	return logger
}

type infoCall struct {
	msg  string
	args []any
}

type capturingLogger struct {
	id       string
	lastInfo infoCall
}

func (l *capturingLogger) Trace(string, ...any) {}
func (l *capturingLogger) Debug(string, ...any) {}
func (l *capturingLogger) Warn(string, ...any)  {}
func (l *capturingLogger) Error(string, ...any) {}
func (l *capturingLogger) Fatal(string, ...any) {}

func (l *capturingLogger) Info(msg string, args ...any) {
	l.lastInfo = infoCall{msg: msg, args: append([]any(nil), args...)}
}

func (l *capturingLogger) WithContext(context.Context) glog.Logger {
	return l
}
