package transport

import (
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-payhooks/core"
)

// transportError builds a go-errors envelope, wrapping source when present.
func transportError(source error, category goerrors.Category, code int, message string, metadata map[string]any) error {
	var err *goerrors.Error
	if source != nil {
		err = goerrors.Wrap(source, category, message)
	} else {
		err = goerrors.New(message, category)
	}
	err = err.WithCode(code).WithTextCode(core.TextCodeForCategory(category))
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}
