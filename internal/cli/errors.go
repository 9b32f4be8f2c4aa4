package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/jaa/ariadl/internal/config"
	"github.com/jaa/ariadl/internal/exitcode"
	"github.com/jaa/ariadl/internal/rpc"
)

type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func withExitCode(code int, err error) error {
	if err == nil {
		return nil
	}
	return &ExitError{Code: code, Err: err}
}

// mapExitCode prefers an explicit ExitError, then known sentinel and typed
// errors, then cobra's usage messages.
func mapExitCode(err error) int {
	if err == nil {
		return exitcode.Success
	}
	var coded *ExitError
	if errors.As(err, &coded) {
		return coded.Code
	}

	var validation *config.ValidationError
	switch {
	case errors.Is(err, rpc.ErrConnectionTimeout):
		return exitcode.DaemonUnreachable
	case errors.Is(err, context.Canceled):
		return exitcode.Interrupted
	case errors.As(err, &validation):
		return exitcode.InvalidConfig
	}

	message := err.Error()
	if strings.Contains(message, "unknown command") || strings.Contains(message, "unknown flag") {
		return exitcode.InvalidUsage
	}
	return exitcode.RuntimeFailure
}
