package app

import (
	"context"
	"errors"
	"os"
	"syscall"
)

// StopReason is logged when the app shuts down. It doubles as a context
// cancel cause so the caller can say why ctx ended.
type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopOperator   StopReason = "operator_exit"
	StopContext    StopReason = "context_done"
)

func (r StopReason) Error() string { return "stop: " + string(r) }

// SignalReason maps a received signal to its StopReason.
func SignalReason(sig os.Signal) StopReason {
	switch sig {
	case os.Interrupt:
		return StopSIGINT
	case syscall.SIGTERM:
		return StopSIGTERM
	default:
		return StopUnknown
	}
}

// reasonFromContext returns the StopReason ctx was cancelled with, or
// StopContext when the cause is anything else.
func reasonFromContext(ctx context.Context) StopReason {
	var r StopReason
	if errors.As(context.Cause(ctx), &r) {
		return r
	}
	return StopContext
}
