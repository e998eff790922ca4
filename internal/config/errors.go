package config

import (
	"errors"
	"fmt"
)

// ErrInvalid is matched by every validation failure via errors.Is.
var ErrInvalid = errors.New("invalid config")

// Error is a fatal configuration problem. Field is the JSON path of the
// offending key (e.g. "numbers", "transport.accounts[1].token").
type Error struct {
	Field  string
	Reason string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool { return target == ErrInvalid }

func fieldErr(field, format string, args ...any) *Error {
	return &Error{Field: field, Reason: fmt.Sprintf(format, args...)}
}
