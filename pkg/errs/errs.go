// Package errs carries the bridge-wide error taxonomy. Every fault that
// crosses a package boundary is tagged with a Kind so callers can route on
// the class of failure without string matching.
package errs

import (
	"errors"
	"fmt"
)

type Kind string

const (
	Config   Kind = "config_error"
	Auth     Kind = "auth_error"
	Server   Kind = "server_error"
	Protocol Kind = "protocol_error"
	Timeout  Kind = "timeout"
	NotFound Kind = "not_found"
	Usage    Kind = "usage_error"
	Crypto   Kind = "crypto_error"
	IO       Kind = "io_error"
)

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return string(e.Kind) + ": " + e.Msg + ": " + e.Err.Error()
	case e.Err != nil:
		return string(e.Kind) + ": " + e.Err.Error()
	default:
		return string(e.Kind) + ": " + e.Msg
	}
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a tagged error with a formatted message.
func New(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags an existing error. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf reports the Kind of err, or "" when err carries no tag.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err is tagged with kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
