// Package ddlerr defines the error taxonomy surfaced by structural mutations.
package ddlerr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Code int

const (
	// MalformedRequest is a caller contract violation, e.g. a request naming nothing.
	MalformedRequest Code = iota + 1
	UnknownTarget
	TypeMismatch
	SyntaxError
	AccessDenied
	CannotDrop
	CannotDetach
	// LockTimeout is returned when an exclusive table lock could not be taken in time.
	// The request can be retried.
	LockTimeout
	NotSupported
	Replication
	Logical
	AlreadyExists
)

var codeNames = map[Code]string{
	MalformedRequest: "MALFORMED_REQUEST",
	UnknownTarget:    "UNKNOWN_TARGET",
	TypeMismatch:     "TYPE_MISMATCH",
	SyntaxError:      "SYNTAX_ERROR",
	AccessDenied:     "ACCESS_DENIED",
	CannotDrop:       "CANNOT_DROP",
	CannotDetach:     "CANNOT_DETACH",
	LockTimeout:      "LOCK_TIMEOUT",
	NotSupported:     "NOT_SUPPORTED",
	Replication:      "REPLICATION",
	Logical:          "LOGICAL_ERROR",
	AlreadyExists:    "ALREADY_EXISTS",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CODE_%d", int(c))
}

type Error struct {
	Code Code
	Msg  string
}

func (e *Error) Error() string {
	return e.Code.String() + ": " + e.Msg
}

// Is lets errors.Is match on the code alone: errors.Is(err, &Error{Code: UnknownTarget}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && (t.Msg == "" || t.Msg == e.Msg)
}

// New returns a coded error carrying a stack trace.
func New(code Code, format string, args ...interface{}) error {
	return errors.WithStack(&Error{Code: code, Msg: fmt.Sprintf(format, args...)})
}

// CodeOf returns the code of the first *Error in err's chain, or 0.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func Retryable(err error) bool {
	return Is(err, LockTimeout)
}
