package booking

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindInvalid       Kind = "invalid"
	KindNotFound      Kind = "not_found"
	KindOutOfPolicy   Kind = "out_of_policy"
	KindAlreadyBooked Kind = "already_booked"
	KindOverlap       Kind = "overlap"
	KindConflict      Kind = "conflict"
	KindForbidden     Kind = "forbidden"
)

// Error is a classified booking failure. Conflict is the only kind worth
// retrying unchanged.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or "" when
// there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
