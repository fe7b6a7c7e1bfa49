// Package apperr classifies pipeline failures so that each stage can decide
// whether to retry, skip the unit, or fail the enclosing state machine.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the failure class of an error.
type Kind int

const (
	// Unexpected is anything that was not classified; it is never swallowed.
	Unexpected Kind = iota
	// Validation is a bad or missing input. Its message is shown to the user.
	Validation
	// UnsupportedFormat means no decoder exists for the file type.
	UnsupportedFormat
	// MalformedResponse means a model response could not be repaired or parsed.
	MalformedResponse
	// QualityRejected means a generated question failed quality validation.
	QualityRejected
	// Timeout means a call exceeded its deadline.
	Timeout
	// Connection means the remote service could not be reached or was unavailable.
	Connection
)

func (k Kind) String() string {
	switch k {
	case Validation:
		return "validation"
	case UnsupportedFormat:
		return "unsupported_format"
	case MalformedResponse:
		return "malformed_response"
	case QualityRejected:
		return "quality_rejected"
	case Timeout:
		return "timeout"
	case Connection:
		return "connection"
	default:
		return "unexpected"
	}
}

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Msg != "" && e.Err != nil:
		return e.Msg + ": " + e.Err.Error()
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	}
	return e.Kind.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind with a message.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Newf is New with formatting.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. A nil err yields nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost classified error in the chain,
// or Unexpected when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Unexpected
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the user-facing message of a classified error, falling
// back to err.Error().
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
