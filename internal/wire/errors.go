// Package wire defines the JSON frame shapes and error taxonomy shared by
// the metadata broker, the CRDT relay and the P2P relay plane.
package wire

import (
	"github.com/gravitational/trace"
)

// ErrorCode is one of the stable codes carried by an error{code,message} frame.
type ErrorCode string

const (
	CodeAuthRequired     ErrorCode = "AUTH_REQUIRED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeInviteExpired    ErrorCode = "INVITE_EXPIRED"
	CodeConflict         ErrorCode = "CONFLICT"
	CodeValidation       ErrorCode = "VALIDATION"
	CodeRateLimited      ErrorCode = "RATE_LIMITED"
	CodeTransient        ErrorCode = "TRANSIENT"
)

// CodedError pairs one of the stable error codes with a human message.
// Every boundary-crossing error in this module is constructed through one
// of the helpers below so it can be deterministically rendered onto an
// error{} frame.
type CodedError struct {
	Code    ErrorCode
	Message string
	cause   error
}

func (e *CodedError) Error() string {
	if e.cause != nil {
		return e.Message + ": " + e.cause.Error()
	}
	return e.Message
}

func (e *CodedError) Unwrap() error { return e.cause }

func newCoded(code ErrorCode, cause error, msg string) *CodedError {
	return &CodedError{Code: code, Message: msg, cause: cause}
}

func AuthRequired(msg string) error           { return newCoded(CodeAuthRequired, nil, msg) }
func PermissionDenied(msg string) error       { return newCoded(CodePermissionDenied, nil, msg) }
func NotFound(msg string) error               { return newCoded(CodeNotFound, nil, msg) }
func InviteExpired(msg string) error          { return newCoded(CodeInviteExpired, nil, msg) }
func Conflict(msg string) error               { return newCoded(CodeConflict, nil, msg) }
func Validation(msg string) error             { return newCoded(CodeValidation, nil, msg) }
func RateLimited(msg string) error            { return newCoded(CodeRateLimited, nil, msg) }
func Transient(msg string, cause error) error { return newCoded(CodeTransient, cause, msg) }

// ToCoded maps an arbitrary error — typically one produced by trace.Wrap
// deeper in the stack — onto a CodedError so a handler can always render
// an error{} frame without type-switching on trace's error kinds at every
// call site. trace's Is* predicates already unwrap trace.TraceErr chains,
// so a *CodedError raised anywhere underneath a trace.Wrap is still found.
func ToCoded(err error) *CodedError {
	if err == nil {
		return nil
	}
	if c, ok := err.(*CodedError); ok {
		return c
	}
	for unwrapped := errorsUnwrap(err); unwrapped != nil; unwrapped = errorsUnwrap(unwrapped) {
		if c, ok := unwrapped.(*CodedError); ok {
			return c
		}
	}
	switch {
	case trace.IsNotFound(err):
		return newCoded(CodeNotFound, err, "not found")
	case trace.IsAccessDenied(err):
		return newCoded(CodePermissionDenied, err, "permission denied")
	case trace.IsBadParameter(err):
		return newCoded(CodeValidation, err, "invalid request")
	case trace.IsAlreadyExists(err):
		return newCoded(CodeConflict, err, "conflict")
	case trace.IsLimitExceeded(err):
		return newCoded(CodeRateLimited, err, "rate limited")
	default:
		return newCoded(CodeTransient, err, "internal error")
	}
}

type unwrapper interface{ Unwrap() error }

func errorsUnwrap(err error) error {
	if u, ok := err.(unwrapper); ok {
		return u.Unwrap()
	}
	return nil
}
