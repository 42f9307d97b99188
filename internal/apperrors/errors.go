package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Kind classifies an application error for transport mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindUnauthorized
	KindForbidden
	KindNotFound
	KindInvalidArgument
	KindConflict
)

// Error carries a kind alongside a client-safe message. Services
// return these; handlers and the gateway translate them into HTTP
// statuses or {success:false,error} acknowledgements.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) error {
	return &Error{Kind: KindUnauthorized, Message: message}
}

// Forbidden reports an authenticated caller lacking permission.
func Forbidden(message string) error {
	return &Error{Kind: KindForbidden, Message: message}
}

// NotFound reports an absent room or message.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// InvalidArgument reports a semantically invalid request.
func InvalidArgument(message string) error {
	return &Error{Kind: KindInvalidArgument, Message: message}
}

// Conflict reports a uniqueness or arity violation.
func Conflict(message string) error {
	return &Error{Kind: KindConflict, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the kind from an error chain, KindUnknown otherwise.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindUnknown
}

// ClientMessage returns the client-safe message for an error chain.
// Unknown errors collapse to a generic message so internals never
// leak to callers.
func ClientMessage(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Message
	}
	return "internal error"
}

// HTTPStatus maps an error chain onto an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindUnauthorized:
		return fiber.StatusUnauthorized
	case KindForbidden:
		return fiber.StatusForbidden
	case KindNotFound:
		return fiber.StatusNotFound
	case KindInvalidArgument:
		return fiber.StatusBadRequest
	case KindConflict:
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}
