package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers that map errors onto a transport.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindTransport  Kind = "transport"
	KindInternal   Kind = "internal"
)

// Error is the typed error returned by every command.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Is reports a match when target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels usable with errors.Is.
var (
	ErrInvalidCategory      = &Error{Kind: KindValidation, Code: "InvalidCategory"}
	ErrInvalidMachineType   = &Error{Kind: KindValidation, Code: "InvalidMachineType"}
	ErrInvalidDescription   = &Error{Kind: KindValidation, Code: "InvalidDescription"}
	ErrInvalidPhoto         = &Error{Kind: KindValidation, Code: "InvalidPhoto"}
	ErrMalformed            = &Error{Kind: KindValidation, Code: "Malformed"}
	ErrNotAvailable         = &Error{Kind: KindConflict, Code: "NotAvailable"}
	ErrNotOwner             = &Error{Kind: KindConflict, Code: "NotOwner"}
	ErrInvalidState         = &Error{Kind: KindConflict, Code: "InvalidState"}
	ErrAdminRequired        = &Error{Kind: KindForbidden, Code: "AdminRequired"}
	ErrMachineNotFound      = &Error{Kind: KindNotFound, Code: "MachineNotFound"}
	ErrWaitlistItemNotFound = &Error{Kind: KindNotFound, Code: "WaitlistItemNotFound"}
	ErrNotificationNotFound = &Error{Kind: KindNotFound, Code: "NotificationNotFound"}
	ErrConnectionLost       = &Error{Kind: KindTransport, Code: "ConnectionLost"}
	ErrRetriesExhausted     = &Error{Kind: KindTransport, Code: "RetriesExhausted"}
	ErrHandshakeFailed      = &Error{Kind: KindTransport, Code: "HandshakeFailed"}
)

// New returns a copy of sentinel carrying a formatted message.
func New(sentinel *Error, format string, args ...any) *Error {
	return &Error{
		Kind:    sentinel.Kind,
		Code:    sentinel.Code,
		Message: fmt.Sprintf(format, args...),
	}
}

// KindOf returns the kind of the first *Error in err's chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the code of the first *Error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
