package filesystem

import (
	"fmt"
)

// ErrorKind classifies a filesystem Error. The kind is only meaningful
// inside the process: both plugin bindings flatten errors to their textual
// message at the boundary.
type ErrorKind int

const (
	// KindOther is the unclassified kind. Errors decoded from a boundary
	// message carry this kind unless the binding contract says otherwise.
	KindOther ErrorKind = iota
	KindNotFound
	KindPermissionDenied
	KindAlreadyExists
	KindIsDirectory
	KindNotDirectory
	KindReadOnly
	KindInvalidInput
	KindIo
)

// Error is a filesystem error with a kind tag and an optional message.
// When Message is empty, Error() renders the kind's default message.
// Errors are immutable once constructed.
type Error struct {
	Kind    ErrorKind
	Message string
}

// Sentinel errors for the kinds that have a complete default message.
// Returning the sentinel directly keeps identity comparisons working;
// errors.Is matches any Error of the same kind.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists}
	ErrIsDirectory      = &Error{Kind: KindIsDirectory}
	ErrNotDirectory     = &Error{Kind: KindNotDirectory}
	ErrReadOnly         = &Error{Kind: KindReadOnly}
)

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return defaultMessage(e.Kind)
}

// Is reports whether target is an Error of the same kind, so
// errors.Is(err, ErrNotFound) matches every not-found error regardless of
// the attached message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func defaultMessage(k ErrorKind) string {
	switch k {
	case KindNotFound:
		return "file not found"
	case KindPermissionDenied:
		return "permission denied"
	case KindAlreadyExists:
		return "file already exists"
	case KindIsDirectory:
		return "is a directory"
	case KindNotDirectory:
		return "not a directory"
	case KindReadOnly:
		return "read-only filesystem"
	}
	return ""
}

// NewError builds an Error with an explicit kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// NewNotFoundError reports that the path an operation targeted does not
// exist. The canonical "file not found" phrase is kept in the message so the
// text stays recognizable after boundary flattening.
func NewNotFoundError(op, path string) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %s: file not found", op, path)}
}

// NewAlreadyExistsError reports that the target of a create-style operation
// already exists.
func NewAlreadyExistsError(op, path string) *Error {
	return &Error{Kind: KindAlreadyExists, Message: fmt.Sprintf("%s %s: file already exists", op, path)}
}

// NewNotSupportedError reports that a filesystem does not implement the
// operation at all.
func NewNotSupportedError(op, path string) *Error {
	return &Error{Kind: KindOther, Message: fmt.Sprintf("operation not supported: %s %s", op, path)}
}

// NewInvalidArgumentError reports a malformed argument. Malformed input is
// always recoverable, never fatal.
func NewInvalidArgumentError(field, value, reason string) *Error {
	return &Error{Kind: KindInvalidInput, Message: fmt.Sprintf("invalid input: %s %s %s", field, value, reason)}
}

// NewInvalidInputError is the free-form variant of NewInvalidArgumentError.
func NewInvalidInputError(msg string) *Error {
	return &Error{Kind: KindInvalidInput, Message: "invalid input: " + msg}
}

// NewIOError wraps a lower-level I/O failure message.
func NewIOError(msg string) *Error {
	return &Error{Kind: KindIo, Message: "I/O error: " + msg}
}
