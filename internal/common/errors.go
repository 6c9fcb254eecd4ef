// Package common defines the error taxonomy shared by every credstore
// component, plus small byte helpers used around secrets. Callers branch on
// the error class with errors.Is or KindOf instead of matching message text.
package common

import (
	"errors"
	"fmt"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation covers missing, duplicate or malformed input.
	KindValidation
	// KindNotFound is returned for lookups of unknown uids or usernames.
	KindNotFound
	// KindAuthentication covers wrong passwords, unknown passkeys and missing factors.
	KindAuthentication
	// KindCrypto wraps failures of a cryptographic primitive.
	KindCrypto
	// KindStorage wraps failures of the storage collaborator.
	KindStorage
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindAuthentication:
		return "authentication"
	case KindCrypto:
		return "crypto"
	case KindStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Error is the domain error carried through the subsystem.
//
// Message is the user-facing text. When Message is empty the cause's own
// message is reported unchanged, which is how crypto and storage failures
// surface.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" && e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

var (
	ErrValidation     = &Error{Kind: KindValidation, Message: "validation error"}
	ErrNotFound       = &Error{Kind: KindNotFound, Message: "not found"}
	ErrAuthentication = &Error{Kind: KindAuthentication, Message: "authentication failed"}
	ErrCrypto         = &Error{Kind: KindCrypto, Message: "crypto failure"}
	ErrStorage        = &Error{Kind: KindStorage, Message: "storage failure"}
)

// New creates an error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Newf creates an error of the given kind with a formatted message.
func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies cause without changing its message.
func Wrap(kind Kind, cause error) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Cause: cause}
}

// Wrapf classifies cause and prefixes a context message.
func Wrapf(kind Kind, cause error, format string, args ...any) error {
	if cause == nil {
		return nil
	}
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...) + ": " + cause.Error(), Cause: cause}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
