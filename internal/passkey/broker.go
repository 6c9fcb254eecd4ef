package passkey

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
)

// Code classifies broker failures.
type Code string

const (
	CodeUnsupported      Code = "Unsupported"
	CodeInsecureContext  Code = "InsecureContext"
	CodeUserCancelled    Code = "UserCancelled"
	CodeCredentialExists Code = "CredentialExists"
	CodeSecurity         Code = "SecurityError"
)

// Error is a classified broker failure.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same Code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

var (
	ErrUnsupported      = &Error{Code: CodeUnsupported}
	ErrInsecureContext  = &Error{Code: CodeInsecureContext}
	ErrUserCancelled    = &Error{Code: CodeUserCancelled}
	ErrCredentialExists = &Error{Code: CodeCredentialExists}
	ErrSecurity         = &Error{Code: CodeSecurity}
)

// PlatformError is a failure reported by the platform authenticator,
// named the way WebAuthn names DOMExceptions.
type PlatformError struct {
	Name    string
	Message string
}

func (e *PlatformError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Platform is the authenticator the broker drives.
type Platform interface {
	Supported() bool
	SecureContext() bool
	// CreateCredential returns the new credential or a *PlatformError.
	CreateCredential(ctx context.Context, opts *protocol.PublicKeyCredentialCreationOptions) (*Credential, error)
	// GetAssertion returns nil with no error when no credential is available.
	GetAssertion(ctx context.Context, opts *protocol.PublicKeyCredentialRequestOptions) (*protocol.CredentialAssertionResponse, error)
}

// Broker mediates between the credential store and a platform authenticator.
type Broker struct {
	platform Platform
}

func NewBroker(p Platform) *Broker {
	return &Broker{platform: p}
}

// IsSupported reports whether passkeys can be used at all.
func (b *Broker) IsSupported() bool {
	return b.platform != nil && b.platform.Supported() && b.platform.SecureContext()
}

// Persistent reports whether credentials created through the broker outlive
// the process. Platforms that keep keys in memory say so by implementing
// Persistent() bool.
func (b *Broker) Persistent() bool {
	if p, ok := b.platform.(interface{ Persistent() bool }); ok {
		return p.Persistent()
	}
	return true
}

func (b *Broker) check() error {
	if b.platform == nil || !b.platform.Supported() {
		return &Error{Code: CodeUnsupported, Message: "passkeys are not supported on this platform"}
	}
	if !b.platform.SecureContext() {
		return &Error{Code: CodeInsecureContext, Message: "passkeys require a secure context"}
	}
	return nil
}

// Create asks the platform to create a credential.
func (b *Broker) Create(ctx context.Context, opts *protocol.PublicKeyCredentialCreationOptions) (*Credential, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	cred, err := b.platform.CreateCredential(ctx, opts)
	if err != nil {
		return nil, mapPlatformError(err)
	}
	return cred, nil
}

// Get asks the platform for an assertion. A nil response with a nil error
// means the user has no usable credential.
func (b *Broker) Get(ctx context.Context, opts *protocol.PublicKeyCredentialRequestOptions) (*protocol.CredentialAssertionResponse, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	resp, err := b.platform.GetAssertion(ctx, opts)
	if err != nil {
		return nil, mapPlatformError(err)
	}
	return resp, nil
}

// mapPlatformError classifies known platform failures. Anything else is
// returned unchanged.
func mapPlatformError(err error) error {
	var pe *PlatformError
	if !errors.As(err, &pe) {
		return err
	}
	var code Code
	switch pe.Name {
	case "NotAllowedError", "AbortError":
		code = CodeUserCancelled
	case "InvalidStateError":
		code = CodeCredentialExists
	case "NotSupportedError":
		code = CodeUnsupported
	case "SecurityError":
		code = CodeSecurity
	default:
		return err
	}
	return &Error{Code: code, Message: pe.Message, Cause: err}
}

// CredentialIDOf returns the stored-form credential id of an assertion.
func CredentialIDOf(resp *protocol.CredentialAssertionResponse) string {
	if resp == nil {
		return ""
	}
	if len(resp.RawID) > 0 {
		return EncodeCredentialID(resp.RawID)
	}
	raw, err := decodeCredentialID(resp.ID)
	if err != nil {
		return ""
	}
	return EncodeCredentialID(raw)
}

func decodeCredentialID(s string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding, base64.RawURLEncoding, base64.URLEncoding, base64.RawStdEncoding,
	} {
		if b, err := enc.DecodeString(s); err == nil {
			return b, nil
		}
	}
	return nil, fmt.Errorf("credential id %q is not base64", s)
}
