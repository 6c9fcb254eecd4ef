package passkey

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"sort"
	"sync"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// authenticator data flags: user present, user verified.
const (
	flagUP = 0x01
	flagUV = 0x04
)

// SoftAuthenticator is an in-process Platform holding P-384 keys in memory.
// It backs the command line front end and tests; a hardware or OS
// authenticator plugs in through the same interface.
type SoftAuthenticator struct {
	cfg Config

	// Unsupported and Insecure let callers model platforms without
	// passkey support or outside a secure context.
	Unsupported bool
	Insecure    bool
	// FailWith, when set, makes the next operation fail with a
	// PlatformError of this name.
	FailWith string

	mu      sync.Mutex
	keys    map[string]*ecdsa.PrivateKey
	counter uint32
}

func NewSoftAuthenticator(cfg Config) *SoftAuthenticator {
	return &SoftAuthenticator{cfg: cfg, keys: make(map[string]*ecdsa.PrivateKey)}
}

func (a *SoftAuthenticator) Supported() bool     { return !a.Unsupported }
func (a *SoftAuthenticator) SecureContext() bool { return !a.Insecure }

// Persistent is false: keys are lost when the process exits.
func (a *SoftAuthenticator) Persistent() bool { return false }

func (a *SoftAuthenticator) takeFailure() error {
	if a.FailWith == "" {
		return nil
	}
	name := a.FailWith
	a.FailWith = ""
	return &PlatformError{Name: name, Message: "simulated platform failure"}
}

func (a *SoftAuthenticator) CreateCredential(ctx context.Context, opts *protocol.PublicKeyCredentialCreationOptions) (*Credential, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFailure(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &PlatformError{Name: "AbortError", Message: err.Error()}
	}
	if opts == nil {
		return nil, &PlatformError{Name: "TypeError", Message: "missing creation options"}
	}
	if !acceptsES384(opts.Parameters) {
		return nil, &PlatformError{Name: "NotSupportedError", Message: "no supported algorithm requested"}
	}
	for _, ex := range opts.CredentialExcludeList {
		if _, ok := a.keys[EncodeCredentialID(ex.CredentialID)]; ok {
			return nil, &PlatformError{Name: "InvalidStateError", Message: "credential already registered"}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	if err != nil {
		return nil, err
	}
	spki, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		return nil, err
	}
	rawID := make([]byte, 16)
	if _, err := rand.Read(rawID); err != nil {
		return nil, err
	}
	a.keys[EncodeCredentialID(rawID)] = key

	return &Credential{
		ID:                      base64.RawURLEncoding.EncodeToString(rawID),
		RawID:                   rawID,
		PublicKey:               spki,
		PublicKeyAlgorithm:      int64(webauthncose.AlgES384),
		Transports:              []string{string(protocol.Internal)},
		AuthenticatorAttachment: string(protocol.Platform),
	}, nil
}

func (a *SoftAuthenticator) GetAssertion(ctx context.Context, opts *protocol.PublicKeyCredentialRequestOptions) (*protocol.CredentialAssertionResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err := a.takeFailure(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, &PlatformError{Name: "AbortError", Message: err.Error()}
	}
	if opts == nil {
		return nil, &PlatformError{Name: "TypeError", Message: "missing request options"}
	}

	id, key := a.pick(opts.AllowedCredentials)
	if key == nil {
		return nil, nil
	}
	rawID, _ := base64.StdEncoding.DecodeString(id)

	clientDataJSON, err := json.Marshal(map[string]any{
		"type":        "webauthn.get",
		"challenge":   base64.RawURLEncoding.EncodeToString(opts.Challenge),
		"origin":      a.cfg.Origin,
		"crossOrigin": false,
	})
	if err != nil {
		return nil, err
	}

	a.counter++
	rpHash := sha256.Sum256([]byte(a.cfg.RPID))
	authData := make([]byte, 0, len(rpHash)+5)
	authData = append(authData, rpHash[:]...)
	authData = append(authData, flagUP|flagUV)
	authData = binary.BigEndian.AppendUint32(authData, a.counter)

	clientHash := sha256.Sum256(clientDataJSON)
	digest := sha256.Sum256(append(append([]byte{}, authData...), clientHash[:]...))
	sig, err := ecdsa.SignASN1(rand.Reader, key, digest[:])
	if err != nil {
		return nil, err
	}

	return &protocol.CredentialAssertionResponse{
		PublicKeyCredential: protocol.PublicKeyCredential{
			Credential: protocol.Credential{
				ID:   base64.RawURLEncoding.EncodeToString(rawID),
				Type: string(protocol.PublicKeyCredentialType),
			},
			RawID:                   rawID,
			AuthenticatorAttachment: string(protocol.Platform),
		},
		AssertionResponse: protocol.AuthenticatorAssertionResponse{
			AuthenticatorResponse: protocol.AuthenticatorResponse{
				ClientDataJSON: clientDataJSON,
			},
			AuthenticatorData: authData,
			Signature:         sig,
		},
	}, nil
}

// pick returns the first allowed credential this authenticator holds, or
// the first held credential when the request does not restrict them.
func (a *SoftAuthenticator) pick(allowed []protocol.CredentialDescriptor) (string, *ecdsa.PrivateKey) {
	if len(allowed) > 0 {
		for _, d := range allowed {
			id := EncodeCredentialID(d.CredentialID)
			if key, ok := a.keys[id]; ok {
				return id, key
			}
		}
		return "", nil
	}

	ids := make([]string, 0, len(a.keys))
	for id := range a.keys {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", nil
	}
	sort.Strings(ids)
	return ids[0], a.keys[ids[0]]
}

func acceptsES384(params []protocol.CredentialParameter) bool {
	if len(params) == 0 {
		return true
	}
	for _, p := range params {
		if p.Algorithm == webauthncose.AlgES384 {
			return true
		}
	}
	return false
}
