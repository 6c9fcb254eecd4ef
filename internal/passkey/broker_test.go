package passkey

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type errPlatform struct {
	err error
}

func (p errPlatform) Supported() bool     { return true }
func (p errPlatform) SecureContext() bool { return true }
func (p errPlatform) CreateCredential(context.Context, *protocol.PublicKeyCredentialCreationOptions) (*Credential, error) {
	return nil, p.err
}
func (p errPlatform) GetAssertion(context.Context, *protocol.PublicKeyCredentialRequestOptions) (*protocol.CredentialAssertionResponse, error) {
	return nil, p.err
}

func TestBroker_ErrorMapping(t *testing.T) {
	other := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not allowed", &PlatformError{Name: "NotAllowedError"}, ErrUserCancelled},
		{"abort", &PlatformError{Name: "AbortError"}, ErrUserCancelled},
		{"invalid state", &PlatformError{Name: "InvalidStateError"}, ErrCredentialExists},
		{"not supported", &PlatformError{Name: "NotSupportedError"}, ErrUnsupported},
		{"security", &PlatformError{Name: "SecurityError"}, ErrSecurity},
		{"unknown name", &PlatformError{Name: "ConstraintError"}, nil},
		{"other", other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBroker(errPlatform{err: tt.err})

			_, err := b.Create(context.Background(), &protocol.PublicKeyCredentialCreationOptions{})
			require.Error(t, err)
			if tt.want == nil {
				assert.Same(t, tt.err, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}

			_, err = b.Get(context.Background(), &protocol.PublicKeyCredentialRequestOptions{})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestBroker_Availability(t *testing.T) {
	a := NewSoftAuthenticator(DefaultConfig())
	b := NewBroker(a)
	assert.True(t, b.IsSupported())

	a.Insecure = true
	assert.False(t, b.IsSupported())
	_, err := b.Get(context.Background(), &protocol.PublicKeyCredentialRequestOptions{})
	assert.ErrorIs(t, err, ErrInsecureContext)

	a.Insecure = false
	a.Unsupported = true
	_, err = b.Create(context.Background(), &protocol.PublicKeyCredentialCreationOptions{})
	assert.ErrorIs(t, err, ErrUnsupported)

	assert.False(t, NewBroker(nil).IsSupported())
}

func TestBroker_Persistent(t *testing.T) {
	assert.True(t, NewBroker(errPlatform{}).Persistent())
	assert.False(t, NewBroker(NewSoftAuthenticator(DefaultConfig())).Persistent())
}

func TestBroker_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig()
	a := NewSoftAuthenticator(cfg)
	b := NewBroker(a)

	ropts, err := RequestOptions(cfg, nil)
	require.NoError(t, err)
	resp, err := b.Get(ctx, ropts)
	require.NoError(t, err)
	assert.Nil(t, resp, "no credential yet")

	copts, err := CreationOptions(cfg, UserInfo{ID: []byte("1000"), Name: "alice", DisplayName: "Alice"}, nil)
	require.NoError(t, err)
	cred, err := b.Create(ctx, copts)
	require.NoError(t, err)
	assert.Len(t, cred.RawID, 16)
	assert.Equal(t, int64(webauthncose.AlgES384), cred.PublicKeyAlgorithm)

	d := NewDescriptor(*cred, "soft", time.Now())

	copts, err = CreationOptions(cfg, UserInfo{ID: []byte("1000"), Name: "alice"}, []Descriptor{d})
	require.NoError(t, err)
	require.Len(t, copts.CredentialExcludeList, 1)
	_, err = b.Create(ctx, copts)
	assert.ErrorIs(t, err, ErrCredentialExists)

	ropts, err = RequestOptions(cfg, []Descriptor{d})
	require.NoError(t, err)
	resp, err = b.Get(ctx, ropts)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, d.CredentialID, CredentialIDOf(resp))
	assert.True(t, Verify(*resp, ropts.Challenge, d.PublicKey))

	a.FailWith = "NotAllowedError"
	_, err = b.Get(ctx, ropts)
	assert.ErrorIs(t, err, ErrUserCancelled)
}

func TestBroker_UnknownAllowedCredential(t *testing.T) {
	cfg := DefaultConfig()
	b := NewBroker(NewSoftAuthenticator(cfg))

	ropts, err := RequestOptions(cfg, []Descriptor{{CredentialID: "AQID"}})
	require.NoError(t, err)
	resp, err := b.Get(context.Background(), ropts)
	require.NoError(t, err)
	assert.Nil(t, resp)
}

func TestCredentialIDOf(t *testing.T) {
	assert.Equal(t, "", CredentialIDOf(nil))

	resp := &protocol.CredentialAssertionResponse{}
	resp.ID = "AQID"
	assert.Equal(t, "AQID", CredentialIDOf(resp))

	resp.RawID = []byte{1, 2, 3}
	assert.Equal(t, "AQID", CredentialIDOf(resp))
}
