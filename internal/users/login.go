package users

import (
	"context"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/cryptox"
	"github.com/dmitrijs2005/credstore/internal/passkey"
	"github.com/dmitrijs2005/credstore/internal/session"
	"github.com/go-webauthn/webauthn/protocol"
)

// PasskeyAssertion is a platform assertion together with the challenge the
// caller issued for it.
type PasskeyAssertion struct {
	Response  protocol.CredentialAssertionResponse
	Challenge []byte
}

// Login authenticates username with exactly one factor. A passkey assertion
// takes priority over a password; an empty password counts as absent.
func (s *Store) Login(ctx context.Context, username, password string, assertion *PasskeyAssertion) (session.Credentials, error) {
	u := s.GetByName(username)
	if u == nil {
		s.log.Info(ctx, "login failed", "username", username, "reason", "unknown user")
		return session.Credentials{}, common.New(common.KindNotFound, errInvalidCredentials)
	}

	switch {
	case assertion != nil:
		if err := s.loginPasskey(ctx, u, assertion); err != nil {
			s.log.Info(ctx, "login failed", "username", username, "factor", "passkey", "error", err)
			return session.Credentials{}, err
		}
	case password != "":
		if !cryptox.CheckPassword(password, u.Password) {
			s.log.Info(ctx, "login failed", "username", username, "factor", "password")
			return session.Credentials{}, common.New(common.KindAuthentication, errInvalidCredentials)
		}
	default:
		return session.Credentials{}, common.New(common.KindAuthentication, errFactorRequired)
	}

	s.log.Info(ctx, "login succeeded", "username", username, "uid", u.UID)
	return session.ForUser(u.UID, u.GID, u.Groups...), nil
}

func (s *Store) loginPasskey(ctx context.Context, u *User, a *PasskeyAssertion) error {
	list := s.GetPasskeys(ctx, u.UID)
	id := passkey.CredentialIDOf(&a.Response)

	idx := -1
	for i, d := range list {
		if id != "" && d.CredentialID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return common.New(common.KindAuthentication, errPasskeyNotFound)
	}
	if !passkey.Verify(a.Response, a.Challenge, list[idx].PublicKey) {
		return common.New(common.KindAuthentication, errPasskeyRejected)
	}

	list[idx].LastUsed = s.now().UTC()
	return s.SavePasskeys(ctx, u.UID, list)
}
