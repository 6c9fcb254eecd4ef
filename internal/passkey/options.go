package passkey

import (
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
)

// UserInfo identifies the account a credential is being created for.
type UserInfo struct {
	ID          []byte
	Name        string
	DisplayName string
}

// CreationOptions builds the options for a platform credential creation
// request: a fresh challenge, ES384 keys, a resident key and the user's
// existing passkeys excluded so the platform refuses duplicates.
func CreationOptions(cfg Config, user UserInfo, existing []Descriptor) (*protocol.PublicKeyCredentialCreationOptions, error) {
	challenge, err := protocol.CreateChallenge()
	if err != nil {
		return nil, err
	}

	return &protocol.PublicKeyCredentialCreationOptions{
		RelyingParty: protocol.RelyingPartyEntity{
			CredentialEntity: protocol.CredentialEntity{Name: cfg.RPName},
			ID:               cfg.RPID,
		},
		User: protocol.UserEntity{
			CredentialEntity: protocol.CredentialEntity{Name: user.Name},
			DisplayName:      user.DisplayName,
			ID:               user.ID,
		},
		Challenge: challenge,
		Parameters: []protocol.CredentialParameter{
			{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES384},
		},
		Timeout:               int(cfg.Timeout.Milliseconds()),
		CredentialExcludeList: descriptorsFor(existing),
		AuthenticatorSelection: protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementRequired,
			UserVerification: protocol.VerificationPreferred,
		},
	}, nil
}

// RequestOptions builds the options for an assertion request restricted to
// the given passkeys. An empty list leaves the choice to the platform.
func RequestOptions(cfg Config, allowed []Descriptor) (*protocol.PublicKeyCredentialRequestOptions, error) {
	challenge, err := protocol.CreateChallenge()
	if err != nil {
		return nil, err
	}

	return &protocol.PublicKeyCredentialRequestOptions{
		Challenge:          challenge,
		Timeout:            int(cfg.Timeout.Milliseconds()),
		RelyingPartyID:     cfg.RPID,
		AllowedCredentials: descriptorsFor(allowed),
		UserVerification:   protocol.VerificationPreferred,
	}, nil
}

func descriptorsFor(list []Descriptor) []protocol.CredentialDescriptor {
	if len(list) == 0 {
		return nil
	}
	out := make([]protocol.CredentialDescriptor, 0, len(list))
	for _, d := range list {
		raw, err := decodeCredentialID(d.CredentialID)
		if err != nil {
			continue
		}
		cd := protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: raw,
		}
		for _, t := range d.Transports {
			cd.Transport = append(cd.Transport, protocol.AuthenticatorTransport(t))
		}
		out = append(out, cd)
	}
	return out
}
