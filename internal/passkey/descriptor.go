package passkey

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DescriptorVersion is the record version written by this package.
const DescriptorVersion = 1

// ByteArray is raw key material that survives a text round trip: it is
// written as a JSON string holding a JSON array of byte values, e.g.
// "[4,17,200]". Plain JSON arrays are accepted on read.
type ByteArray []byte

func (b ByteArray) MarshalJSON() ([]byte, error) {
	ints := make([]int, len(b))
	for i, v := range b {
		ints[i] = int(v)
	}
	inner, err := json.Marshal(ints)
	if err != nil {
		return nil, err
	}
	return json.Marshal(string(inner))
}

func (b *ByteArray) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*b = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var inner string
		if err := json.Unmarshal(data, &inner); err != nil {
			return err
		}
		data = []byte(inner)
	}

	var ints []int
	if err := json.Unmarshal(data, &ints); err != nil {
		return fmt.Errorf("public key bytes: %w", err)
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("public key bytes: value %d out of range", v)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

// Descriptor is one registered passkey of a user.
type Descriptor struct {
	Version                 int       `json:"v"`
	ID                      string    `json:"id"`
	Name                    string    `json:"name,omitempty"`
	CredentialID            string    `json:"credentialId"`
	PublicKey               ByteArray `json:"publicKey"`
	Algorithm               int64     `json:"algorithm,omitempty"`
	Transports              []string  `json:"transports,omitempty"`
	AuthenticatorAttachment string    `json:"authenticatorAttachment,omitempty"`
	CreatedAt               time.Time `json:"createdAt"`
	LastUsed                time.Time `json:"lastUsed"`
}

// Credential is what a platform authenticator returns from creation.
type Credential struct {
	ID                      string
	RawID                   []byte
	PublicKey               []byte // SubjectPublicKeyInfo, DER
	PublicKeyAlgorithm      int64
	Transports              []string
	AuthenticatorAttachment string
}

// EncodeCredentialID is the form credential ids are stored and matched in.
func EncodeCredentialID(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

// NewDescriptor builds the record to persist for a freshly created credential.
func NewDescriptor(cred Credential, name string, now time.Time) Descriptor {
	return Descriptor{
		Version:                 DescriptorVersion,
		ID:                      uuid.NewString(),
		Name:                    name,
		CredentialID:            EncodeCredentialID(cred.RawID),
		PublicKey:               append(ByteArray(nil), cred.PublicKey...),
		Algorithm:               cred.PublicKeyAlgorithm,
		Transports:              cred.Transports,
		AuthenticatorAttachment: cred.AuthenticatorAttachment,
		CreatedAt:               now.UTC(),
		LastUsed:                now.UTC(),
	}
}

// EncodeDescriptors renders the ~/.passkeys file body.
func EncodeDescriptors(list []Descriptor) ([]byte, error) {
	if list == nil {
		list = []Descriptor{}
	}
	out := make([]Descriptor, len(list))
	for i, d := range list {
		if d.Version == 0 {
			d.Version = DescriptorVersion
		}
		out[i] = d
	}
	return json.Marshal(out)
}

// DecodeDescriptors parses a ~/.passkeys file body. An empty body is an empty
// list. Records from a newer format version are rejected rather than
// misread; records without a version predate versioning and are accepted.
func DecodeDescriptors(data []byte) ([]Descriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Descriptor{}, nil
	}

	var list []Descriptor
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	for i := range list {
		switch list[i].Version {
		case 0:
			list[i].Version = DescriptorVersion
		case DescriptorVersion:
		default:
			return nil, fmt.Errorf("passkey record %q: unsupported version %d", list[i].ID, list[i].Version)
		}
	}
	if list == nil {
		list = []Descriptor{}
	}
	return list, nil
}
