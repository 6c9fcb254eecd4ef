package users

import (
	"context"
	"path"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/passkey"
)

const passkeysFile = ".passkeys"

func passkeysPath(u *User) string {
	return path.Join(u.Home, passkeysFile)
}

// GetPasskeys returns the passkeys registered for uid. Read or decode
// failures are logged and yield an empty list.
func (s *Store) GetPasskeys(ctx context.Context, uid int) []passkey.Descriptor {
	u := s.Get(uid)
	if u == nil {
		s.log.Warn(ctx, "passkeys requested for unknown user", "uid", uid)
		return []passkey.Descriptor{}
	}

	p := passkeysPath(u)
	ok, err := s.fs.Exists(ctx, p)
	if err != nil {
		s.log.Warn(ctx, "cannot stat passkeys file", "path", p, "error", err)
		return []passkey.Descriptor{}
	}
	if !ok {
		return []passkey.Descriptor{}
	}

	data, err := s.fs.ReadFile(ctx, p)
	if err != nil {
		s.log.Warn(ctx, "cannot read passkeys file", "path", p, "error", err)
		return []passkey.Descriptor{}
	}
	list, err := passkey.DecodeDescriptors(data)
	if err != nil {
		s.log.Warn(ctx, "cannot decode passkeys file", "path", p, "error", err)
		return []passkey.Descriptor{}
	}
	return list
}

// SavePasskeys replaces the passkey list of uid. The file is handed to the
// owner on a best-effort basis; write failures are returned.
func (s *Store) SavePasskeys(ctx context.Context, uid int, list []passkey.Descriptor) error {
	u := s.Get(uid)
	if u == nil {
		return common.Newf(common.KindNotFound, "User with UID %d not found", uid)
	}

	data, err := passkey.EncodeDescriptors(list)
	if err != nil {
		return common.Wrap(common.KindStorage, err)
	}
	p := passkeysPath(u)
	if err := s.fs.WriteFile(ctx, p, data, shadowPerm); err != nil {
		return common.Wrapf(common.KindStorage, err, "write %s", p)
	}
	if err := s.fs.Chown(ctx, p, u.UID, u.GID); err != nil {
		s.log.Debug(ctx, "chown passkeys failed", "path", p, "error", err)
	}
	return nil
}

// AddPasskey appends d to the list of uid. A credential id may be
// registered once per user.
func (s *Store) AddPasskey(ctx context.Context, uid int, d passkey.Descriptor) error {
	list := s.GetPasskeys(ctx, uid)
	for _, e := range list {
		if e.CredentialID == d.CredentialID {
			return common.New(common.KindValidation, "Passkey already registered")
		}
	}
	if d.Version == 0 {
		d.Version = passkey.DescriptorVersion
	}
	return s.SavePasskeys(ctx, uid, append(list, d))
}

// RemovePasskey drops the passkey whose id or credential id equals id.
func (s *Store) RemovePasskey(ctx context.Context, uid int, id string) error {
	list := s.GetPasskeys(ctx, uid)
	kept := make([]passkey.Descriptor, 0, len(list))
	for _, d := range list {
		if d.ID == id || d.CredentialID == id {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == len(list) {
		return common.Newf(common.KindNotFound, "Passkey %s not found", id)
	}
	return s.SavePasskeys(ctx, uid, kept)
}

// HasPasskeys reports whether uid has at least one passkey.
func (s *Store) HasPasskeys(ctx context.Context, uid int) bool {
	return len(s.GetPasskeys(ctx, uid)) > 0
}
