// Package storage defines the byte-oriented file collaborator the credential
// store persists through, with an OS-backed and an in-memory implementation.
// Paths are slash-separated and absolute within the backend's namespace
// ("/etc/passwd", "/home/alice/.passkeys").
package storage

import (
	"context"
	"io/fs"
	"path"
)

// FS is the POSIX-flavoured file API consumed by the credential store.
//
// ReadFile on a missing path returns an error matching fs.ErrNotExist.
// WriteFile replaces the whole file; AppendFile creates it when absent.
type FS interface {
	Exists(ctx context.Context, name string) (bool, error)
	MkdirAll(ctx context.Context, name string, perm fs.FileMode) error
	ReadFile(ctx context.Context, name string) ([]byte, error)
	AppendFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error
	WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error
	Chown(ctx context.Context, name string, uid, gid int) error
}

// Clean normalises name to an absolute slash path, so "../" can never climb
// above the backend root.
func Clean(name string) string {
	return path.Clean("/" + name)
}
