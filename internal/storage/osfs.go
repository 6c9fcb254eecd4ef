package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// OSFS maps the slash namespace onto a directory of the local filesystem.
type OSFS struct {
	root string
}

func NewOSFS(root string) *OSFS {
	return &OSFS{root: root}
}

func (o *OSFS) resolve(name string) string {
	return filepath.Join(o.root, filepath.FromSlash(Clean(name)))
}

func (o *OSFS) Exists(_ context.Context, name string) (bool, error) {
	_, err := os.Stat(o.resolve(name))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (o *OSFS) MkdirAll(_ context.Context, name string, perm fs.FileMode) error {
	p := o.resolve(name)
	if err := os.MkdirAll(p, perm); err != nil {
		return err
	}
	// MkdirAll is subject to umask; the home directory mode is part of the contract.
	return os.Chmod(p, perm)
}

func (o *OSFS) ReadFile(_ context.Context, name string) ([]byte, error) {
	return os.ReadFile(o.resolve(name))
}

func (o *OSFS) AppendFile(_ context.Context, name string, data []byte, perm fs.FileMode) error {
	f, err := os.OpenFile(o.resolve(name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// WriteFile writes to a temporary file in the target directory and renames it
// over name, so readers never observe a half-written file.
func (o *OSFS) WriteFile(_ context.Context, name string, data []byte, perm fs.FileMode) error {
	target := o.resolve(name)

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(perm); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, target); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", name, err)
	}
	return nil
}

func (o *OSFS) Chown(_ context.Context, name string, uid, gid int) error {
	return os.Chown(o.resolve(name), uid, gid)
}
