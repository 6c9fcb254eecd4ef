package storage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseFS checks the behaviour every backend must share.
func exerciseFS(t *testing.T, fsys FS) {
	t.Helper()
	ctx := context.Background()

	ok, err := fsys.Exists(ctx, "/etc/passwd")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = fsys.ReadFile(ctx, "/etc/passwd")
	assert.True(t, errors.Is(err, fs.ErrNotExist))

	require.NoError(t, fsys.MkdirAll(ctx, "/etc", 0o755))
	require.NoError(t, fsys.AppendFile(ctx, "/etc/passwd", []byte("a\n\n"), 0o644))
	require.NoError(t, fsys.AppendFile(ctx, "/etc/passwd", []byte("b\n\n"), 0o644))

	data, err := fsys.ReadFile(ctx, "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "a\n\nb\n\n", string(data))

	require.NoError(t, fsys.WriteFile(ctx, "/etc/passwd", []byte("a\nb"), 0o644))
	data, err = fsys.ReadFile(ctx, "/etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, "a\nb", string(data))

	require.NoError(t, fsys.MkdirAll(ctx, "/home/alice", 0o750))
	ok, err = fsys.Exists(ctx, "/home/alice")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, fsys.Chown(ctx, "/home/alice", os.Getuid(), os.Getgid()))
	assert.Error(t, fsys.Chown(ctx, "/home/nobody", 1, 1))
}

func TestMemFS(t *testing.T) {
	m := NewMemFS()
	exerciseFS(t, m)

	mode, _, _, ok := m.Stat("/home/alice")
	require.True(t, ok)
	assert.True(t, mode.IsDir())
	assert.Equal(t, fs.FileMode(0o750), mode.Perm())
	assert.Contains(t, m.Paths(), "/home")
}

func TestMemFS_ChownAndWritePreserveOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemFS()
	require.NoError(t, m.WriteFile(ctx, "/home/bob/.passkeys", []byte("[]"), 0o600))
	require.NoError(t, m.Chown(ctx, "/home/bob/.passkeys", 1001, 1001))
	require.NoError(t, m.WriteFile(ctx, "/home/bob/.passkeys", []byte("[1]"), 0o600))

	_, uid, gid, ok := m.Stat("/home/bob/.passkeys")
	require.True(t, ok)
	assert.Equal(t, 1001, uid)
	assert.Equal(t, 1001, gid)
}

func TestMemFS_DirectoryConflicts(t *testing.T) {
	ctx := context.Background()
	m := NewMemFS()
	require.NoError(t, m.MkdirAll(ctx, "/home", 0o755))

	assert.Error(t, m.WriteFile(ctx, "/home", []byte("x"), 0o644))
	assert.Error(t, m.AppendFile(ctx, "/home", []byte("x"), 0o644))
	_, err := m.ReadFile(ctx, "/home")
	assert.Error(t, err)

	require.NoError(t, m.WriteFile(ctx, "/etc/file", []byte("x"), 0o644))
	assert.Error(t, m.MkdirAll(ctx, "/etc/file/sub", 0o755))
}

func TestOSFS(t *testing.T) {
	root := t.TempDir()
	exerciseFS(t, NewOSFS(root))

	info, err := os.Stat(filepath.Join(root, "home", "alice"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o750), info.Mode().Perm())
}

func TestOSFS_WriteFileLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	o := NewOSFS(root)
	ctx := context.Background()

	require.NoError(t, o.MkdirAll(ctx, "/etc", 0o755))
	require.NoError(t, o.WriteFile(ctx, "/etc/shadow", []byte("x"), 0o600))
	require.NoError(t, o.WriteFile(ctx, "/etc/shadow", []byte("y"), 0o600))

	entries, err := os.ReadDir(filepath.Join(root, "etc"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "shadow", entries[0].Name())

	info, err := os.Stat(filepath.Join(root, "etc", "shadow"))
	require.NoError(t, err)
	assert.Equal(t, fs.FileMode(0o600), info.Mode().Perm())
}

func TestOSFS_PathsStayInsideRoot(t *testing.T) {
	root := t.TempDir()
	o := NewOSFS(root)
	assert.Equal(t, filepath.Join(root, "etc", "passwd"), o.resolve("/../../etc/passwd"))
	assert.Equal(t, filepath.Join(root, "x"), o.resolve("x"))
}

func TestOSFS_WriteFileMissingDir(t *testing.T) {
	o := NewOSFS(t.TempDir())
	err := o.WriteFile(context.Background(), "/missing/file", []byte("x"), 0o644)
	assert.Error(t, err)
}

func TestClean(t *testing.T) {
	assert.Equal(t, "/etc/passwd", Clean("etc/passwd"))
	assert.Equal(t, "/etc/passwd", Clean("/../etc/./passwd"))
	assert.Equal(t, "/", Clean(""))
}
