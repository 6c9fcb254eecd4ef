package users

import (
	"bytes"
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/dmitrijs2005/credstore/internal/logging"
	"github.com/dmitrijs2005/credstore/internal/storage"
	"github.com/stretchr/testify/require"
)

// faultyFS fails selected operations on top of a MemFS.
type faultyFS struct {
	*storage.MemFS
	failWrite  bool
	failAppend bool
	failRead   bool
	writes     int
}

var errDisk = errors.New("disk failure")

func (f *faultyFS) WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	f.writes++
	if f.failWrite {
		return errDisk
	}
	return f.MemFS.WriteFile(ctx, name, data, perm)
}

func (f *faultyFS) AppendFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	f.writes++
	if f.failAppend {
		return errDisk
	}
	return f.MemFS.AppendFile(ctx, name, data, perm)
}

func (f *faultyFS) ReadFile(ctx context.Context, name string) ([]byte, error) {
	if f.failRead {
		return nil, errDisk
	}
	return f.MemFS.ReadFile(ctx, name)
}

func newTestStore(t *testing.T, fsys storage.FS, cfg Config) (*Store, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return New(fsys, nil, logging.New(&buf, "debug", "text"), cfg), &buf
}

func readFile(t *testing.T, fsys storage.FS, name string) string {
	t.Helper()
	data, err := fsys.ReadFile(context.Background(), name)
	require.NoError(t, err)
	return string(data)
}

func intp(v int) *int { return &v }
