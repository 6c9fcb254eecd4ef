package storage

import (
	"context"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"sync"
)

type memEntry struct {
	data []byte
	mode fs.FileMode
	dir  bool
	uid  int
	gid  int
}

// MemFS is an in-memory FS. Like an object store it does not require parent
// directories to exist before a file is written.
type MemFS struct {
	mu      sync.RWMutex
	entries map[string]*memEntry
}

func NewMemFS() *MemFS {
	return &MemFS{entries: map[string]*memEntry{"/": {dir: true, mode: fs.ModeDir | 0o755}}}
}

func notExist(op, name string) error {
	return &fs.PathError{Op: op, Path: name, Err: fs.ErrNotExist}
}

func (m *MemFS) Exists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[Clean(name)]
	return ok, nil
}

func (m *MemFS) MkdirAll(_ context.Context, name string, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for p := Clean(name); ; p = path.Dir(p) {
		if e, ok := m.entries[p]; ok {
			if !e.dir {
				return &fs.PathError{Op: "mkdir", Path: p, Err: fmt.Errorf("not a directory")}
			}
		} else {
			m.entries[p] = &memEntry{dir: true, mode: fs.ModeDir | perm}
		}
		if p == "/" {
			return nil
		}
	}
}

func (m *MemFS) ReadFile(_ context.Context, name string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entries[Clean(name)]
	if !ok {
		return nil, notExist("open", name)
	}
	if e.dir {
		return nil, &fs.PathError{Op: "read", Path: name, Err: fmt.Errorf("is a directory")}
	}
	return append([]byte(nil), e.data...), nil
}

func (m *MemFS) AppendFile(_ context.Context, name string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Clean(name)
	e, ok := m.entries[p]
	if !ok {
		e = &memEntry{mode: perm}
		m.entries[p] = e
	}
	if e.dir {
		return &fs.PathError{Op: "write", Path: name, Err: fmt.Errorf("is a directory")}
	}
	e.data = append(e.data, data...)
	return nil
}

func (m *MemFS) WriteFile(_ context.Context, name string, data []byte, perm fs.FileMode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Clean(name)
	if e, ok := m.entries[p]; ok && e.dir {
		return &fs.PathError{Op: "write", Path: name, Err: fmt.Errorf("is a directory")}
	}
	prev := m.entries[p]
	e := &memEntry{data: append([]byte(nil), data...), mode: perm}
	if prev != nil {
		e.uid, e.gid = prev.uid, prev.gid
	}
	m.entries[p] = e
	return nil
}

func (m *MemFS) Chown(_ context.Context, name string, uid, gid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[Clean(name)]
	if !ok {
		return notExist("chown", name)
	}
	e.uid, e.gid = uid, gid
	return nil
}

// Stat reports mode and ownership of name.
func (m *MemFS) Stat(name string) (mode fs.FileMode, uid, gid int, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	e, found := m.entries[Clean(name)]
	if !found {
		return 0, 0, 0, false
	}
	return e.mode, e.uid, e.gid, true
}

// Paths lists every entry, sorted.
func (m *MemFS) Paths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0, len(m.entries))
	for p := range m.entries {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}
