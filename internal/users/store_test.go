package users

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/cryptox"
	"github.com/dmitrijs2005/credstore/internal/session"
	"github.com/dmitrijs2005/credstore/internal/storage"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdd_Defaults(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	s, _ := newTestStore(t, mem, Config{})

	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "secret"}, AddOptions{}))

	u := s.Get(0)
	require.NotNil(t, u)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, 0, u.UID)
	assert.Equal(t, 0, u.GID)
	assert.Empty(t, u.Groups)
	assert.Equal(t, "/home/alice", u.Home)
	assert.Equal(t, "/bin/sh", u.Shell)
	assert.Equal(t, cryptox.HashPassword("secret"), u.Password)
	require.NotNil(t, u.Keypair)
	assert.False(t, u.Keypair.PublicKey.IsPrivate())
	assert.NotEmpty(t, u.Keypair.PrivateKey)

	mode, uid, gid, ok := mem.Stat("/home/alice")
	require.True(t, ok)
	assert.True(t, mode.IsDir())
	assert.Equal(t, 0o750, int(mode.Perm()))
	assert.Equal(t, 0, uid)
	assert.Equal(t, 0, gid)

	require.NoError(t, s.Add(ctx, NewUser{Username: "bob", Password: "pw", Groups: []int{0}}, AddOptions{}))
	bob := s.GetByName("bob")
	require.NotNil(t, bob)
	assert.Equal(t, 1, bob.UID, "uid defaults to the registry size")
	assert.Equal(t, 1, bob.GID)
	_, uid, _, _ = mem.Stat("/home/bob")
	assert.Equal(t, 1, uid)
}

func TestAdd_RecordFormat(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	s, _ := newTestStore(t, mem, Config{})

	require.NoError(t, s.Add(ctx, NewUser{
		Username: "alice", Password: "secret", UID: intp(1000), GID: intp(100), Groups: []int{27, 100},
	}, AddOptions{}))

	assert.Equal(t, "alice:1000:100:27,100:/home/alice:/bin/sh\n\n", readFile(t, mem, "/etc/passwd"))

	shadow := readFile(t, mem, "/etc/shadow")
	require.True(t, strings.HasSuffix(shadow, "\n\n"))
	f := strings.Split(strings.TrimSuffix(shadow, "\n\n"), ":")
	require.Len(t, f, 6)
	assert.Equal(t, []string{"alice", "1000", "100", cryptox.HashPassword("secret")}, f[:4])

	rawPub, err := base64.StdEncoding.DecodeString(f[4])
	require.NoError(t, err)
	var pub cryptox.JWK
	require.NoError(t, json.Unmarshal(rawPub, &pub))
	assert.Equal(t, "EC", pub.Kty)
	assert.Equal(t, "P-384", pub.Crv)

	priv, err := cryptox.NewCustody(nil).Decrypt(f[5], "secret")
	require.NoError(t, err)
	assert.True(t, priv.IsPrivate())
	assert.Equal(t, pub.X, priv.X)

	mode, _, _, _ := mem.Stat("/etc/shadow")
	assert.Equal(t, 0o600, int(mode.Perm()))
}

func TestAdd_Options(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	s, _ := newTestStore(t, mem, Config{})

	require.NoError(t, s.Add(ctx, NewUser{Username: "svc", Password: "deadbeef"}, AddOptions{NoHash: true, NoHome: true, NoWrite: true}))

	u := s.GetByName("svc")
	require.NotNil(t, u)
	assert.Equal(t, "deadbeef", u.Password)

	ok, err := mem.Exists(ctx, "/home/svc")
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = mem.Exists(ctx, "/etc/passwd")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAdd_ExistingKeypairSkipsShadow(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	s, _ := newTestStore(t, mem, Config{})

	kp := &Keypair{PublicKey: cryptox.JWK{Kty: "EC", Crv: "P-384"}, PrivateKey: "blob"}
	require.NoError(t, s.Add(ctx, NewUser{Username: "carol", Password: "pw", Keypair: kp}, AddOptions{}))

	ok, err := mem.Exists(ctx, "/etc/shadow")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, readFile(t, mem, "/etc/passwd"), "carol:0:0::")
}

func TestAdd_Validation(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		user NewUser
		msg  string
	}{
		{"colon", NewUser{Username: "bad:name", Password: "x"}, "Invalid username"},
		{"slash", NewUser{Username: "a/b", Password: "x"}, "Invalid username"},
		{"hash", NewUser{Username: "#root", Password: "x"}, "Invalid username"},
		{"backslash", NewUser{Username: `a\b`, Password: "x"}, "Invalid username"},
		{"ampersand", NewUser{Username: "a&b", Password: "x"}, "Invalid username"},
		{"equals", NewUser{Username: "a=b", Password: "x"}, "Invalid username"},
		{"no username", NewUser{Password: "x"}, "Username is required"},
		{"only control chars", NewUser{Username: "\x01\x02", Password: "x"}, "Username is required"},
		{"no password", NewUser{Username: "alice"}, "Password is required"},
		{"negative uid", NewUser{Username: "alice", Password: "x", UID: intp(-1)}, "Invalid UID"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mem := storage.NewMemFS()
			s, _ := newTestStore(t, mem, Config{})

			err := s.Add(ctx, tt.user, AddOptions{})
			require.Error(t, err)
			assert.ErrorIs(t, err, common.ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
			assert.Empty(t, s.List())
			assert.Equal(t, []string{"/"}, mem.Paths(), "nothing written")
		})
	}

	t.Run("ok_name", func(t *testing.T) {
		s, _ := newTestStore(t, storage.NewMemFS(), Config{})
		require.NoError(t, s.Add(ctx, NewUser{Username: "ok_name", Password: "x"}, AddOptions{}))
		assert.NotNil(t, s.GetByName("ok_name"))
	})

	t.Run("non-printable stripped", func(t *testing.T) {
		s, _ := newTestStore(t, storage.NewMemFS(), Config{})
		require.NoError(t, s.Add(ctx, NewUser{Username: "al\x00ic\te", Password: "x"}, AddOptions{}))
		assert.NotNil(t, s.GetByName("alice"))
	})
}

func TestAdd_Uniqueness(t *testing.T) {
	ctx := context.Background()
	mem := &faultyFS{MemFS: storage.NewMemFS()}
	s, _ := newTestStore(t, mem, Config{})

	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "x", UID: intp(5)}, AddOptions{}))
	before := readFile(t, mem, "/etc/passwd")
	writes := mem.writes

	err := s.Add(ctx, NewUser{Username: "bob", Password: "y", UID: intp(5)}, AddOptions{})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, "User with UID 5 already exists", err.Error())

	err = s.Add(ctx, NewUser{Username: "alice", Password: "y", UID: intp(6)}, AddOptions{})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, "User alice already exists", err.Error())

	assert.Equal(t, before, readFile(t, mem, "/etc/passwd"))
	assert.Equal(t, 1, strings.Count(before, "\n\n"))
	assert.Equal(t, writes, mem.writes)
	ok, _ := mem.Exists(ctx, "/home/bob")
	assert.False(t, ok)
}

func TestAdd_StorageFailure(t *testing.T) {
	ctx := context.Background()
	mem := &faultyFS{MemFS: storage.NewMemFS(), failAppend: true}
	s, _ := newTestStore(t, mem, Config{})

	err := s.Add(ctx, NewUser{Username: "alice", Password: "x"}, AddOptions{})
	require.ErrorIs(t, err, common.ErrStorage)
	assert.Nil(t, s.GetByName("alice"))

	// no rollback: the home directory stays behind
	ok, _ := mem.Exists(ctx, "/home/alice")
	assert.True(t, ok)
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	first, _ := newTestStore(t, mem, Config{})
	require.NoError(t, first.Add(ctx, NewUser{Username: "alice", Password: "a-pw", UID: intp(1000), Groups: []int{10}}, AddOptions{}))
	require.NoError(t, first.Add(ctx, NewUser{Username: "bob", Password: "b-pw", UID: intp(1001)}, AddOptions{}))

	// a passwd-only account, a comment and a malformed line
	require.NoError(t, mem.AppendFile(ctx, "/etc/passwd", []byte("# local accounts\nghost:1002:1002::/home/ghost:/bin/sh\n\nbroken:line\n"), 0o644))

	second, logs := newTestStore(t, mem, Config{})
	require.NoError(t, second.Load(ctx))

	list := second.List()
	require.Len(t, list, 2)
	assert.Equal(t, "alice", list[0].Username)
	assert.Equal(t, "bob", list[1].Username)
	assert.Nil(t, second.GetByName("ghost"))
	assert.Contains(t, logs.String(), "no shadow entry")
	assert.Contains(t, logs.String(), "username=ghost")
	assert.Contains(t, logs.String(), "malformed passwd line")

	if diff := cmp.Diff(first.Get(1000), second.Get(1000)); diff != "" {
		t.Errorf("reloaded user differs (-want +got):\n%s", diff)
	}

	creds, err := second.Login(ctx, "alice", "a-pw", nil)
	require.NoError(t, err)
	assert.Equal(t, 1000, creds.UID)
}

func TestLoad_MissingFiles(t *testing.T) {
	ctx := context.Background()

	t.Run("no passwd", func(t *testing.T) {
		s, _ := newTestStore(t, storage.NewMemFS(), Config{})
		require.NoError(t, s.Load(ctx))
		assert.Empty(t, s.List())
	})

	t.Run("no shadow", func(t *testing.T) {
		mem := storage.NewMemFS()
		require.NoError(t, mem.WriteFile(ctx, "/etc/passwd", []byte("alice:1:1::/home/alice:/bin/sh"), 0o644))
		s, logs := newTestStore(t, mem, Config{})
		require.NoError(t, s.Load(ctx))
		assert.Empty(t, s.List())
		assert.Contains(t, logs.String(), "no shadow entry")
	})

	t.Run("read failure", func(t *testing.T) {
		mem := &faultyFS{MemFS: storage.NewMemFS(), failRead: true}
		s, _ := newTestStore(t, mem, Config{})
		assert.ErrorIs(t, s.Load(ctx), common.ErrStorage)
	})

	t.Run("bad public key", func(t *testing.T) {
		mem := storage.NewMemFS()
		require.NoError(t, mem.WriteFile(ctx, "/etc/passwd", []byte("alice:1:1::/home/alice:/bin/sh"), 0o644))
		require.NoError(t, mem.WriteFile(ctx, "/etc/shadow", []byte("alice:1:1:abc:!!!:blob"), 0o600))
		s, logs := newTestStore(t, mem, Config{})
		require.NoError(t, s.Load(ctx))
		assert.Empty(t, s.List())
		assert.Contains(t, logs.String(), "malformed shadow entry")
	})
}

func TestPassword(t *testing.T) {
	ctx := context.Background()
	mem := &faultyFS{MemFS: storage.NewMemFS()}
	s, _ := newTestStore(t, mem, Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "old", UID: intp(1000)}, AddOptions{}))
	require.NoError(t, s.Add(ctx, NewUser{Username: "bob", Password: "bob", UID: intp(1001)}, AddOptions{}))

	actx := session.WithCredentials(ctx, session.ForUser(1000, 1000))
	digest := s.Get(1000).Password
	passwd := readFile(t, mem, "/etc/passwd")

	err := s.Password(actx, "wrong", "new")
	require.ErrorIs(t, err, common.ErrAuthentication)
	assert.Equal(t, digest, s.Get(1000).Password)
	assert.Equal(t, passwd, readFile(t, mem, "/etc/passwd"))

	mem.failWrite = true
	err = s.Password(actx, "old", "new")
	require.ErrorIs(t, err, common.ErrStorage)
	assert.Equal(t, digest, s.Get(1000).Password)
	mem.failWrite = false

	require.NoError(t, s.Password(actx, "old", "new"))
	_, err = s.Login(ctx, "alice", "new", nil)
	require.NoError(t, err)
	_, err = s.Login(ctx, "alice", "old", nil)
	assert.ErrorIs(t, err, common.ErrAuthentication)

	// the whole passwd file is rewritten with single separators
	assert.Equal(t,
		"alice:1000:1000::/home/alice:/bin/sh\nbob:1001:1001::/home/bob:/bin/sh\n",
		readFile(t, mem, "/etc/passwd"))
	// shadow keeps the original digest
	assert.Contains(t, readFile(t, mem, "/etc/shadow"), digest)
}

func TestPassword_ProcessUID(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemFS(), Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "old", UID: intp(1000)}, AddOptions{}))

	assert.Equal(t, os.Getuid(), s.processUID(), "defaults to the process credentials")

	s.processUID = func() int { return 1000 }
	require.NoError(t, s.Password(ctx, "old", "new"))
	assert.Equal(t, cryptox.HashPassword("new"), s.Get(1000).Password)

	s.processUID = func() int { return 4242 }
	err := s.Password(ctx, "new", "newer")
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, "User with UID 4242 not found", err.Error())
}

func TestPassword_SyncShadow(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	s, _ := newTestStore(t, mem, Config{SyncShadow: true})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "old", UID: intp(1000)}, AddOptions{}))

	actx := session.WithCredentials(ctx, session.ForUser(1000, 1000))
	require.NoError(t, s.Password(actx, "old", "new"))

	reloaded, _ := newTestStore(t, mem, Config{SyncShadow: true})
	require.NoError(t, reloaded.Load(ctx))
	_, err := reloaded.Login(ctx, "alice", "new", nil)
	require.NoError(t, err)

	key, err := reloaded.UnlockSigningKey(ctx, 1000, "new")
	require.NoError(t, err)
	pub, err := cryptox.PublicJWK(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, s.Get(1000).Keypair.PublicKey.X, pub.X)
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemFS()
	s, _ := newTestStore(t, mem, Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "x", UID: intp(1000)}, AddOptions{}))
	require.NoError(t, s.Add(ctx, NewUser{Username: "bob", Password: "y", UID: intp(1001)}, AddOptions{}))

	require.NoError(t, s.Remove(ctx, 1000))
	assert.Nil(t, s.Get(1000))
	assert.Equal(t, "bob:1001:1001::/home/bob:/bin/sh\n", readFile(t, mem, "/etc/passwd"))

	ok, err := mem.Exists(ctx, "/home/alice")
	require.NoError(t, err)
	assert.True(t, ok, "home directory is retained")

	// unknown uid is a no-op that still rewrites passwd
	require.NoError(t, mem.WriteFile(ctx, "/etc/passwd", []byte("stale"), 0o644))
	require.NoError(t, s.Remove(ctx, 9999))
	assert.Equal(t, "bob:1001:1001::/home/bob:/bin/sh\n", readFile(t, mem, "/etc/passwd"))
}

func TestRewriteThenAdd_Reload(t *testing.T) {
	for _, sync := range []bool{false, true} {
		t.Run(fmt.Sprintf("sync shadow %v", sync), func(t *testing.T) {
			ctx := context.Background()
			mem := storage.NewMemFS()
			cfg := Config{SyncShadow: sync}
			s, _ := newTestStore(t, mem, cfg)
			require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "a", UID: intp(1000)}, AddOptions{}))
			require.NoError(t, s.Add(ctx, NewUser{Username: "tmp", Password: "t", UID: intp(1001)}, AddOptions{}))
			require.NoError(t, s.Remove(ctx, 1001))
			require.NoError(t, s.Add(ctx, NewUser{Username: "bob", Password: "b", UID: intp(1002)}, AddOptions{}))

			assert.Equal(t,
				"alice:1000:1000::/home/alice:/bin/sh\nbob:1002:1002::/home/bob:/bin/sh\n\n",
				readFile(t, mem, "/etc/passwd"))

			reloaded, _ := newTestStore(t, mem, cfg)
			require.NoError(t, reloaded.Load(ctx))
			require.Len(t, reloaded.List(), 2)
			assert.Equal(t, "/bin/sh", reloaded.Get(1000).Shell)
			require.NotNil(t, reloaded.GetByName("bob"))
			_, err := reloaded.Login(ctx, "bob", "b", nil)
			assert.NoError(t, err)
		})
	}
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	mem := &faultyFS{MemFS: storage.NewMemFS()}
	s, _ := newTestStore(t, mem, Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "x", UID: intp(1000)}, AddOptions{}))
	require.NoError(t, s.Add(ctx, NewUser{Username: "bob", Password: "y", UID: intp(1001)}, AddOptions{}))

	passwd := readFile(t, mem, "/etc/passwd")

	err := s.Update(ctx, 42, Patch{})
	require.ErrorIs(t, err, common.ErrNotFound)
	assert.Equal(t, "User with UID 42 not found", err.Error())
	assert.Equal(t, passwd, readFile(t, mem, "/etc/passwd"))

	taken := "bob"
	err = s.Update(ctx, 1000, Patch{Username: &taken})
	require.ErrorIs(t, err, common.ErrValidation)

	bad := "a:b"
	err = s.Update(ctx, 1000, Patch{Username: &bad})
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Equal(t, passwd, readFile(t, mem, "/etc/passwd"))

	shell := "/bin/zsh"
	groups := []int{27}
	require.NoError(t, s.Update(ctx, 1000, Patch{Shell: &shell, Groups: &groups}))
	u := s.Get(1000)
	assert.Equal(t, "/bin/zsh", u.Shell)
	assert.Equal(t, []int{27}, u.Groups)
	assert.Equal(t,
		"alice:1000:1000:27:/home/alice:/bin/zsh\nbob:1001:1001::/home/bob:/bin/sh\n",
		readFile(t, mem, "/etc/passwd"))

	mem.failWrite = true
	other := "/bin/fish"
	require.ErrorIs(t, s.Update(ctx, 1000, Patch{Shell: &other}), common.ErrStorage)
	assert.Equal(t, "/bin/zsh", s.Get(1000).Shell)
}

func TestUpdate_RenameShadow(t *testing.T) {
	ctx := context.Background()
	for _, sync := range []bool{false, true} {
		t.Run(fmt.Sprintf("sync=%v", sync), func(t *testing.T) {
			mem := storage.NewMemFS()
			s, _ := newTestStore(t, mem, Config{SyncShadow: sync})
			require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "pw", UID: intp(1000)}, AddOptions{NoHome: true}))
			require.NotNil(t, s.Get(1000).Keypair)

			name := "alicia"
			err := s.Update(ctx, 1000, Patch{Username: &name})
			if !sync {
				require.ErrorIs(t, err, common.ErrValidation)
				assert.Equal(t, "alice", s.Get(1000).Username)
				return
			}
			require.NoError(t, err)

			reloaded, _ := newTestStore(t, mem, Config{SyncShadow: true})
			require.NoError(t, reloaded.Load(ctx))
			u := reloaded.Get(1000)
			require.NotNil(t, u)
			assert.Equal(t, "alicia", u.Username)
			assert.NotNil(t, u.Keypair)
		})
	}
}

func TestGetReturnsCopy(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemFS(), Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "x", Groups: []int{1}}, AddOptions{}))

	u := s.Get(0)
	u.Groups[0] = 99
	u.Shell = "/bin/false"
	assert.Equal(t, []int{1}, s.Get(0).Groups)
	assert.Equal(t, "/bin/sh", s.Get(0).Shell)
	assert.Nil(t, s.Get(7))
	assert.Nil(t, s.GetByName("nobody"))
}

func TestUnlockSigningKey(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, storage.NewMemFS(), Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "secret"}, AddOptions{}))

	key, err := s.UnlockSigningKey(ctx, 0, "secret")
	require.NoError(t, err)
	pub, err := cryptox.PublicJWK(&key.PublicKey)
	require.NoError(t, err)
	assert.Equal(t, s.Get(0).Keypair.PublicKey.X, pub.X)

	_, err = s.UnlockSigningKey(ctx, 0, "wrong")
	assert.ErrorIs(t, err, common.ErrAuthentication)

	_, err = s.UnlockSigningKey(ctx, 5, "secret")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestUnlockSigningKey_Argon2id(t *testing.T) {
	ctx := context.Background()
	scheme := cryptox.Argon2idScheme{Time: 1, Memory: 8 * 1024, Threads: 1}
	s := New(storage.NewMemFS(), cryptox.NewCustody(scheme), nil, Config{})
	require.NoError(t, s.Add(ctx, NewUser{Username: "alice", Password: "secret"}, AddOptions{}))

	assert.True(t, strings.HasPrefix(s.Get(0).Keypair.PrivateKey, "$argon2id$"))
	_, err := s.UnlockSigningKey(ctx, 0, "secret")
	require.NoError(t, err)
}
