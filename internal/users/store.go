package users

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/cryptox"
	"github.com/dmitrijs2005/credstore/internal/logging"
	"github.com/dmitrijs2005/credstore/internal/session"
	"github.com/dmitrijs2005/credstore/internal/storage"
)

const (
	passwdPerm = 0o644
	shadowPerm = 0o600
	homePerm   = 0o750
	etcPerm    = 0o755
)

const (
	errInvalidCredentials = "Invalid username or password"
	errFactorRequired     = "Password or passkey required"
	errPasskeyNotFound    = "Passkey not found for this user"
	errPasskeyRejected    = "Passkey verification failed"
)

// Config locates the account files and supplies account defaults.
type Config struct {
	PasswdPath   string
	ShadowPath   string
	HomeBase     string
	DefaultShell string
	// SyncShadow also rewrites the shadow file when passwd is rewritten and
	// re-seals the signing key on password change. Off, the store keeps the
	// legacy behaviour of rewriting passwd only.
	SyncShadow bool
}

// DefaultConfig returns the legacy file locations.
func DefaultConfig() Config {
	return Config{
		PasswdPath:   "/etc/passwd",
		ShadowPath:   "/etc/shadow",
		HomeBase:     "/home",
		DefaultShell: "/bin/sh",
	}
}

// Store is the credential store. All methods are safe for concurrent use;
// mutations are serialized.
type Store struct {
	fs      storage.FS
	custody *cryptox.Custody
	log     logging.Logger
	cfg     Config

	now        func() time.Time
	processUID func() int

	mu    sync.RWMutex
	users map[int]*User
}

// New returns an empty store persisting through fsys. A nil custody uses the
// legacy key scheme.
func New(fsys storage.FS, custody *cryptox.Custody, logger logging.Logger, cfg Config) *Store {
	if custody == nil {
		custody = cryptox.NewCustody(nil)
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	def := DefaultConfig()
	if cfg.PasswdPath == "" {
		cfg.PasswdPath = def.PasswdPath
	}
	if cfg.ShadowPath == "" {
		cfg.ShadowPath = def.ShadowPath
	}
	if cfg.HomeBase == "" {
		cfg.HomeBase = def.HomeBase
	}
	if cfg.DefaultShell == "" {
		cfg.DefaultShell = def.DefaultShell
	}
	return &Store{
		fs:         fsys,
		custody:    custody,
		log:        logger,
		cfg:        cfg,
		now:        time.Now,
		processUID: func() int { return session.Process().UID },
		users:      make(map[int]*User),
	}
}

// Get returns a copy of the user with uid, or nil.
func (s *Store) Get(uid int) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[uid]; ok {
		return u.clone()
	}
	return nil
}

// GetByName returns a copy of the named user, or nil.
func (s *Store) GetByName(username string) *User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u := s.byName(username); u != nil {
		return u.clone()
	}
	return nil
}

func (s *Store) byName(username string) *User {
	for _, u := range s.users {
		if u.Username == username {
			return u
		}
	}
	return nil
}

// List returns copies of all users ordered by uid.
func (s *Store) List() []*User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*User, 0, len(s.users))
	for _, u := range s.sorted() {
		out = append(out, u.clone())
	}
	return out
}

func (s *Store) sorted() []*User {
	out := make([]*User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UID < out[j].UID })
	return out
}

// Add registers a new user. Validation happens before any side effect; once
// the home directory or key material is being created a failure leaves
// whatever was already written in place.
func (s *Store) Add(ctx context.Context, nu NewUser, opts AddOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.add(ctx, nu, opts)
}

func (s *Store) add(ctx context.Context, nu NewUser, opts AddOptions) error {
	username, err := sanitizeUsername(nu.Username)
	if err != nil {
		return err
	}
	if nu.Password == "" {
		return common.New(common.KindValidation, "Password is required")
	}

	uid := len(s.users)
	if nu.UID != nil {
		uid = *nu.UID
	}
	if uid < 0 {
		return common.Newf(common.KindValidation, "Invalid UID %d", uid)
	}
	if _, ok := s.users[uid]; ok {
		return common.Newf(common.KindValidation, "User with UID %d already exists", uid)
	}
	if s.byName(username) != nil {
		return common.Newf(common.KindValidation, "User %s already exists", username)
	}

	u := &User{
		Username: username,
		UID:      uid,
		GID:      uid,
		Groups:   append([]int{}, nu.Groups...),
		Home:     nu.Home,
		Shell:    nu.Shell,
		Password: nu.Password,
		Keypair:  nu.Keypair,
	}
	if nu.GID != nil {
		u.GID = *nu.GID
	}
	if u.Home == "" {
		u.Home = path.Join(s.cfg.HomeBase, username)
	}
	if u.Shell == "" {
		u.Shell = s.cfg.DefaultShell
	}

	plaintext := nu.Password
	if !opts.NoHash {
		u.Password = cryptox.HashPassword(plaintext)
	}

	if !opts.NoHome {
		if err := s.fs.MkdirAll(ctx, u.Home, homePerm); err != nil {
			return common.Wrapf(common.KindStorage, err, "create home %s", u.Home)
		}
	}

	generated := false
	if u.Keypair == nil {
		kp, err := s.newKeypair(plaintext)
		if err != nil {
			return err
		}
		u.Keypair = kp
		generated = true
	}

	if !opts.NoWrite {
		if err := s.appendRecord(ctx, s.cfg.PasswdPath, passwdLine(u), passwdPerm); err != nil {
			return err
		}
		if generated {
			line, err := shadowLine(u)
			if err != nil {
				return common.Wrap(common.KindStorage, err)
			}
			if err := s.appendRecord(ctx, s.cfg.ShadowPath, line, shadowPerm); err != nil {
				return err
			}
		}
	}

	s.users[u.UID] = u

	if err := s.fs.Chown(ctx, u.Home, u.UID, u.GID); err != nil {
		s.log.Debug(ctx, "chown home failed", "home", u.Home, "uid", u.UID, "error", err)
	}

	s.log.Info(ctx, "user added", "username", u.Username, "uid", u.UID)
	return nil
}

// newKeypair generates a P-384 signing key and seals its private half under
// the plaintext password.
func (s *Store) newKeypair(password string) (*Keypair, error) {
	key, err := cryptox.GenerateKeyPair()
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, err)
	}
	pub, priv, err := cryptox.ExportKeyPair(key)
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, err)
	}
	blob, err := s.custody.Encrypt(priv, password)
	if err != nil {
		return nil, err
	}
	return &Keypair{PublicKey: pub, PrivateKey: blob}, nil
}

func (s *Store) appendRecord(ctx context.Context, name, line string, perm fs.FileMode) error {
	if err := s.fs.MkdirAll(ctx, path.Dir(name), etcPerm); err != nil {
		return common.Wrapf(common.KindStorage, err, "create %s", path.Dir(name))
	}
	if err := s.fs.AppendFile(ctx, name, []byte(line+"\n\n"), perm); err != nil {
		return common.Wrapf(common.KindStorage, err, "append %s", name)
	}
	return nil
}

// Load hydrates the registry from the passwd and shadow files. A user
// without a shadow record is skipped with a warning, as is any line that
// does not parse.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	passwd, err := s.readOptional(ctx, s.cfg.PasswdPath)
	if err != nil {
		return err
	}
	if passwd == nil {
		s.log.Info(ctx, "no passwd file, starting with an empty registry", "path", s.cfg.PasswdPath)
		return nil
	}
	shadow, err := s.readOptional(ctx, s.cfg.ShadowPath)
	if err != nil {
		return err
	}
	shadowLines := splitLines(shadow)

	loaded := 0
	for n, line := range splitLines(passwd) {
		rec, ok, err := parsePasswdLine(line)
		if err != nil {
			s.log.Warn(ctx, "skipping malformed passwd line", "line", n+1, "error", err)
			continue
		}
		if !ok {
			continue
		}

		sl, found := findShadow(shadowLines, rec.Username)
		if !found {
			s.log.Warn(ctx, "no shadow entry, skipping user", "username", rec.Username)
			continue
		}
		sr, err := parseShadowLine(sl)
		if err != nil {
			s.log.Warn(ctx, "skipping malformed shadow entry", "username", rec.Username, "error", err)
			continue
		}

		uid, gid := rec.UID, rec.GID
		err = s.add(ctx, NewUser{
			Username: rec.Username,
			Password: sr.PasswordHash,
			UID:      &uid,
			GID:      &gid,
			Groups:   rec.Groups,
			Home:     rec.Home,
			Shell:    rec.Shell,
			Keypair:  &Keypair{PublicKey: sr.PublicKey, PrivateKey: sr.PrivateKey},
		}, AddOptions{NoHash: true, NoHome: true, NoWrite: true})
		if err != nil {
			return err
		}
		loaded++
	}

	s.log.Info(ctx, "users loaded", "count", loaded)
	return nil
}

// readOptional returns nil data for a file that does not exist.
func (s *Store) readOptional(ctx context.Context, name string) ([]byte, error) {
	data, err := s.fs.ReadFile(ctx, name)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, common.Wrapf(common.KindStorage, err, "read %s", name)
	}
	if data == nil {
		data = []byte{}
	}
	return data, nil
}

// Update merges patch into the user with uid and rewrites passwd. Renaming a
// user that holds a shadow record requires SyncShadow.
func (s *Store) Update(ctx context.Context, uid int, patch Patch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.users[uid]
	if !ok {
		return common.Newf(common.KindNotFound, "User with UID %d not found", uid)
	}

	next := cur.clone()
	patch.apply(next)
	if patch.Username != nil {
		name, err := sanitizeUsername(next.Username)
		if err != nil {
			return err
		}
		if other := s.byName(name); other != nil && other.UID != uid {
			return common.Newf(common.KindValidation, "User %s already exists", name)
		}
		if name != cur.Username && cur.Keypair != nil && !s.cfg.SyncShadow {
			return common.Newf(common.KindValidation, "Cannot rename %s: shadow record would be orphaned", cur.Username)
		}
		next.Username = name
	}

	s.users[uid] = next
	if err := s.persist(ctx); err != nil {
		s.users[uid] = cur
		return err
	}
	s.log.Info(ctx, "user updated", "uid", uid)
	return nil
}

// Remove drops the user with uid and rewrites passwd. The home directory is
// left in place. Removing an unknown uid still rewrites the file.
func (s *Store) Remove(ctx context.Context, uid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, existed := s.users[uid]
	delete(s.users, uid)
	if err := s.persist(ctx); err != nil {
		if existed {
			s.users[uid] = cur
		}
		return err
	}
	s.log.Info(ctx, "user removed", "uid", uid, "existed", existed)
	return nil
}

// Password changes the password of the calling user: the uid from the
// session credentials in ctx, or the process uid when ctx carries none.
func (s *Store) Password(ctx context.Context, oldPassword, newPassword string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	uid := s.processUID()
	if c, ok := session.FromContext(ctx); ok {
		uid = c.UID
	}

	cur, ok := s.users[uid]
	if !ok {
		return common.Newf(common.KindNotFound, "User with UID %d not found", uid)
	}
	if !cryptox.CheckPassword(oldPassword, cur.Password) {
		return common.New(common.KindAuthentication, "Incorrect password")
	}
	if newPassword == "" {
		return common.New(common.KindValidation, "Password is required")
	}

	next := cur.clone()
	next.Password = cryptox.HashPassword(newPassword)
	if s.cfg.SyncShadow && next.Keypair != nil && next.Keypair.PrivateKey != "" {
		jwk, err := s.custody.Decrypt(next.Keypair.PrivateKey, oldPassword)
		if err != nil {
			return err
		}
		blob, err := s.custody.Encrypt(jwk, newPassword)
		if err != nil {
			return err
		}
		next.Keypair.PrivateKey = blob
	}

	s.users[uid] = next
	if err := s.persist(ctx); err != nil {
		s.users[uid] = cur
		return err
	}
	s.log.Info(ctx, "password changed", "uid", uid)
	return nil
}

// persist rewrites passwd from the registry, and shadow too under SyncShadow.
// Records are newline-terminated so a later append starts on a fresh line.
func (s *Store) persist(ctx context.Context) error {
	users := s.sorted()

	lines := make([]string, 0, len(users))
	for _, u := range users {
		lines = append(lines, passwdLine(u))
	}
	if err := s.fs.WriteFile(ctx, s.cfg.PasswdPath, joinRecords(lines), passwdPerm); err != nil {
		return common.Wrapf(common.KindStorage, err, "write %s", s.cfg.PasswdPath)
	}

	if !s.cfg.SyncShadow {
		return nil
	}
	lines = lines[:0]
	for _, u := range users {
		if u.Keypair == nil {
			continue
		}
		l, err := shadowLine(u)
		if err != nil {
			return common.Wrap(common.KindStorage, err)
		}
		lines = append(lines, l)
	}
	if err := s.fs.WriteFile(ctx, s.cfg.ShadowPath, joinRecords(lines), shadowPerm); err != nil {
		return common.Wrapf(common.KindStorage, err, "write %s", s.cfg.ShadowPath)
	}
	return nil
}

func joinRecords(lines []string) []byte {
	if len(lines) == 0 {
		return []byte{}
	}
	return []byte(strings.Join(lines, "\n") + "\n")
}

// UnlockSigningKey checks password against the user's digest and opens
// their sealed private key.
func (s *Store) UnlockSigningKey(ctx context.Context, uid int, password string) (*ecdsa.PrivateKey, error) {
	u := s.Get(uid)
	if u == nil {
		return nil, common.Newf(common.KindNotFound, "User with UID %d not found", uid)
	}
	if u.Keypair == nil || u.Keypair.PrivateKey == "" {
		return nil, common.Newf(common.KindNotFound, "User with UID %d has no signing key", uid)
	}
	if !cryptox.CheckPassword(password, u.Password) {
		return nil, common.New(common.KindAuthentication, errInvalidCredentials)
	}

	jwk, err := s.custody.Decrypt(u.Keypair.PrivateKey, password)
	if err != nil {
		return nil, err
	}
	key, err := jwk.PrivateKey()
	if err != nil {
		return nil, common.Wrap(common.KindCrypto, err)
	}
	s.log.Debug(ctx, "signing key unlocked", "uid", uid)
	return key, nil
}
