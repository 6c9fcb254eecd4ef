// Package sqlfs implements storage.FS on a SQL table, one row per file or
// directory. PostgreSQL (through the pgx stdlib driver) and SQLite (through
// modernc.org/sqlite) are supported. The schema is managed by goose
// migrations embedded in the binary.
package sqlfs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"

	"github.com/dmitrijs2005/credstore/internal/storage"
	"github.com/dmitrijs2005/credstore/internal/storage/sqlfs/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

const (
	queryExists = `SELECT EXISTS(SELECT 1 FROM files WHERE path = $1)`
	queryRead   = `SELECT data, is_dir FROM files WHERE path = $1`
	queryMkdir  = `INSERT INTO files (path, data, mode, is_dir) VALUES ($1, ''::bytea, $2, TRUE) ON CONFLICT (path) DO NOTHING`
	queryIsDir  = `SELECT is_dir FROM files WHERE path = $1`
	queryAppend = `INSERT INTO files (path, data, mode) VALUES ($1, $2, $3) ON CONFLICT (path) DO UPDATE SET data = files.data || EXCLUDED.data, updated_at = now() WHERE NOT files.is_dir`
	queryWrite  = `INSERT INTO files (path, data, mode) VALUES ($1, $2, $3) ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, mode = EXCLUDED.mode, updated_at = now() WHERE NOT files.is_dir`
	queryChown  = `UPDATE files SET uid = $2, gid = $3, updated_at = now() WHERE path = $1`
)

const (
	sqliteExists = `SELECT EXISTS(SELECT 1 FROM files WHERE path = ?1)`
	sqliteRead   = `SELECT data, is_dir FROM files WHERE path = ?1`
	sqliteMkdir  = `INSERT INTO files (path, data, mode, is_dir) VALUES (?1, X'', ?2, 1) ON CONFLICT (path) DO NOTHING`
	sqliteIsDir  = `SELECT is_dir FROM files WHERE path = ?1`
	sqliteAppend = `INSERT INTO files (path, data, mode) VALUES (?1, ?2, ?3) ON CONFLICT (path) DO UPDATE SET data = CAST(files.data || excluded.data AS BLOB), updated_at = CURRENT_TIMESTAMP WHERE NOT files.is_dir`
	sqliteWrite  = `INSERT INTO files (path, data, mode) VALUES (?1, ?2, ?3) ON CONFLICT (path) DO UPDATE SET data = excluded.data, mode = excluded.mode, updated_at = CURRENT_TIMESTAMP WHERE NOT files.is_dir`
	sqliteChown  = `UPDATE files SET uid = ?2, gid = ?3, updated_at = CURRENT_TIMESTAMP WHERE path = ?1`
)

type queries struct {
	exists, read, mkdir, isDir, append, write, chown string
}

// Dialect binds a database/sql driver to its goose dialect, migration
// directory and statements.
type Dialect struct {
	Driver string
	Goose  string
	Dir    string
	q      queries
}

var (
	Postgres = Dialect{
		Driver: "pgx",
		Goose:  "pgx",
		Dir:    "postgres",
		q:      queries{queryExists, queryRead, queryMkdir, queryIsDir, queryAppend, queryWrite, queryChown},
	}
	SQLite = Dialect{
		Driver: "sqlite",
		Goose:  "sqlite3",
		Dir:    "sqlite",
		q:      queries{sqliteExists, sqliteRead, sqliteMkdir, sqliteIsDir, sqliteAppend, sqliteWrite, sqliteChown},
	}
)

var errIsDir = errors.New("is a directory")

// DBTX is the subset of database/sql used by FS. *sql.DB and *sql.Tx both
// satisfy it.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type FS struct {
	db *sql.DB
	q  queries
}

var _ storage.FS = (*FS)(nil)

// New returns a PostgreSQL-backed FS.
func New(db *sql.DB) *FS {
	return NewWithDialect(db, Postgres)
}

func NewWithDialect(db *sql.DB, d Dialect) *FS {
	return &FS{db: db, q: d.q}
}

// gooseUpContext is a seam for tests.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// Migrate brings the files table up to date.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect(d.Goose); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, d.Dir)
}

// Open connects to dsn with the driver of d, verifies the connection and
// runs migrations.
func Open(ctx context.Context, d Dialect, dsn string) (*FS, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if d.Driver == SQLite.Driver {
		// one writer at a time, otherwise concurrent transactions hit SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if err := Migrate(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return NewWithDialect(db, d), nil
}

func (f *FS) Close() error {
	return f.db.Close()
}

// withTx runs fn inside a transaction, committing on success and rolling back
// on error or panic. Panics are re-raised.
func (f *FS) withTx(ctx context.Context, fn func(tx DBTX) error) (err error) {
	tx, err := f.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		err = tx.Commit()
	}()
	return fn(tx)
}

func (f *FS) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	if err := f.db.QueryRowContext(ctx, f.q.exists, storage.Clean(name)).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// MkdirAll inserts name and every parent in one transaction. Existing
// directories keep their mode; an existing file in the chain is an error.
func (f *FS) MkdirAll(ctx context.Context, name string, perm fs.FileMode) error {
	var chain []string
	for p := storage.Clean(name); ; p = path.Dir(p) {
		chain = append([]string{p}, chain...)
		if p == "/" {
			break
		}
	}

	return f.withTx(ctx, func(tx DBTX) error {
		for _, p := range chain {
			if _, err := tx.ExecContext(ctx, f.q.mkdir, p, int(perm.Perm())); err != nil {
				return err
			}
			var isDir bool
			if err := tx.QueryRowContext(ctx, f.q.isDir, p).Scan(&isDir); err != nil {
				return err
			}
			if !isDir {
				return &fs.PathError{Op: "mkdir", Path: p, Err: errors.New("not a directory")}
			}
		}
		return nil
	})
}

func (f *FS) ReadFile(ctx context.Context, name string) ([]byte, error) {
	var (
		data  []byte
		isDir bool
	)
	err := f.db.QueryRowContext(ctx, f.q.read, storage.Clean(name)).Scan(&data, &isDir)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}
	if isDir {
		return nil, &fs.PathError{Op: "read", Path: name, Err: errIsDir}
	}
	return data, nil
}

// AppendFile concatenates in a single statement, so concurrent appends do
// not lose data.
func (f *FS) AppendFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	return f.upsert(ctx, "write", f.q.append, name, data, perm)
}

func (f *FS) WriteFile(ctx context.Context, name string, data []byte, perm fs.FileMode) error {
	return f.upsert(ctx, "write", f.q.write, name, data, perm)
}

func (f *FS) upsert(ctx context.Context, op, query, name string, data []byte, perm fs.FileMode) error {
	if data == nil {
		data = []byte{}
	}
	res, err := f.db.ExecContext(ctx, query, storage.Clean(name), data, int(perm.Perm()))
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &fs.PathError{Op: op, Path: name, Err: errIsDir}
	}
	return nil
}

func (f *FS) Chown(ctx context.Context, name string, uid, gid int) error {
	res, err := f.db.ExecContext(ctx, f.q.chown, storage.Clean(name), uid, gid)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &fs.PathError{Op: "chown", Path: name, Err: fs.ErrNotExist}
	}
	return nil
}
