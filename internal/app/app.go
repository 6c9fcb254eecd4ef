// Package app wires configuration, logging, the selected storage backend,
// key custody and the credential store together and runs the shell.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/credstore/internal/cli"
	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/config"
	"github.com/dmitrijs2005/credstore/internal/cryptox"
	"github.com/dmitrijs2005/credstore/internal/logging"
	"github.com/dmitrijs2005/credstore/internal/passkey"
	"github.com/dmitrijs2005/credstore/internal/rpc"
	"github.com/dmitrijs2005/credstore/internal/session"
	"github.com/dmitrijs2005/credstore/internal/storage"
	"github.com/dmitrijs2005/credstore/internal/storage/s3fs"
	"github.com/dmitrijs2005/credstore/internal/storage/sqlfs"
	"github.com/dmitrijs2005/credstore/internal/users"
)

type App struct {
	config *config.Config
	logger logging.Logger
	fs     storage.FS
	closer io.Closer
	store  *users.Store
	shell  *cli.App
	rpc    *rpc.Server
}

// newS3FS and openSQLFS are seams so tests can stay off the network.
var (
	newS3FS = func(ctx context.Context, opts s3fs.Options) (storage.FS, error) {
		return s3fs.New(ctx, opts)
	}
	openSQLFS = func(ctx context.Context, d sqlfs.Dialect, dsn string) (storage.FS, io.Closer, error) {
		f, err := sqlfs.Open(ctx, d, dsn)
		if err != nil {
			return nil, nil, err
		}
		return f, f, nil
	}
)

// NewApp builds the application from c, reading commands from in and
// writing to out.
func NewApp(ctx context.Context, c *config.Config, in io.Reader, out io.Writer, logOut io.Writer) (*App, error) {
	logger := logging.New(logOut, c.LogLevel, c.LogFormat)

	fsys, closer, err := newFS(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	scheme, err := cryptox.SchemeByName(c.KeyScheme)
	if err != nil {
		return nil, err
	}

	store := users.New(fsys, cryptox.NewCustody(scheme), logger.With("component", "users"), users.Config{
		PasswdPath:   c.PasswdPath,
		ShadowPath:   c.ShadowPath,
		HomeBase:     c.HomeBase,
		DefaultShell: c.DefaultShell,
		SyncShadow:   c.SyncShadow,
	})

	secret := c.SessionSecret
	if secret == "" {
		// tokens from an ephemeral secret do not survive a restart
		if secret, err = common.MakeRandHexString(32); err != nil {
			return nil, err
		}
		logger.Info(ctx, "no session secret configured, using an ephemeral one")
	}

	issuer := session.NewIssuer([]byte(secret), c.SessionTTL)

	shell := cli.NewApp(cli.Deps{
		Store:   store,
		Broker:  passkey.NewBroker(passkey.NewSoftAuthenticator(c.Passkey)),
		Passkey: c.Passkey,
		Issuer:  issuer,
		Logger:  logger.With("component", "cli"),
	}, in, out)

	app := &App{config: c, logger: logger, fs: fsys, closer: closer, store: store, shell: shell}
	if c.GRPCAddress != "" {
		app.rpc = rpc.NewServer(c.GRPCAddress, store, issuer, logger)
	}
	return app, nil
}

func newFS(ctx context.Context, c *config.Config) (storage.FS, io.Closer, error) {
	switch c.Storage {
	case config.StorageOS:
		if err := os.MkdirAll(c.Root, 0o755); err != nil {
			return nil, nil, err
		}
		return storage.NewOSFS(c.Root), nil, nil
	case config.StorageMemory:
		return storage.NewMemFS(), nil, nil
	case config.StorageS3:
		f, err := newS3FS(ctx, s3fs.Options{
			Endpoint:  c.S3BaseEndpoint,
			Region:    c.S3Region,
			AccessKey: c.S3AccessKey,
			SecretKey: c.S3SecretKey,
			Bucket:    c.S3Bucket,
			Prefix:    c.S3Prefix,
		})
		return f, nil, err
	case config.StoragePostgres:
		return openSQLFS(ctx, sqlfs.Postgres, c.DatabaseDSN)
	case config.StorageSQLite:
		return openSQLFS(ctx, sqlfs.SQLite, c.SQLitePath)
	default:
		return nil, nil, fmt.Errorf("unknown storage backend %q", c.Storage)
	}
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run loads the registry and runs the shell, and the gRPC service when one
// is configured, until input ends, the user exits or a termination signal
// arrives.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting credstore...", "storage", app.config.Storage)
	app.initSignalHandler(cancelFunc)

	defer func() {
		if app.closer != nil {
			if err := app.closer.Close(); err != nil {
				app.logger.Error(ctx, "close storage", "error", err)
			}
		}
	}()

	if err := app.store.Load(ctx); err != nil {
		return fmt.Errorf("load users: %w", err)
	}

	var wg sync.WaitGroup
	if app.rpc != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := app.rpc.Run(ctx); err != nil {
				app.logger.Error(ctx, "gRPC server failed", "error", err)
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		app.shell.Run(ctx)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		app.logger.Info(ctx, "shutting down")
	}
	cancelFunc()
	wg.Wait()
	return nil
}
