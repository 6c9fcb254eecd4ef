package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/dmitrijs2005/credstore/internal/logging"
	"github.com/dmitrijs2005/credstore/internal/passkey"
	"github.com/dmitrijs2005/credstore/internal/session"
	"github.com/dmitrijs2005/credstore/internal/users"
)

// App holds the shell's collaborators and the logged-in session, if any.
type App struct {
	store   *users.Store
	broker  *passkey.Broker
	passkey passkey.Config
	issuer  *session.Issuer
	logger  logging.Logger

	reader *bufio.Reader
	out    io.Writer

	userName string
	creds    *session.Credentials
	token    string
}

// Deps are the collaborators NewApp wires into the shell.
type Deps struct {
	Store   *users.Store
	Broker  *passkey.Broker
	Passkey passkey.Config
	Issuer  *session.Issuer
	Logger  logging.Logger
}

func NewApp(d Deps, in io.Reader, out io.Writer) *App {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &App{
		store:   d.Store,
		broker:  d.Broker,
		passkey: d.Passkey,
		issuer:  d.Issuer,
		logger:  logger,
		reader:  bufio.NewReader(in),
		out:     out,
	}
}

// Run starts the shell and returns when input ends or the user exits.
func (a *App) Run(ctx context.Context) {
	fmt.Fprintln(a.out, "Welcome to credstore (type 'help' for commands)")
	runREPL(ctx, a, a.getStatus, a.reader, a.out)
}

func (a *App) isLoggedIn() bool {
	return a.creds != nil
}

func (a *App) isSuperuser() bool {
	return a.creds != nil && a.creds.IsSuperuser()
}

func (a *App) getStatus() string {
	if a.userName == "" {
		return ""
	}
	return fmt.Sprintf("(%s)", a.userName)
}

// sessionContext carries the logged-in credentials, if any, into ctx.
func (a *App) sessionContext(ctx context.Context) context.Context {
	if a.creds == nil {
		return ctx
	}
	return session.WithCredentials(ctx, *a.creds)
}

// requireSuperuser guards administrative commands. An empty registry lets
// anyone in so the first account can be created.
func (a *App) requireSuperuser() error {
	if len(a.store.List()) == 0 || a.isSuperuser() {
		return nil
	}
	return common.New(common.KindAuthentication, "Permission denied")
}

func (a *App) prompt(text string) (string, error) {
	return GetSimpleText(a.reader, text, a.out)
}
