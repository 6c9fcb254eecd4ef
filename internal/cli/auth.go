package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/credstore/internal/passkey"
	"github.com/dmitrijs2005/credstore/internal/users"
)

var errNotLoggedIn = errors.New("not logged in")

// Login authenticates with a password, or with a passkey when --passkey is
// given. The username may be passed as an argument.
func (a *App) Login(ctx context.Context, args []string) error {
	usePasskey := false
	userName := ""
	for _, arg := range args {
		if arg == "--passkey" || arg == "-p" {
			usePasskey = true
			continue
		}
		userName = arg
	}

	if userName == "" {
		var err error
		if userName, err = a.prompt("Username"); err != nil {
			return err
		}
	}

	var (
		password  string
		assertion *users.PasskeyAssertion
		err       error
	)
	if usePasskey {
		assertion, err = a.passkeyAssertion(ctx, userName)
	} else {
		password, err = GetPassword(a.out, "Password")
	}
	if err != nil {
		return err
	}

	creds, err := a.store.Login(ctx, userName, password, assertion)
	if err != nil {
		return err
	}

	a.userName = userName
	a.creds = &creds
	a.token = ""
	if a.issuer != nil {
		tok, err := a.issuer.Issue(userName, creds)
		if err != nil {
			a.logger.Warn(ctx, "cannot issue session token", "error", err)
		} else {
			a.token = tok
		}
	}

	fmt.Fprintf(a.out, "Logged in as %s (uid=%d)\n", userName, creds.UID)
	return nil
}

// passkeyAssertion asks the platform for an assertion over a fresh challenge
// limited to the user's registered passkeys.
func (a *App) passkeyAssertion(ctx context.Context, userName string) (*users.PasskeyAssertion, error) {
	if a.broker == nil {
		return nil, passkey.ErrUnsupported
	}

	var allowed []passkey.Descriptor
	if u := a.store.GetByName(userName); u != nil {
		allowed = a.store.GetPasskeys(ctx, u.UID)
	}
	opts, err := passkey.RequestOptions(a.passkey, allowed)
	if err != nil {
		return nil, err
	}
	resp, err := a.broker.Get(ctx, opts)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, errors.New("no passkey available for this user")
	}
	return &users.PasskeyAssertion{Response: *resp, Challenge: opts.Challenge}, nil
}

func (a *App) Logout(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	fmt.Fprintf(a.out, "Bye, %s\n", a.userName)
	a.userName = ""
	a.creds = nil
	a.token = ""
	return nil
}

// Whoami prints the session credentials and, with --token, the signed
// session token.
func (a *App) Whoami(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	c := a.creds
	fmt.Fprintf(a.out, "%s uid=%d gid=%d euid=%d egid=%d groups=%s\n",
		a.userName, c.UID, c.GID, c.EUID, c.EGID, formatInts(c.Groups))
	if len(args) > 0 && args[0] == "--token" {
		if a.token == "" {
			return errors.New("no session token issued")
		}
		fmt.Fprintln(a.out, a.token)
	}
	return nil
}

// Passwd changes the logged-in user's password.
func (a *App) Passwd(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	old, err := GetPassword(a.out, "Current password")
	if err != nil {
		return err
	}
	next, err := GetNewPassword(a.out)
	if err != nil {
		return err
	}
	if err := a.store.Password(a.sessionContext(ctx), old, next); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Password changed")
	return nil
}
