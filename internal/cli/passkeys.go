package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/credstore/internal/passkey"
)

// PasskeyAdd registers a new passkey for the logged-in user.
func (a *App) PasskeyAdd(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if a.broker == nil {
		return passkey.ErrUnsupported
	}

	name := "passkey"
	if len(args) > 0 {
		name = args[0]
	}

	uid := a.creds.UID
	existing := a.store.GetPasskeys(ctx, uid)
	opts, err := passkey.CreationOptions(a.passkey, passkey.UserInfo{
		ID:          []byte(strconv.Itoa(uid)),
		Name:        a.userName,
		DisplayName: a.userName,
	}, existing)
	if err != nil {
		return err
	}

	cred, err := a.broker.Create(ctx, opts)
	if err != nil {
		return err
	}
	if cred == nil {
		return errors.New("platform returned no credential")
	}

	d := passkey.NewDescriptor(*cred, name, time.Now())
	if err := a.store.AddPasskey(ctx, uid, d); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Passkey %s added (%s)\n", d.Name, d.ID)
	if !a.broker.Persistent() {
		fmt.Fprintln(a.out, "Note: this authenticator keeps keys in memory; the passkey stops working after a restart")
	}
	return nil
}

// PasskeyList prints the logged-in user's passkeys.
func (a *App) PasskeyList(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	list := a.store.GetPasskeys(ctx, a.creds.UID)
	if len(list) == 0 {
		fmt.Fprintln(a.out, "No passkeys")
		return nil
	}
	for _, d := range list {
		fmt.Fprintf(a.out, "%s %-12s created=%s last_used=%s\n",
			d.ID, d.Name, d.CreatedAt.Format(time.RFC3339), d.LastUsed.Format(time.RFC3339))
	}
	return nil
}

// PasskeyRemove deletes one of the logged-in user's passkeys by id.
func (a *App) PasskeyRemove(ctx context.Context, args []string) error {
	if !a.isLoggedIn() {
		return errNotLoggedIn
	}
	if len(args) != 1 {
		return errors.New("usage: passkey-rm <id>")
	}
	if err := a.store.RemovePasskey(ctx, a.creds.UID, args[0]); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "Passkey removed")
	return nil
}
