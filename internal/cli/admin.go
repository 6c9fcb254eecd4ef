package cli

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/credstore/internal/users"
)

// UserAdd creates an account. Optional arguments: uid=, gid=, groups=,
// home=, shell=.
func (a *App) UserAdd(ctx context.Context, args []string) error {
	if err := a.requireSuperuser(); err != nil {
		return err
	}

	name, err := a.prompt("Username")
	if err != nil {
		return err
	}
	password, err := GetNewPassword(a.out)
	if err != nil {
		return err
	}

	nu := users.NewUser{Username: name, Password: password}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		switch key {
		case "uid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("uid: %w", err)
			}
			nu.UID = &n
		case "gid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("gid: %w", err)
			}
			nu.GID = &n
		case "groups":
			if nu.Groups, err = parseInts(value); err != nil {
				return err
			}
		case "home":
			nu.Home = value
		case "shell":
			nu.Shell = value
		default:
			return fmt.Errorf("unknown field %q", key)
		}
	}

	if err := a.store.Add(ctx, nu, users.AddOptions{}); err != nil {
		return err
	}
	if u := a.store.GetByName(strings.TrimSpace(name)); u != nil {
		fmt.Fprintf(a.out, "Created %s (uid=%d)\n", u.Username, u.UID)
	} else {
		fmt.Fprintln(a.out, "Created")
	}
	return nil
}

// UserMod updates fields of an account: usermod <uid> name= gid= groups=
// home= shell=.
func (a *App) UserMod(ctx context.Context, args []string) error {
	if err := a.requireSuperuser(); err != nil {
		return err
	}
	if len(args) < 2 {
		return errors.New("usage: usermod <uid> key=value...")
	}
	uid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("uid: %w", err)
	}

	var p users.Patch
	for _, arg := range args[1:] {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		switch key {
		case "name":
			p.Username = &value
		case "gid":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("gid: %w", err)
			}
			p.GID = &n
		case "groups":
			g, err := parseInts(value)
			if err != nil {
				return err
			}
			p.Groups = &g
		case "home":
			p.Home = &value
		case "shell":
			p.Shell = &value
		default:
			return fmt.Errorf("unknown field %q", key)
		}
	}

	if err := a.store.Update(ctx, uid, p); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Updated uid %d\n", uid)
	return nil
}

// UserDel removes an account. The home directory is kept.
func (a *App) UserDel(ctx context.Context, args []string) error {
	if err := a.requireSuperuser(); err != nil {
		return err
	}
	if len(args) != 1 {
		return errors.New("usage: userdel <uid>")
	}
	uid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("uid: %w", err)
	}
	if a.creds != nil && a.creds.UID == uid {
		return errors.New("refusing to remove the logged-in user")
	}

	home := ""
	if u := a.store.Get(uid); u != nil {
		home = u.Home
	}
	if err := a.store.Remove(ctx, uid); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Removed uid %d\n", uid)
	if home != "" {
		fmt.Fprintf(a.out, "Home directory %s was kept\n", home)
	}
	return nil
}

// Users lists all accounts.
func (a *App) Users(ctx context.Context, args []string) error {
	if err := a.requireSuperuser(); err != nil {
		return err
	}
	for _, u := range a.store.List() {
		fmt.Fprintf(a.out, "%5d %-16s gid=%d groups=%s home=%s shell=%s\n",
			u.UID, u.Username, u.GID, formatInts(u.Groups), u.Home, u.Shell)
	}
	return nil
}

func parseInts(s string) ([]int, error) {
	out := []int{}
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func formatInts(v []int) string {
	parts := make([]string, len(v))
	for i, n := range v {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ",")
}
