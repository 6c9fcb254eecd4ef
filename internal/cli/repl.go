package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
)

// execIface defines the command surface the REPL dispatches to.
// The real App type satisfies this interface; tests can provide a lightweight stub.
type execIface interface {
	isLoggedIn() bool
	Login(ctx context.Context, args []string) error
	Logout(ctx context.Context, args []string) error
	Whoami(ctx context.Context, args []string) error
	Passwd(ctx context.Context, args []string) error
	UserAdd(ctx context.Context, args []string) error
	UserMod(ctx context.Context, args []string) error
	UserDel(ctx context.Context, args []string) error
	Users(ctx context.Context, args []string) error
	PasskeyAdd(ctx context.Context, args []string) error
	PasskeyList(ctx context.Context, args []string) error
	PasskeyRemove(ctx context.Context, args []string) error
}

// runREPL reads commands line by line and dispatches them to a. Errors from
// handlers are printed and the loop continues. It returns on EOF or on
// "exit" / "quit".
//
//	Not logged in:
//	  help, login [--passkey] [user], useradd (first account only), exit
//
//	Logged in:
//	  help, whoami, passwd, passkey-add [name], passkeys, passkey-rm <id>,
//	  logout, exit
//	  superuser only: useradd, usermod <uid> key=value..., userdel <uid>, users
func runREPL(ctx context.Context, a execIface, statusFn func() string, reader *bufio.Reader, w io.Writer) {
	for {
		fmt.Fprintf(w, "credstore%s> ", statusFn())
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			fmt.Fprintln(w)
			return
		}
		parts := strings.Fields(line)
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		var cmdErr error
		switch cmd {
		case "help":
			if a.isLoggedIn() {
				fmt.Fprintln(w, "Available commands: whoami, passwd, passkey-add, passkeys, passkey-rm, users, useradd, usermod, userdel, logout, exit")
			} else {
				fmt.Fprintln(w, "Available commands: login [--passkey], useradd, exit")
			}
		case "login":
			cmdErr = a.Login(ctx, args)
		case "logout":
			cmdErr = a.Logout(ctx, args)
		case "whoami":
			cmdErr = a.Whoami(ctx, args)
		case "passwd":
			cmdErr = a.Passwd(ctx, args)
		case "useradd":
			cmdErr = a.UserAdd(ctx, args)
		case "usermod":
			cmdErr = a.UserMod(ctx, args)
		case "userdel":
			cmdErr = a.UserDel(ctx, args)
		case "users":
			cmdErr = a.Users(ctx, args)
		case "passkey-add":
			cmdErr = a.PasskeyAdd(ctx, args)
		case "passkeys":
			cmdErr = a.PasskeyList(ctx, args)
		case "passkey-rm":
			cmdErr = a.PasskeyRemove(ctx, args)
		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return
		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}

		if cmdErr != nil {
			fmt.Fprintln(w, "error:", cmdErr)
		}
	}
}
