// Package cli implements the interactive credstore shell: logging in with a
// password or passkey, changing passwords, and the account administration
// commands reserved for the superuser.
package cli
