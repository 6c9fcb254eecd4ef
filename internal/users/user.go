// Package users is the credential store: the in-memory user registry, its
// passwd/shadow persistence, password and passkey login, and custody of each
// user's private signing key.
package users

import (
	"github.com/dmitrijs2005/credstore/internal/cryptox"
)

// Keypair is a user's signing key. PrivateKey is the custody blob, never
// plaintext key material.
type Keypair struct {
	PublicKey  cryptox.JWK
	PrivateKey string
}

// User is one registered account. Password holds the hex SHA-256 digest.
type User struct {
	Username string
	UID      int
	GID      int
	Groups   []int
	Home     string
	Shell    string
	Password string
	Keypair  *Keypair
}

func (u *User) clone() *User {
	c := *u
	c.Groups = append([]int(nil), u.Groups...)
	if u.Keypair != nil {
		kp := *u.Keypair
		c.Keypair = &kp
	}
	return &c
}

// NewUser is the input to Add. Nil UID and GID take defaults; an empty Home
// or Shell does too.
type NewUser struct {
	Username string
	Password string
	UID      *int
	GID      *int
	Groups   []int
	Home     string
	Shell    string
	Keypair  *Keypair
}

// AddOptions alter what Add does besides registering the user.
type AddOptions struct {
	// NoHash stores Password as given; used when it is already a digest.
	NoHash bool
	// NoHome skips creating the home directory.
	NoHome bool
	// NoWrite skips appending passwd and shadow records.
	NoWrite bool
}

// Patch lists the fields Update changes. Nil fields are left alone.
type Patch struct {
	Username *string
	GID      *int
	Groups   *[]int
	Home     *string
	Shell    *string
}

func (p Patch) apply(u *User) {
	if p.Username != nil {
		u.Username = *p.Username
	}
	if p.GID != nil {
		u.GID = *p.GID
	}
	if p.Groups != nil {
		u.Groups = append([]int(nil), (*p.Groups)...)
	}
	if p.Home != nil {
		u.Home = *p.Home
	}
	if p.Shell != nil {
		u.Shell = *p.Shell
	}
}
