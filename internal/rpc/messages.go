package rpc

import (
	"github.com/dmitrijs2005/credstore/internal/passkey"
	"github.com/dmitrijs2005/credstore/internal/session"
)

type Empty struct{}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	Token       string              `json:"token"`
	Credentials session.Credentials `json:"credentials"`
}

type WhoamiResponse struct {
	Credentials session.Credentials `json:"credentials"`
}

type PasswdRequest struct {
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

// Account is the public part of a user record.
type Account struct {
	Username string `json:"username"`
	UID      int    `json:"uid"`
	GID      int    `json:"gid"`
	Groups   []int  `json:"groups,omitempty"`
	Home     string `json:"home"`
	Shell    string `json:"shell"`
}

type ListUsersResponse struct {
	Users []Account `json:"users"`
}

type ListPasskeysResponse struct {
	Passkeys []passkey.Descriptor `json:"passkeys"`
}
