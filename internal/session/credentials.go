// Package session carries the identity of the caller: the process-style
// credentials the credential store consults for authorization, and signed
// tokens that let a logged-in identity cross a process or RPC boundary.
package session

import (
	"context"
	"os"
)

// Credentials are the ids a session acts with.
type Credentials struct {
	UID    int   `json:"uid"`
	GID    int   `json:"gid"`
	EUID   int   `json:"euid"`
	EGID   int   `json:"egid"`
	Groups []int `json:"groups,omitempty"`
}

// IsSuperuser reports whether the effective uid is root.
func (c Credentials) IsSuperuser() bool {
	return c.EUID == 0
}

// InGroup reports whether gid is the primary or a supplementary group.
func (c Credentials) InGroup(gid int) bool {
	if c.GID == gid || c.EGID == gid {
		return true
	}
	for _, g := range c.Groups {
		if g == gid {
			return true
		}
	}
	return false
}

// ForUser returns the credentials of a freshly logged-in user. Without
// supplementary groups the primary group is listed, as id(1) does.
func ForUser(uid, gid int, groups ...int) Credentials {
	if len(groups) == 0 {
		groups = []int{gid}
	}
	return Credentials{UID: uid, GID: gid, EUID: uid, EGID: gid, Groups: append([]int{}, groups...)}
}

// Process returns the credentials of the running process.
func Process() Credentials {
	groups, err := os.Getgroups()
	if err != nil {
		groups = nil
	}
	return Credentials{
		UID:    os.Getuid(),
		GID:    os.Getgid(),
		EUID:   os.Geteuid(),
		EGID:   os.Getegid(),
		Groups: groups,
	}
}

type ctxKey struct{}

// WithCredentials returns a context carrying c.
func WithCredentials(ctx context.Context, c Credentials) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the credentials stored by WithCredentials.
func FromContext(ctx context.Context) (Credentials, bool) {
	c, ok := ctx.Value(ctxKey{}).(Credentials)
	return c, ok
}
