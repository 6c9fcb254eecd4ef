package session

import (
	"errors"
	"time"

	"github.com/dmitrijs2005/credstore/internal/common"
	"github.com/golang-jwt/jwt/v5"
)

// Claims are the registered claims plus the session credentials.
type Claims struct {
	jwt.RegisteredClaims
	Name        string      `json:"name"`
	Credentials Credentials `json:"creds"`
}

// Issuer signs and checks session tokens with an HMAC secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	return &Issuer{secret: secret, ttl: ttl, now: time.Now}
}

// Issue returns a token for the named user acting with c.
func (i *Issuer) Issue(name string, c Credentials) (string, error) {
	if len(i.secret) == 0 {
		return "", common.New(common.KindValidation, "session secret is not configured")
	}
	now := i.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(i.ttl)),
		},
		Name:        name,
		Credentials: c,
	})

	s, err := token.SignedString(i.secret)
	if err != nil {
		return "", common.Wrap(common.KindCrypto, err)
	}
	return s, nil
}

// Parse validates a token and returns its claims. Every failure is an
// authentication error; expiry is reported distinctly in the message.
func (i *Issuer) Parse(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(i.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.New(common.KindAuthentication, "session expired")
		}
		return nil, common.Wrapf(common.KindAuthentication, err, "invalid session token")
	}
	if !token.Valid {
		return nil, common.New(common.KindAuthentication, "invalid session token")
	}

	return claims, nil
}
