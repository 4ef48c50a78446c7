// Package auth turns a bearer credential into a user id. Tokens are minted by
// the storefront's auth service; this package only verifies them.
package auth

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid bearer token")

// Claims accepts both the storefront's "id" claim and the registered subject.
type Claims struct {
	UserID string `json:"id,omitempty"`
	jwt.RegisteredClaims
}

func (c Claims) userID() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

type Verifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
			jwt.WithExpirationRequired(),
		),
	}
}

// UserID validates the token and returns the user it was issued for.
func (v *Verifier) UserID(token string) (string, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	id := claims.userID()
	if id == "" {
		return "", fmt.Errorf("%w: no user id claim", ErrInvalidToken)
	}
	return id, nil
}
