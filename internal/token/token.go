// Package token supplies bearer tokens and extracts the subject claim
// used to tag outgoing messages and the connection URL.
//
// The subject is read from the token without signature verification: it
// is a display/correlation hint only. The server accepting the
// connection owns the authoritative identity check.
package token

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken   = errors.New("no token available")
	ErrNoSubject = errors.New("token has no sub claim")
)

// Provider supplies a bearer/identity token on demand.
type Provider interface {
	IDToken(ctx context.Context) (string, error)
}

// StaticProvider returns a fixed token. Useful for tools and tests.
type StaticProvider string

func (p StaticProvider) IDToken(ctx context.Context) (string, error) {
	if p == "" {
		return "", ErrNoToken
	}
	return string(p), nil
}

// ProviderFunc adapts a function to the Provider interface.
type ProviderFunc func(ctx context.Context) (string, error)

func (f ProviderFunc) IDToken(ctx context.Context) (string, error) {
	return f(ctx)
}

// Subject decodes the unverified payload segment of a JWT and returns
// its sub claim.
func Subject(tokenString string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(tokenString, claims); err != nil {
		return "", fmt.Errorf("decode token: %w", err)
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrNoSubject
	}
	return sub, nil
}
