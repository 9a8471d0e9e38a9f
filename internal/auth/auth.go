package auth

import (
	"context"
	"errors"
)

// ErrNotAuthenticated is returned when no valid token exists for a
// user/service pair.
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenProvider resolves OAuth tokens for downstream services.
type TokenProvider interface {
	// Token returns a valid token for the user and service, or
	// ErrNotAuthenticated.
	Token(ctx context.Context, userID, service string) (string, error)
}

// StaticTokens is an in-memory TokenProvider keyed by "userID/service".
// Used in tests and single-user deployments.
type StaticTokens map[string]string

// Token implements TokenProvider.
func (s StaticTokens) Token(_ context.Context, userID, service string) (string, error) {
	if tok, ok := s[userID+"/"+service]; ok {
		return tok, nil
	}
	return "", ErrNotAuthenticated
}
