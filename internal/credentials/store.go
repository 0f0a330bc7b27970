// Package credentials looks up per-owner secrets for tool handlers.
// The engine never reads secrets; only specific handlers do.
package credentials

import (
	"context"
	"errors"
	"strings"
)

// ErrNotFound is returned when an owner has no stored secret.
var ErrNotFound = errors.New("credentials not found")

// Secret is a stored Sleeper login.
type Secret struct {
	Email    string `yaml:"email" json:"email"`
	Password string `yaml:"password" json:"-"`
	UseSSO   bool   `yaml:"use_sso" json:"use_sso"`
}

// Valid reports whether the secret can be used to log in.
func (s *Secret) Valid() bool {
	if s == nil {
		return false
	}
	if s.UseSSO {
		return strings.TrimSpace(s.Email) != ""
	}
	return strings.TrimSpace(s.Email) != "" && s.Password != ""
}

// String never prints the password.
func (s Secret) String() string {
	return "Secret{email=" + s.Email + ", password=[REDACTED]}"
}

// Store returns the secret for an owner or ErrNotFound.
type Store interface {
	GetSecret(ctx context.Context, ownerID string) (*Secret, error)
}

// Chain tries stores in order and returns the first secret found.
type Chain []Store

func (c Chain) GetSecret(ctx context.Context, ownerID string) (*Secret, error) {
	for _, store := range c {
		secret, err := store.GetSecret(ctx, ownerID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return secret, err
	}
	return nil, ErrNotFound
}
