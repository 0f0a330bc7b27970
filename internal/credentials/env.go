package credentials

import (
	"context"
	"os"
	"strings"
)

// EnvStore reads secrets from environment variables named
// <PREFIX>_<OWNER>_EMAIL, <PREFIX>_<OWNER>_PASSWORD and <PREFIX>_<OWNER>_SSO,
// with the owner id upper-cased and non-alphanumerics replaced by '_'.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

func NewEnvStore(prefix string) *EnvStore {
	if prefix == "" {
		prefix = "GRIDIRON_SLEEPER"
	}
	return &EnvStore{Prefix: prefix, lookup: os.LookupEnv}
}

func (e *EnvStore) GetSecret(_ context.Context, ownerID string) (*Secret, error) {
	base := e.Prefix + "_" + envKey(ownerID)
	email, ok := e.lookup(base + "_EMAIL")
	if !ok || email == "" {
		return nil, ErrNotFound
	}
	password, _ := e.lookup(base + "_PASSWORD")
	sso, _ := e.lookup(base + "_SSO")
	return &Secret{
		Email:    email,
		Password: password,
		UseSSO:   sso == "1" || strings.EqualFold(sso, "true"),
	}, nil
}

func envKey(ownerID string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, ownerID)
}
