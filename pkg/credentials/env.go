package credentials

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

// EnvPrefix prefixes the environment variables EnvSource reads.
const EnvPrefix = "REPOGW_"

// EnvSource resolves credentials from the environment first and falls back to
// Next. Bitbucket needs both REPOGW_BITBUCKET_USERNAME and
// REPOGW_BITBUCKET_APP_SECRET; the token providers read REPOGW_<PROVIDER>_TOKEN.
type EnvSource struct {
	Next   Source
	Getenv func(string) string
}

// Compile-time check: *EnvSource implements Source.
var _ Source = (*EnvSource)(nil)

// NewEnvSource layers the process environment over next. next may be nil.
func NewEnvSource(next Source) *EnvSource {
	return &EnvSource{Next: next, Getenv: os.Getenv}
}

func (e *EnvSource) Get(ctx context.Context, provider repository.Provider) (*Credential, error) {
	if cred, ok := e.fromEnv(provider); ok {
		return cred, nil
	}
	if e.Next == nil {
		return nil, ErrCredentialNotFound
	}
	cred, err := e.Next.Get(ctx, provider)
	if err != nil {
		if errors.Is(err, ErrCredentialNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fallback get credential: %w", err)
	}
	return cred, nil
}

func (e *EnvSource) fromEnv(provider repository.Provider) (*Credential, bool) {
	getenv := e.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}
	name := EnvPrefix + strings.ToUpper(string(provider))

	var c repository.Credential
	switch provider {
	case repository.ProviderGitHub, repository.ProviderGitLab:
		c.Token = strings.TrimSpace(getenv(name + "_TOKEN"))
	case repository.ProviderBitbucket:
		c.Username = strings.TrimSpace(getenv(name + "_USERNAME"))
		c.AppSecret = strings.TrimSpace(getenv(name + "_APP_SECRET"))
	default:
		return nil, false
	}
	if c.Empty(provider) {
		return nil, false
	}
	return &Credential{Provider: provider, Credential: c}, true
}
