// Package credentials stores per-provider authentication material encrypted
// at rest in the option store.
//
// Security Guidance:
//   - Plaintext never reaches the option store or the logs
//   - Credential values implement slog.LogValuer and fmt.Stringer with redaction
//   - A blob that fails to decrypt reads as missing, never as a panic
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/greg-hellings/repogateway/pkg/options"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

// OptionPrefix prefixes the option name of every stored credential.
const OptionPrefix = "repogateway_credentials_"

// ErrCredentialNotFound is returned when no usable credential exists for a
// provider, including when the stored blob cannot be decrypted.
var ErrCredentialNotFound = errors.New("credential not found")

// Credential is the authentication material of one provider.
type Credential struct {
	Provider repository.Provider
	repository.Credential
}

// String redacts the secret material.
func (c Credential) String() string {
	return fmt.Sprintf("%s %s", c.Provider, c.Credential.String())
}

// LogValue keeps secrets out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", string(c.Provider)),
		slog.Any("credential", c.Credential),
	)
}

// Source resolves the credential for a provider.
type Source interface {
	// Get returns ErrCredentialNotFound when nothing usable is configured.
	Get(ctx context.Context, provider repository.Provider) (*Credential, error)
}

// OptionName returns the option a provider's blob is stored under.
func OptionName(p repository.Provider) string {
	return OptionPrefix + string(p)
}

// payload is the plaintext serialized inside a blob.
type payload struct {
	Token     string `json:"token,omitempty"`
	Username  string `json:"username,omitempty"`
	AppSecret string `json:"app_secret,omitempty"`
}

// Store is the encrypted credential store. It is safe for concurrent use.
type Store struct {
	opts   options.Store
	logger *slog.Logger

	mu     sync.RWMutex
	cipher *Cipher
}

// Compile-time check: *Store implements Source.
var _ Source = (*Store)(nil)

// NewStore creates a store whose blobs are sealed with a key derived from
// secret. A nil logger uses slog.Default().
func NewStore(opts options.Store, secret string, logger *slog.Logger) (*Store, error) {
	c, err := NewCipher(secret)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{opts: opts, cipher: c, logger: logger}, nil
}

// Get decrypts the stored credential of provider.
func (s *Store) Get(ctx context.Context, provider repository.Provider) (*Credential, error) {
	blob, err := s.opts.GetOption(ctx, OptionName(provider), "")
	if err != nil {
		return nil, fmt.Errorf("credentials: read %s: %w", provider, err)
	}
	if blob == "" {
		return nil, ErrCredentialNotFound
	}

	s.mu.RLock()
	c := s.cipher
	s.mu.RUnlock()

	cred, err := decode(c, provider, blob)
	if err != nil {
		s.logger.Warn("stored credential is unreadable; treating as missing",
			"provider", provider, "error", err)
		return nil, ErrCredentialNotFound
	}
	return cred, nil
}

// Set validates, encrypts and persists the credential of provider.
func (s *Store) Set(ctx context.Context, provider repository.Provider, cred repository.Credential) error {
	if err := Validate(provider, cred); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	blob, err := encode(s.cipher, provider, cred)
	if err != nil {
		return err
	}
	if err := s.opts.SetOption(ctx, OptionName(provider), blob); err != nil {
		return fmt.Errorf("credentials: write %s: %w", provider, err)
	}
	s.logger.Info("credential stored", "credential", Credential{Provider: provider, Credential: cred})
	return nil
}

// Delete removes the credential of provider (idempotent).
func (s *Store) Delete(ctx context.Context, provider repository.Provider) error {
	if err := s.opts.DeleteOption(ctx, OptionName(provider)); err != nil {
		return fmt.Errorf("credentials: delete %s: %w", provider, err)
	}
	return nil
}

// List returns the providers with a stored blob, in display order. It does not
// check that the blobs decrypt.
func (s *Store) List(ctx context.Context) ([]repository.Provider, error) {
	names, err := s.opts.ListOptions(ctx, OptionPrefix)
	if err != nil {
		return nil, fmt.Errorf("credentials: list: %w", err)
	}
	return providersFromNames(names), nil
}

// RotateError lists the providers whose blobs could not be decrypted with the
// current key. Rotation is aborted without changes when it is returned.
type RotateError struct {
	Providers []repository.Provider
}

func (e *RotateError) Error() string {
	names := make([]string, 0, len(e.Providers))
	for _, p := range e.Providers {
		names = append(names, string(p))
	}
	return fmt.Sprintf("credentials: cannot rotate key, unreadable blobs for: %s", strings.Join(names, ", "))
}

// RotateKey re-encrypts every stored credential under a key derived from
// newSecret and makes it the active key. It returns the number of blobs
// rewritten. If any blob is unreadable nothing is changed and a *RotateError
// names the affected providers; delete or re-set them first.
func (s *Store) RotateKey(ctx context.Context, newSecret string) (int, error) {
	next, err := NewCipher(newSecret)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	names, err := s.opts.ListOptions(ctx, OptionPrefix)
	if err != nil {
		return 0, fmt.Errorf("credentials: list: %w", err)
	}

	type entry struct {
		provider repository.Provider
		oldBlob  string
		newBlob  string
	}
	var entries []entry
	var unreadable []repository.Provider
	for _, p := range providersFromNames(names) {
		blob, err := s.opts.GetOption(ctx, OptionName(p), "")
		if err != nil {
			return 0, fmt.Errorf("credentials: read %s: %w", p, err)
		}
		if blob == "" {
			continue
		}
		cred, err := decode(s.cipher, p, blob)
		if err != nil {
			unreadable = append(unreadable, p)
			continue
		}
		newBlob, err := encode(next, p, cred.Credential)
		if err != nil {
			return 0, err
		}
		entries = append(entries, entry{provider: p, oldBlob: blob, newBlob: newBlob})
	}
	if len(unreadable) > 0 {
		return 0, &RotateError{Providers: unreadable}
	}

	for i, e := range entries {
		if err := s.opts.SetOption(ctx, OptionName(e.provider), e.newBlob); err != nil {
			// Put back whatever was already rewritten so the old key stays valid.
			for _, done := range entries[:i] {
				if rbErr := s.opts.SetOption(ctx, OptionName(done.provider), done.oldBlob); rbErr != nil {
					s.logger.Error("credential rollback failed", "provider", done.provider, "error", rbErr)
				}
			}
			return 0, fmt.Errorf("credentials: write %s: %w", e.provider, err)
		}
	}

	s.cipher = next
	s.logger.Info("credential key rotated", "count", len(entries))
	return len(entries), nil
}

// Validate checks that cred has the shape provider requires.
func Validate(provider repository.Provider, cred repository.Credential) error {
	invalid := func(msg string) error {
		return &repository.Error{Kind: repository.KindInvalid, Provider: provider, Op: "set credential", Message: msg}
	}
	switch provider {
	case repository.ProviderGitHub, repository.ProviderGitLab:
		if strings.TrimSpace(cred.Token) == "" {
			return invalid("token is required")
		}
		if cred.Username != "" || cred.AppSecret != "" {
			return invalid("only a token is accepted")
		}
	case repository.ProviderBitbucket:
		if strings.TrimSpace(cred.Username) == "" || strings.TrimSpace(cred.AppSecret) == "" {
			return invalid("username and app secret are required")
		}
		if cred.Token != "" {
			return invalid("tokens are not accepted; use an app password")
		}
	default:
		return invalid(fmt.Sprintf("unsupported provider %q", provider))
	}
	return nil
}

func encode(c *Cipher, provider repository.Provider, cred repository.Credential) (string, error) {
	plaintext, err := json.Marshal(payload{Token: cred.Token, Username: cred.Username, AppSecret: cred.AppSecret})
	if err != nil {
		return "", fmt.Errorf("credentials: marshal: %w", err)
	}
	return c.Seal(plaintext, []byte(provider))
}

func decode(c *Cipher, provider repository.Provider, blob string) (*Credential, error) {
	plaintext, err := c.Open(blob, []byte(provider))
	if err != nil {
		return nil, err
	}
	var p payload
	if err := json.Unmarshal(plaintext, &p); err != nil {
		return nil, errDecrypt
	}
	return &Credential{
		Provider:   provider,
		Credential: repository.Credential{Token: p.Token, Username: p.Username, AppSecret: p.AppSecret},
	}, nil
}

func providersFromNames(names []string) []repository.Provider {
	present := map[repository.Provider]bool{}
	for _, n := range names {
		p := repository.Provider(strings.TrimPrefix(n, OptionPrefix))
		if p.Valid() {
			present[p] = true
		}
	}
	out := make([]repository.Provider, 0, len(present))
	for _, p := range repository.SupportedProviders() {
		if present[p] {
			out = append(out, p)
		}
	}
	return out
}
