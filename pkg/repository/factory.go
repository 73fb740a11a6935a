package repository

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Constructor builds an adapter for one provider.
type Constructor func(Config) (Adapter, error)

// FactoryOptions configures every adapter created by a Factory.
type FactoryOptions struct {
	// HTTPClient is shared by all adapters. Nil builds one with Timeout.
	HTTPClient *http.Client
	// Timeout is used when HTTPClient is nil. Zero means DefaultTimeout.
	Timeout time.Duration
	// BaseURLs overrides the public endpoint per provider.
	BaseURLs map[Provider]string
	// Retry wraps every adapter. The zero value disables retries.
	Retry RetryPolicy
}

// Factory creates adapters through a lookup table keyed by provider.
type Factory struct {
	opts FactoryOptions

	mu           sync.RWMutex
	constructors map[Provider]Constructor
}

// NewFactory creates a factory with the GitHub, GitLab and Bitbucket
// constructors registered.
func NewFactory(opts FactoryOptions) *Factory {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(opts.Timeout)
	}
	f := &Factory{opts: opts, constructors: map[Provider]Constructor{}}
	f.Register(ProviderGitHub, func(c Config) (Adapter, error) {
		a, err := NewGitHubAdapter(c)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	f.Register(ProviderGitLab, func(c Config) (Adapter, error) {
		a, err := NewGitLabAdapter(c)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	f.Register(ProviderBitbucket, func(c Config) (Adapter, error) {
		a, err := NewBitbucketAdapter(c)
		if err != nil {
			return nil, err
		}
		return a, nil
	})
	return f
}

// Register replaces the constructor used for provider p.
func (f *Factory) Register(p Provider, fn Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[p] = fn
}

// CreateAdapter builds the adapter for provider authenticated with cred.
// An empty credential fails with KindUnconfigured before anything is built.
func (f *Factory) CreateAdapter(provider Provider, cred Credential) (Adapter, error) {
	f.mu.RLock()
	fn, ok := f.constructors[provider]
	f.mu.RUnlock()
	if !ok {
		return nil, &Error{
			Kind:    KindInvalid,
			Op:      "create adapter",
			Message: fmt.Sprintf("unsupported provider: %s (supported: %s)", provider, supportedList()),
		}
	}
	if cred.Empty(provider) {
		return nil, unconfigured(provider, "create adapter")
	}

	a, err := fn(Config{
		Credential: cred,
		HTTPClient: f.opts.HTTPClient,
		BaseURL:    f.opts.BaseURLs[provider],
	})
	if err != nil {
		return nil, err
	}
	return WithRetry(a, f.opts.Retry), nil
}

func supportedList() string {
	names := make([]string, 0, 3)
	for _, p := range SupportedProviders() {
		names = append(names, string(p))
	}
	return strings.Join(names, ", ")
}
