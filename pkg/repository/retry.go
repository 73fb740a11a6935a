package repository

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy bounds the exponential backoff applied by WithRetry.
type RetryPolicy struct {
	// MaxAttempts counts the first call. Values below 1 disable retries.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Logger          *slog.Logger
}

// DefaultRetryPolicy allows three attempts starting at half a second.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		exp.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		exp.MaxInterval = p.MaxInterval
	}
	exp.MaxElapsedTime = 0
	exp.Reset()

	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// retryingAdapter retries Network and RateLimited failures of the wrapped
// adapter. Every adapter operation is a GET, so repeating one is safe.
type retryingAdapter struct {
	next   Adapter
	policy RetryPolicy
	logger *slog.Logger
}

// WithRetry decorates a with bounded exponential backoff. Only errors whose
// kind is Network or RateLimited are retried; everything else returns at once.
func WithRetry(a Adapter, policy RetryPolicy) Adapter {
	if policy.MaxAttempts <= 1 {
		return a
	}
	logger := policy.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &retryingAdapter{next: a, policy: policy, logger: logger}
}

// Unwrap returns the decorated adapter.
func (r *retryingAdapter) Unwrap() Adapter { return r.next }

func (r *retryingAdapter) Provider() Provider { return r.next.Provider() }

func (r *retryingAdapter) ListRepositories(ctx context.Context) ([]RepoSummary, error) {
	return retry(ctx, r, "list repositories", func() ([]RepoSummary, error) {
		return r.next.ListRepositories(ctx)
	})
}

func (r *retryingAdapter) GetMetadata(ctx context.Context, owner, name string) (*RepoMetadata, error) {
	return retry(ctx, r, "get metadata", func() (*RepoMetadata, error) {
		return r.next.GetMetadata(ctx, owner, name)
	})
}

func (r *retryingAdapter) ListBranches(ctx context.Context, owner, name string) ([]string, error) {
	return retry(ctx, r, "list branches", func() ([]string, error) {
		return r.next.ListBranches(ctx, owner, name)
	})
}

func (r *retryingAdapter) ListDirectory(ctx context.Context, owner, name, path, branch string) ([]FileNode, error) {
	return retry(ctx, r, "list directory", func() ([]FileNode, error) {
		return r.next.ListDirectory(ctx, owner, name, path, branch)
	})
}

func (r *retryingAdapter) GetFileContent(ctx context.Context, owner, name, path, branch string) ([]byte, error) {
	return retry(ctx, r, "get file content", func() ([]byte, error) {
		return r.next.GetFileContent(ctx, owner, name, path, branch)
	})
}

func retry[T any](ctx context.Context, r *retryingAdapter, op string, call func() (T, error)) (T, error) {
	var result T
	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		v, err := call()
		if err != nil {
			if !Retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = v
		return nil
	}, r.policy.backOff(ctx), func(err error, wait time.Duration) {
		r.logger.Warn("retrying provider call",
			"provider", r.next.Provider(),
			"op", op,
			"attempt", attempt,
			"wait", wait,
			"error", err)
	})
	if err != nil {
		// A context cancelled during a wait surfaces as a bare context error.
		return result, classifyTransport(r.next.Provider(), op, err)
	}
	return result, nil
}
