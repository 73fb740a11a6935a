package repository

import (
	"context"
	"errors"
	"testing"
	"time"
)

// flakyAdapter fails the first failures calls with err, then succeeds.
type flakyAdapter struct {
	failures int
	err      error
	calls    int
}

func (f *flakyAdapter) Provider() Provider { return ProviderGitHub }

func (f *flakyAdapter) attempt() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyAdapter) ListRepositories(context.Context) ([]RepoSummary, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []RepoSummary{{Name: "repo"}}, nil
}

func (f *flakyAdapter) GetMetadata(context.Context, string, string) (*RepoMetadata, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return &RepoMetadata{Name: "repo"}, nil
}

func (f *flakyAdapter) ListBranches(context.Context, string, string) ([]string, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []string{"main"}, nil
}

func (f *flakyAdapter) ListDirectory(context.Context, string, string, string, string) ([]FileNode, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []FileNode{{Name: "a", Kind: NodeFile}}, nil
}

func (f *flakyAdapter) GetFileContent(context.Context, string, string, string, string) ([]byte, error) {
	if err := f.attempt(); err != nil {
		return nil, err
	}
	return []byte("ok"), nil
}

func fastPolicy(attempts int) RetryPolicy {
	return RetryPolicy{MaxAttempts: attempts, InitialInterval: time.Millisecond, MaxInterval: 2 * time.Millisecond}
}

func TestWithRetry_RetriesTransientKinds(t *testing.T) {
	for _, kind := range []Kind{KindNetwork, KindRateLimited} {
		t.Run(kind.String(), func(t *testing.T) {
			fake := &flakyAdapter{failures: 2, err: &Error{Kind: kind, Provider: ProviderGitHub, Op: "list branches"}}
			adapter := WithRetry(fake, fastPolicy(3))

			branches, err := adapter.ListBranches(context.Background(), "o", "r")
			if err != nil {
				t.Fatalf("Expected success after retries, got %v", err)
			}
			if len(branches) != 1 {
				t.Errorf("Expected the eventual result, got %v", branches)
			}
			if fake.calls != 3 {
				t.Errorf("Expected 3 calls, got %d", fake.calls)
			}
		})
	}
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	fake := &flakyAdapter{failures: 10, err: &Error{Kind: KindNetwork, Op: "get file content"}}
	adapter := WithRetry(fake, fastPolicy(3))

	_, err := adapter.GetFileContent(context.Background(), "o", "r", "f", "")
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("Expected ErrNetwork, got %v", err)
	}
	if fake.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", fake.calls)
	}
}

func TestWithRetry_PermanentKindsReturnImmediately(t *testing.T) {
	for _, kind := range []Kind{KindAuth, KindNotFound, KindInvalid, KindUnconfigured} {
		t.Run(kind.String(), func(t *testing.T) {
			fake := &flakyAdapter{failures: 10, err: &Error{Kind: kind}}
			adapter := WithRetry(fake, fastPolicy(5))

			_, err := adapter.GetMetadata(context.Background(), "o", "r")
			if KindOf(err) != kind {
				t.Fatalf("Expected %v, got %v", kind, err)
			}
			if fake.calls != 1 {
				t.Errorf("Expected a single call, got %d", fake.calls)
			}
		})
	}
}

func TestWithRetry_HonorsCancelledContext(t *testing.T) {
	fake := &flakyAdapter{failures: 10, err: &Error{Kind: KindNetwork}}
	adapter := WithRetry(fake, RetryPolicy{MaxAttempts: 5, InitialInterval: time.Hour, MaxInterval: time.Hour})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	_, err := adapter.ListDirectory(ctx, "o", "r", "", "")
	if KindOf(err) != KindNetwork {
		t.Fatalf("Expected KindNetwork, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Errorf("Retry waited despite a cancelled context")
	}
}

func TestWithRetry_DisabledReturnsSameAdapter(t *testing.T) {
	fake := &flakyAdapter{}
	if got := WithRetry(fake, RetryPolicy{}); got != Adapter(fake) {
		t.Errorf("Expected the undecorated adapter, got %T", got)
	}
}
