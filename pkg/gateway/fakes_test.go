package gateway

import (
	"context"
	"sync"

	"github.com/greg-hellings/repogateway/pkg/credentials"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

// fakeAdapter serves canned data and counts calls per operation.
type fakeAdapter struct {
	mu       sync.Mutex
	provider repository.Provider
	calls    map[string]int

	nodes    []repository.FileNode
	content  []byte
	branches []string
	meta     *repository.RepoMetadata
	repos    []repository.RepoSummary
	err      error

	lastRef string
}

func newFakeAdapter(p repository.Provider) *fakeAdapter {
	return &fakeAdapter{provider: p, calls: map[string]int{}}
}

func (f *fakeAdapter) record(op, ref string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[op]++
	f.lastRef = ref
}

func (f *fakeAdapter) count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

func (f *fakeAdapter) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeAdapter) Provider() repository.Provider { return f.provider }

func (f *fakeAdapter) ListRepositories(context.Context) ([]repository.RepoSummary, error) {
	f.record("list_repositories", "")
	return f.repos, f.err
}

func (f *fakeAdapter) GetMetadata(context.Context, string, string) (*repository.RepoMetadata, error) {
	f.record("get_metadata", "")
	if f.err != nil {
		return nil, f.err
	}
	return f.meta, nil
}

func (f *fakeAdapter) ListBranches(context.Context, string, string) ([]string, error) {
	f.record("list_branches", "")
	return f.branches, f.err
}

func (f *fakeAdapter) ListDirectory(_ context.Context, _, _, _, ref string) ([]repository.FileNode, error) {
	f.record("list_directory", ref)
	if f.err != nil {
		return nil, f.err
	}
	return append([]repository.FileNode(nil), f.nodes...), nil
}

func (f *fakeAdapter) GetFileContent(_ context.Context, _, _, _, ref string) ([]byte, error) {
	f.record("get_file_content", ref)
	if f.err != nil {
		return nil, f.err
	}
	return f.content, nil
}

// fakeFactory hands out one fakeAdapter per provider.
type fakeFactory struct {
	mu       sync.Mutex
	adapters map[repository.Provider]*fakeAdapter
	created  int
}

func (f *fakeFactory) CreateAdapter(p repository.Provider, cred repository.Credential) (repository.Adapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	a, ok := f.adapters[p]
	if !ok {
		return nil, &repository.Error{Kind: repository.KindInvalid, Provider: p, Op: "create adapter"}
	}
	return a, nil
}

// fakeCreds resolves from a map and counts lookups.
type fakeCreds struct {
	mu      sync.Mutex
	creds   map[repository.Provider]repository.Credential
	lookups int
}

func (f *fakeCreds) Get(_ context.Context, p repository.Provider) (*credentials.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lookups++
	c, ok := f.creds[p]
	if !ok {
		return nil, credentials.ErrCredentialNotFound
	}
	return &credentials.Credential{Provider: p, Credential: c}, nil
}
