package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/go-github/v57/github"
)

///////////////////////////////
// GitHub mock implementations
///////////////////////////////

type mockGitHubRepos struct {
	repo         *github.Repository
	languages    map[string]int
	dirContents  map[string][]*github.RepositoryContent
	fileContents map[string]*github.RepositoryContent
	downloads    map[string]string
	branchPages  map[int][]*github.Branch
	branchNext   map[int]int
	repoPages    map[int][]*github.Repository
	repoNext     map[int]int
	err          error
}

func okResponse(next int) *github.Response {
	return &github.Response{
		Response: &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))},
		NextPage: next,
	}
}

func (m *mockGitHubRepos) List(_ context.Context, _ string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error) {
	return m.repoPages[opts.Page], okResponse(m.repoNext[opts.Page]), nil
}

func (m *mockGitHubRepos) Get(_ context.Context, _, _ string) (*github.Repository, *github.Response, error) {
	if m.err != nil {
		return nil, nil, m.err
	}
	return m.repo, okResponse(0), nil
}

func (m *mockGitHubRepos) GetContents(_ context.Context, _, _, path string, _ *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error) {
	if fc, ok := m.fileContents[path]; ok {
		return fc, nil, okResponse(0), nil
	}
	if dc, ok := m.dirContents[path]; ok {
		return nil, dc, okResponse(0), nil
	}
	// Default: empty directory
	return nil, []*github.RepositoryContent{}, okResponse(0), nil
}

func (m *mockGitHubRepos) DownloadContents(_ context.Context, _, _, path string, _ *github.RepositoryContentGetOptions) (io.ReadCloser, *github.Response, error) {
	data, ok := m.downloads[path]
	if !ok {
		return nil, nil, fmt.Errorf("no download for %s", path)
	}
	return io.NopCloser(strings.NewReader(data)), okResponse(0), nil
}

func (m *mockGitHubRepos) ListBranches(_ context.Context, _, _ string, opts *github.BranchListOptions) ([]*github.Branch, *github.Response, error) {
	return m.branchPages[opts.Page], okResponse(m.branchNext[opts.Page]), nil
}

func (m *mockGitHubRepos) ListLanguages(_ context.Context, _, _ string) (map[string]int, *github.Response, error) {
	return m.languages, okResponse(0), nil
}

///////////////////////////////
// GitHub Adapter Tests
///////////////////////////////

func TestGitHubListDirectory_NormalizesKinds(t *testing.T) {
	mock := &mockGitHubRepos{
		dirContents: map[string][]*github.RepositoryContent{
			"src": {
				{Type: github.String("dir"), Name: github.String("pkg"), Path: github.String("src/pkg")},
				{Type: github.String("file"), Name: github.String("main.go"), Path: github.String("src/main.go"), Size: github.Int(42)},
				{Type: github.String("symlink"), Name: github.String("link"), Path: github.String("src/link"), Size: github.Int(7)},
				{Type: github.String("submodule"), Name: github.String("vendor"), Path: github.String("src/vendor")},
			},
		},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	nodes, err := adapter.ListDirectory(context.Background(), "owner", "repo", "/src/", "")
	if err != nil {
		t.Fatalf("ListDirectory returned error: %v", err)
	}
	if len(nodes) != 4 {
		t.Fatalf("Expected 4 nodes, got %d", len(nodes))
	}

	want := []FileNode{
		{Path: "src/pkg", Name: "pkg", Kind: NodeDirectory},
		{Path: "src/main.go", Name: "main.go", Kind: NodeFile, Size: 42},
		{Path: "src/link", Name: "link", Kind: NodeFile, Size: 7},
		{Path: "src/vendor", Name: "vendor", Kind: NodeFile},
	}
	for i, w := range want {
		if nodes[i] != w {
			t.Errorf("node %d: expected %+v, got %+v", i, w, nodes[i])
		}
	}
}

func TestGitHubListDirectory_FilePathIsInvalid(t *testing.T) {
	mock := &mockGitHubRepos{
		fileContents: map[string]*github.RepositoryContent{
			"README.md": {Type: github.String("file"), Name: github.String("README.md")},
		},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	_, err := adapter.ListDirectory(context.Background(), "owner", "repo", "README.md", "")
	if KindOf(err) != KindInvalid {
		t.Fatalf("Expected KindInvalid, got %v (%v)", KindOf(err), err)
	}
}

func TestGitHubGetFileContent_DecodesInlineContent(t *testing.T) {
	original := "package main\n\nfunc main() {}\n"
	mock := &mockGitHubRepos{
		fileContents: map[string]*github.RepositoryContent{
			"main.go": {
				Type:     github.String("file"),
				Encoding: github.String("base64"),
				Content:  github.String(base64.StdEncoding.EncodeToString([]byte(original))),
			},
		},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	data, err := adapter.GetFileContent(context.Background(), "owner", "repo", "main.go", "main")
	if err != nil {
		t.Fatalf("GetFileContent returned error: %v", err)
	}
	if string(data) != original {
		t.Errorf("Expected %q, got %q", original, string(data))
	}
}

func TestGitHubGetFileContent_LargeFileFallsBackToDownload(t *testing.T) {
	mock := &mockGitHubRepos{
		fileContents: map[string]*github.RepositoryContent{
			"big.bin": {Type: github.String("file"), Encoding: github.String("none")},
		},
		downloads: map[string]string{"big.bin": "large payload"},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	data, err := adapter.GetFileContent(context.Background(), "owner", "repo", "big.bin", "")
	if err != nil {
		t.Fatalf("GetFileContent returned error: %v", err)
	}
	if string(data) != "large payload" {
		t.Errorf("Expected download payload, got %q", string(data))
	}
}

func TestGitHubGetFileContent_DirectoryIsInvalid(t *testing.T) {
	mock := &mockGitHubRepos{
		dirContents: map[string][]*github.RepositoryContent{"src": {}},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	_, err := adapter.GetFileContent(context.Background(), "owner", "repo", "src", "")
	if !errors.Is(err, ErrInvalid) {
		t.Fatalf("Expected ErrInvalid, got %v", err)
	}
}

func TestGitHubListBranches_FollowsPagination(t *testing.T) {
	mock := &mockGitHubRepos{
		branchPages: map[int][]*github.Branch{
			0: {{Name: github.String("main")}, {Name: github.String("develop")}},
			2: {{Name: github.String("feature/x")}},
		},
		branchNext: map[int]int{0: 2},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	branches, err := adapter.ListBranches(context.Background(), "owner", "repo")
	if err != nil {
		t.Fatalf("ListBranches returned error: %v", err)
	}
	want := []string{"main", "develop", "feature/x"}
	if strings.Join(branches, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, branches)
	}
}

func TestGitHubGetMetadata_RanksLanguages(t *testing.T) {
	mock := &mockGitHubRepos{
		repo: &github.Repository{
			ID:            github.Int64(101),
			Name:          github.String("repo"),
			Description:   github.String("a repo"),
			DefaultBranch: github.String("trunk"),
			HTMLURL:       github.String("https://github.com/owner/repo"),
			CloneURL:      github.String("https://github.com/owner/repo.git"),
			Owner:         &github.User{Login: github.String("owner"), AvatarURL: github.String("https://avatars/owner")},
		},
		languages: map[string]int{"Shell": 10, "Go": 5000, "Makefile": 10},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	meta, err := adapter.GetMetadata(context.Background(), "owner", "repo")
	if err != nil {
		t.Fatalf("GetMetadata returned error: %v", err)
	}
	if meta.ExternalID != "101" {
		t.Errorf("Expected external id 101, got %s", meta.ExternalID)
	}
	if meta.DefaultBranch != "trunk" {
		t.Errorf("Expected default branch trunk, got %s", meta.DefaultBranch)
	}
	if meta.AvatarURL != "https://avatars/owner" {
		t.Errorf("Expected avatar from owner, got %s", meta.AvatarURL)
	}
	if got := strings.Join(meta.Languages, ","); got != "Go,Makefile,Shell" {
		t.Errorf("Expected languages ordered by usage, got %s", got)
	}
}

func TestGitHubListRepositories_FollowsPagination(t *testing.T) {
	mock := &mockGitHubRepos{
		repoPages: map[int][]*github.Repository{
			0: {{ID: github.Int64(1), Name: github.String("a"), Owner: &github.User{Login: github.String("me")}}},
			3: {{ID: github.Int64(2), Name: github.String("b"), Private: github.Bool(true), Owner: &github.User{Login: github.String("org")}}},
		},
		repoNext: map[int]int{0: 3},
	}
	adapter := newGitHubAdapterWithAPI(GitHubAPI{Repositories: mock})

	repos, err := adapter.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories returned error: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("Expected 2 repositories, got %d", len(repos))
	}
	if repos[1].Owner != "org" || !repos[1].Private || repos[1].ExternalID != "2" {
		t.Errorf("Unexpected second repository: %+v", repos[1])
	}
}

func TestNewGitHubAdapter_RequiresToken(t *testing.T) {
	_, err := NewGitHubAdapter(Config{})
	if !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("Expected ErrUnconfigured, got %v", err)
	}
}

// newTestGitHubAdapter points a real adapter at an httptest server.
func newTestGitHubAdapter(t *testing.T, handler http.HandlerFunc) *GitHubAdapter {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	adapter, err := NewGitHubAdapter(Config{
		Credential: Credential{Token: "secret-token"},
		HTTPClient: srv.Client(),
		BaseURL:    srv.URL + "/",
	})
	if err != nil {
		t.Fatalf("NewGitHubAdapter: %v", err)
	}
	return adapter
}

func TestGitHubAdapter_SendsTokenAuthorization(t *testing.T) {
	var gotAuth string
	adapter := newTestGitHubAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": 7, "name": "repo", "default_branch": "main", "owner": {"login": "owner"}}`)
	})

	meta, err := adapter.GetMetadata(context.Background(), "owner", "repo")
	if err != nil {
		t.Fatalf("GetMetadata returned error: %v", err)
	}
	if gotAuth != "token secret-token" {
		t.Errorf("Expected Authorization 'token secret-token', got %q", gotAuth)
	}
	if meta.ExternalID != "7" {
		t.Errorf("Expected external id 7, got %s", meta.ExternalID)
	}
}

func TestGitHubAdapter_ClassifiesErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		body    string
		want    Kind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"message":"Bad credentials"}`, want: KindAuth},
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"denied"}`, want: KindAuth},
		{name: "not found", status: http.StatusNotFound, body: `{"message":"Not Found"}`, want: KindNotFound},
		{
			name:    "rate limit exhausted",
			status:  http.StatusForbidden,
			headers: map[string]string{"X-RateLimit-Remaining": "0", "X-RateLimit-Limit": "60", "X-RateLimit-Reset": "9999999999"},
			body:    `{"message":"API rate limit exceeded"}`,
			want:    KindRateLimited,
		},
		{name: "too many requests", status: http.StatusTooManyRequests, body: `{"message":"slow down"}`, want: KindRateLimited},
		{name: "server error", status: http.StatusBadGateway, body: `{}`, want: KindNetwork},
		{name: "malformed json", status: http.StatusOK, body: `{"id": 7, "name": `, want: KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			adapter := newTestGitHubAdapter(t, func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			_, err := adapter.GetMetadata(context.Background(), "owner", "repo")
			if err == nil {
				t.Fatal("Expected an error")
			}
			if got := KindOf(err); got != tt.want {
				t.Errorf("Expected %v, got %v (%v)", tt.want, got, err)
			}
			if strings.Contains(err.Error(), "secret-token") {
				t.Errorf("Error message leaks the token: %v", err)
			}
		})
	}
}
