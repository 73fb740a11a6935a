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

	gitlab "gitlab.com/gitlab-org/api/client-go"
)

///////////////////////////////
// GitLab mock implementations
///////////////////////////////

func glResponse(next int) *gitlab.Response {
	return &gitlab.Response{
		Response: &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(""))},
		NextPage: next,
	}
}

type mockGitLabProjects struct {
	project   *gitlab.Project
	languages *gitlab.ProjectLanguages
	pages     map[int][]*gitlab.Project
	nextPage  map[int]int
}

func (m *mockGitLabProjects) ListProjects(opts *gitlab.ListProjectsOptions, _ ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error) {
	page := int(opts.Page)
	return m.pages[page], glResponse(m.nextPage[page]), nil
}

func (m *mockGitLabProjects) GetProject(_ string, _ *gitlab.GetProjectOptions, _ ...gitlab.RequestOptionFunc) (*gitlab.Project, *gitlab.Response, error) {
	return m.project, glResponse(0), nil
}

func (m *mockGitLabProjects) GetProjectLanguages(_ string, _ ...gitlab.RequestOptionFunc) (*gitlab.ProjectLanguages, *gitlab.Response, error) {
	return m.languages, glResponse(0), nil
}

type mockGitLabRepos struct {
	pages    map[int][]*gitlab.TreeNode
	nextPage map[int]int
	lastRef  *string
	lastPath *string
}

func (m *mockGitLabRepos) ListTree(_ string, opts *gitlab.ListTreeOptions, _ ...gitlab.RequestOptionFunc) ([]*gitlab.TreeNode, *gitlab.Response, error) {
	m.lastRef = opts.Ref
	m.lastPath = opts.Path
	page := int(opts.Page)
	return m.pages[page], glResponse(m.nextPage[page]), nil
}

type mockGitLabFiles struct {
	files   map[string]*gitlab.File
	lastRef string
}

func (m *mockGitLabFiles) GetFile(_ string, filePath string, opts *gitlab.GetFileOptions, _ ...gitlab.RequestOptionFunc) (*gitlab.File, *gitlab.Response, error) {
	if opts != nil && opts.Ref != nil {
		m.lastRef = *opts.Ref
	}
	f, ok := m.files[filePath]
	if !ok {
		return nil, nil, &Error{Kind: KindNotFound}
	}
	return f, glResponse(0), nil
}

type mockGitLabBranches struct {
	pages    map[int][]*gitlab.Branch
	nextPage map[int]int
}

func (m *mockGitLabBranches) ListBranches(_ string, opts *gitlab.ListBranchesOptions, _ ...gitlab.RequestOptionFunc) ([]*gitlab.Branch, *gitlab.Response, error) {
	page := int(opts.Page)
	return m.pages[page], glResponse(m.nextPage[page]), nil
}

///////////////////////////////
// GitLab Adapter Tests
///////////////////////////////

func TestGitLabListDirectory_PaginationAndKinds(t *testing.T) {
	repos := &mockGitLabRepos{
		pages: map[int][]*gitlab.TreeNode{
			0: {
				{Name: "cmd", Path: "cmd", Type: "tree"},
				{Name: "go.mod", Path: "go.mod", Type: "blob"},
			},
			2: {
				{Name: "lib", Path: "lib", Type: "commit"},
			},
		},
		nextPage: map[int]int{0: 2},
	}
	adapter := newGitLabAdapterWithAPI(GitLabAPI{Repositories: repos})

	nodes, err := adapter.ListDirectory(context.Background(), "group", "project", "", "")
	if err != nil {
		t.Fatalf("ListDirectory returned error: %v", err)
	}
	if len(nodes) != 3 {
		t.Fatalf("Expected 3 nodes across pages, got %d", len(nodes))
	}
	if nodes[0].Kind != NodeDirectory {
		t.Errorf("Expected tree to map to directory, got %s", nodes[0].Kind)
	}
	if nodes[1].Kind != NodeFile {
		t.Errorf("Expected blob to map to file, got %s", nodes[1].Kind)
	}
	if nodes[2].Kind != NodeFile {
		t.Errorf("Expected submodule to be reported as file, got %s", nodes[2].Kind)
	}
	if repos.lastRef != nil || repos.lastPath != nil {
		t.Errorf("Expected root listing on default branch to omit ref and path")
	}
}

func TestGitLabListDirectory_EmptyDirectory(t *testing.T) {
	adapter := newGitLabAdapterWithAPI(GitLabAPI{Repositories: &mockGitLabRepos{}})

	nodes, err := adapter.ListDirectory(context.Background(), "group", "project", "docs", "main")
	if err != nil {
		t.Fatalf("ListDirectory returned error: %v", err)
	}
	if nodes == nil || len(nodes) != 0 {
		t.Errorf("Expected an empty, non-nil listing, got %#v", nodes)
	}
}

func TestGitLabGetFileContent_ResolvesDefaultBranch(t *testing.T) {
	original := "Hello, World!\nThis is a test file.\n"
	files := &mockGitLabFiles{
		files: map[string]*gitlab.File{
			"docs/readme.md": {
				FilePath: "docs/readme.md",
				Encoding: "base64",
				Content:  base64.StdEncoding.EncodeToString([]byte(original)),
			},
		},
	}
	adapter := newGitLabAdapterWithAPI(GitLabAPI{
		Projects:        &mockGitLabProjects{project: &gitlab.Project{ID: 9, Path: "project", DefaultBranch: "trunk"}},
		RepositoryFiles: files,
	})

	data, err := adapter.GetFileContent(context.Background(), "group", "project", "docs/readme.md", "")
	if err != nil {
		t.Fatalf("GetFileContent returned error: %v", err)
	}
	if string(data) != original {
		t.Errorf("Decoded content doesn't match.\nExpected: %q\nGot: %q", original, string(data))
	}
	if files.lastRef != "trunk" {
		t.Errorf("Expected ref trunk, got %q", files.lastRef)
	}
}

func TestGitLabGetFileContent_BadBase64IsNetwork(t *testing.T) {
	adapter := newGitLabAdapterWithAPI(GitLabAPI{
		RepositoryFiles: &mockGitLabFiles{
			files: map[string]*gitlab.File{"f": {Encoding: "base64", Content: "%%%not-base64"}},
		},
	})

	_, err := adapter.GetFileContent(context.Background(), "group", "project", "f", "main")
	if KindOf(err) != KindNetwork {
		t.Fatalf("Expected KindNetwork, got %v", err)
	}
}

func TestGitLabGetMetadata(t *testing.T) {
	langs := gitlab.ProjectLanguages{"Go": 80.5, "Shell": 19.5}
	adapter := newGitLabAdapterWithAPI(GitLabAPI{
		Projects: &mockGitLabProjects{
			project: &gitlab.Project{
				ID:            42,
				Path:          "project",
				Description:   "desc",
				DefaultBranch: "main",
				WebURL:        "https://gitlab.com/group/project",
				HTTPURLToRepo: "https://gitlab.com/group/project.git",
				Namespace:     &gitlab.ProjectNamespace{FullPath: "group"},
			},
			languages: &langs,
		},
	})

	meta, err := adapter.GetMetadata(context.Background(), "group", "project")
	if err != nil {
		t.Fatalf("GetMetadata returned error: %v", err)
	}
	if meta.ExternalID != "42" || meta.Owner != "group" || meta.CloneURL != "https://gitlab.com/group/project.git" {
		t.Errorf("Unexpected metadata: %+v", meta)
	}
	if strings.Join(meta.Languages, ",") != "Go,Shell" {
		t.Errorf("Expected languages ordered by share, got %v", meta.Languages)
	}
}

func TestGitLabListBranchesAndRepositories(t *testing.T) {
	adapter := newGitLabAdapterWithAPI(GitLabAPI{
		Branches: &mockGitLabBranches{
			pages:    map[int][]*gitlab.Branch{0: {{Name: "main"}}, 2: {{Name: "release"}}},
			nextPage: map[int]int{0: 2},
		},
		Projects: &mockGitLabProjects{
			pages: map[int][]*gitlab.Project{
				0: {{ID: 1, Path: "a", Visibility: gitlab.PrivateVisibility, Namespace: &gitlab.ProjectNamespace{FullPath: "me"}}},
				2: {{ID: 2, Path: "b", Visibility: gitlab.PublicVisibility, Namespace: &gitlab.ProjectNamespace{FullPath: "group/sub"}}},
			},
			nextPage: map[int]int{0: 2},
		},
	})

	branches, err := adapter.ListBranches(context.Background(), "group", "project")
	if err != nil {
		t.Fatalf("ListBranches returned error: %v", err)
	}
	if strings.Join(branches, ",") != "main,release" {
		t.Errorf("Expected main,release, got %v", branches)
	}

	repos, err := adapter.ListRepositories(context.Background())
	if err != nil {
		t.Fatalf("ListRepositories returned error: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("Expected 2 projects, got %d", len(repos))
	}
	if !repos[0].Private || repos[1].Private {
		t.Errorf("Visibility not mapped: %+v", repos)
	}
	if repos[1].Owner != "group/sub" {
		t.Errorf("Expected nested namespace owner, got %s", repos[1].Owner)
	}
}

func TestNewGitLabAdapter_RequiresToken(t *testing.T) {
	_, err := NewGitLabAdapter(Config{BaseURL: "https://gitlab.example.com"})
	if !errors.Is(err, ErrUnconfigured) {
		t.Fatalf("Expected ErrUnconfigured, got %v", err)
	}
}

func TestGitLabAdapter_HTTPBehavior(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   Kind
	}{
		{name: "unauthorized", status: http.StatusUnauthorized, want: KindAuth},
		{name: "not found", status: http.StatusNotFound, want: KindNotFound},
		{name: "rate limited", status: http.StatusTooManyRequests, want: KindRateLimited},
		{name: "unavailable", status: http.StatusServiceUnavailable, want: KindNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotToken string
			calls := 0
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				gotToken = r.Header.Get("PRIVATE-TOKEN")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"message":"nope"}`)
			}))
			defer srv.Close()

			adapter, err := NewGitLabAdapter(Config{
				Credential: Credential{Token: "glpat-secret"},
				HTTPClient: srv.Client(),
				BaseURL:    srv.URL,
			})
			if err != nil {
				t.Fatalf("NewGitLabAdapter: %v", err)
			}

			_, err = adapter.GetMetadata(context.Background(), "group", "project")
			if got := KindOf(err); got != tt.want {
				t.Errorf("Expected %v, got %v (%v)", tt.want, got, err)
			}
			if gotToken != "glpat-secret" {
				t.Errorf("Expected PRIVATE-TOKEN header, got %q", gotToken)
			}
			if calls != 1 {
				t.Errorf("Expected SDK retries to be disabled, got %d calls", calls)
			}
		})
	}
}
