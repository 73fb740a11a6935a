package format

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/greg-hellings/repogateway/pkg/gateway"
	"github.com/greg-hellings/repogateway/pkg/registry"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

func plainFormatter() *ConsoleFormatter {
	f := NewConsoleFormatter()
	f.EnableColors = false // deterministic output for assertions
	return f
}

func sampleRepositories() []registry.Repository {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	return []registry.Repository{
		{ID: 1, Provider: repository.ProviderGitHub, Owner: "org1", Name: "repo1", DefaultBranch: "main", Languages: []string{"Go", "Shell"}, UpdatedAt: ts},
		{ID: 2, Provider: repository.ProviderGitLab, Owner: "group/sub", Name: "repo2", UpdatedAt: ts},
	}
}

func TestRenderRepositories(t *testing.T) {
	var buf bytes.Buffer
	if err := plainFormatter().RenderRepositories(sampleRepositories(), &buf); err != nil {
		t.Fatalf("RenderRepositories returned error: %v", err)
	}
	out := buf.String()

	expectContains(t, out, "org1/repo1", "repository org1/repo1 missing")
	expectContains(t, out, "group/sub/repo2", "nested namespace missing")
	expectContains(t, out, "Go, Shell", "languages missing")
	expectContains(t, out, "DEFAULT BRANCH", "header missing")
	expectContains(t, out, "2 repositories", "count missing")
	if strings.Contains(out, "\x1b[") {
		t.Errorf("unexpected ANSI color sequences found when colors disabled")
	}
}

func TestRenderRepositoryRequiresValue(t *testing.T) {
	var buf bytes.Buffer
	if err := plainFormatter().RenderRepository(nil, &buf); err == nil {
		t.Fatal("expected error rendering nil repository")
	}
	repo := sampleRepositories()[0]
	repo.URL = "https://github.com/org1/repo1"
	if err := plainFormatter().RenderRepository(&repo, &buf); err != nil {
		t.Fatalf("RenderRepository returned error: %v", err)
	}
	expectContains(t, buf.String(), "https://github.com/org1/repo1", "url missing")
}

func TestRenderTreeMarksDirectories(t *testing.T) {
	nodes := []repository.FileNode{
		{Name: "src", Path: "src", Kind: repository.NodeDirectory},
		{Name: "go.mod", Path: "go.mod", Kind: repository.NodeFile, Size: 42},
	}
	var buf bytes.Buffer
	if err := plainFormatter().RenderTree(nodes, &buf); err != nil {
		t.Fatalf("RenderTree returned error: %v", err)
	}
	out := buf.String()
	expectContains(t, out, "src/", "directory suffix missing")
	expectContains(t, out, "42", "file size missing")
	if strings.Index(out, "src/") > strings.Index(out, "go.mod") {
		t.Errorf("expected input order to be preserved:\n%s", out)
	}
}

func TestRenderBranchesFallbackNote(t *testing.T) {
	var buf bytes.Buffer
	list := &gateway.BranchList{Names: gateway.FallbackBranches, Fallback: true, Cause: errors.New("github: list branches: network")}
	if err := plainFormatter().RenderBranches(list, &buf); err != nil {
		t.Fatalf("RenderBranches returned error: %v", err)
	}
	out := buf.String()
	if !strings.HasPrefix(out, "main\nmaster\ndevelop\n") {
		t.Errorf("unexpected branch lines:\n%s", out)
	}
	expectContains(t, out, "network", "fallback cause missing")

	buf.Reset()
	if err := plainFormatter().RenderBranches(&gateway.BranchList{Names: []string{"trunk"}}, &buf); err != nil {
		t.Fatalf("RenderBranches returned error: %v", err)
	}
	if buf.String() != "trunk\n" {
		t.Errorf("expected only the branch name, got %q", buf.String())
	}
}

func TestRenderDiscoveryWithErrors(t *testing.T) {
	results := []gateway.Discovery{
		{Provider: repository.ProviderGitHub, Repositories: []repository.RepoSummary{
			{Owner: "org1", Name: "repo1", FullName: "org1/repo1", Private: true},
			{Owner: "org1", Name: "repo3"},
		}},
		{Provider: repository.ProviderBitbucket, Err: errors.New("bitbucket: list repositories: auth")},
	}
	var buf bytes.Buffer
	if err := plainFormatter().RenderDiscovery(results, &buf); err != nil {
		t.Fatalf("RenderDiscovery returned error: %v", err)
	}
	out := buf.String()
	expectContains(t, out, "org1/repo3", "derived full name missing")
	expectContains(t, out, "private", "visibility missing")
	expectContains(t, out, "Providers queried: 2 (1 failed)", "summary mismatch")
	expectContains(t, out, "Repositories found: 2", "repository count mismatch")
	expectContains(t, out, "Errors:", "errors section header missing")
	expectContains(t, out, "bitbucket: list repositories: auth", "error message missing")
}

func TestRenderCredentialsColors(t *testing.T) {
	rows := []CredentialStatus{
		{Provider: repository.ProviderGitHub, Configured: true, Source: "store"},
		{Provider: repository.ProviderGitLab},
	}
	var buf bytes.Buffer
	f := NewConsoleFormatter()
	if err := f.RenderCredentials(rows, &buf); err != nil {
		t.Fatalf("RenderCredentials returned error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "\x1b[") {
		t.Errorf("expected ANSI color sequences but none found")
	}
	expectContains(t, stripANSI(out), "yes", "configured marker missing")
}

func TestColumnConfigTruncatesToWidth(t *testing.T) {
	f := plainFormatter()
	f.width = 60
	repos := sampleRepositories()
	repos[0].Languages = []string{strings.Repeat("x", 80)}

	var buf bytes.Buffer
	if err := f.RenderRepositories(repos, &buf); err != nil {
		t.Fatalf("RenderRepositories returned error: %v", err)
	}
	if strings.Contains(buf.String(), strings.Repeat("x", 80)) {
		t.Errorf("expected long cell to be truncated")
	}
	expectContains(t, buf.String(), "…", "ellipsis missing")
}

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("héllo wörld", 5); got != "héll…" {
		t.Errorf("unexpected truncation %q", got)
	}
	if got := truncateRunes("short", 10); got != "short" {
		t.Errorf("unexpected truncation %q", got)
	}
	if got := truncateRunes("x", 0); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func expectContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("%s: expected to contain %q\nFull output:\n%s", msg, substr, s)
	}
}

// stripANSI removes ANSI escape sequences for simplified checks.
func stripANSI(s string) string {
	var b strings.Builder
	inEsc := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == 0x1b {
			inEsc = true
			continue
		}
		if inEsc {
			if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') {
				inEsc = false
			}
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
