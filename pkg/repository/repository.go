// Package repository provides abstractions and client implementations for
// reading from source code hosting providers (GitHub, GitLab, Bitbucket). It
// defines the canonical data structures for directory trees and repository
// metadata plus the Adapter interface implemented by each provider client.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// Provider identifies a source hosting service.
type Provider string

const (
	// ProviderGitHub represents GitHub as the repository provider
	ProviderGitHub Provider = "github"
	// ProviderGitLab represents GitLab as the repository provider
	ProviderGitLab Provider = "gitlab"
	// ProviderBitbucket represents Bitbucket Cloud as the repository provider
	ProviderBitbucket Provider = "bitbucket"
)

// SupportedProviders returns all provider tags in display order.
func SupportedProviders() []Provider {
	return []Provider{ProviderGitHub, ProviderGitLab, ProviderBitbucket}
}

// ParseProvider normalizes a provider name. Matching is case-insensitive.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", &Error{
			Kind:    KindInvalid,
			Op:      "parse provider",
			Message: fmt.Sprintf("unsupported provider %q (supported: github, gitlab, bitbucket)", s),
		}
	}
	return p, nil
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab, ProviderBitbucket:
		return true
	}
	return false
}

func (p Provider) String() string { return string(p) }

// NodeKind is the canonical tree entry kind.
type NodeKind string

const (
	NodeDirectory NodeKind = "directory"
	NodeFile      NodeKind = "file"
)

// FileNode is one entry of a directory listing.
type FileNode struct {
	Path string   `json:"path"`
	Name string   `json:"name"`
	Kind NodeKind `json:"kind"`
	// Size is only meaningful for files; providers that omit it report 0.
	Size int64 `json:"size,omitempty"`
}

// IsDir reports whether the node is a directory.
func (n FileNode) IsDir() bool { return n.Kind == NodeDirectory }

// RepoSummary is a repository visible to a credential, as returned by
// ListRepositories.
type RepoSummary struct {
	ExternalID    string `json:"externalId"`
	Owner         string `json:"owner"`
	Name          string `json:"name"`
	FullName      string `json:"fullName"`
	Description   string `json:"description,omitempty"`
	HTMLURL       string `json:"htmlUrl,omitempty"`
	DefaultBranch string `json:"defaultBranch,omitempty"`
	Private       bool   `json:"private"`
}

// RepoMetadata contains the descriptive attributes synced into the registry.
type RepoMetadata struct {
	ExternalID    string
	Owner         string
	Name          string
	Description   string
	DefaultBranch string
	// Languages is ordered by usage, most used first. Best effort.
	Languages []string
	AvatarURL string
	HTMLURL   string
	CloneURL  string
}

// Adapter translates the canonical read operations into provider calls.
// Implementations normalize provider responses into FileNode/RepoMetadata and
// provider failures into *Error.
type Adapter interface {
	// Provider returns the provider tag served by this adapter.
	Provider() Provider

	// ListRepositories lists repositories visible to the configured credential.
	ListRepositories(ctx context.Context) ([]RepoSummary, error)

	// GetMetadata retrieves descriptive metadata about a repository.
	GetMetadata(ctx context.Context, owner, name string) (*RepoMetadata, error)

	// ListBranches returns the branch names of a repository.
	ListBranches(ctx context.Context, owner, name string) ([]string, error)

	// ListDirectory returns the entries of a single directory level.
	//   - path: directory within the repository; empty string is the root
	//   - branch: git reference; empty string uses the default branch
	ListDirectory(ctx context.Context, owner, name, path, branch string) ([]FileNode, error)

	// GetFileContent returns the raw bytes of a file.
	GetFileContent(ctx context.Context, owner, name, path, branch string) ([]byte, error)
}

// Credential carries the authentication material handed to an adapter.
// GitHub and GitLab use Token; Bitbucket uses Username and AppSecret.
type Credential struct {
	Token     string
	Username  string
	AppSecret string
}

// Empty reports whether the credential carries nothing usable for provider p.
func (c Credential) Empty(p Provider) bool {
	if p == ProviderBitbucket {
		return strings.TrimSpace(c.Username) == "" || strings.TrimSpace(c.AppSecret) == ""
	}
	return strings.TrimSpace(c.Token) == ""
}

// String redacts the secret material.
func (c Credential) String() string {
	return fmt.Sprintf("Credential{token=%s username=%s appSecret=%s}",
		RedactToken(c.Token), c.Username, RedactToken(c.AppSecret))
}

// LogValue keeps secrets out of structured logs.
func (c Credential) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("token", RedactToken(c.Token)),
		slog.String("username", c.Username),
		slog.String("appSecret", RedactToken(c.AppSecret)),
	)
}

// RedactToken safely redacts a token for logging purposes.
func RedactToken(tok string) string {
	if tok == "" {
		return ""
	}
	if len(tok) <= 4 {
		return "***"
	}
	return tok[:4] + "***"
}

// Config holds common configuration for repository clients
type Config struct {
	// Credential authenticates every request.
	Credential Credential

	// HTTPClient performs the requests. Nil uses NewHTTPClient(DefaultTimeout).
	// Adapters wrap its transport with their own authentication.
	HTTPClient *http.Client

	// BaseURL is the base URL for the API endpoint
	// For GitHub Enterprise or GitLab self-hosted instances
	// Leave empty for the public SaaS endpoints
	BaseURL string
}

// cleanPath strips leading/trailing slashes so "" always means the root.
func cleanPath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

// baseName extracts the last element of a slash separated path
// e.g., "path/to/file.txt" -> "file.txt"
func baseName(p string) string {
	if i := strings.LastIndex(p, "/"); i >= 0 {
		return p[i+1:]
	}
	return p
}
