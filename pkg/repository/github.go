package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const githubPageSize = 100

// GitHubAdapter implements Adapter for GitHub and GitHub Enterprise.
type GitHubAdapter struct {
	api    GitHubAPI
	config Config
}

// NewGitHubAdapter creates a GitHub adapter authenticated with config.Credential.Token.
// Requests carry "Authorization: token <token>". A custom BaseURL selects a
// GitHub Enterprise instance.
func NewGitHubAdapter(config Config) (*GitHubAdapter, error) {
	if config.Credential.Empty(ProviderGitHub) {
		return nil, unconfigured(ProviderGitHub, "new adapter")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: config.Credential.Token,
		TokenType:   "token",
	})
	httpClient := wrapTransport(config.HTTPClient, func(rt http.RoundTripper) http.RoundTripper {
		return &oauth2.Transport{Source: ts, Base: rt}
	})

	client := github.NewClient(httpClient)
	if config.BaseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(config.BaseURL, config.BaseURL)
		if err != nil {
			return nil, newError(KindInvalid, ProviderGitHub, "new adapter", "invalid GitHub Enterprise URL", err)
		}
	}

	return &GitHubAdapter{api: wrapGitHubClient(client), config: config}, nil
}

// newGitHubAdapterWithAPI is used by tests to inject fake services.
func newGitHubAdapterWithAPI(api GitHubAPI) *GitHubAdapter {
	return &GitHubAdapter{api: api}
}

// Provider returns ProviderGitHub.
func (g *GitHubAdapter) Provider() Provider { return ProviderGitHub }

// ListRepositories lists every repository the authenticated user can access.
func (g *GitHubAdapter) ListRepositories(ctx context.Context) ([]RepoSummary, error) {
	const op = "list repositories"
	opts := &github.RepositoryListOptions{ListOptions: github.ListOptions{PerPage: githubPageSize}}

	var out []RepoSummary
	for {
		repos, resp, err := g.api.Repositories.List(ctx, "", opts)
		if err != nil {
			return nil, classifyGitHub(op, resp, err)
		}
		for _, r := range repos {
			out = append(out, RepoSummary{
				ExternalID:    strconv.FormatInt(r.GetID(), 10),
				Owner:         r.GetOwner().GetLogin(),
				Name:          r.GetName(),
				FullName:      r.GetFullName(),
				Description:   r.GetDescription(),
				HTMLURL:       r.GetHTMLURL(),
				DefaultBranch: r.GetDefaultBranch(),
				Private:       r.GetPrivate(),
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetMetadata retrieves repository metadata plus its languages.
func (g *GitHubAdapter) GetMetadata(ctx context.Context, owner, name string) (*RepoMetadata, error) {
	const op = "get metadata"
	repo, resp, err := g.api.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, classifyGitHub(op, resp, err)
	}

	meta := &RepoMetadata{
		ExternalID:    strconv.FormatInt(repo.GetID(), 10),
		Owner:         repo.GetOwner().GetLogin(),
		Name:          repo.GetName(),
		Description:   repo.GetDescription(),
		DefaultBranch: repo.GetDefaultBranch(),
		AvatarURL:     repo.GetOwner().GetAvatarURL(),
		HTMLURL:       repo.GetHTMLURL(),
		CloneURL:      repo.GetCloneURL(),
	}

	// Languages are best effort; metadata is still useful without them.
	langs, _, err := g.api.Repositories.ListLanguages(ctx, owner, name)
	if err == nil {
		meta.Languages = rankLanguages(langs)
	}
	return meta, nil
}

// ListBranches returns every branch name, following pagination.
func (g *GitHubAdapter) ListBranches(ctx context.Context, owner, name string) ([]string, error) {
	const op = "list branches"
	opts := &github.BranchListOptions{ListOptions: github.ListOptions{PerPage: githubPageSize}}

	var names []string
	for {
		branches, resp, err := g.api.Repositories.ListBranches(ctx, owner, name, opts)
		if err != nil {
			return nil, classifyGitHub(op, resp, err)
		}
		for _, b := range branches {
			names = append(names, b.GetName())
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// ListDirectory returns one level of the tree at path.
func (g *GitHubAdapter) ListDirectory(ctx context.Context, owner, name, path, branch string) ([]FileNode, error) {
	const op = "list directory"
	opts := &github.RepositoryContentGetOptions{Ref: branch}

	file, dir, resp, err := g.api.Repositories.GetContents(ctx, owner, name, cleanPath(path), opts)
	if err != nil {
		return nil, classifyGitHub(op, resp, err)
	}
	if file != nil && dir == nil {
		return nil, newError(KindInvalid, ProviderGitHub, op, fmt.Sprintf("path is not a directory: %s", path), nil)
	}

	nodes := make([]FileNode, 0, len(dir))
	for _, c := range dir {
		node := FileNode{
			Path: c.GetPath(),
			Name: c.GetName(),
			Kind: NodeFile,
		}
		if c.GetType() == "dir" {
			node.Kind = NodeDirectory
		} else {
			node.Size = int64(c.GetSize())
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// GetFileContent returns the raw bytes of a file. Files too large to be
// inlined by the contents API are fetched through the download endpoint.
func (g *GitHubAdapter) GetFileContent(ctx context.Context, owner, name, path, branch string) ([]byte, error) {
	const op = "get file content"
	p := cleanPath(path)
	opts := &github.RepositoryContentGetOptions{Ref: branch}

	file, _, resp, err := g.api.Repositories.GetContents(ctx, owner, name, p, opts)
	if err != nil {
		return nil, classifyGitHub(op, resp, err)
	}
	if file == nil {
		return nil, newError(KindInvalid, ProviderGitHub, op, fmt.Sprintf("path is not a file: %s", path), nil)
	}

	if file.Content == nil || file.GetEncoding() == "none" {
		return g.download(ctx, owner, name, p, opts)
	}

	content, err := file.GetContent()
	if err != nil {
		return nil, newError(KindNetwork, ProviderGitHub, op, "malformed provider response", err)
	}
	return []byte(content), nil
}

func (g *GitHubAdapter) download(ctx context.Context, owner, name, path string, opts *github.RepositoryContentGetOptions) ([]byte, error) {
	const op = "download file"
	rc, resp, err := g.api.Repositories.DownloadContents(ctx, owner, name, path, opts)
	if err != nil {
		return nil, classifyGitHub(op, resp, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, classifyTransport(ProviderGitHub, op, err)
	}
	return data, nil
}

// classifyGitHub maps go-github failures onto the error taxonomy.
func classifyGitHub(op string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return newError(KindRateLimited, ProviderGitHub, op, "rate limit exceeded", err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return newError(KindRateLimited, ProviderGitHub, op, "secondary rate limit exceeded", err)
	}
	var respErr *github.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		r := respErr.Response
		if r.StatusCode == http.StatusForbidden && r.Header.Get("X-RateLimit-Remaining") == "0" {
			return newError(KindRateLimited, ProviderGitHub, op, "rate limit exceeded", err)
		}
		return fromStatus(ProviderGitHub, op, r.StatusCode, err)
	}
	if resp != nil && resp.Response != nil {
		if _, failed := statusKind(resp.StatusCode); failed {
			return fromStatus(ProviderGitHub, op, resp.StatusCode, err)
		}
	}
	return classifyTransport(ProviderGitHub, op, err)
}

// rankLanguages orders a language→bytes map by usage, most used first.
func rankLanguages(langs map[string]int) []string {
	out := make([]string, 0, len(langs))
	for l := range langs {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if langs[out[i]] != langs[out[j]] {
			return langs[out[i]] > langs[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}
