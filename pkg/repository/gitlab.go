package repository

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sort"
	"strconv"

	gitlab "gitlab.com/gitlab-org/api/client-go"
	"golang.org/x/time/rate"
)

const gitlabPageSize = 100

// GitLabAdapter implements Adapter for gitlab.com and self-hosted GitLab.
type GitLabAdapter struct {
	api    GitLabAPI
	config Config
}

// NewGitLabAdapter creates a GitLab adapter authenticated through the
// PRIVATE-TOKEN header. A custom BaseURL selects a self-hosted instance.
// The SDK's own retry loop is disabled; wrap the adapter with WithRetry instead.
func NewGitLabAdapter(config Config) (*GitLabAdapter, error) {
	if config.Credential.Empty(ProviderGitLab) {
		return nil, unconfigured(ProviderGitLab, "new adapter")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}

	opts := []gitlab.ClientOptionFunc{
		gitlab.WithHTTPClient(httpClient),
		gitlab.WithoutRetries(),
		// Skips the limiter probe request the client otherwise sends first.
		gitlab.WithCustomLimiter(rate.NewLimiter(rate.Inf, 0)),
	}
	if config.BaseURL != "" {
		opts = append(opts, gitlab.WithBaseURL(config.BaseURL))
	}

	client, err := gitlab.NewClient(config.Credential.Token, opts...)
	if err != nil {
		return nil, newError(KindInvalid, ProviderGitLab, "new adapter", "failed to create GitLab client", err)
	}

	return &GitLabAdapter{api: wrapGitLabClient(client), config: config}, nil
}

// newGitLabAdapterWithAPI is used by tests to inject fake services.
func newGitLabAdapterWithAPI(api GitLabAPI) *GitLabAdapter {
	return &GitLabAdapter{api: api}
}

// Provider returns ProviderGitLab.
func (g *GitLabAdapter) Provider() Provider { return ProviderGitLab }

// projectID builds the "namespace/project" identifier GitLab accepts in place
// of a numeric id.
func projectID(owner, name string) string {
	return fmt.Sprintf("%s/%s", owner, name)
}

// ListRepositories lists the projects the token's user is a member of.
func (g *GitLabAdapter) ListRepositories(ctx context.Context) ([]RepoSummary, error) {
	const op = "list repositories"
	opts := &gitlab.ListProjectsOptions{
		ListOptions: gitlab.ListOptions{PerPage: gitlabPageSize},
		Membership:  gitlab.Ptr(true),
	}

	var out []RepoSummary
	for {
		projects, resp, err := g.api.Projects.ListProjects(opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLab(op, resp, err)
		}
		for _, p := range projects {
			out = append(out, RepoSummary{
				ExternalID:    strconv.FormatInt(int64(p.ID), 10),
				Owner:         namespaceOf(p),
				Name:          p.Path,
				FullName:      p.PathWithNamespace,
				Description:   p.Description,
				HTMLURL:       p.WebURL,
				DefaultBranch: p.DefaultBranch,
				Private:       p.Visibility != gitlab.PublicVisibility,
			})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return out, nil
}

// GetMetadata retrieves project metadata plus its languages.
func (g *GitLabAdapter) GetMetadata(ctx context.Context, owner, name string) (*RepoMetadata, error) {
	const op = "get metadata"
	project, resp, err := g.api.Projects.GetProject(projectID(owner, name), nil, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classifyGitLab(op, resp, err)
	}

	meta := &RepoMetadata{
		ExternalID:    strconv.FormatInt(int64(project.ID), 10),
		Owner:         namespaceOf(project),
		Name:          project.Path,
		Description:   project.Description,
		DefaultBranch: project.DefaultBranch,
		AvatarURL:     project.AvatarURL,
		HTMLURL:       project.WebURL,
		CloneURL:      project.HTTPURLToRepo,
	}

	langs, _, err := g.api.Projects.GetProjectLanguages(projectID(owner, name), gitlab.WithContext(ctx))
	if err == nil && langs != nil {
		meta.Languages = rankLanguageShares(*langs)
	}
	return meta, nil
}

// ListBranches returns every branch name, following pagination.
func (g *GitLabAdapter) ListBranches(ctx context.Context, owner, name string) ([]string, error) {
	const op = "list branches"
	opts := &gitlab.ListBranchesOptions{ListOptions: gitlab.ListOptions{PerPage: gitlabPageSize}}

	var names []string
	for {
		branches, resp, err := g.api.Branches.ListBranches(projectID(owner, name), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLab(op, resp, err)
		}
		for _, b := range branches {
			names = append(names, b.Name)
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return names, nil
}

// ListDirectory returns one level of the tree at path. An empty path lists
// the root and an empty branch lets GitLab use the default branch.
func (g *GitLabAdapter) ListDirectory(ctx context.Context, owner, name, path, branch string) ([]FileNode, error) {
	const op = "list directory"
	opts := &gitlab.ListTreeOptions{
		ListOptions: gitlab.ListOptions{PerPage: gitlabPageSize},
	}
	if p := cleanPath(path); p != "" {
		opts.Path = gitlab.Ptr(p)
	}
	if branch != "" {
		opts.Ref = gitlab.Ptr(branch)
	}

	var nodes []FileNode
	for {
		trees, resp, err := g.api.Repositories.ListTree(projectID(owner, name), opts, gitlab.WithContext(ctx))
		if err != nil {
			return nil, classifyGitLab(op, resp, err)
		}
		for _, t := range trees {
			kind := NodeFile
			if t.Type == "tree" {
				kind = NodeDirectory
			}
			nodes = append(nodes, FileNode{Path: t.Path, Name: t.Name, Kind: kind})
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	if nodes == nil {
		nodes = []FileNode{}
	}
	return nodes, nil
}

// GetFileContent returns the decoded bytes of a file. The files API requires a
// ref, so an empty branch is resolved through the project's default branch.
func (g *GitLabAdapter) GetFileContent(ctx context.Context, owner, name, path, branch string) ([]byte, error) {
	const op = "get file content"
	ref := branch
	if ref == "" {
		meta, err := g.GetMetadata(ctx, owner, name)
		if err != nil {
			return nil, err
		}
		ref = meta.DefaultBranch
	}

	file, resp, err := g.api.RepositoryFiles.GetFile(projectID(owner, name), cleanPath(path),
		&gitlab.GetFileOptions{Ref: gitlab.Ptr(ref)}, gitlab.WithContext(ctx))
	if err != nil {
		return nil, classifyGitLab(op, resp, err)
	}

	if file.Encoding != "base64" {
		return []byte(file.Content), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(file.Content)
	if err != nil {
		return nil, newError(KindNetwork, ProviderGitLab, op, "malformed provider response", err)
	}
	return decoded, nil
}

func namespaceOf(p *gitlab.Project) string {
	if p.Namespace != nil && p.Namespace.FullPath != "" {
		return p.Namespace.FullPath
	}
	if p.Owner != nil {
		return p.Owner.Username
	}
	return ""
}

// classifyGitLab maps client-go failures onto the error taxonomy.
func classifyGitLab(op string, resp *gitlab.Response, err error) error {
	var respErr *gitlab.ErrorResponse
	if errors.As(err, &respErr) && respErr.Response != nil {
		return fromStatus(ProviderGitLab, op, respErr.Response.StatusCode, err)
	}
	if resp != nil && resp.Response != nil {
		if _, failed := statusKind(resp.StatusCode); failed {
			return fromStatus(ProviderGitLab, op, resp.StatusCode, err)
		}
	}
	return classifyTransport(ProviderGitLab, op, err)
}

// rankLanguageShares orders a language→percentage map by share, largest first.
func rankLanguageShares(langs map[string]float32) []string {
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
