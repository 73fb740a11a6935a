package repository

// This file defines narrow interfaces and lightweight wrappers around the
// external GitHub and GitLab API clients. Adapters depend only on these, so
// tests can inject deterministic fakes without real HTTP calls or the full
// surface area of the third-party SDKs.
//
// Only the methods the adapters actually call are exposed; keep it that way
// so upstream SDK additions never break the fakes.

import (
	"context"
	"io"

	"github.com/google/go-github/v57/github"
	gitlab "gitlab.com/gitlab-org/api/client-go"
)

/////////////////////////
// GitHub API Interfaces
/////////////////////////

// GitHubRepositoriesService abstracts the subset of repository operations used.
type GitHubRepositoriesService interface {
	// List lists repositories of the authenticated user when user is empty.
	List(ctx context.Context, user string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error)
	// Get fetches metadata for a repository.
	Get(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error)
	// GetContents retrieves either a file OR a directory listing depending on path.
	GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error)
	// DownloadContents streams a file too large to be inlined by GetContents.
	DownloadContents(ctx context.Context, owner, repo, filepath string, opts *github.RepositoryContentGetOptions) (io.ReadCloser, *github.Response, error)
	// ListBranches lists the branches of a repository.
	ListBranches(ctx context.Context, owner, repo string, opts *github.BranchListOptions) ([]*github.Branch, *github.Response, error)
	// ListLanguages returns bytes of code per language.
	ListLanguages(ctx context.Context, owner, repo string) (map[string]int, *github.Response, error)
}

// githubRepositoriesWrapper is the production wrapper implementing GitHubRepositoriesService.
type githubRepositoriesWrapper struct {
	client *github.Client
}

func (w *githubRepositoriesWrapper) List(ctx context.Context, user string, opts *github.RepositoryListOptions) ([]*github.Repository, *github.Response, error) {
	return w.client.Repositories.List(ctx, user, opts)
}

func (w *githubRepositoriesWrapper) Get(ctx context.Context, owner, repo string) (*github.Repository, *github.Response, error) {
	return w.client.Repositories.Get(ctx, owner, repo)
}

func (w *githubRepositoriesWrapper) GetContents(ctx context.Context, owner, repo, path string, opts *github.RepositoryContentGetOptions) (*github.RepositoryContent, []*github.RepositoryContent, *github.Response, error) {
	return w.client.Repositories.GetContents(ctx, owner, repo, path, opts)
}

func (w *githubRepositoriesWrapper) DownloadContents(ctx context.Context, owner, repo, filepath string, opts *github.RepositoryContentGetOptions) (io.ReadCloser, *github.Response, error) {
	return w.client.Repositories.DownloadContents(ctx, owner, repo, filepath, opts)
}

func (w *githubRepositoriesWrapper) ListBranches(ctx context.Context, owner, repo string, opts *github.BranchListOptions) ([]*github.Branch, *github.Response, error) {
	return w.client.Repositories.ListBranches(ctx, owner, repo, opts)
}

func (w *githubRepositoriesWrapper) ListLanguages(ctx context.Context, owner, repo string) (map[string]int, *github.Response, error) {
	return w.client.Repositories.ListLanguages(ctx, owner, repo)
}

// GitHubAPI groups the narrowed GitHub service interfaces.
type GitHubAPI struct {
	Repositories GitHubRepositoriesService
}

// wrapGitHubClient constructs GitHubAPI from a *github.Client.
func wrapGitHubClient(c *github.Client) GitHubAPI {
	return GitHubAPI{
		Repositories: &githubRepositoriesWrapper{client: c},
	}
}

/////////////////////////
// GitLab API Interfaces
/////////////////////////

// GitLabProjectsService abstracts project listing and metadata retrieval.
type GitLabProjectsService interface {
	ListProjects(opts *gitlab.ListProjectsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error)
	GetProject(projectID string, opts *gitlab.GetProjectOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Project, *gitlab.Response, error)
	GetProjectLanguages(projectID string, options ...gitlab.RequestOptionFunc) (*gitlab.ProjectLanguages, *gitlab.Response, error)
}

// GitLabRepositoriesService abstracts tree listing operations.
type GitLabRepositoriesService interface {
	ListTree(projectID string, opts *gitlab.ListTreeOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.TreeNode, *gitlab.Response, error)
}

// GitLabRepositoryFilesService abstracts file content retrieval.
type GitLabRepositoryFilesService interface {
	GetFile(projectID string, filePath string, opts *gitlab.GetFileOptions, options ...gitlab.RequestOptionFunc) (*gitlab.File, *gitlab.Response, error)
}

// GitLabBranchesService abstracts branch listing.
type GitLabBranchesService interface {
	ListBranches(projectID string, opts *gitlab.ListBranchesOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Branch, *gitlab.Response, error)
}

// gitlabProjectsWrapper is the production wrapper for project metadata.
type gitlabProjectsWrapper struct {
	client *gitlab.Client
}

func (w *gitlabProjectsWrapper) ListProjects(opts *gitlab.ListProjectsOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Project, *gitlab.Response, error) {
	return w.client.Projects.ListProjects(opts, options...)
}

func (w *gitlabProjectsWrapper) GetProject(projectID string, opts *gitlab.GetProjectOptions, options ...gitlab.RequestOptionFunc) (*gitlab.Project, *gitlab.Response, error) {
	return w.client.Projects.GetProject(projectID, opts, options...)
}

func (w *gitlabProjectsWrapper) GetProjectLanguages(projectID string, options ...gitlab.RequestOptionFunc) (*gitlab.ProjectLanguages, *gitlab.Response, error) {
	return w.client.Projects.GetProjectLanguages(projectID, options...)
}

// gitlabRepositoriesWrapper is the production wrapper for listing repository trees.
type gitlabRepositoriesWrapper struct {
	client *gitlab.Client
}

func (w *gitlabRepositoriesWrapper) ListTree(projectID string, opts *gitlab.ListTreeOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.TreeNode, *gitlab.Response, error) {
	return w.client.Repositories.ListTree(projectID, opts, options...)
}

// gitlabRepositoryFilesWrapper is the production wrapper for file content.
type gitlabRepositoryFilesWrapper struct {
	client *gitlab.Client
}

func (w *gitlabRepositoryFilesWrapper) GetFile(projectID string, filePath string, opts *gitlab.GetFileOptions, options ...gitlab.RequestOptionFunc) (*gitlab.File, *gitlab.Response, error) {
	return w.client.RepositoryFiles.GetFile(projectID, filePath, opts, options...)
}

// gitlabBranchesWrapper is the production wrapper for branch listing.
type gitlabBranchesWrapper struct {
	client *gitlab.Client
}

func (w *gitlabBranchesWrapper) ListBranches(projectID string, opts *gitlab.ListBranchesOptions, options ...gitlab.RequestOptionFunc) ([]*gitlab.Branch, *gitlab.Response, error) {
	return w.client.Branches.ListBranches(projectID, opts, options...)
}

// GitLabAPI groups the narrowed GitLab service interfaces.
type GitLabAPI struct {
	Projects        GitLabProjectsService
	Repositories    GitLabRepositoriesService
	RepositoryFiles GitLabRepositoryFilesService
	Branches        GitLabBranchesService
}

// wrapGitLabClient constructs GitLabAPI from a *gitlab.Client.
func wrapGitLabClient(c *gitlab.Client) GitLabAPI {
	return GitLabAPI{
		Projects:        &gitlabProjectsWrapper{client: c},
		Repositories:    &gitlabRepositoriesWrapper{client: c},
		RepositoryFiles: &gitlabRepositoryFilesWrapper{client: c},
		Branches:        &gitlabBranchesWrapper{client: c},
	}
}
