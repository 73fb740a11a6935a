package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/google/go-querystring/query"
)

// DefaultBitbucketURL is the Bitbucket Cloud REST 2.0 endpoint.
const DefaultBitbucketURL = "https://api.bitbucket.org/2.0"

const bitbucketPageSize = 100

// errNotJSON marks a response body that was not JSON at all, e.g. the raw
// file Bitbucket serves when a directory listing is asked of a file path.
var errNotJSON = errors.New("response is not JSON")

// BitbucketAdapter implements Adapter for Bitbucket Cloud using app passwords.
type BitbucketAdapter struct {
	http    *http.Client
	baseURL *url.URL
}

// NewBitbucketAdapter creates a Bitbucket adapter authenticating with HTTP
// Basic auth built from config.Credential.Username and AppSecret.
func NewBitbucketAdapter(config Config) (*BitbucketAdapter, error) {
	if config.Credential.Empty(ProviderBitbucket) {
		return nil, unconfigured(ProviderBitbucket, "new adapter")
	}

	raw := config.BaseURL
	if raw == "" {
		raw = DefaultBitbucketURL
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, newError(KindInvalid, ProviderBitbucket, "new adapter", "invalid Bitbucket base URL", err)
	}

	cred := config.Credential
	httpClient := wrapTransport(config.HTTPClient, func(rt http.RoundTripper) http.RoundTripper {
		return &basicAuthTransport{username: cred.Username, password: cred.AppSecret, base: rt}
	})

	return &BitbucketAdapter{http: httpClient, baseURL: base}, nil
}

// basicAuthTransport is an http.RoundTripper that adds Basic credentials.
type basicAuthTransport struct {
	username string
	password string
	base     http.RoundTripper
}

func (t *basicAuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid mutating the original
	r := req.Clone(req.Context())
	r.SetBasicAuth(t.username, t.password)
	r.Header.Set("Accept", "application/json")
	return t.base.RoundTrip(r)
}

// Provider returns ProviderBitbucket.
func (b *BitbucketAdapter) Provider() Provider { return ProviderBitbucket }

// Wire types for the subset of REST 2.0 that is read.

type bbLink struct {
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

type bbRepository struct {
	UUID        string `json:"uuid"`
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	FullName    string `json:"full_name"`
	Description string `json:"description"`
	IsPrivate   bool   `json:"is_private"`
	Language    string `json:"language"`
	MainBranch  *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Workspace *struct {
		Slug string `json:"slug"`
	} `json:"workspace"`
	Links struct {
		HTML   bbLink   `json:"html"`
		Avatar bbLink   `json:"avatar"`
		Clone  []bbLink `json:"clone"`
	} `json:"links"`
}

func (r bbRepository) owner() string {
	if r.Workspace != nil && r.Workspace.Slug != "" {
		return r.Workspace.Slug
	}
	if i := strings.Index(r.FullName, "/"); i > 0 {
		return r.FullName[:i]
	}
	return ""
}

func (r bbRepository) mainBranch() string {
	if r.MainBranch == nil {
		return ""
	}
	return r.MainBranch.Name
}

type bbBranch struct {
	Name string `json:"name"`
}

type bbTreeEntry struct {
	Path string `json:"path"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// bbPage is the paginated envelope shared by every list endpoint.
type bbPage[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type pageQuery struct {
	Role    string `url:"role,omitempty"`
	PageLen int    `url:"pagelen,omitempty"`
}

// ListRepositories lists repositories the user is a member of.
func (b *BitbucketAdapter) ListRepositories(ctx context.Context) ([]RepoSummary, error) {
	const op = "list repositories"
	repos, err := listAll[bbRepository](ctx, b, op, b.endpoint("repositories"), pageQuery{Role: "member", PageLen: bitbucketPageSize})
	if err != nil {
		return nil, err
	}

	out := make([]RepoSummary, 0, len(repos))
	for _, r := range repos {
		out = append(out, RepoSummary{
			ExternalID:    r.UUID,
			Owner:         r.owner(),
			Name:          r.Slug,
			FullName:      r.FullName,
			Description:   r.Description,
			HTMLURL:       r.Links.HTML.Href,
			DefaultBranch: r.mainBranch(),
			Private:       r.IsPrivate,
		})
	}
	return out, nil
}

// GetMetadata retrieves repository metadata. Bitbucket reports a single
// primary language.
func (b *BitbucketAdapter) GetMetadata(ctx context.Context, owner, name string) (*RepoMetadata, error) {
	const op = "get metadata"
	var r bbRepository
	if err := b.getJSON(ctx, op, b.endpoint("repositories", owner, name), &r); err != nil {
		return nil, err
	}

	meta := &RepoMetadata{
		ExternalID:    r.UUID,
		Owner:         r.owner(),
		Name:          r.Slug,
		Description:   r.Description,
		DefaultBranch: r.mainBranch(),
		AvatarURL:     r.Links.Avatar.Href,
		HTMLURL:       r.Links.HTML.Href,
	}
	if r.Language != "" {
		meta.Languages = []string{r.Language}
	}
	for _, l := range r.Links.Clone {
		if l.Name == "https" {
			meta.CloneURL = l.Href
		}
	}
	return meta, nil
}

// ListBranches returns every branch name, following next links.
func (b *BitbucketAdapter) ListBranches(ctx context.Context, owner, name string) ([]string, error) {
	const op = "list branches"
	branches, err := listAll[bbBranch](ctx, b, op,
		b.endpoint("repositories", owner, name, "refs", "branches"), pageQuery{PageLen: bitbucketPageSize})
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(branches))
	for _, br := range branches {
		names = append(names, br.Name)
	}
	return names, nil
}

// ListDirectory returns one level of the tree at path.
func (b *BitbucketAdapter) ListDirectory(ctx context.Context, owner, name, path, branch string) ([]FileNode, error) {
	const op = "list directory"
	ref, err := b.resolveBranch(ctx, owner, name, branch)
	if err != nil {
		return nil, err
	}

	segments := append([]string{"repositories", owner, name, "src", ref}, splitPath(path)...)
	u := b.endpoint(segments...)
	// A trailing slash asks for a directory listing instead of raw content.
	u.Path += "/"
	u.RawPath += "/"

	entries, err := listAll[bbTreeEntry](ctx, b, op, u, pageQuery{PageLen: bitbucketPageSize})
	if errors.Is(err, errNotJSON) {
		return nil, newError(KindInvalid, ProviderBitbucket, op, "path is not a directory: "+cleanPath(path), nil)
	}
	if err != nil {
		return nil, err
	}

	nodes := make([]FileNode, 0, len(entries))
	for _, e := range entries {
		node := FileNode{Path: e.Path, Name: baseName(e.Path), Kind: NodeFile}
		if e.Type == "commit_directory" {
			node.Kind = NodeDirectory
		} else {
			node.Size = e.Size
		}
		nodes = append(nodes, node)
	}
	return nodes, nil
}

// GetFileContent returns the raw bytes of a file.
func (b *BitbucketAdapter) GetFileContent(ctx context.Context, owner, name, path, branch string) ([]byte, error) {
	const op = "get file content"
	ref, err := b.resolveBranch(ctx, owner, name, branch)
	if err != nil {
		return nil, err
	}

	segments := append([]string{"repositories", owner, name, "src", ref}, splitPath(path)...)
	resp, err := b.do(ctx, op, b.endpoint(segments...))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ProviderBitbucket, op, err)
	}
	return data, nil
}

// resolveBranch returns branch, or the repository's main branch when empty.
func (b *BitbucketAdapter) resolveBranch(ctx context.Context, owner, name, branch string) (string, error) {
	if branch != "" {
		return branch, nil
	}
	meta, err := b.GetMetadata(ctx, owner, name)
	if err != nil {
		return "", err
	}
	if meta.DefaultBranch == "" {
		return "", newError(KindNotFound, ProviderBitbucket, "resolve branch", "repository has no main branch", nil)
	}
	return meta.DefaultBranch, nil
}

// endpoint joins escaped path segments onto the base URL.
func (b *BitbucketAdapter) endpoint(segments ...string) *url.URL {
	u := *b.baseURL
	escaped := make([]string, 0, len(segments))
	for _, s := range segments {
		escaped = append(escaped, url.PathEscape(s))
	}
	u.Path = b.baseURL.Path + "/" + strings.Join(segments, "/")
	u.RawPath = b.baseURL.EscapedPath() + "/" + strings.Join(escaped, "/")
	return &u
}

// listAll walks a paginated endpoint, following next links to exhaustion.
// Next links pointing at another host are refused so credentials stay put.
func listAll[T any](ctx context.Context, b *BitbucketAdapter, op string, u *url.URL, q pageQuery) ([]T, error) {
	values, err := query.Values(q)
	if err != nil {
		return nil, newError(KindInvalid, ProviderBitbucket, op, "invalid query", err)
	}
	u.RawQuery = values.Encode()

	var out []T
	for next := u; next != nil; {
		var page bbPage[T]
		if err := b.getJSON(ctx, op, next, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Values...)

		if page.Next == "" {
			break
		}
		n, err := url.Parse(page.Next)
		if err != nil || n.Host != b.baseURL.Host {
			return nil, newError(KindNetwork, ProviderBitbucket, op, "unexpected pagination link", err)
		}
		next = n
	}
	return out, nil
}

func (b *BitbucketAdapter) getJSON(ctx context.Context, op string, u *url.URL, v any) error {
	resp, err := b.do(ctx, op, u)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if !isJSONContent(resp.Header.Get("Content-Type")) {
			err = fmt.Errorf("%w: %v", errNotJSON, err)
		}
		return newError(KindNetwork, ProviderBitbucket, op, "malformed provider response", err)
	}
	return nil
}

// isJSONContent reports whether a Content-Type header names a JSON body. A
// missing header is given the benefit of the doubt.
func isJSONContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}

// do issues a GET and converts non-2xx statuses into *Error. On success the
// caller owns resp.Body.
func (b *BitbucketAdapter) do(ctx context.Context, op string, u *url.URL) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, newError(KindInvalid, ProviderBitbucket, op, "invalid request", err)
	}

	resp, err := b.http.Do(req)
	if err != nil {
		return nil, classifyTransport(ProviderBitbucket, op, err)
	}
	if _, failed := statusKind(resp.StatusCode); failed {
		// Drain so the connection can be reused; the body is never surfaced.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()
		return nil, fromStatus(ProviderBitbucket, op, resp.StatusCode,
			fmt.Errorf("GET %s: %s", u.Path, resp.Status))
	}
	return resp, nil
}

func splitPath(p string) []string {
	p = cleanPath(p)
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
