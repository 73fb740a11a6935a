// Package gateway is the owner-scoped, cached facade over the registry, the
// credential store and the provider adapters.
//
// Every call resolves the repository row for the caller's owner id first. A
// row that belongs to somebody else is reported exactly like a missing one and
// no credential or provider lookup happens for it.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/greg-hellings/repogateway/pkg/cache"
	"github.com/greg-hellings/repogateway/pkg/credentials"
	"github.com/greg-hellings/repogateway/pkg/registry"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

const instrName = "github.com/greg-hellings/repogateway/pkg/gateway"

// FallbackBranches is returned by ListBranches when the provider cannot be
// asked.
var FallbackBranches = []string{"main", "master", "develop"}

// AdapterFactory builds the adapter for a provider. *repository.Factory
// satisfies it.
type AdapterFactory interface {
	CreateAdapter(provider repository.Provider, cred repository.Credential) (repository.Adapter, error)
}

// Options tunes a Gateway. Zero values select the defaults.
type Options struct {
	// CacheTTL defaults to cache.DefaultTTL.
	CacheTTL time.Duration
	Logger   *slog.Logger
	// MeterProvider and TracerProvider default to the otel globals.
	MeterProvider  metric.MeterProvider
	TracerProvider trace.TracerProvider
}

// Gateway implements the repository browsing operations.
type Gateway struct {
	registry *registry.Registry
	creds    credentials.Source
	factory  AdapterFactory
	cache    cache.Cache
	ttl      time.Duration
	logger   *slog.Logger

	tracer       trace.Tracer
	cacheHits    metric.Int64Counter
	cacheMisses  metric.Int64Counter
	adapterCalls metric.Int64Counter
}

// New wires a gateway. A nil cache disables caching.
func New(reg *registry.Registry, creds credentials.Source, factory AdapterFactory, c cache.Cache, opts Options) *Gateway {
	if c == nil {
		c = cache.Nop{}
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = cache.DefaultTTL
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MeterProvider == nil {
		opts.MeterProvider = otel.GetMeterProvider()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}

	m := opts.MeterProvider.Meter(instrName)
	cacheHits, _ := m.Int64Counter("repogateway.cache.hits",
		metric.WithDescription("Gateway reads served from the content cache"))
	cacheMisses, _ := m.Int64Counter("repogateway.cache.misses",
		metric.WithDescription("Gateway reads that had to ask the provider"))
	adapterCalls, _ := m.Int64Counter("repogateway.adapter.calls",
		metric.WithDescription("Provider operations issued by the gateway"))

	return &Gateway{
		registry:     reg,
		creds:        creds,
		factory:      factory,
		cache:        c,
		ttl:          opts.CacheTTL,
		logger:       opts.Logger,
		tracer:       opts.TracerProvider.Tracer(instrName),
		cacheHits:    cacheHits,
		cacheMisses:  cacheMisses,
		adapterCalls: adapterCalls,
	}
}

// GetDirectory lists one level of a registered repository. Directories come
// first, then files; each group is ordered by name. An empty branch uses the
// registered default branch.
func (g *Gateway) GetDirectory(ctx context.Context, repoID int64, ownerID, path, branch string) (nodes []repository.FileNode, err error) {
	ctx, span := g.start(ctx, "GetDirectory", repoID, attribute.String("path", path), attribute.String("branch", branch))
	defer func() { end(span, err) }()

	repo, err := g.registry.Get(ctx, repoID, ownerID)
	if err != nil {
		return nil, err
	}
	path = normalizePath(path)
	ref := resolveRef(repo, branch)

	adapter, err := g.adapterFor(ctx, repo.Provider)
	if err != nil {
		return nil, err
	}

	if payload, ok := g.cacheGet(ctx, repo, cache.OpDirectory, path, ref); ok {
		var cached []repository.FileNode
		if err := json.Unmarshal(payload, &cached); err == nil {
			return cached, nil
		}
		g.logger.Warn("discarding unreadable cache entry", "repo_id", repo.ID, "op", cache.OpDirectory)
	}

	nodes, err = adapter.ListDirectory(ctx, repo.Owner, repo.Name, path, ref)
	g.countCall(ctx, repo.Provider, cache.OpDirectory, err)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []repository.FileNode{}
	}
	SortNodes(nodes)

	if payload, err := json.Marshal(nodes); err == nil {
		g.cache.Put(ctx, repo.ID, cache.OpDirectory, path, ref, payload, g.ttl)
	}
	return nodes, nil
}

// GetFileContent returns the raw bytes of a file. An empty path is invalid.
func (g *Gateway) GetFileContent(ctx context.Context, repoID int64, ownerID, path, branch string) (data []byte, err error) {
	ctx, span := g.start(ctx, "GetFileContent", repoID, attribute.String("path", path), attribute.String("branch", branch))
	defer func() { end(span, err) }()

	path = normalizePath(path)
	if path == "" {
		return nil, &repository.Error{Kind: repository.KindInvalid, Op: "get file content", Message: "file path is required"}
	}

	repo, err := g.registry.Get(ctx, repoID, ownerID)
	if err != nil {
		return nil, err
	}
	ref := resolveRef(repo, branch)

	adapter, err := g.adapterFor(ctx, repo.Provider)
	if err != nil {
		return nil, err
	}

	if payload, ok := g.cacheGet(ctx, repo, cache.OpFileContent, path, ref); ok {
		return payload, nil
	}

	data, err = adapter.GetFileContent(ctx, repo.Owner, repo.Name, path, ref)
	g.countCall(ctx, repo.Provider, cache.OpFileContent, err)
	if err != nil {
		return nil, err
	}
	g.cache.Put(ctx, repo.ID, cache.OpFileContent, path, ref, data, g.ttl)
	return data, nil
}

// BranchList is the result of Branches. When Fallback is set, Names is the
// fixed FallbackBranches list and Cause says why the provider was not used.
type BranchList struct {
	Names    []string `json:"names"`
	Fallback bool     `json:"fallback"`
	Cause    error    `json:"-"`
}

// Branches lists the branches of a registered repository. A repository that
// is not registered for the owner still fails; any other failure yields the
// fallback list.
func (g *Gateway) Branches(ctx context.Context, repoID int64, ownerID string) (list *BranchList, err error) {
	ctx, span := g.start(ctx, "ListBranches", repoID)
	defer func() { end(span, err) }()

	repo, err := g.registry.Get(ctx, repoID, ownerID)
	if err != nil {
		return nil, err
	}

	names, err := g.listBranches(ctx, repo)
	if err != nil {
		g.logger.Warn("branch listing failed; returning fallback branches",
			"repo_id", repo.ID, "provider", repo.Provider, "error", err)
		span.SetAttributes(attribute.Bool("branches.fallback", true))
		return &BranchList{Names: append([]string(nil), FallbackBranches...), Fallback: true, Cause: err}, nil
	}
	return &BranchList{Names: names}, nil
}

// ListBranches is Branches without the fallback flag.
func (g *Gateway) ListBranches(ctx context.Context, repoID int64, ownerID string) ([]string, error) {
	list, err := g.Branches(ctx, repoID, ownerID)
	if err != nil {
		return nil, err
	}
	return list.Names, nil
}

func (g *Gateway) listBranches(ctx context.Context, repo *registry.Repository) ([]string, error) {
	adapter, err := g.adapterFor(ctx, repo.Provider)
	if err != nil {
		return nil, err
	}
	names, err := adapter.ListBranches(ctx, repo.Owner, repo.Name)
	g.countCall(ctx, repo.Provider, "list_branches", err)
	if err != nil {
		return nil, err
	}
	if names == nil {
		names = []string{}
	}
	return names, nil
}

// Register records a repository for ownerID; see registry.Registry.Register.
func (g *Gateway) Register(ctx context.Context, ownerID string, in registry.RegisterInput) (id int64, err error) {
	ctx, span := g.tracer.Start(ctx, "Register", trace.WithAttributes(attribute.String("provider", string(in.Provider))))
	defer func() { end(span, err) }()
	return g.registry.Register(ctx, ownerID, in)
}

// Import looks a repository up on its provider and registers it with its
// external id and metadata.
func (g *Gateway) Import(ctx context.Context, ownerID string, provider repository.Provider, owner, name string) (repo *registry.Repository, err error) {
	ctx, span := g.tracer.Start(ctx, "Import", trace.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("repo", owner+"/"+name),
	))
	defer func() { end(span, err) }()

	if !provider.Valid() {
		return nil, &repository.Error{Kind: repository.KindInvalid, Provider: provider, Op: "import", Message: "unsupported provider"}
	}
	adapter, err := g.adapterFor(ctx, provider)
	if err != nil {
		return nil, err
	}
	meta, err := adapter.GetMetadata(ctx, owner, name)
	g.countCall(ctx, provider, "get_metadata", err)
	if err != nil {
		return nil, err
	}

	url := meta.HTMLURL
	if url == "" {
		url = meta.CloneURL
	}
	metaOwner, metaName := meta.Owner, meta.Name
	if metaOwner == "" {
		metaOwner = owner
	}
	if metaName == "" {
		metaName = name
	}
	id, err := g.registry.Register(ctx, ownerID, registry.RegisterInput{
		Provider:    provider,
		Owner:       metaOwner,
		Name:        metaName,
		URL:         url,
		ExternalID:  meta.ExternalID,
		Description: meta.Description,
	})
	if err != nil {
		return nil, err
	}
	repo, err = g.registry.ApplyMetadata(ctx, id, ownerID, meta)
	if err != nil {
		return nil, err
	}
	g.cache.Invalidate(ctx, id)
	return repo, nil
}

// Get returns a registered repository.
func (g *Gateway) Get(ctx context.Context, repoID int64, ownerID string) (*registry.Repository, error) {
	return g.registry.Get(ctx, repoID, ownerID)
}

// List returns the owner's repositories ordered by provider, then name.
func (g *Gateway) List(ctx context.Context, ownerID string) ([]registry.Repository, error) {
	return g.registry.List(ctx, ownerID)
}

// Delete removes a registered repository and drops its cache entries.
func (g *Gateway) Delete(ctx context.Context, repoID int64, ownerID string) (deleted bool, err error) {
	ctx, span := g.start(ctx, "Delete", repoID)
	defer func() { end(span, err) }()

	deleted, err = g.registry.Delete(ctx, repoID, ownerID)
	if err != nil {
		return false, err
	}
	if deleted {
		g.cache.Invalidate(ctx, repoID)
	}
	return deleted, nil
}

// RefreshMetadata re-reads the repository metadata from its provider. On
// failure the row is left untouched and false is returned with the error.
func (g *Gateway) RefreshMetadata(ctx context.Context, repoID int64, ownerID string) (ok bool, err error) {
	ctx, span := g.start(ctx, "RefreshMetadata", repoID)
	defer func() { end(span, err) }()

	repo, err := g.registry.Get(ctx, repoID, ownerID)
	if err != nil {
		return false, err
	}
	adapter, err := g.adapterFor(ctx, repo.Provider)
	if err != nil {
		return false, err
	}
	meta, err := adapter.GetMetadata(ctx, repo.Owner, repo.Name)
	g.countCall(ctx, repo.Provider, "get_metadata", err)
	if err != nil {
		g.logger.Warn("metadata refresh failed", "repo_id", repo.ID, "provider", repo.Provider, "error", err)
		return false, err
	}
	if _, err := g.registry.ApplyMetadata(ctx, repo.ID, ownerID, meta); err != nil {
		return false, err
	}
	g.cache.Invalidate(ctx, repo.ID)
	return true, nil
}

// adapterFor resolves the provider credential and builds its adapter.
func (g *Gateway) adapterFor(ctx context.Context, provider repository.Provider) (repository.Adapter, error) {
	cred, err := g.creds.Get(ctx, provider)
	if errors.Is(err, credentials.ErrCredentialNotFound) {
		return nil, &repository.Error{
			Kind:     repository.KindUnconfigured,
			Provider: provider,
			Op:       "resolve credential",
			Message:  "no credential configured",
		}
	}
	if err != nil {
		return nil, fmt.Errorf("gateway: resolve %s credential: %w", provider, err)
	}
	return g.factory.CreateAdapter(provider, cred.Credential)
}

func (g *Gateway) cacheGet(ctx context.Context, repo *registry.Repository, op, path, ref string) ([]byte, bool) {
	attrs := metric.WithAttributes(attribute.String("provider", string(repo.Provider)), attribute.String("op", op))
	payload, ok := g.cache.Get(ctx, repo.ID, op, path, ref)
	if ok {
		g.cacheHits.Add(ctx, 1, attrs)
	} else {
		g.cacheMisses.Add(ctx, 1, attrs)
	}
	return payload, ok
}

func (g *Gateway) countCall(ctx context.Context, provider repository.Provider, op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = repository.KindOf(err).String()
	}
	g.adapterCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", string(provider)),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	))
}

func (g *Gateway) start(ctx context.Context, name string, repoID int64, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	attrs = append(attrs, attribute.Int64("repo.id", repoID))
	return g.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func end(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

// SortNodes orders directories before files, then by name byte-wise.
func SortNodes(nodes []repository.FileNode) {
	sort.SliceStable(nodes, func(i, j int) bool {
		a, b := nodes[i], nodes[j]
		if a.IsDir() != b.IsDir() {
			return a.IsDir()
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Path < b.Path
	})
}

func normalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

func resolveRef(repo *registry.Repository, branch string) string {
	if b := strings.TrimSpace(branch); b != "" {
		return b
	}
	return repo.DefaultBranch
}
