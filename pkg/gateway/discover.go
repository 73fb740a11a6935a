package gateway

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/greg-hellings/repogateway/pkg/repository"
)

// Discovery is the outcome of listing one provider's repositories.
type Discovery struct {
	Provider     repository.Provider      `json:"provider"`
	Repositories []repository.RepoSummary `json:"repositories"`
	Err          error                    `json:"-"`
}

// Discover lists the repositories visible to each provider's credential, all
// providers when none are given. Providers are queried concurrently and a
// failing provider is reported in its Discovery instead of failing the call.
// Results follow the order of providers.
func (g *Gateway) Discover(ctx context.Context, providers ...repository.Provider) []Discovery {
	ctx, span := g.tracer.Start(ctx, "Discover")
	defer span.End()

	if len(providers) == 0 {
		providers = repository.SupportedProviders()
	}
	results := make([]Discovery, len(providers))

	var eg errgroup.Group
	eg.SetLimit(len(providers))
	for i, p := range providers {
		eg.Go(func() error {
			results[i] = g.discoverOne(ctx, p)
			return nil
		})
	}
	_ = eg.Wait()

	failed := 0
	for _, r := range results {
		if r.Err != nil {
			failed++
		}
	}
	span.SetAttributes(attribute.Int("providers", len(providers)), attribute.Int("providers.failed", failed))
	return results
}

func (g *Gateway) discoverOne(ctx context.Context, p repository.Provider) Discovery {
	ctx, span := g.tracer.Start(ctx, "DiscoverProvider", trace.WithAttributes(attribute.String("provider", string(p))))
	out := Discovery{Provider: p}
	defer func() { end(span, out.Err) }()

	if !p.Valid() {
		out.Err = &repository.Error{Kind: repository.KindInvalid, Provider: p, Op: "discover", Message: "unsupported provider"}
		return out
	}
	adapter, err := g.adapterFor(ctx, p)
	if err != nil {
		out.Err = err
		return out
	}
	repos, err := adapter.ListRepositories(ctx)
	g.countCall(ctx, p, "list_repositories", err)
	if err != nil {
		g.logger.Warn("discovery failed", "provider", p, "error", err)
		out.Err = err
		return out
	}
	out.Repositories = repos
	return out
}
