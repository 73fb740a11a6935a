package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/greg-hellings/repogateway/pkg/config"
	"github.com/greg-hellings/repogateway/pkg/registry"
	"github.com/greg-hellings/repogateway/pkg/report"
	consolefmt "github.com/greg-hellings/repogateway/pkg/report/format"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

// newReposCmd groups the registry commands.
func newReposCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repos",
		Short: "Manage registered repositories",
	}
	cmd.AddCommand(
		newReposRegisterCmd(g),
		newReposImportCmd(g),
		newReposListCmd(g),
		newReposShowCmd(g),
		newReposDeleteCmd(g),
		newReposRefreshCmd(g),
		newReposDiscoverCmd(g),
		newReposSyncCmd(g),
	)
	return cmd
}

// splitFullName splits "owner/name" at the last slash so nested GitLab
// namespaces stay in the owner.
func splitFullName(s string) (owner, name string, err error) {
	s = strings.Trim(strings.TrimSpace(s), "/")
	i := strings.LastIndex(s, "/")
	if i <= 0 || i == len(s)-1 {
		return "", "", fmt.Errorf("expected owner/name, got %q", s)
	}
	return s[:i], s[i+1:], nil
}

func newReposRegisterCmd(g *globals) *cobra.Command {
	var in registry.RegisterInput
	c := &cobra.Command{
		Use:   "register <provider> <owner/name>",
		Short: "Register a repository without contacting the provider",
		Long: strings.TrimSpace(`
Register (or update) a repository in the registry. Registering the same
repository twice returns the same id. When --url is omitted it is derived
from the provider's public host.`),
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := repository.ParseProvider(args[0])
			if err != nil {
				return err
			}
			owner, name, err := splitFullName(args[1])
			if err != nil {
				return err
			}
			in.Provider, in.Owner, in.Name = provider, owner, name
			if in.URL == "" {
				in.URL = config.DefaultURL(provider, owner, name)
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				id, err := a.Gateway.Register(ctx, ownerID, in)
				if err != nil {
					return err
				}
				repo, err := a.Gateway.Get(ctx, id, ownerID)
				if err != nil {
					return err
				}
				return g.renderRepository(repo)
			})
		},
	}
	c.Flags().StringVar(&in.URL, "url", "", "Repository web URL")
	c.Flags().StringVar(&in.Description, "description", "", "Description (kept when omitted)")
	c.Flags().StringVar(&in.ExternalID, "external-id", "", "Provider-assigned repository id")
	return c
}

func newReposImportCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "import <provider> <owner/name>",
		Short: "Register a repository using metadata fetched from the provider",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := repository.ParseProvider(args[0])
			if err != nil {
				return err
			}
			owner, name, err := splitFullName(args[1])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				repo, err := a.Gateway.Import(ctx, ownerID, provider, owner, name)
				if err != nil {
					return err
				}
				a.Logger.Info("Imported repository", "id", repo.ID, "repository", repo.FullName())
				return g.renderRepository(repo)
			})
		},
	}
}

func newReposListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the repositories registered for the owner",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				repos, err := a.Gateway.List(ctx, ownerID)
				if err != nil {
					return err
				}
				return g.renderRepositories(repos)
			})
		},
	}
}

func newReposShowCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one registered repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				repo, err := a.Gateway.Get(ctx, id, ownerID)
				if err != nil {
					return err
				}
				return g.renderRepository(repo)
			})
		},
	}
}

func newReposDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Remove a repository from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				deleted, err := a.Gateway.Delete(ctx, id, ownerID)
				if err != nil {
					return err
				}
				if !deleted {
					return fmt.Errorf("repository %d not found", id)
				}
				return g.render("deleted", map[string]int64{"id": id}, nil, func(_ *consolefmt.ConsoleFormatter, w io.Writer) error {
					_, err := fmt.Fprintf(w, "Deleted repository %d\n", id)
					return err
				})
			})
		},
	}
}

func newReposRefreshCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Re-fetch provider metadata for a registered repository",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				ok, err := a.Gateway.RefreshMetadata(ctx, id, ownerID)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("metadata refresh for repository %d failed; see log for details", id)
				}
				repo, err := a.Gateway.Get(ctx, id, ownerID)
				if err != nil {
					return err
				}
				return g.renderRepository(repo)
			})
		},
	}
}

func newReposDiscoverCmd(g *globals) *cobra.Command {
	var failOnError bool
	c := &cobra.Command{
		Use:   "discover [provider...]",
		Short: "List repositories visible to the configured credentials",
		Long: strings.TrimSpace(`
Query every provider (or only those named) for the repositories its
credential can see. Providers are queried concurrently; a failing provider
is reported without hiding the others.`),
		RunE: func(cmd *cobra.Command, args []string) error {
			providers := make([]repository.Provider, 0, len(args))
			for _, arg := range args {
				p, err := repository.ParseProvider(arg)
				if err != nil {
					return err
				}
				providers = append(providers, p)
			}
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				results := a.Gateway.Discover(ctx, providers...)
				errs := report.DiscoveryErrors(results)
				err := g.render("discovery", results, errs, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
					return f.RenderDiscovery(results, w)
				})
				if err != nil {
					return err
				}
				if failOnError && len(errs) > 0 {
					return fmt.Errorf("%d provider(s) failed (fail-on-error enabled)", len(errs))
				}
				return nil
			})
		},
	}
	c.Flags().BoolVar(&failOnError, "fail-on-error", false, "Exit with non-zero status if any provider failed")
	return c
}

func newReposSyncCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Register every repository declared in the config file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.invoke(cmd, func(ctx context.Context, a app) error {
				seeds := a.Config.GetAllRepos()
				if len(seeds) == 0 {
					return fmt.Errorf("no repositories configured in the config file")
				}
				ownerID, err := a.ownerID(ctx)
				if err != nil {
					return err
				}
				for _, s := range seeds {
					id, err := a.Gateway.Register(ctx, ownerID, registry.RegisterInput{
						Provider:    s.Provider,
						Owner:       s.Owner,
						Name:        s.Name,
						URL:         s.URL,
						Description: s.Description,
					})
					if err != nil {
						return fmt.Errorf("register %s %s/%s: %w", s.Provider, s.Owner, s.Name, err)
					}
					a.Logger.Info("Synced repository", "id", id, "provider", s.Provider, "repository", s.Owner+"/"+s.Name)
				}
				repos, err := a.Gateway.List(ctx, ownerID)
				if err != nil {
					return err
				}
				return g.renderRepositories(repos)
			})
		},
	}
}

func (g *globals) renderRepository(repo *registry.Repository) error {
	return g.render("repository", repo, nil, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
		return f.RenderRepository(repo, w)
	})
}

func (g *globals) renderRepositories(repos []registry.Repository) error {
	if repos == nil {
		repos = []registry.Repository{}
	}
	return g.render("repositories", repos, nil, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
		return f.RenderRepositories(repos, w)
	})
}
