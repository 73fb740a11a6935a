package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/greg-hellings/repogateway/pkg/config"
	"github.com/greg-hellings/repogateway/pkg/credentials"
	"github.com/greg-hellings/repogateway/pkg/options"
	consolefmt "github.com/greg-hellings/repogateway/pkg/report/format"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

func newCredentialsCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage encrypted provider credentials",
		Long: strings.TrimSpace(`
Store, remove and list provider credentials. Credentials are encrypted with a
key derived from REPOGW_SECRET before they reach the storage backend.
Environment variables (REPOGW_GITHUB_TOKEN, REPOGW_GITLAB_TOKEN,
REPOGW_BITBUCKET_USERNAME and REPOGW_BITBUCKET_APP_SECRET) take precedence
over stored values.`),
	}
	cmd.AddCommand(
		newCredentialsSetCmd(g),
		newCredentialsDeleteCmd(g),
		newCredentialsListCmd(g),
		newCredentialsRotateCmd(g),
	)
	return cmd
}

func newCredentialsSetCmd(g *globals) *cobra.Command {
	var username string
	c := &cobra.Command{
		Use:   "set <provider>",
		Short: "Store a provider credential",
		Long: strings.TrimSpace(`
Store the token (GitHub, GitLab) or app password (Bitbucket, with --username)
for a provider. The secret is prompted for without echo when stdin is a
terminal and read from the first line of stdin otherwise.`),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := repository.ParseProvider(args[0])
			if err != nil {
				return err
			}
			var cred repository.Credential
			switch provider {
			case repository.ProviderBitbucket:
				secret, err := g.readSecret("Bitbucket app password: ")
				if err != nil {
					return err
				}
				cred = repository.Credential{Username: username, AppSecret: secret}
			default:
				token, err := g.readSecret(fmt.Sprintf("%s token: ", provider))
				if err != nil {
					return err
				}
				cred = repository.Credential{Token: token}
			}
			if err := credentials.Validate(provider, cred); err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, store *credentials.Store) error {
				if err := store.Set(ctx, provider, cred); err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "Stored %s credential\n", provider)
				return nil
			})
		},
	}
	c.Flags().StringVarP(&username, "username", "u", "", "Bitbucket username")
	return c
}

func newCredentialsDeleteCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <provider>",
		Short: "Remove a stored provider credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			provider, err := repository.ParseProvider(args[0])
			if err != nil {
				return err
			}
			return g.invoke(cmd, func(ctx context.Context, store *credentials.Store) error {
				if err := store.Delete(ctx, provider); err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "Removed %s credential\n", provider)
				return nil
			})
		},
	}
}

func newCredentialsListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show which providers have a credential",
		Long: `Show which providers have a credential and where it comes from. Stored
credentials are only listed when a secret is configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.invoke(cmd, func(ctx context.Context, cfg *config.Config, opts options.Store, logger *slog.Logger) error {
				rows, err := credentialStatus(ctx, cfg, opts, logger, credentials.NewEnvSource(nil))
				if err != nil {
					return err
				}
				return g.render("credentials", rows, nil, func(f *consolefmt.ConsoleFormatter, w io.Writer) error {
					return f.RenderCredentials(rows, w)
				})
			})
		},
	}
}

// credentialStatus reports each supported provider, preferring env over the
// store the same way the gateway resolves them.
func credentialStatus(ctx context.Context, cfg *config.Config, opts options.Store, logger *slog.Logger, env credentials.Source) ([]consolefmt.CredentialStatus, error) {
	stored := map[repository.Provider]bool{}
	if cfg.Secret != "" {
		store, err := credentials.NewStore(opts, cfg.Secret, logger)
		if err != nil {
			return nil, err
		}
		providers, err := store.List(ctx)
		if err != nil {
			return nil, err
		}
		for _, p := range providers {
			stored[p] = true
		}
	}

	rows := make([]consolefmt.CredentialStatus, 0, len(repository.SupportedProviders()))
	for _, p := range repository.SupportedProviders() {
		row := consolefmt.CredentialStatus{Provider: p}
		if _, err := env.Get(ctx, p); err == nil {
			row.Configured, row.Source = true, "env"
		} else if stored[p] {
			row.Configured, row.Source = true, "store"
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func newCredentialsRotateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "rotate-key",
		Short: "Re-encrypt stored credentials under a new secret",
		Long: strings.TrimSpace(`
Re-encrypt every stored credential with a key derived from a new secret. The
current secret comes from REPOGW_SECRET (or the config file); the new one is
prompted for. Nothing is changed if any stored credential cannot be read.
Update REPOGW_SECRET afterwards.`),
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			newSecret, err := g.readSecret("New secret: ")
			if err != nil {
				return err
			}
			if g.interactive() {
				confirm, err := g.readSecret("Repeat new secret: ")
				if err != nil {
					return err
				}
				if confirm != newSecret {
					return errors.New("secrets do not match")
				}
			}
			return g.invoke(cmd, func(ctx context.Context, store *credentials.Store) error {
				n, err := store.RotateKey(ctx, newSecret)
				var rotateErr *credentials.RotateError
				if errors.As(err, &rotateErr) {
					return fmt.Errorf("%w; delete or re-set those credentials first", err)
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(g.stdout, "Re-encrypted %d credential(s). Set REPOGW_SECRET to the new secret.\n", n)
				return nil
			})
		},
	}
}

// interactive reports whether stdin is a terminal.
func (g *globals) interactive() bool {
	f, ok := g.stdin.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// readSecret prompts without echo on a terminal and reads one line otherwise.
func (g *globals) readSecret(prompt string) (string, error) {
	if g.interactive() {
		fmt.Fprint(g.stderr, prompt)
		b, err := term.ReadPassword(int(g.stdin.(*os.File).Fd()))
		fmt.Fprintln(g.stderr)
		if err != nil {
			return "", fmt.Errorf("failed to read secret: %w", err)
		}
		return strings.TrimSpace(string(b)), nil
	}
	line, err := bufio.NewReader(g.stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read secret: %w", err)
	}
	if s := strings.TrimSpace(line); s != "" {
		return s, nil
	}
	return "", errors.New("no secret provided on stdin")
}
