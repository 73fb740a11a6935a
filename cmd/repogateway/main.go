package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/dig"

	"github.com/greg-hellings/repogateway/pkg/identity"
	"github.com/greg-hellings/repogateway/pkg/report"
	consolefmt "github.com/greg-hellings/repogateway/pkg/report/format"
)

// build-time override (e.g. -ldflags "-X main.version=1.2.3")
var version = "dev"

// globals holds the root-level flags and the streams commands write to.
type globals struct {
	configPath string
	owner      string
	verbose    bool
	debug      bool
	format     string
	noColor    bool
	jsonIndent bool
	timeout    time.Duration

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func main() {
	root := newRootCmd(&globals{stdin: os.Stdin, stdout: os.Stdout, stderr: os.Stderr})
	root.SilenceUsage = true
	root.SilenceErrors = true

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// newRootCmd creates the root Cobra command.
func newRootCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repogateway",
		Short: "Repository Gateway CLI",
		Long: strings.TrimSpace(`
Repository Gateway - browse GitHub, GitLab and Bitbucket repositories through
one registry.

Register repositories once, then list their trees, read files and list
branches without caring which provider hosts them. Provider credentials are
kept encrypted in the configured storage backend.`),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if _, err := report.ParseFormat(g.format); err != nil {
				return err
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "Path to config file (default: "+shortDefaultPath()+" if present)")
	cmd.PersistentFlags().StringVar(&g.owner, "owner", "", "Owner id to act as (default: owner_id or the OS user)")
	cmd.PersistentFlags().BoolVarP(&g.verbose, "verbose", "v", false, "Enable verbose (info) logging")
	cmd.PersistentFlags().BoolVar(&g.debug, "debug", false, "Enable debug logging (overrides --verbose)")
	cmd.PersistentFlags().StringVarP(&g.format, "format", "f", "console", "Output format: console|json")
	cmd.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable ANSI colors (console format)")
	cmd.PersistentFlags().BoolVar(&g.jsonIndent, "json-indent", false, "Pretty-print JSON output")
	cmd.PersistentFlags().DurationVar(&g.timeout, "timeout", 2*time.Minute, "Timeout for the whole command")
	cmd.Version = version

	cmd.AddCommand(newReposCmd(g))
	cmd.AddCommand(newTreeCmd(g))
	cmd.AddCommand(newCatCmd(g))
	cmd.AddCommand(newBranchesCmd(g))
	cmd.AddCommand(newCredentialsCmd(g))
	cmd.AddCommand(newVersionCmd(g))

	return cmd
}

// newVersionCmd prints version info (simple helper).
func newVersionCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(g.stdout, "Repository Gateway version: %s\n", version)
		},
	}
}

func shortDefaultPath() string {
	return "$XDG_CONFIG_HOME/repogateway/config.yaml"
}

// invoke builds the container for one command, runs fn through it and
// releases every resource opened along the way.
func (g *globals) invoke(cmd *cobra.Command, fn any) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), g.timeout)
	defer cancel()

	cl := &cleanup{}
	defer cl.run()

	container, err := newContainer(ctx, g, cl)
	if err != nil {
		return err
	}
	if err := container.Invoke(fn); err != nil {
		// Providers' errors come back wrapped in dig's construction path.
		return dig.RootCause(err)
	}
	return container.Invoke(logMetrics)
}

func logMetrics(ctx context.Context, tel *telemetry, logger *slog.Logger) error {
	if !logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	var rm metricdata.ResourceMetrics
	if err := tel.reader.Collect(ctx, &rm); err != nil {
		logger.Debug("Failed to collect metrics", "error", err)
		return nil
	}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			logger.Debug("Command metric", "name", m.Name, "value", total)
		}
	}
	return nil
}

// ownerID resolves the caller through the identity chain.
func (a *app) ownerID(ctx context.Context) (string, error) {
	id, err := a.Identity.OwnerID(ctx)
	if errors.Is(err, identity.ErrNoIdentity) {
		return "", errors.New("no owner id: pass --owner or set owner_id in the config file")
	}
	return id, err
}

// render writes data as a JSON envelope or through the console formatter.
func (g *globals) render(kind string, data any, errs map[string]string, console func(*consolefmt.ConsoleFormatter, io.Writer) error) error {
	format, err := report.ParseFormat(g.format)
	if err != nil {
		return err
	}
	if format == report.FormatJSON {
		env := report.NewEnvelope(version, kind, data)
		env.Errors = errs
		return report.WriteJSON(g.stdout, env, g.jsonIndent)
	}
	formatter := consolefmt.NewConsoleFormatter()
	formatter.EnableColors = !g.noColor
	if err := console(formatter, g.stdout); err != nil {
		return fmt.Errorf("failed to render console output: %w", err)
	}
	return nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid repository id %q", s)
	}
	return id, nil
}
