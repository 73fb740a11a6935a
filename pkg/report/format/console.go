// Package format renders gateway results as terminal tables. Column widths
// adapt to the console and long cells are truncated with an ellipsis.
package format

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/greg-hellings/repogateway/pkg/gateway"
	"github.com/greg-hellings/repogateway/pkg/registry"
	"github.com/greg-hellings/repogateway/pkg/repository"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"golang.org/x/term"
)

// ConsoleFormatter renders gateway views as rounded tables.
type ConsoleFormatter struct {
	// MaxColWidth caps every column. If 0, a width is derived from the
	// terminal; if the terminal width is unknown columns are unconstrained.
	MaxColWidth int

	// EnableColors toggles ANSI color output for status cells.
	EnableColors bool

	// width overrides terminal detection; used by tests.
	width int
}

// NewConsoleFormatter creates a formatter with colors enabled.
func NewConsoleFormatter() *ConsoleFormatter {
	return &ConsoleFormatter{EnableColors: true}
}

// CredentialStatus is one row of the credentials listing.
type CredentialStatus struct {
	Provider   repository.Provider `json:"provider"`
	Configured bool                `json:"configured"`
	Source     string              `json:"source,omitempty"`
}

// RenderRepositories writes one row per registered repository.
func (f *ConsoleFormatter) RenderRepositories(repos []registry.Repository, w io.Writer) error {
	tw := f.newTable(w, 6)
	tw.AppendHeader(table.Row{"ID", "Provider", "Repository", "Default Branch", "Languages", "Updated"})
	for _, r := range repos {
		tw.AppendRow(table.Row{
			r.ID,
			r.Provider,
			r.FullName(),
			f.orDash(r.DefaultBranch),
			f.orDash(strings.Join(r.Languages, ", ")),
			r.UpdatedAt.Format("2006-01-02 15:04"),
		})
	}
	tw.Render()
	_, err := fmt.Fprintf(w, "\n%d repositories\n", len(repos))
	return err
}

// RenderRepository writes the fields of a single repository as key/value rows.
func (f *ConsoleFormatter) RenderRepository(r *registry.Repository, w io.Writer) error {
	if r == nil {
		return fmt.Errorf("nil repository")
	}
	tw := f.newTable(w, 2)
	rows := []table.Row{
		{"ID", r.ID},
		{"Provider", r.Provider},
		{"Repository", r.FullName()},
		{"URL", r.URL},
		{"External ID", f.orDash(r.ExternalID)},
		{"Description", f.orDash(r.Description)},
		{"Default Branch", f.orDash(r.DefaultBranch)},
		{"Languages", f.orDash(strings.Join(r.Languages, ", "))},
		{"Web URL", f.orDash(r.HTMLURL)},
		{"Created", r.CreatedAt.Format("2006-01-02 15:04:05")},
		{"Updated", r.UpdatedAt.Format("2006-01-02 15:04:05")},
	}
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

// RenderTree writes a directory listing in the order given.
func (f *ConsoleFormatter) RenderTree(nodes []repository.FileNode, w io.Writer) error {
	tw := f.newTable(w, 3)
	tw.AppendHeader(table.Row{"Type", "Name", "Size"})
	for _, n := range nodes {
		kind, size := "file", strconv.FormatInt(n.Size, 10)
		name := n.Name
		if n.IsDir() {
			kind, size = "dir", ""
			name = f.color(name+"/", text.FgBlue)
		}
		tw.AppendRow(table.Row{kind, name, size})
	}
	tw.Render()
	return nil
}

// RenderBranches writes branch names and flags a fallback list.
func (f *ConsoleFormatter) RenderBranches(list *gateway.BranchList, w io.Writer) error {
	if list == nil {
		return fmt.Errorf("nil branch list")
	}
	for _, name := range list.Names {
		if _, err := fmt.Fprintln(w, name); err != nil {
			return fmt.Errorf("failed writing branch line: %w", err)
		}
	}
	if list.Fallback {
		msg := "note: provider unavailable, showing default branch names"
		if list.Cause != nil {
			msg += " (" + list.Cause.Error() + ")"
		}
		if _, err := fmt.Fprintln(w, f.color(msg, text.FgYellow)); err != nil {
			return fmt.Errorf("failed writing fallback note: %w", err)
		}
	}
	return nil
}

// RenderDiscovery writes the repositories each provider reported followed by
// a summary and any per-provider errors.
func (f *ConsoleFormatter) RenderDiscovery(results []gateway.Discovery, w io.Writer) error {
	tw := f.newTable(w, 5)
	tw.AppendHeader(table.Row{"Provider", "Repository", "Visibility", "Default Branch", "Description"})
	total, failed := 0, 0
	for _, res := range results {
		if res.Err != nil {
			failed++
			tw.AppendRow(table.Row{res.Provider, f.color("ERROR", text.FgRed), "", "", ""})
			continue
		}
		for _, r := range res.Repositories {
			total++
			visibility := "public"
			if r.Private {
				visibility = "private"
			}
			full := r.FullName
			if full == "" {
				full = r.Owner + "/" + r.Name
			}
			tw.AppendRow(table.Row{res.Provider, full, visibility, f.orDash(r.DefaultBranch), f.orDash(r.Description)})
		}
	}
	tw.Render()

	if _, err := fmt.Fprintf(w, "\nSummary:\n  Providers queried: %d (%d failed)\n  Repositories found: %d\n", len(results), failed, total); err != nil {
		return fmt.Errorf("failed writing summary: %w", err)
	}
	if failed == 0 {
		return nil
	}
	if _, err := fmt.Fprintf(w, "\nErrors:\n"); err != nil {
		return fmt.Errorf("failed writing errors header: %w", err)
	}
	for _, res := range results {
		if res.Err == nil {
			continue
		}
		if _, err := fmt.Fprintf(w, "  %-12s %v\n", res.Provider, res.Err); err != nil {
			return fmt.Errorf("failed writing error line for %s: %w", res.Provider, err)
		}
	}
	return nil
}

// RenderCredentials writes which providers have a credential available.
func (f *ConsoleFormatter) RenderCredentials(rows []CredentialStatus, w io.Writer) error {
	tw := f.newTable(w, 3)
	tw.AppendHeader(table.Row{"Provider", "Configured", "Source"})
	for _, r := range rows {
		status := f.color("no", text.FgHiBlack)
		if r.Configured {
			status = f.color("yes", text.FgGreen)
		}
		tw.AppendRow(table.Row{r.Provider, status, f.orDash(r.Source)})
	}
	tw.Render()
	return nil
}

func (f *ConsoleFormatter) newTable(w io.Writer, columns int) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleRounded)
	tw.Style().Options.SeparateRows = false
	tw.Style().Options.SeparateColumns = false
	tw.Style().Options.DrawBorder = true
	if configs := f.buildColumnConfig(w, columns); len(configs) > 0 {
		tw.SetColumnConfigs(configs)
	}
	return tw
}

// buildColumnConfig spreads the terminal width evenly across columns.
func (f *ConsoleFormatter) buildColumnConfig(w io.Writer, columns int) []table.ColumnConfig {
	if columns <= 0 {
		return nil
	}
	per := f.MaxColWidth
	if per <= 0 {
		termWidth := f.width
		if termWidth <= 0 {
			termWidth = detectTerminalWidth(w)
		}
		if termWidth <= 0 {
			return nil
		}
		if termWidth < 60 {
			termWidth = 60
		}
		per = (termWidth - 3*columns - 1) / columns
		if per < 8 {
			per = 8
		}
	}

	configs := make([]table.ColumnConfig, 0, columns)
	for i := 1; i <= columns; i++ {
		configs = append(configs, table.ColumnConfig{
			Number:      i,
			WidthMax:    per,
			WidthMin:    minInt(5, per),
			Transformer: truncTransformer(per),
		})
	}
	return configs
}

// detectTerminalWidth attempts to get terminal width if writer is a file (stdout/stderr).
func detectTerminalWidth(w io.Writer) int {
	if f, ok := w.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			return width
		}
	}
	return -1
}

// truncTransformer returns a text.Transformer to ellipsize overly wide cells.
func truncTransformer(max int) text.Transformer {
	return func(val interface{}) string {
		s := fmt.Sprint(val)
		if runeLen := utf8.RuneCountInString(s); runeLen > max {
			if max <= 1 {
				return "…"
			}
			return truncateRunes(s, max)
		}
		return s
	}
}

// truncateRunes truncates a string to (max) runes with ellipsis.
func truncateRunes(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	var b strings.Builder
	count := 0
	for _, r := range s {
		if count >= max-1 {
			break
		}
		b.WriteRune(r)
		count++
	}
	b.WriteRune('…')
	return b.String()
}

func (f *ConsoleFormatter) orDash(s string) string {
	if s == "" {
		return f.color("—", text.FgHiBlack)
	}
	return s
}

func (f *ConsoleFormatter) color(s string, c text.Color) string {
	if !f.EnableColors {
		return s
	}
	return text.Colors{c}.Sprint(s)
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
