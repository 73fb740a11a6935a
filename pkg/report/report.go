// Package report renders gateway results for the CLI, either as terminal
// tables (see the format subpackage) or as a JSON envelope.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/greg-hellings/repogateway/pkg/gateway"
)

// Format selects the output rendering.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// ParseFormat accepts console (or table) and json.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "console", "table":
		return FormatConsole, nil
	case "json":
		return FormatJSON, nil
	}
	return "", fmt.Errorf("unsupported format: %s", s)
}

// Envelope is the structured JSON shape the CLI emits.
type Envelope struct {
	Version     string            `json:"cliVersion"`
	GeneratedAt time.Time         `json:"generatedAt"`
	Kind        string            `json:"kind"`
	Data        any               `json:"data"`
	Errors      map[string]string `json:"errors,omitempty"`
}

// NewEnvelope wraps data with the CLI version and the current time.
func NewEnvelope(version, kind string, data any) Envelope {
	return Envelope{Version: version, GeneratedAt: time.Now().UTC(), Kind: kind, Data: data}
}

// WriteJSON marshals env followed by a newline.
func WriteJSON(w io.Writer, env Envelope, indent bool) error {
	var (
		data []byte
		err  error
	)
	if indent {
		data, err = json.MarshalIndent(env, "", "  ")
	} else {
		data, err = json.Marshal(env)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write JSON: %w", err)
	}
	return nil
}

// DiscoveryErrors collects per-provider failures keyed by provider.
func DiscoveryErrors(results []gateway.Discovery) map[string]string {
	var out map[string]string
	for _, r := range results {
		if r.Err == nil {
			continue
		}
		if out == nil {
			out = make(map[string]string)
		}
		out[string(r.Provider)] = r.Err.Error()
	}
	return out
}

// BranchErrors reports why a fallback list was returned.
func BranchErrors(list *gateway.BranchList) map[string]string {
	if list == nil || !list.Fallback || list.Cause == nil {
		return nil
	}
	return map[string]string{"branches": list.Cause.Error()}
}
