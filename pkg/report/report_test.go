package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"github.com/greg-hellings/repogateway/pkg/gateway"
	"github.com/greg-hellings/repogateway/pkg/repository"
)

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatConsole, "Console": FormatConsole, "table": FormatConsole, "JSON": FormatJSON} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseFormat("xml"); err == nil {
		t.Error("Expected an error for xml")
	}
}

func TestWriteJSONEnvelope(t *testing.T) {
	results := []gateway.Discovery{
		{Provider: repository.ProviderGitHub, Repositories: []repository.RepoSummary{{Owner: "o", Name: "r"}}},
		{Provider: repository.ProviderGitLab, Err: errors.New("gitlab: list repositories: auth")},
	}
	env := NewEnvelope("1.0.0", "discovery", results)
	env.Errors = DiscoveryErrors(results)

	var buf bytes.Buffer
	if err := WriteJSON(&buf, env, true); err != nil {
		t.Fatalf("WriteJSON returned error: %v", err)
	}

	var decoded struct {
		Version string            `json:"cliVersion"`
		Kind    string            `json:"kind"`
		Data    []json.RawMessage `json:"data"`
		Errors  map[string]string `json:"errors"`
	}
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, buf.String())
	}
	if decoded.Version != "1.0.0" || decoded.Kind != "discovery" || len(decoded.Data) != 2 {
		t.Errorf("Unexpected envelope: %+v", decoded)
	}
	if decoded.Errors["gitlab"] == "" || decoded.Errors["github"] != "" {
		t.Errorf("Unexpected errors map: %v", decoded.Errors)
	}
}

func TestBranchErrors(t *testing.T) {
	if BranchErrors(&gateway.BranchList{Names: []string{"main"}}) != nil {
		t.Error("Expected no errors for a real branch list")
	}
	got := BranchErrors(&gateway.BranchList{Fallback: true, Cause: errors.New("network")})
	if got["branches"] != "network" {
		t.Errorf("Expected the fallback cause, got %v", got)
	}
}
