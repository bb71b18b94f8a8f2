package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alecgard/copilot-stats/internal/auditlog"
	"github.com/alecgard/copilot-stats/internal/classify"
	"github.com/alecgard/copilot-stats/internal/metering"
	"github.com/alecgard/copilot-stats/internal/pricing"
)

func writeLog(t *testing.T) string {
	t.Helper()
	ledger := metering.NewLedger(pricing.Default())
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.Local)

	lines := []string{
		auditlog.FormatCall(ts, "aaaa1111", ledger.Record("claude-opus-4.5", "user", classify.KindPrompt)),
		auditlog.FormatCall(ts, "aaaa1111", ledger.Record("claude-opus-4.5", "agent", classify.KindTool)),
		auditlog.FormatError(ts, "aaaa1111", "missing initiator header x-initiator"),
		auditlog.FormatCall(ts, "bbbb2222", ledger.Record("gpt-4.1", "user", classify.KindPrompt)),
	}
	path := filepath.Join(t.TempDir(), "copilot-stats.txt")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func runCLI(t *testing.T, args ...string) string {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	reportFlags = struct {
		instance  string
		logFile   string
		instances bool
		json      bool
	}{}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("execute %v: %v", args, err)
	}
	return out.String()
}

func TestReportJSON(t *testing.T) {
	path := writeLog(t)
	out := runCLI(t, "report", "--log-file", path, "--json")

	var got reportJSON
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding output: %v\n%s", err, out)
	}
	if got.Stats.Calls != 3 || got.Stats.Errors != 1 {
		t.Errorf("unexpected stats: %+v", got.Stats)
	}
	if got.Summary.TotalCount != 3 {
		t.Errorf("expected 3 calls, got %d", got.Summary.TotalCount)
	}
	if got.Summary.TotalCost != 3 {
		t.Errorf("expected total cost 3, got %v", got.Summary.TotalCost)
	}
}

func TestReportInstanceFilter(t *testing.T) {
	path := writeLog(t)
	out := runCLI(t, "report", "--log-file", path, "--instance", "bbbb2222", "--json")

	var got reportJSON
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("decoding output: %v", err)
	}
	if got.Summary.TotalCount != 1 || got.Stats.Skipped != 3 {
		t.Errorf("unexpected filtered result: %+v %+v", got.Summary, got.Stats)
	}
}

func TestReportInstances(t *testing.T) {
	path := writeLog(t)
	out := runCLI(t, "report", "--log-file", path, "--instances")

	if got := strings.Fields(out); len(got) != 2 || got[0] != "aaaa1111" || got[1] != "bbbb2222" {
		t.Errorf("unexpected instances: %q", out)
	}
}

func TestReportTable(t *testing.T) {
	path := writeLog(t)
	out := runCLI(t, "report", "--log-file", path)

	for _, want := range []string{"Copilot premium requests", "claude-opus-4.5", "gpt-4.1", "3 calls, 1 diagnostics"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
}

func TestReportMissingLog(t *testing.T) {
	out := runCLI(t, "report", "--log-file", filepath.Join(t.TempDir(), "absent.txt"))
	if !strings.Contains(out, metering.EmptyReport) {
		t.Errorf("expected empty report, got:\n%s", out)
	}
}

func TestVersion(t *testing.T) {
	out := runCLI(t, "version")
	if strings.TrimSpace(out) != "copilot-stats v"+version {
		t.Errorf("unexpected version output %q", out)
	}
}
