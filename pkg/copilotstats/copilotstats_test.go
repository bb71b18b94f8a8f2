package copilotstats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alecgard/copilot-stats/internal/config"
)

type recordingSink struct {
	mu      sync.Mutex
	entries []Entry
}

func (s *recordingSink) Log(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *recordingSink) Messages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for _, e := range s.entries {
		out = append(out, e.Message)
	}
	return out
}

func newTestPlugin(t *testing.T) (*Plugin, string) {
	t.Helper()
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "log", "copilot-stats.txt")
	cfg.Hosts = append(cfg.Hosts, "127.0.0.1")
	cfg.Audit.HostRate = 0

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p, cfg.LogFile
}

func newUpstream(t *testing.T) (*httptest.Server, *[]string) {
	t.Helper()
	var mu sync.Mutex
	var bodies []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(b))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies
}

func post(t *testing.T, client *http.Client, url, initiator, body string) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if initiator != "" {
		req.Header.Set("x-initiator", initiator)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	_ = resp.Body.Close()
}

func TestPluginEndToEnd(t *testing.T) {
	p, logFile := newTestPlugin(t)
	upstream, bodies := newUpstream(t)
	host := &recordingSink{}
	tools := p.Init(host)

	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}

	body := `{"model":"claude-opus-4.5","messages":[{"role":"user","content":"hi"}]}`
	post(t, p.Client(), upstream.URL+"/chat/completions", "user", body)
	post(t, p.Client(), upstream.URL+"/chat/completions", "agent",
		`{"model":"claude-opus-4.5","messages":[{"role":"tool","content":"done"}]}`)

	if len(*bodies) != 2 || (*bodies)[0] != body {
		t.Fatalf("upstream did not receive the original body: %v", *bodies)
	}

	s := p.Snapshot()
	if s.TotalCount != 2 || s.TotalCost != 3 {
		t.Errorf("unexpected snapshot: %+v", s)
	}

	out, err := p.Execute(context.Background(), "copilot_stats")
	if err != nil {
		t.Fatal(err)
	}
	if out != p.Render() || !strings.Contains(out, "claude-opus-4.5") {
		t.Errorf("unexpected tool output:\n%s", out)
	}

	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("reading audit log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 audit lines, got %d:\n%s", len(lines), data)
	}
	if !strings.Contains(lines[0], "| "+p.InstanceID()+" | claude-opus-4.5") ||
		!strings.Contains(lines[0], "| prompt ") ||
		!strings.HasSuffix(lines[0], "total   3.00") {
		t.Errorf("unexpected first audit line: %q", lines[0])
	}
	if len(host.Messages()) != 0 {
		t.Errorf("no diagnostics expected, got %v", host.Messages())
	}
}

func TestPluginPreInitDiagnostics(t *testing.T) {
	p, logFile := newTestPlugin(t)
	upstream, _ := newUpstream(t)

	// Missing initiator before the host has initialized the plugin.
	post(t, p.Client(), upstream.URL+"/chat", "", `{"model":"gpt-4o"}`)

	if p.Snapshot().TotalCount != 0 {
		t.Error("call without initiator must not be counted")
	}

	host := &recordingSink{}
	p.Init(host)
	if err := p.Close(); err != nil {
		t.Fatal(err)
	}

	msgs := host.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0], "x-initiator") {
		t.Errorf("expected queued missing initiator diagnostic, got %v", msgs)
	}

	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "| ERROR | ") {
		t.Errorf("expected error line in audit log, got %q", data)
	}
}

func TestPluginOutOfScope(t *testing.T) {
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "stats.txt")
	p, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	upstream, bodies := newUpstream(t)
	post(t, p.Client(), upstream.URL, "user", `{"model":"gpt-4o"}`)

	if len(*bodies) != 1 {
		t.Fatal("out-of-scope call must be forwarded")
	}
	if p.Snapshot().TotalCount != 0 {
		t.Error("out-of-scope call must not be counted")
	}
	if p.Render() != "No Copilot requests recorded yet." {
		t.Errorf("unexpected report %q", p.Render())
	}
}

func TestPluginHandler(t *testing.T) {
	p, _ := newTestPlugin(t)
	upstream, _ := newUpstream(t)
	p.Init(HostSinkFunc(func(context.Context, Entry) error { return nil }))

	post(t, p.Client(), upstream.URL, "user", `{"model":"claude-opus-4.5","messages":[{"role":"assistant","content":"x"}]}`)

	admin := httptest.NewServer(p.Handler())
	defer admin.Close()

	resp, err := http.Post(admin.URL+"/api/v1/tools/copilot_stats_json", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var s Summary
	if err := json.NewDecoder(resp.Body).Decode(&s); err != nil {
		t.Fatal(err)
	}
	if len(s.Rows) != 1 || s.Rows[0].Kind != "continuation" || s.TotalCost != 3 {
		t.Errorf("unexpected summary: %+v", s)
	}

	health, err := http.Get(admin.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer health.Body.Close()
	b, _ := io.ReadAll(health.Body)
	if !strings.Contains(string(b), `"host_sink":"ready"`) {
		t.Errorf("unexpected health body %s", b)
	}
}

func TestPluginHostSinkFailureStaysInFile(t *testing.T) {
	p, logFile := newTestPlugin(t)
	upstream, _ := newUpstream(t)
	p.Init(HostSinkFunc(func(context.Context, Entry) error { return errors.New("host log unavailable") }))

	post(t, p.Client(), upstream.URL, "", `{}`)
	p.Close()

	// Host dispatch runs in the background; Close waited for it.
	deadline := time.Now().Add(2 * time.Second)
	for {
		data, _ := os.ReadFile(logFile)
		if strings.Contains(string(data), "host log unavailable") {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected host sink failure in audit log, got %q", data)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Multipliers = map[string]float64{"m": -1}
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for negative multiplier")
	}
}

func TestInstanceID(t *testing.T) {
	id := newInstanceID()
	if len(id) != 8 || strings.Trim(id, "0123456789abcdef") != "" {
		t.Errorf("unexpected instance id %q", id)
	}
	if newInstanceID() == id {
		t.Error("instance ids should differ")
	}
}

func TestPluginForwardsEveryDiagnosticByDefault(t *testing.T) {
	p, _ := newTestPlugin(t)
	upstream, _ := newUpstream(t)
	host := &recordingSink{}
	p.Init(host)

	for i := 0; i < 25; i++ {
		post(t, p.Client(), upstream.URL, "", `{}`)
	}
	p.Close()

	if got := len(host.Messages()); got != 25 {
		t.Errorf("expected 25 host entries, got %d", got)
	}
}

func TestPluginCloseReportsSuppressed(t *testing.T) {
	cfg := config.Default()
	cfg.LogFile = filepath.Join(t.TempDir(), "copilot-stats.txt")
	cfg.Hosts = append(cfg.Hosts, "127.0.0.1")
	cfg.Audit.HostRate = 10
	cfg.Audit.HostWindow = time.Hour

	p, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	upstream, _ := newUpstream(t)
	host := &recordingSink{}
	p.Init(host)

	for i := 0; i < 25; i++ {
		post(t, p.Client(), upstream.URL, "", `{}`)
	}
	p.Close()

	msgs := host.Messages()
	if len(msgs) != 11 {
		t.Fatalf("expected 10 entries and a summary, got %d: %v", len(msgs), msgs)
	}
	// Host dispatch is concurrent, so the summary may land anywhere.
	found := false
	for _, m := range msgs {
		if m == "15 missing_initiator diagnostics suppressed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a suppressed summary, got %v", msgs)
	}
}

func TestPluginMetricsWithInvalidUTF8Initiator(t *testing.T) {
	p, _ := newTestPlugin(t)
	upstream, _ := newUpstream(t)

	post(t, p.Client(), upstream.URL+"/chat", "us\xffer", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)
	if p.Snapshot().TotalCount != 1 {
		t.Fatalf("expected the call to be recorded")
	}

	rec := httptest.NewRecorder()
	p.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "copilot_stats_ledger_requests{") {
		t.Errorf("expected ledger rows in exposition")
	}
}

func TestPluginMetersAfterClose(t *testing.T) {
	p, logFile := newTestPlugin(t)
	upstream, bodies := newUpstream(t)
	p.Close()

	post(t, p.Client(), upstream.URL+"/chat", "user", `{"model":"gpt-4o","messages":[{"role":"user","content":"hi"}]}`)

	if len(*bodies) != 1 {
		t.Fatalf("expected the call to be forwarded after Close")
	}
	data, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "gpt-4o") {
		t.Errorf("expected the audit line to be written synchronously, got %q", data)
	}
}
