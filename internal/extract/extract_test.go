package extract

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alecgard/copilot-stats/internal/classify"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        string
		want        string // "parsed", "malformed", "na"
	}{
		{"no body", "application/json", "", "na"},
		{"plain text", "text/plain", `{"model":"x"}`, "na"},
		{"no content type", "", `{"model":"x"}`, "na"},
		{"json", "application/json", `{"model":"x"}`, "parsed"},
		{"json with charset", "application/json; charset=utf-8", `{"model":"x"}`, "parsed"},
		{"invalid json", "application/json", `{"model":`, "malformed"},
		{"array body", "application/json", `[1,2]`, "malformed"},
		{"null body", "application/json", `null`, "malformed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := Parse(tt.contentType, []byte(tt.body))
			var got string
			switch r.(type) {
			case Parsed:
				got = "parsed"
			case Malformed:
				got = "malformed"
			case NotApplicable:
				got = "na"
			}
			if got != tt.want {
				t.Errorf("Parse() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Info
	}{
		{
			"messages",
			`{"model":"claude-opus-4.5","messages":[{"role":"user","content":"hi"}]}`,
			Info{Model: "claude-opus-4.5", Kind: classify.KindPrompt},
		},
		{
			"input fallback",
			`{"model":"gpt-5-mini","input":[{"role":"assistant","content":"..."}]}`,
			Info{Model: "gpt-5-mini", Kind: classify.KindContinuation},
		},
		{
			"messages preferred over input",
			`{"model":"m","messages":[{"role":"tool","content":"x"}],"input":[{"role":"user","content":"x"}]}`,
			Info{Model: "m", Kind: classify.KindTool},
		},
		{
			"null messages falls back to input",
			`{"model":"m","messages":null,"input":[{"role":"user","content":"x"}]}`,
			Info{Model: "m", Kind: classify.KindPrompt},
		},
		{
			"empty messages keeps model",
			`{"model":"m","messages":[]}`,
			Info{Model: "m", Kind: classify.KindUnknown},
		},
		{
			"missing model",
			`{"messages":[{"role":"user","content":"x"}]}`,
			Info{Model: UnknownModel, Kind: classify.KindPrompt},
		},
		{
			"non-string model",
			`{"model":42,"messages":[{"role":"user","content":"x"}]}`,
			Info{Model: UnknownModel, Kind: classify.KindPrompt},
		},
		{
			"string input is not a history",
			`{"model":"m","input":"hello"}`,
			Info{Model: "m", Kind: classify.KindUnknown},
		},
		{
			"non-object history entries before the last",
			`{"model":"gpt-4o","messages":["sys",42,{"role":"user","content":"hi"}]}`,
			Info{Model: "gpt-4o", Kind: classify.KindPrompt},
		},
		{
			"non-object last entry",
			`{"model":"m","messages":[{"role":"user","content":"hi"},"tail"]}`,
			Info{Model: "m", Kind: classify.KindUnknown},
		},
		{
			"no list at all",
			`{"model":"m"}`,
			Info{Model: "m", Kind: classify.KindUnknown},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Resolve(Parse("application/json", []byte(tt.body)))
			if got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestResolveDefaults(t *testing.T) {
	if got := Resolve(NotApplicable{}); got != DefaultInfo() {
		t.Errorf("expected default info, got %+v", got)
	}
	if got := Resolve(Malformed{Err: errors.New("x")}); got != DefaultInfo() {
		t.Errorf("expected default info, got %+v", got)
	}
}

func TestFromRequestLeavesBodyIntact(t *testing.T) {
	body := `{"model":"claude-opus-4.5","messages":[{"role":"user","content":"hi"}]}`

	t.Run("with GetBody", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, "https://api.github.com/chat", strings.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Content-Type", "application/json")

		info, out, err := FromRequest(req, 0)
		if err != nil {
			t.Fatalf("FromRequest: %v", err)
		}
		if info.Model != "claude-opus-4.5" || info.Kind != classify.KindPrompt {
			t.Errorf("unexpected info: %+v", info)
		}
		if out != req {
			t.Error("expected the original request to be forwarded when GetBody is set")
		}
		got, _ := io.ReadAll(req.Body)
		if string(got) != body {
			t.Errorf("body was altered: %s", got)
		}
	})

	t.Run("without GetBody", func(t *testing.T) {
		orig := io.NopCloser(strings.NewReader(body))
		req := httptest.NewRequest(http.MethodPost, "https://api.github.com/chat", nil)
		req.Body = orig
		req.GetBody = nil
		req.Header.Set("Content-Type", "application/json")

		info, out, err := FromRequest(req, 0)
		if err != nil {
			t.Fatalf("FromRequest: %v", err)
		}
		if info.Kind != classify.KindPrompt {
			t.Errorf("unexpected info: %+v", info)
		}
		if req.Body != orig || req.GetBody != nil {
			t.Fatal("the caller's request must not be modified")
		}
		if out == req {
			t.Fatal("expected a clone to forward")
		}
		got, _ := io.ReadAll(out.Body)
		if string(got) != body {
			t.Errorf("forwarded body = %s", got)
		}
		if out.GetBody == nil {
			t.Fatal("expected GetBody on the clone")
		}
		again, _ := out.GetBody()
		replay, _ := io.ReadAll(again)
		if string(replay) != body {
			t.Errorf("GetBody returned %s", replay)
		}
	})
}

func TestFromRequestOversizedBody(t *testing.T) {
	body := `{"model":"claude-opus-4.5","messages":[{"role":"user","content":"` + strings.Repeat("x", 64) + `"}]}`

	t.Run("with GetBody", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "https://api.github.com/chat", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")

		info, out, err := FromRequest(req, 16)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if info != DefaultInfo() {
			t.Errorf("expected default info, got %+v", info)
		}
		if out != req {
			t.Error("expected the original request")
		}
	})

	t.Run("without GetBody", func(t *testing.T) {
		orig := io.NopCloser(strings.NewReader(body))
		req := httptest.NewRequest(http.MethodPost, "https://api.github.com/chat", nil)
		req.Body = orig
		req.GetBody = nil
		req.Header.Set("Content-Type", "application/json")

		info, out, err := FromRequest(req, 16)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if info != DefaultInfo() {
			t.Errorf("expected default info, got %+v", info)
		}
		if req.Body != orig {
			t.Error("the caller's request must not be modified")
		}
		if out.GetBody != nil {
			t.Error("an oversized body should not be buffered for replay")
		}
		got, _ := io.ReadAll(out.Body)
		if string(got) != body {
			t.Errorf("forwarded body = %s", got)
		}
	})
}

func TestFromRequestNonJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "https://api.github.com/user", nil)
	info, out, err := FromRequest(req, 0)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if info != DefaultInfo() {
		t.Errorf("expected default info, got %+v", info)
	}
	if out != req {
		t.Error("expected the original request")
	}
}

func TestFromRequestMalformed(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPost, "https://api.github.com/chat", bytes.NewReader([]byte("{not json")))
	req.Header.Set("Content-Type", "application/json")

	info, out, err := FromRequest(req, 0)
	if err == nil {
		t.Fatal("expected parse error")
	}
	if info != DefaultInfo() {
		t.Errorf("expected default info, got %+v", info)
	}
	got, _ := io.ReadAll(out.Body)
	if string(got) != "{not json" {
		t.Errorf("body was altered: %s", got)
	}
}

type failingReader struct {
	data []byte
	read bool
}

func (f *failingReader) Read(p []byte) (int, error) {
	if !f.read {
		f.read = true
		return copy(p, f.data), nil
	}
	return 0, errors.New("connection reset")
}

func TestFromRequestReadFailurePreservesStream(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "https://api.github.com/chat", nil)
	req.Body = io.NopCloser(&failingReader{data: []byte(`{"mo`)})
	req.GetBody = nil
	req.Header.Set("Content-Type", "application/json")

	_, out, err := FromRequest(req, 0)
	if err == nil {
		t.Fatal("expected read error")
	}

	got, err := io.ReadAll(out.Body)
	if err == nil {
		t.Fatal("expected the transport to observe the original read error")
	}
	if string(got) != `{"mo` {
		t.Errorf("expected consumed prefix to be replayed, got %q", got)
	}
}
