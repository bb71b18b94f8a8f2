// Package classify decides why a chat completion request was issued.
package classify

import (
	"encoding/json"
	"strings"
)

// Kind describes what triggered a request, independent of the model serving it.
type Kind string

const (
	KindPrompt       Kind = "prompt"
	KindTool         Kind = "tool"
	KindContinuation Kind = "continuation"
	KindCompaction   Kind = "compaction"
	KindUnknown      Kind = "unknown"
)

// CompactionMarker is the phrase the host puts in the summarization request it
// issues when compacting a conversation.
const CompactionMarker = "Provide a detailed prompt for continuing our conversation above"

// Kinds lists every Kind in a stable order.
var Kinds = []Kind{KindPrompt, KindTool, KindContinuation, KindCompaction, KindUnknown}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Message is one entry of a request's message history. Role is empty when the
// field is absent or not a string.
type Message struct {
	Role string
	Text string
}

type part struct {
	Text string `json:"text"`
}

// UnmarshalJSON accepts content as a single string or as an array of parts.
// Fields with unexpected types are treated as absent rather than failing the
// whole message.
func (m *Message) UnmarshalJSON(data []byte) error {
	var raw struct {
		Role    json.RawMessage `json:"role"`
		Content json.RawMessage `json:"content"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	m.Role = ""
	m.Text = ""
	if len(raw.Role) > 0 {
		_ = json.Unmarshal(raw.Role, &m.Role)
	}
	if len(raw.Content) == 0 {
		return nil
	}

	var s string
	if err := json.Unmarshal(raw.Content, &s); err == nil {
		m.Text = s
		return nil
	}

	var parts []json.RawMessage
	if err := json.Unmarshal(raw.Content, &parts); err != nil {
		return nil
	}
	var b strings.Builder
	for _, p := range parts {
		var pt part
		if err := json.Unmarshal(p, &pt); err == nil {
			b.WriteString(pt.Text)
		}
	}
	m.Text = b.String()
	return nil
}

// Classify returns the Kind of a request from its message history. Only the
// last message is inspected.
func Classify(messages []Message) Kind {
	if len(messages) == 0 {
		return KindUnknown
	}

	last := messages[len(messages)-1]
	switch last.Role {
	case "":
		return KindUnknown
	case "user":
		if strings.Contains(last.Text, CompactionMarker) {
			return KindCompaction
		}
		return KindPrompt
	case "tool", "tool_result":
		return KindTool
	case "assistant":
		return KindContinuation
	default:
		return KindUnknown
	}
}
