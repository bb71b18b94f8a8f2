// Package extract reads the model and request kind out of an outbound request
// body without consuming it.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"

	"github.com/alecgard/copilot-stats/internal/classify"
)

// UnknownModel is reported when the body carries no usable model field.
const UnknownModel = "unknown"

// DefaultMaxBodyBytes caps how much of a request body is read for inspection.
const DefaultMaxBodyBytes int64 = 8 << 20

// Info is what the extractor learned about a request.
type Info struct {
	Model string
	Kind  classify.Kind
}

// DefaultInfo is returned whenever the body cannot tell us anything.
func DefaultInfo() Info {
	return Info{Model: UnknownModel, Kind: classify.KindUnknown}
}

// Result is the outcome of parsing a request body. It is one of Parsed,
// Malformed or NotApplicable.
type Result interface {
	result()
}

// Parsed is a JSON object body. Model is empty when the field is missing or
// not a string.
type Parsed struct {
	Model string
	// Messages holds the final history entry only. Earlier entries are not
	// decoded, so their shape cannot affect classification.
	Messages []classify.Message
}

// Malformed is a body that claims to be JSON but does not decode as an object.
type Malformed struct {
	Err error
}

// NotApplicable is a request with no body or a non-JSON body.
type NotApplicable struct{}

func (Parsed) result()        {}
func (Malformed) result()     {}
func (NotApplicable) result() {}

// Parse decodes body according to contentType.
func Parse(contentType string, body []byte) Result {
	if len(body) == 0 || !isJSON(contentType) {
		return NotApplicable{}
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return Malformed{Err: err}
	}
	if raw == nil {
		return Malformed{Err: fmt.Errorf("body is not a JSON object")}
	}

	var p Parsed
	if m, ok := raw["model"]; ok {
		_ = json.Unmarshal(m, &p.Model)
	}

	list := raw["messages"]
	if isAbsent(list) {
		list = raw["input"]
	}
	if !isAbsent(list) {
		// A list of the wrong shape is treated as empty history.
		var entries []json.RawMessage
		if err := json.Unmarshal(list, &entries); err == nil && len(entries) > 0 {
			// A last entry that is not an object has no role.
			var last classify.Message
			_ = json.Unmarshal(entries[len(entries)-1], &last)
			p.Messages = []classify.Message{last}
		}
	}
	return p
}

// Resolve turns a parse Result into Info.
func Resolve(r Result) Info {
	p, ok := r.(Parsed)
	if !ok {
		return DefaultInfo()
	}
	info := Info{Model: p.Model, Kind: classify.KindUnknown}
	if info.Model == "" {
		info.Model = UnknownModel
	}
	if len(p.Messages) > 0 {
		info.Kind = classify.Classify(p.Messages)
	}
	return info
}

// FromRequest extracts Info from req without altering it. The body is read
// through req.GetBody when available. Otherwise it is buffered into a clone of
// req, which is returned for forwarding in place of req. Bodies larger than
// maxBytes are not inspected. A non-nil error means the body claimed to be
// JSON but could not be parsed or read; the returned Info is then the default.
func FromRequest(req *http.Request, maxBytes int64) (Info, *http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || !isJSON(req.Header.Get("Content-Type")) {
		return DefaultInfo(), req, nil
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}

	body, out, err := readBody(req, maxBytes)
	if err != nil {
		return DefaultInfo(), out, fmt.Errorf("reading request body: %w", err)
	}

	r := Parse(req.Header.Get("Content-Type"), body)
	if m, ok := r.(Malformed); ok {
		return DefaultInfo(), out, fmt.Errorf("parsing request body: %w", m.Err)
	}
	return Resolve(r), out, nil
}

// readBody returns a copy of the request body, or nil when it exceeds
// maxBytes, along with the request to forward.
func readBody(req *http.Request, maxBytes int64) ([]byte, *http.Request, error) {
	if req.GetBody != nil {
		if rc, err := req.GetBody(); err == nil {
			defer rc.Close()
			buf, err := io.ReadAll(io.LimitReader(rc, maxBytes+1))
			if err != nil {
				return nil, req, err
			}
			if int64(len(buf)) > maxBytes {
				return nil, req, nil
			}
			return buf, req, nil
		}
	}

	orig := req.Body
	out := req.Clone(req.Context())
	buf, err := io.ReadAll(io.LimitReader(orig, maxBytes+1))
	if err != nil || int64(len(buf)) > maxBytes {
		// Hand the transport what we consumed followed by the rest of the
		// original stream, so it sees the same bytes and the same failure.
		out.Body = readCloser{io.MultiReader(bytes.NewReader(buf), orig), orig}
		out.GetBody = nil
		return nil, out, err
	}
	_ = orig.Close()
	out.Body = io.NopCloser(bytes.NewReader(buf))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(buf)), nil
	}
	return buf, out, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

func isJSON(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "application/json"
}

func isAbsent(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
