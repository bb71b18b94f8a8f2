// Package tool holds the named, argument-free tools a host can invoke to read
// the live report.
package tool

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Names of the built-in tools.
const (
	StatsName     = "copilot_stats"
	StatsJSONName = "copilot_stats_json"
)

// Validation and lookup errors.
var (
	ErrNameRequired    = errors.New("name is required")
	ErrExecuteRequired = errors.New("execute function is required")
	ErrDuplicate       = errors.New("tool already registered")
	ErrNotFound        = errors.New("tool not found")
)

// Tool is a host-invocable tool. Execute takes no arguments.
type Tool struct {
	Name        string                                    `json:"name"`
	Description string                                    `json:"description"`
	ContentType string                                    `json:"content_type"`
	Execute     func(ctx context.Context) (string, error) `json:"-"`
}

// Registry is a name-indexed set of tools. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) (*Registry, error) {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register validates and adds t.
func (r *Registry) Register(t Tool) error {
	if t.Name == "" {
		return ErrNameRequired
	}
	if t.Execute == nil {
		return fmt.Errorf("%s: %w", t.Name, ErrExecuteRequired)
	}
	if t.ContentType == "" {
		t.ContentType = "text/plain"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tools[t.Name]; ok {
		return fmt.Errorf("%s: %w", t.Name, ErrDuplicate)
	}
	r.tools[t.Name] = t
	return nil
}

// Get returns the tool named name.
func (r *Registry) Get(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return Tool{}, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return t, nil
}

// List returns all tools ordered by name.
func (r *Registry) List() []Tool {
	r.mu.RLock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Execute runs the tool named name.
func (r *Registry) Execute(ctx context.Context, name string) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}
	return t.Execute(ctx)
}
