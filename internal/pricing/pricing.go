// Package pricing maps Copilot model identifiers to premium-request multipliers.
package pricing

import (
	"fmt"
	"sort"
)

// AgentInitiator marks calls issued by the autonomous agent loop. They are
// never billed.
const AgentInitiator = "agent"

// DefaultMultiplier applies to any model missing from the table, so a new or
// renamed model is never silently free.
const DefaultMultiplier = 1.0

// DefaultMultipliers is the premium request multiplier per model.
// https://docs.github.com/en/copilot/concepts/billing/copilot-requests
var DefaultMultipliers = map[string]float64{
	"gpt-5-mini":             0,
	"gpt-4.1":                0,
	"gpt-4o":                 0,
	"raptor-mini":            0,
	"grok-code-fast-1":       0.25,
	"gpt-5.1-codex-mini":     0.33,
	"claude-haiku-4.5":       0.33,
	"gemini-3-flash-preview": 0.33,
	"claude-opus-4.5":        3,
	"claude-opus-4.6":        3,
	"claude-opus-41":         10,
}

// Table is an immutable model -> multiplier lookup.
type Table struct {
	multipliers map[string]float64
}

// New builds a Table from DefaultMultipliers with overrides applied on top.
// Overrides may add models or change existing ones; negative values are
// rejected.
func New(overrides map[string]float64) (*Table, error) {
	m := make(map[string]float64, len(DefaultMultipliers)+len(overrides))
	for model, mult := range DefaultMultipliers {
		m[model] = mult
	}
	for model, mult := range overrides {
		if mult < 0 {
			return nil, fmt.Errorf("multiplier for %q must be non-negative, got %v", model, mult)
		}
		m[model] = mult
	}
	return &Table{multipliers: m}, nil
}

// Default returns a Table holding only DefaultMultipliers.
func Default() *Table {
	t, _ := New(nil)
	return t
}

// Multiplier returns the multiplier for model. Matching is exact: no version
// or date suffix stripping.
func (t *Table) Multiplier(model string) float64 {
	if mult, ok := t.multipliers[model]; ok {
		return mult
	}
	return DefaultMultiplier
}

// Cost returns the billed cost of a single call.
func (t *Table) Cost(model, initiator string) float64 {
	if initiator == AgentInitiator {
		return 0
	}
	return t.Multiplier(model)
}

// Models returns the known model identifiers in sorted order.
func (t *Table) Models() []string {
	models := make([]string, 0, len(t.multipliers))
	for model := range t.multipliers {
		models = append(models, model)
	}
	sort.Strings(models)
	return models
}
