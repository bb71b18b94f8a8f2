package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alecgard/copilot-stats/internal/metering"
)

// Reporter exposes the ledger views the stats tools need. *metering.Ledger
// satisfies it.
type Reporter interface {
	Render() string
	Snapshot() metering.Summary
}

// Stats returns the copilot_stats tool, which renders the ledger table.
func Stats(rep Reporter) Tool {
	return Tool{
		Name:        StatsName,
		Description: "Show Copilot premium request usage for this session, per model, initiator and request kind.",
		ContentType: "text/plain",
		Execute: func(context.Context) (string, error) {
			return rep.Render(), nil
		},
	}
}

// StatsJSON returns the copilot_stats_json tool, which returns the ledger rows
// and totals as JSON.
func StatsJSON(rep Reporter) Tool {
	return Tool{
		Name:        StatsJSONName,
		Description: "Show Copilot premium request usage for this session as JSON.",
		ContentType: "application/json",
		Execute: func(context.Context) (string, error) {
			s := rep.Snapshot()
			if s.Rows == nil {
				s.Rows = []metering.Row{}
			}
			b, err := json.Marshal(s)
			if err != nil {
				return "", fmt.Errorf("encoding snapshot: %w", err)
			}
			return string(b), nil
		},
	}
}

// Builtin returns the built-in tools bound to rep.
func Builtin(rep Reporter) []Tool {
	return []Tool{Stats(rep), StatsJSON(rep)}
}
