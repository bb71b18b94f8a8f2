package metering

import (
	"fmt"
	"math"
	"strings"
)

// EmptyReport is rendered when no calls have been recorded.
const EmptyReport = "No Copilot requests recorded yet."

const (
	initiatorWidth = 9
	countWidth     = 5
	costWidth      = 6
)

// Render returns the ledger as a fixed-width pipe table.
func (l *Ledger) Render() string {
	return RenderSummary(l.Snapshot())
}

// RenderSummary renders s. Rows must already be sorted.
func RenderSummary(s Summary) string {
	if len(s.Rows) == 0 {
		return EmptyReport
	}

	modelWidth := 5
	kindWidth := 4
	for _, r := range s.Rows {
		modelWidth = max(modelWidth, len(r.Model))
		kindWidth = max(kindWidth, len(r.Kind))
	}

	separator := "|" + strings.Repeat("-", modelWidth+2) +
		"|" + strings.Repeat("-", initiatorWidth+2) +
		"|" + strings.Repeat("-", kindWidth+2) +
		"|" + strings.Repeat("-", countWidth+2) +
		"|" + strings.Repeat("-", costWidth+2) + "|"

	row := func(model, initiator, kind, count, cost string) string {
		return fmt.Sprintf("| %-*s | %-*s | %-*s | %*s | %s |",
			modelWidth, model,
			initiatorWidth, initiator,
			kindWidth, kind,
			countWidth, count,
			cost,
		)
	}

	lines := make([]string, 0, len(s.Rows)+4)
	lines = append(lines,
		row("Model", "Initiator", "Kind", "Count", " Cost "),
		separator,
	)
	for _, r := range s.Rows {
		lines = append(lines, row(r.Model, r.Initiator, string(r.Kind), fmt.Sprintf("%d", r.Count), FormatCost(r.Cost)))
	}
	lines = append(lines,
		separator,
		row("Total", "", "", fmt.Sprintf("%d", s.TotalCount), FormatCost(s.TotalCost)),
	)
	return strings.Join(lines, "\n")
}

// FormatCost renders cost in a 6-character field. Whole numbers drop the
// decimal point and pad with spaces where it would have been, so integer and
// fractional costs stay aligned on the units digit.
func FormatCost(cost float64) string {
	if cost == math.Floor(cost) {
		return fmt.Sprintf("%*d   ", costWidth-3, int64(cost))
	}
	return fmt.Sprintf("%*.2f", costWidth, cost)
}
