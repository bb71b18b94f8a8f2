package auditlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/copilot-stats/internal/metering"
)

// TimestampLayout is local time with millisecond precision.
const TimestampLayout = "2006-01-02 15:04:05.000"

// ErrorMarker is the third field of every error line.
const ErrorMarker = "ERROR"

const modelWidth = 28

// FormatCall renders the audit line for a recorded call.
func FormatCall(ts time.Time, instanceID string, r metering.Result) string {
	return fmt.Sprintf("%s | %s | %-*s | %-6s | %-12s | x %5.2f | cost %5.2f | total %6.2f",
		ts.Format(TimestampLayout),
		instanceID,
		modelWidth, truncate(r.Key.Model, modelWidth),
		r.Key.Initiator,
		r.Key.Kind,
		r.Multiplier,
		r.Cost,
		r.Total,
	)
}

// FormatError renders the audit line for a diagnostic.
func FormatError(ts time.Time, instanceID string, message string) string {
	return strings.Join([]string{
		ts.Format(TimestampLayout),
		instanceID,
		ErrorMarker,
		oneLine(message),
	}, " | ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// oneLine keeps each event on a single line of the audit file.
func oneLine(s string) string {
	return strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(s)
}
