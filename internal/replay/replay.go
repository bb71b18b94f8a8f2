// Package replay rebuilds a ledger from the audit log.
//
// Each call line carries the model, initiator, kind and the cost charged at
// the time, so replaying the lines of one instance reproduces that
// instance's ledger. Lines written before the kind column existed are
// replayed with kind "unknown". Model names longer than the audit column are
// truncated in the log and replay under the truncated name.
package replay

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecgard/copilot-stats/internal/auditlog"
	"github.com/alecgard/copilot-stats/internal/classify"
	"github.com/alecgard/copilot-stats/internal/metering"
)

// ErrInvalidLine is returned for lines that are neither call nor error lines.
var ErrInvalidLine = errors.New("invalid audit line")

const fieldSep = " | "

// Event is one parsed audit line.
type Event struct {
	Time       time.Time
	InstanceID string
	// IsError marks a diagnostic line; Message holds its text.
	IsError bool
	Message string
	Result  metering.Result
}

// MetricsRecorder is an optional interface for recording replay metrics.
type MetricsRecorder interface {
	IncReplayLine(status string)
}

// Stats counts what a replay saw.
type Stats struct {
	Calls   int `json:"calls"`
	Errors  int `json:"errors"`
	Invalid int `json:"invalid"`
	Skipped int `json:"skipped"`
}

// ParseLine parses a single audit line without its trailing newline.
func ParseLine(line string) (Event, error) {
	fields := strings.Split(line, fieldSep)
	if len(fields) < 4 {
		return Event{}, fmt.Errorf("%w: %d fields", ErrInvalidLine, len(fields))
	}

	ts, err := time.ParseInLocation(auditlog.TimestampLayout, strings.TrimSpace(fields[0]), time.Local)
	if err != nil {
		return Event{}, fmt.Errorf("%w: timestamp: %v", ErrInvalidLine, err)
	}
	ev := Event{Time: ts, InstanceID: strings.TrimSpace(fields[1])}

	if strings.TrimSpace(fields[2]) == auditlog.ErrorMarker {
		ev.IsError = true
		ev.Message = strings.Join(fields[3:], fieldSep)
		return ev, nil
	}

	var kind classify.Kind
	var nums []string
	switch len(fields) {
	case 8:
		kind = classify.Kind(strings.TrimSpace(fields[4]))
		if !kind.Valid() {
			return Event{}, fmt.Errorf("%w: kind %q", ErrInvalidLine, kind)
		}
		nums = fields[5:]
	case 7:
		kind = classify.KindUnknown
		nums = fields[4:]
	default:
		return Event{}, fmt.Errorf("%w: %d fields", ErrInvalidLine, len(fields))
	}

	mult, err := parseLabeled(nums[0], "x")
	if err != nil {
		return Event{}, err
	}
	cost, err := parseLabeled(nums[1], "cost")
	if err != nil {
		return Event{}, err
	}
	total, err := parseLabeled(nums[2], "total")
	if err != nil {
		return Event{}, err
	}

	ev.Result = metering.Result{
		Key: metering.Key{
			Model:     strings.TrimSpace(fields[2]),
			Initiator: strings.TrimSpace(fields[3]),
			Kind:      kind,
		},
		Multiplier: mult,
		Cost:       cost,
		Total:      total,
	}
	return ev, nil
}

func parseLabeled(field, label string) (float64, error) {
	s := strings.TrimSpace(field)
	if !strings.HasPrefix(s, label+" ") {
		return 0, fmt.Errorf("%w: expected %q field, got %q", ErrInvalidLine, label, s)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimPrefix(s, label)), 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s: %v", ErrInvalidLine, label, err)
	}
	return v, nil
}

// Replayer applies audit lines to a ledger.
type Replayer struct {
	// InstanceID restricts replay to one instance. Empty replays all.
	InstanceID string
	Metrics    MetricsRecorder
}

// Apply parses line and, for a call line of the selected instance, adds it to
// ledger. Blank lines are ignored.
func (r *Replayer) Apply(ledger *metering.Ledger, line string, stats *Stats) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}

	ev, err := ParseLine(line)
	switch {
	case err != nil:
		stats.Invalid++
		r.observe("error")
	case r.InstanceID != "" && ev.InstanceID != r.InstanceID:
		stats.Skipped++
		r.observe("skipped")
	case ev.IsError:
		stats.Errors++
		r.observe("diagnostic")
	default:
		ledger.Add(ev.Result.Key, ev.Result.Cost)
		stats.Calls++
		r.observe("ok")
	}
}

func (r *Replayer) observe(status string) {
	if r.Metrics != nil {
		r.Metrics.IncReplayLine(status)
	}
}

// Read applies every line of rd to ledger.
func (r *Replayer) Read(rd io.Reader, ledger *metering.Ledger) (Stats, error) {
	var stats Stats
	sc := bufio.NewScanner(rd)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		r.Apply(ledger, sc.Text(), &stats)
	}
	if err := sc.Err(); err != nil {
		return stats, fmt.Errorf("reading audit log: %w", err)
	}
	return stats, nil
}

// File replays the audit log at path into a new ledger.
func (r *Replayer) File(path string, pricer metering.Pricer) (*metering.Ledger, Stats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, Stats{}, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	ledger := metering.NewLedger(pricer)
	stats, err := r.Read(f, ledger)
	if err != nil {
		return nil, stats, err
	}
	return ledger, stats, nil
}

// Instances lists the instance ids in the audit log at path, in order of
// first appearance.
func Instances(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	seen := make(map[string]bool)
	var ids []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		ev, err := ParseLine(strings.TrimRight(sc.Text(), "\r"))
		if err != nil || seen[ev.InstanceID] {
			continue
		}
		seen[ev.InstanceID] = true
		ids = append(ids, ev.InstanceID)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading audit log: %w", err)
	}
	return ids, nil
}
