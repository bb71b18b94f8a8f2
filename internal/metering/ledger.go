// Package metering keeps the in-memory ledger of metered calls and renders it.
package metering

import (
	"sort"
	"sync"

	"github.com/alecgard/copilot-stats/internal/classify"
)

// Pricer prices a call. *pricing.Table satisfies it.
type Pricer interface {
	Multiplier(model string) float64
	Cost(model, initiator string) float64
}

// Ledger maps Keys to Entries for the lifetime of the process. Rows are never
// removed. It is safe for concurrent use.
type Ledger struct {
	pricer  Pricer
	mu      sync.Mutex
	entries map[Key]*Entry
}

// NewLedger creates an empty Ledger that prices calls with pricer.
func NewLedger(pricer Pricer) *Ledger {
	return &Ledger{
		pricer:  pricer,
		entries: make(map[Key]*Entry),
	}
}

// Record prices a call and adds it to the bucket for (model, initiator, kind).
// Every classified call is recorded, including unknown model or kind.
func (l *Ledger) Record(model, initiator string, kind classify.Kind) Result {
	key := Key{Model: model, Initiator: initiator, Kind: kind}
	cost := l.pricer.Cost(model, initiator)

	total := l.Add(key, cost)
	return Result{
		Key:        key,
		Multiplier: l.pricer.Multiplier(model),
		Cost:       cost,
		Total:      total,
	}
}

// Add increments the bucket for key by one call of the given cost and returns
// the ledger total including it. The increment and the total are computed
// under one lock, so the total always reflects this call.
func (l *Ledger) Add(key Key, cost float64) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &Entry{}
		l.entries[key] = e
	}
	e.Count++
	e.Cost += cost

	return l.totalLocked()
}

// Get returns the entry for key.
func (l *Ledger) Get(key Key) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of rows.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Total returns the sum of all entries' cost.
func (l *Ledger) Total() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.totalLocked()
}

// totalLocked sums every row, including zero-cost agent rows.
// Must be called with l.mu held.
func (l *Ledger) totalLocked() float64 {
	var total float64
	for _, e := range l.entries {
		total += e.Cost
	}
	return total
}

// Snapshot copies the ledger into rows ordered by Key.String().
func (l *Ledger) Snapshot() Summary {
	l.mu.Lock()
	rows := make([]Row, 0, len(l.entries))
	for k, e := range l.entries {
		rows = append(rows, Row{Key: k, Entry: *e})
	}
	l.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		return rows[i].Key.String() < rows[j].Key.String()
	})

	s := Summary{Rows: rows}
	for _, r := range rows {
		s.TotalCount += r.Count
		s.TotalCost += r.Cost
	}
	return s
}
