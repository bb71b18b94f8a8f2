package metering

import "github.com/alecgard/copilot-stats/internal/classify"

// Key identifies one ledger row. Calls with identical keys share a bucket.
type Key struct {
	Model     string        `json:"model"`
	Initiator string        `json:"initiator"`
	Kind      classify.Kind `json:"kind"`
}

// String returns the "model|initiator|kind" form used for ordering.
func (k Key) String() string {
	return k.Model + "|" + k.Initiator + "|" + string(k.Kind)
}

// Entry accumulates calls for a Key.
type Entry struct {
	Count int64   `json:"count"`
	Cost  float64 `json:"cost"`
}

// Row is a Key and its Entry, as returned by Snapshot.
type Row struct {
	Key
	Entry
}

// Result describes a single recorded call.
type Result struct {
	Key        Key     `json:"key"`
	Multiplier float64 `json:"multiplier"`
	Cost       float64 `json:"cost"`
	// Total is the ledger-wide cost immediately after this call was added.
	Total float64 `json:"total"`
}

// Summary holds the rows of a ledger and their read-time totals.
type Summary struct {
	Rows       []Row   `json:"rows"`
	TotalCount int64   `json:"total_count"`
	TotalCost  float64 `json:"total_cost"`
}
