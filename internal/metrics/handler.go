package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics endpoint.
type Summary struct {
	Mode        string          `json:"mode"`
	HTTP        httpSummary     `json:"http"`
	Calls       callsSummary    `json:"calls"`
	Ledger      ledgerInfo      `json:"ledger"`
	Diagnostics diagnosticsInfo `json:"diagnostics"`
	Audit       auditInfo       `json:"audit"`
	Replay      replayInfo      `json:"replay"`
	Server      serverInfo      `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
}

type callsSummary struct {
	InScope         float64 `json:"inScope"`
	OutOfScope      float64 `json:"outOfScope"`
	Metered         float64 `json:"metered"`
	PremiumRequests float64 `json:"premiumRequests"`
	P50Upstream     float64 `json:"p50Upstream"`
	P95Upstream     float64 `json:"p95Upstream"`
	UpstreamErrors  float64 `json:"upstreamErrors"`
}

type ledgerInfo struct {
	Rows       int     `json:"rows"`
	TotalCount float64 `json:"totalCount"`
	TotalCost  float64 `json:"totalCost"`
}

type diagnosticsInfo struct {
	Total   float64            `json:"total"`
	Dropped float64            `json:"dropped"`
	ByKind  map[string]float64 `json:"byKind"`
}

type auditInfo struct {
	BufferSize   float64 `json:"bufferSize"`
	TotalFlushes float64 `json:"totalFlushes"`
	FlushErrors  float64 `json:"flushErrors"`
	Lines        float64 `json:"lines"`
}

type replayInfo struct {
	Lines  float64 `json:"lines"`
	Errors float64 `json:"errors"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m.handleLive(w)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return Summary{}, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	start := gaugeValue(fam["copilot_stats_start_time_seconds"])
	return Summary{
		Mode: "live",
		HTTP: httpSummary{
			TotalRequests: sumCounter(fam["copilot_stats_http_requests_total"]),
			ErrorRate:     computeErrorRate(fam["copilot_stats_http_requests_total"]),
		},
		Calls: callsSummary{
			InScope:         sumCounterWithLabel(fam["copilot_stats_intercepted_total"], "scope", "in_scope"),
			OutOfScope:      sumCounterWithLabel(fam["copilot_stats_intercepted_total"], "scope", "out_of_scope"),
			Metered:         sumCounter(fam["copilot_stats_calls_total"]),
			PremiumRequests: sumCounter(fam["copilot_stats_premium_requests_total"]),
			P50Upstream:     histogramPercentile(fam["copilot_stats_upstream_duration_seconds"], 0.50),
			P95Upstream:     histogramPercentile(fam["copilot_stats_upstream_duration_seconds"], 0.95),
			UpstreamErrors:  sumCounter(fam["copilot_stats_upstream_errors_total"]),
		},
		Ledger: ledgerInfo{
			Rows:       len(fam["copilot_stats_ledger_requests"].GetMetric()),
			TotalCount: gaugeValue(fam["copilot_stats_ledger_requests_total_sum"]),
			TotalCost:  gaugeValue(fam["copilot_stats_ledger_cost_total_sum"]),
		},
		Diagnostics: diagnosticsInfo{
			Total:   sumCounter(fam["copilot_stats_diagnostics_total"]),
			Dropped: counterValue(fam["copilot_stats_diagnostics_dropped_total"]),
			ByKind:  countersByLabel(fam["copilot_stats_diagnostics_total"], "kind"),
		},
		Audit: auditInfo{
			BufferSize:   gaugeValue(fam["copilot_stats_audit_buffer_size"]),
			TotalFlushes: sumCounter(fam["copilot_stats_audit_flushes_total"]),
			FlushErrors:  counterWithLabel(fam["copilot_stats_audit_flushes_total"], "status", "error"),
			Lines:        counterValue(fam["copilot_stats_audit_lines_total"]),
		},
		Replay: replayInfo{
			Lines:  sumCounter(fam["copilot_stats_replay_lines_total"]),
			Errors: counterWithLabel(fam["copilot_stats_replay_lines_total"], "status", "error"),
		},
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

func (m *Metrics) handleLive(w http.ResponseWriter) {
	summary, err := m.Summarize()
	if err != nil {
		http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	_ = json.NewEncoder(w).Encode(summary)
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

func counterValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetCounter() != nil {
		return ms[0].GetCounter().GetValue()
	}
	return 0
}

func counterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			return m.GetCounter().GetValue()
		}
	}
	return 0
}

// countersByLabel sums a counter family per value of labelName.
func countersByLabel(f *dto.MetricFamily, labelName string) map[string]float64 {
	out := make(map[string]float64)
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName {
				out[lp.GetValue()] += m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errors float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '4' {
					errors += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errors / total
}

func hasLabel(m *dto.Metric, name, value string) bool {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name && lp.GetValue() == value {
			return true
		}
	}
	return false
}

func sumCounterWithLabel(f *dto.MetricFamily, labelName, labelValue string) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if hasLabel(m, labelName, labelValue) && m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	// Aggregate all histogram metrics in the family.
	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Past the last finite bucket: clamp to its upper bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
