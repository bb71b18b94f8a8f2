package metrics

import (
	"strings"
	"unicode/utf8"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alecgard/copilot-stats/internal/metering"
)

// SnapshotFunc returns the current ledger contents without importing the
// owner of the ledger.
type SnapshotFunc func() metering.Summary

// ledgerCollector implements prometheus.Collector for ledger rows.
type ledgerCollector struct {
	snapshot SnapshotFunc

	countDesc      *prometheus.Desc
	costDesc       *prometheus.Desc
	totalCountDesc *prometheus.Desc
	totalCostDesc  *prometheus.Desc
}

// NewLedgerCollector creates a collector that exposes ledger rows as gauges.
func NewLedgerCollector(snapshot SnapshotFunc) prometheus.Collector {
	labels := []string{"model", "initiator", "kind"}
	return &ledgerCollector{
		snapshot: snapshot,
		countDesc: prometheus.NewDesc(
			"copilot_stats_ledger_requests",
			"Requests recorded in the ledger per model, initiator and kind.",
			labels, nil,
		),
		costDesc: prometheus.NewDesc(
			"copilot_stats_ledger_cost",
			"Premium requests recorded in the ledger per model, initiator and kind.",
			labels, nil,
		),
		totalCountDesc: prometheus.NewDesc(
			"copilot_stats_ledger_requests_total_sum",
			"Sum of requests over all ledger rows.",
			nil, nil,
		),
		totalCostDesc: prometheus.NewDesc(
			"copilot_stats_ledger_cost_total_sum",
			"Sum of premium requests over all ledger rows.",
			nil, nil,
		),
	}
}

// Describe sends the descriptors of each metric to the channel.
func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.countDesc
	ch <- c.costDesc
	ch <- c.totalCountDesc
	ch <- c.totalCostDesc
}

// Collect takes a ledger snapshot and sends it as metrics.
func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.snapshot()
	for _, row := range s.Rows {
		lv := labelValues(row.Model, row.Initiator, string(row.Kind))
		ch <- prometheus.MustNewConstMetric(c.countDesc, prometheus.GaugeValue, float64(row.Count), lv...)
		ch <- prometheus.MustNewConstMetric(c.costDesc, prometheus.GaugeValue, row.Cost, lv...)
	}
	ch <- prometheus.MustNewConstMetric(c.totalCountDesc, prometheus.GaugeValue, float64(s.TotalCount))
	ch <- prometheus.MustNewConstMetric(c.totalCostDesc, prometheus.GaugeValue, s.TotalCost)
}

// labelValues replaces invalid UTF-8 in values taken from request data, which
// the registry would otherwise reject with a panic.
func labelValues(values ...string) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if utf8.ValidString(v) {
			out[i] = v
			continue
		}
		out[i] = strings.ToValidUTF8(v, "\uFFFD")
	}
	return out
}
