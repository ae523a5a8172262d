package isorun

import (
	"github.com/ethereum-optimism/infra/op-isorun/metrics"
	"github.com/ethereum-optimism/infra/op-isorun/runner"
)

// MetricsReporter is responsible for reporting metrics from a finished run.
type MetricsReporter interface {
	ReportResults(target string, summary *runner.Summary)
}

// DefaultMetricsReporter implements the MetricsReporter interface.
type DefaultMetricsReporter struct{}

// NewDefaultMetricsReporter creates a new DefaultMetricsReporter.
func NewDefaultMetricsReporter() *DefaultMetricsReporter {
	return &DefaultMetricsReporter{}
}

// ReportResults reports the run totals and file duration quantiles to
// prometheus.
func (r *DefaultMetricsReporter) ReportResults(target string, summary *runner.Summary) {
	metrics.RecordRun(
		target,
		summary.RunID,
		string(summary.Status()),
		len(summary.Outcomes),
		summary.Passed(),
		len(summary.FailingFiles),
		summary.Duration,
	)
	if len(summary.Outcomes) > 0 {
		metrics.RecordRunQuantiles(target, summary.RunID, summary.P50, summary.P95)
	}
}
