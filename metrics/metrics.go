package metrics

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

const (
	MetricsNamespace = "isorun"
)

var (
	Debug                bool = true
	validResults              = []types.TestStatus{types.TestStatusPass, types.TestStatusFail}
	nonAlphanumericRegex      = regexp.MustCompile(`[^a-zA-Z ]+`)

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "errors_total",
		Help:      "Count of errors",
	}, []string{
		"error",
	})

	filesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "files_total",
		Help:      "Count of test files run in isolation",
	}, []string{
		"target",
		"shard",
		"result",
	})

	fileDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: MetricsNamespace,
		Name:      "file_duration_seconds",
		Help:      "Wall time of a single test file process",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{
		"target",
		"result",
	})

	runResults = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_results",
		Help:      "Result of a shard run",
	}, []string{
		"target",
		"run_id",
		"result",
	})

	runFilesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_files_total",
		Help:      "Total number of files in a shard run",
	}, []string{
		"target",
		"run_id",
	})

	runFilesPassed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_files_passed",
		Help:      "Number of passed files in a shard run",
	}, []string{
		"target",
		"run_id",
	})

	runFilesFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: MetricsNamespace,
		Name:      "run_files_failed",
		Help:      "Number of failed files in a shard run",
	}, []string{
		"target",
		"run_id",
	})

	runDuration = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_duration_seconds",
		Help:      "Duration of a shard run",
	}, []string{
		"target",
		"run_id",
	})

	runFileDurationQuantile = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: MetricsNamespace,
		Name:      "run_file_duration_quantile_seconds",
		Help:      "Estimated quantiles of the file durations of a shard run",
	}, []string{
		"target",
		"run_id",
		"quantile",
	})
)

// errToLabel tries to make the error string a more valid Prometheus label
func errToLabel(err error) string {
	if err == nil {
		return "nil"
	}
	errClean := nonAlphanumericRegex.ReplaceAllString(err.Error(), "")
	errClean = strings.ReplaceAll(errClean, " ", "_")
	errClean = strings.ReplaceAll(errClean, "__", "_")
	return errClean
}

func RecordError(error string) {
	if Debug {
		log.Debug("metric inc",
			"m", "errors_total",
			"error", error,
		)
	}
	errorsTotal.WithLabelValues(error).Inc()
}

// RecordErrorDetails concats the error message to the label
// and also tries to clean the label to be a valid Prometheus label
func RecordErrorDetails(label string, err error) {
	if err == nil {
		return
	}
	label = fmt.Sprintf("%s.%s", label, errToLabel(err))
	RecordError(label)
}

// RecordFile records the outcome of one test file process.
func RecordFile(target string, shard string, result types.TestStatus, duration time.Duration) {
	if !isValidResult(result) {
		log.Error("RecordFile - invalid result", "result", result)
		return
	}
	if Debug {
		log.Debug("metric inc",
			"m", "files_total",
			"target", target,
			"shard", shard,
			"result", result)
	}
	filesTotal.WithLabelValues(target, shard, string(result)).Inc()
	fileDuration.WithLabelValues(target, string(result)).Observe(duration.Seconds())
}

func RecordRun(
	target string,
	runID string,
	result string,
	total int,
	passed int,
	failed int,
	duration time.Duration,
) {
	runResults.WithLabelValues(target, runID, result).Set(1)
	runFilesTotal.WithLabelValues(target, runID).Add(float64(total))
	runFilesPassed.WithLabelValues(target, runID).Add(float64(passed))
	runFilesFailed.WithLabelValues(target, runID).Add(float64(failed))
	runDuration.WithLabelValues(target, runID).Set(duration.Seconds())
}

// RecordRunQuantiles records the median and 95th percentile file duration
// of a run.
func RecordRunQuantiles(target string, runID string, p50 time.Duration, p95 time.Duration) {
	runFileDurationQuantile.WithLabelValues(target, runID, "0.5").Set(p50.Seconds())
	runFileDurationQuantile.WithLabelValues(target, runID, "0.95").Set(p95.Seconds())
}

func isValidResult(result types.TestStatus) bool {
	return slices.Contains(validResults, result)
}
