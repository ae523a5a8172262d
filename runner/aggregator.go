package runner

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/influxdata/tdigest"

	"github.com/ethereum-optimism/infra/op-isorun/exitcodes"
	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// Summary is the aggregate result of one shard.
type Summary struct {
	RunID        string
	Outcomes     []types.RunOutcome // In launch order
	FailingFiles []types.TestFile   // Subsequence of Outcomes that did not succeed
	ExitCode     int
	Duration     time.Duration // Wall time from the first Record to Finalize
	P50          time.Duration // Median file duration
	P95          time.Duration
}

// Status returns the overall status of the shard.
func (s *Summary) Status() types.TestStatus {
	if len(s.FailingFiles) > 0 {
		return types.TestStatusFail
	}
	return types.TestStatusPass
}

// Passed returns the number of files that succeeded.
func (s *Summary) Passed() int {
	return len(s.Outcomes) - len(s.FailingFiles)
}

func (s *Summary) String() string {
	return fmt.Sprintf("%d files, %d passed, %d failed in %s (run %s)",
		len(s.Outcomes), s.Passed(), len(s.FailingFiles), s.Duration.Round(time.Millisecond), s.RunID)
}

// Aggregator collects outcomes for one run. It is owned by a single runner
// and is not safe for concurrent use.
type Aggregator struct {
	out      io.Writer
	runID    string
	start    time.Time
	outcomes []types.RunOutcome
	digest   *tdigest.TDigest
}

// NewAggregator creates an aggregator that prints its summary to out.
func NewAggregator(out io.Writer, runID string) *Aggregator {
	if out == nil {
		out = os.Stdout
	}
	return &Aggregator{
		out:    out,
		runID:  runID,
		start:  time.Now(),
		digest: tdigest.NewWithCompression(100),
	}
}

// Record appends the outcome of one file.
func (a *Aggregator) Record(outcome types.RunOutcome) {
	a.outcomes = append(a.outcomes, outcome)
	a.digest.Add(float64(outcome.Duration.Nanoseconds()), 1)
}

// Finalize prints the completion banner and, if anything failed, the failing
// files in recorded order.
func (a *Aggregator) Finalize() *Summary {
	summary := &Summary{
		RunID:    a.runID,
		Outcomes: a.outcomes,
		ExitCode: exitcodes.Success,
		Duration: time.Since(a.start),
	}
	for _, o := range a.outcomes {
		if !o.Succeeded {
			summary.FailingFiles = append(summary.FailingFiles, o.File)
		}
	}
	if len(a.outcomes) > 0 {
		summary.P50 = time.Duration(a.digest.Quantile(0.50))
		summary.P95 = time.Duration(a.digest.Quantile(0.95))
	}

	fmt.Fprintln(a.out, CompletedBanner)
	if len(summary.FailingFiles) > 0 {
		summary.ExitCode = exitcodes.TestFailure
		fmt.Fprintln(a.out, FailureMarker)
		fmt.Fprintln(a.out)
		fmt.Fprintln(a.out, FailedInHeader)
		for _, f := range summary.FailingFiles {
			fmt.Fprintf(a.out, "  %s\n", f)
		}
		fmt.Fprintln(a.out)
	}
	return summary
}
