package runner

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-isorun/exitcodes"
	"github.com/ethereum-optimism/infra/op-isorun/types"
)

func passed(file string) types.RunOutcome {
	return types.RunOutcome{File: types.TestFile(file), Succeeded: true, Duration: time.Second}
}

func failed(file string) types.RunOutcome {
	return types.RunOutcome{
		File:     types.TestFile(file),
		ExitCode: 1,
		Duration: 2 * time.Second,
		Err:      &ChildProcessError{File: types.TestFile(file), ExitCode: 1, State: "exit status 1"},
	}
}

func TestAggregatorAllPassing(t *testing.T) {
	var out bytes.Buffer
	agg := NewAggregator(&out, "run-1")
	agg.Record(passed("a_test.go"))
	agg.Record(passed("b_test.go"))

	summary := agg.Finalize()

	assert.Equal(t, exitcodes.Success, summary.ExitCode)
	assert.Empty(t, summary.FailingFiles)
	assert.Equal(t, types.TestStatusPass, summary.Status())
	assert.Equal(t, 2, summary.Passed())
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, "--- All tests completed\n", out.String())
}

func TestAggregatorReportsFailuresInLaunchOrder(t *testing.T) {
	var out bytes.Buffer
	agg := NewAggregator(&out, "run-2")
	agg.Record(failed("c_test.go"))
	agg.Record(passed("a_test.go"))
	agg.Record(failed("b_test.go"))

	summary := agg.Finalize()

	assert.Equal(t, exitcodes.TestFailure, summary.ExitCode)
	assert.Equal(t, []types.TestFile{"c_test.go", "b_test.go"}, summary.FailingFiles)
	assert.Equal(t, types.TestStatusFail, summary.Status())
	assert.Equal(t, 1, summary.Passed())

	expected := "--- All tests completed\n" +
		"^^^ +++\n" +
		"\n" +
		"Failed in:\n" +
		"  c_test.go\n" +
		"  b_test.go\n" +
		"\n"
	assert.Equal(t, expected, out.String())
}

func TestAggregatorSingleFailureAppearsOnce(t *testing.T) {
	agg := NewAggregator(&bytes.Buffer{}, "run-3")
	agg.Record(passed("a_test.go"))
	agg.Record(failed("b_test.go"))
	agg.Record(passed("c_test.go"))

	summary := agg.Finalize()

	require.Len(t, summary.Outcomes, 3)
	assert.Equal(t, []types.TestFile{"b_test.go"}, summary.FailingFiles)
	assert.Equal(t, types.TestFile("b_test.go"), summary.Outcomes[1].File)
}

func TestAggregatorLaunchFailureCountsAsFailure(t *testing.T) {
	agg := NewAggregator(&bytes.Buffer{}, "run-4")
	agg.Record(types.RunOutcome{
		File:     "a_test.go",
		ExitCode: -1,
		Err:      &LaunchError{File: "a_test.go", Err: errors.New("executable file not found")},
	})

	summary := agg.Finalize()
	assert.Equal(t, exitcodes.TestFailure, summary.ExitCode)
	assert.Equal(t, []types.TestFile{"a_test.go"}, summary.FailingFiles)
}

func TestAggregatorEmptyRun(t *testing.T) {
	var out bytes.Buffer
	summary := NewAggregator(&out, "run-5").Finalize()

	assert.Equal(t, exitcodes.Success, summary.ExitCode)
	assert.Zero(t, summary.P50)
	assert.Equal(t, "--- All tests completed\n", out.String())
}

func TestAggregatorDurationQuantiles(t *testing.T) {
	agg := NewAggregator(&bytes.Buffer{}, "run-6")
	for i := 1; i <= 100; i++ {
		agg.Record(types.RunOutcome{File: "f_test.go", Succeeded: true, Duration: time.Duration(i) * time.Millisecond})
	}

	summary := agg.Finalize()
	assert.InDelta(t, float64(50*time.Millisecond), float64(summary.P50), float64(3*time.Millisecond))
	assert.InDelta(t, float64(95*time.Millisecond), float64(summary.P95), float64(3*time.Millisecond))
}
