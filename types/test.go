package types

import (
	"fmt"
	"path/filepath"
	"slices"
	"time"
)

// TestFile identifies one isolable unit of work by path.
type TestFile string

func (f TestFile) String() string {
	return string(f)
}

// TestStatus represents the possible states of a file run
type TestStatus string

const (
	TestStatusPass TestStatus = "pass"
	TestStatusFail TestStatus = "fail"
)

// ExecutionOptions is passed uniformly to every child process of a run.
type ExecutionOptions struct {
	LoadPath []string // Extra search directories, absolute and de-duplicated, highest priority first
	TestArgs []string // Test-filter arguments forwarded unchanged to each child
	Strict   bool     // Treat loader warnings in the child as errors
	Helper   string   // Support file preloaded in each child before the test file
}

// NewExecutionOptions resolves every load path entry to an absolute path and
// drops duplicates, keeping the first occurrence.
func NewExecutionOptions(loadPath []string, testArgs []string, strict bool, helper string) (ExecutionOptions, error) {
	resolved := make([]string, 0, len(loadPath))
	for _, dir := range loadPath {
		if dir == "" {
			continue
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return ExecutionOptions{}, fmt.Errorf("failed to resolve absolute path for load path entry '%s': %w", dir, err)
		}
		if !slices.Contains(resolved, abs) {
			resolved = append(resolved, abs)
		}
	}

	return ExecutionOptions{
		LoadPath: resolved,
		TestArgs: slices.Clone(testArgs),
		Strict:   strict,
		Helper:   helper,
	}, nil
}

// MergeLoadPath prepends extra onto base. Entries are inserted in reverse
// order so that extra[0] ends up with the highest priority; entries already
// on the path are skipped.
func MergeLoadPath(base, extra []string) []string {
	merged := slices.Clone(base)
	for i := len(extra) - 1; i >= 0; i-- {
		if slices.Contains(merged, extra[i]) {
			continue
		}
		merged = slices.Insert(merged, 0, extra[i])
	}
	return merged
}

// RunOutcome is the result of running one file in its own process.
type RunOutcome struct {
	File      TestFile
	Succeeded bool
	ExitCode  int           // -1 when the process was signaled or never started
	Duration  time.Duration // Wall time from launch to exit
	Err       error         // Why the file did not succeed
	Output    string        // Tail of the combined child output
}

// Status maps the outcome onto a TestStatus.
func (o RunOutcome) Status() TestStatus {
	if o.Succeeded {
		return TestStatusPass
	}
	return TestStatusFail
}
