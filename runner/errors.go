package runner

import (
	"errors"
	"fmt"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// LaunchError means the child process for a file could not be started at all.
type LaunchError struct {
	File types.TestFile
	Err  error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("failed to launch %s: %v", e.File, e.Err)
}

func (e *LaunchError) Unwrap() error {
	return e.Err
}

// ChildProcessError means the child for a file ran but exited nonzero or was signaled.
type ChildProcessError struct {
	File     types.TestFile
	ExitCode int    // -1 when signaled
	State    string // Process state as reported by the OS, e.g. "exit status 1" or "signal: killed"
	Err      error  // Set when waiting on the child failed for a reason other than its exit status
}

func (e *ChildProcessError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("test file %s failed: %v", e.File, e.Err)
	}
	return fmt.Sprintf("test file %s failed: %s", e.File, e.State)
}

func (e *ChildProcessError) Unwrap() error {
	return e.Err
}

// IsLaunchError checks if the error is or wraps a LaunchError
func IsLaunchError(err error) bool {
	var launchErr *LaunchError
	return err != nil && errors.As(err, &launchErr)
}

// IsChildProcessError checks if the error is or wraps a ChildProcessError
func IsChildProcessError(err error) bool {
	var childErr *ChildProcessError
	return err != nil && errors.As(err, &childErr)
}
