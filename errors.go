package isorun

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum-optimism/infra/op-isorun/exitcodes"
	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// RuntimeError is an operational error that aborts the run before or while
// files execute: bad configuration, an invalid shard spec, an interrupt.
type RuntimeError struct {
	Err error
}

func (e *RuntimeError) Error() string {
	return fmt.Sprintf("runtime error: %v", e.Err)
}

func (e *RuntimeError) Unwrap() error {
	return e.Err
}

// ExitCode implements cli.ExitCoder.
func (e *RuntimeError) ExitCode() int {
	return exitcodes.RuntimeErr
}

func NewRuntimeError(err error) *RuntimeError {
	return &RuntimeError{Err: err}
}

// IsRuntimeError checks if the error is or wraps a RuntimeError
func IsRuntimeError(err error) bool {
	var runtimeErr *RuntimeError
	return err != nil && errors.As(err, &runtimeErr)
}

// TestFailureError reports a completed run in which at least one file failed.
type TestFailureError struct {
	Message      string
	FailingFiles []types.TestFile
}

func (e *TestFailureError) Error() string {
	if len(e.FailingFiles) == 0 {
		return fmt.Sprintf("test failure: %s", e.Message)
	}
	files := make([]string, 0, len(e.FailingFiles))
	for _, f := range e.FailingFiles {
		files = append(files, f.String())
	}
	return fmt.Sprintf("test failure: %s: %s", e.Message, strings.Join(files, ", "))
}

// ExitCode implements cli.ExitCoder.
func (e *TestFailureError) ExitCode() int {
	return exitcodes.TestFailure
}

func NewTestFailureError(message string, failing []types.TestFile) *TestFailureError {
	return &TestFailureError{Message: message, FailingFiles: failing}
}

// IsTestFailureError checks if the error is or wraps a TestFailureError
func IsTestFailureError(err error) bool {
	var testErr *TestFailureError
	return err != nil && errors.As(err, &testErr)
}

// ExitCodeFor maps an error returned by the app onto the process exit code.
func ExitCodeFor(err error) int {
	switch {
	case err == nil:
		return exitcodes.Success
	case IsTestFailureError(err):
		return exitcodes.TestFailure
	case IsRuntimeError(err):
		return exitcodes.RuntimeErr
	default:
		return exitcodes.TestFailure
	}
}
