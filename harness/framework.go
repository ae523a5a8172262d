// Package harness is the test framework embedded in every child process.
//
// Test files are interpreted, their Test functions registered with a
// Framework, and the suite is run exactly once through RunNow. Support code
// may request the implicit end-of-process run with Autorun; that request is
// ignored while the framework is disarmed, and RunNow consumes it.
package harness

import (
	"errors"
	"flag"
	"regexp"
	"slices"
	"sync"
	"testing"
)

// ErrAlreadyRan is returned by RunNow once the suite has run.
var ErrAlreadyRan = errors.New("test suite already ran")

// RunFunc executes the registered tests with the given test flags.
type RunFunc func(tests []testing.InternalTest, args []string) error

// Framework collects the tests of one child process and runs them once.
type Framework struct {
	mu        sync.Mutex
	tests     []testing.InternalTest
	disarmed  int
	requested bool
	ran       bool
	run       RunFunc
}

// NewFramework returns a framework that runs tests through testing.Main.
// run may be nil.
func NewFramework(run RunFunc) *Framework {
	if run == nil {
		run = runTestingMain
	}
	return &Framework{run: run}
}

// Autorun requests that the registered tests run when the process exits.
// It reports whether the request was recorded.
func (f *Framework) Autorun() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.disarmed > 0 || f.ran {
		return false
	}
	f.requested = true
	return true
}

// Disarm suppresses Autorun until the returned restore function is called.
// Disarm calls nest.
func (f *Framework) Disarm() (restore func()) {
	f.mu.Lock()
	f.disarmed++
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			f.disarmed--
			f.mu.Unlock()
		})
	}
}

// Armed reports whether an Autorun call would currently be recorded.
func (f *Framework) Armed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.disarmed == 0 && !f.ran
}

// AutorunRequested reports whether an implicit run is pending.
func (f *Framework) AutorunRequested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requested && !f.ran
}

// Register adds tests in the order they should run.
func (f *Framework) Register(tests ...testing.InternalTest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tests = append(f.tests, tests...)
}

// Tests returns a copy of the registered tests.
func (f *Framework) Tests() []testing.InternalTest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.tests)
}

// RunNow runs the registered tests synchronously. It can only be called
// once; any pending autorun request is consumed.
func (f *Framework) RunNow(args []string) error {
	f.mu.Lock()
	if f.ran {
		f.mu.Unlock()
		return ErrAlreadyRan
	}
	f.ran = true
	f.requested = false
	tests := slices.Clone(f.tests)
	f.mu.Unlock()

	return f.run(tests, args)
}

// Exit is the end-of-process hook. It runs the suite only if an autorun
// request is pending and RunNow was never called. Exec always ends in
// RunNow, so Exit is for embedders that load tests without Exec.
func (f *Framework) Exit() error {
	if !f.AutorunRequested() {
		return nil
	}
	err := f.RunNow(nil)
	if errors.Is(err, ErrAlreadyRan) {
		return nil
	}
	return err
}

// runTestingMain hands the suite to the standard test runner. testing.Main
// exits the process with the suite's status.
func runTestingMain(tests []testing.InternalTest, args []string) error {
	testing.Init()
	if err := flag.CommandLine.Parse(args); err != nil {
		return err
	}
	testing.Main(matchString, tests, nil, nil)
	return nil
}

var (
	matchMu  sync.Mutex
	matchPat string
	matchRe  *regexp.Regexp
)

func matchString(pat, str string) (bool, error) {
	matchMu.Lock()
	defer matchMu.Unlock()
	if matchRe == nil || matchPat != pat {
		re, err := regexp.Compile(pat)
		if err != nil {
			return false, err
		}
		matchPat, matchRe = pat, re
	}
	return matchRe.MatchString(str), nil
}
