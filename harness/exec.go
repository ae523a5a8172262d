package harness

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

const (
	// ImportPath is the path interpreted test files import the harness under.
	ImportPath = "github.com/ethereum-optimism/infra/op-isorun/harness"

	// DefaultHelper is preloaded from the load path when no helper is named.
	DefaultHelper = "helper_test.go"
)

// Options configure one child execution.
type Options struct {
	LoadPath []string // Searched in order for the helper file
	Helper   string   // Helper file name or path; DefaultHelper when empty
	Strict   bool     // Loader warnings become errors
	TestArgs []string
	Stdout   io.Writer
	Stderr   io.Writer
	Log      log.Logger
}

// LoadError reports a file the interpreter could not load.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// Exports exposes the framework to interpreted code as package harness.
func (f *Framework) Exports() interp.Exports {
	return interp.Exports{
		ImportPath + "/harness": {
			"Autorun": reflect.ValueOf(f.Autorun),
			"Register": reflect.ValueOf(func(name string, fn func(*testing.T)) {
				f.Register(testing.InternalTest{Name: name, F: fn})
			}),
		},
	}
}

// Exec loads file into a fresh interpreter and runs its tests once.
//
// The helper is preloaded with autorun disarmed so support code cannot
// trigger a run while it is being set up. Autorun is restored before the
// target file is loaded, and its tests are then run through RunNow.
func Exec(fw *Framework, file string, opts Options) error {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.Log == nil {
		opts.Log = log.Root()
	}

	i := interp.New(interp.Options{Stdout: opts.Stdout, Stderr: opts.Stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("failed to load stdlib symbols: %w", err)
	}
	if err := i.Use(fw.Exports()); err != nil {
		return fmt.Errorf("failed to load harness symbols: %w", err)
	}

	var warnings []string
	helper, warning := ResolveHelper(opts.LoadPath, opts.Helper)
	if warning != "" {
		warnings = append(warnings, warning)
	}
	if helper != "" {
		if err := preload(fw, i, helper); err != nil {
			return err
		}
		opts.Log.Debug("Preloaded helper", "helper", helper)
	}

	src, err := os.ReadFile(file)
	if err != nil {
		return &LoadError{File: file, Err: err}
	}
	found, err := FindTestFunctions(file, src)
	if err != nil {
		return &LoadError{File: file, Err: err}
	}
	warnings = append(warnings, found.Warnings...)
	if len(found.Tests) == 0 {
		warnings = append(warnings, fmt.Sprintf("%s: no tests to run", file))
	}
	if err := reportWarnings(opts, warnings); err != nil {
		return &LoadError{File: file, Err: err}
	}

	if _, err := i.Eval(string(src)); err != nil {
		return &LoadError{File: file, Err: err}
	}
	for _, name := range found.Tests {
		v, err := i.Eval(found.Package + "." + name)
		if err != nil {
			return &LoadError{File: file, Err: err}
		}
		fn, ok := v.Interface().(func(*testing.T))
		if !ok {
			return &LoadError{File: file, Err: fmt.Errorf("%s is %s, want func(*testing.T)", name, v.Type())}
		}
		fw.Register(testing.InternalTest{Name: name, F: fn})
	}

	opts.Log.Debug("Running tests", "file", file, "tests", len(found.Tests))
	return fw.RunNow(NormalizeTestArgs(opts.TestArgs))
}

func preload(fw *Framework, i *interp.Interpreter, helper string) error {
	restore := fw.Disarm()
	defer restore()

	src, err := os.ReadFile(helper)
	if err != nil {
		return &LoadError{File: helper, Err: err}
	}
	if _, err := i.Eval(string(src)); err != nil {
		return &LoadError{File: helper, Err: err}
	}
	return nil
}

func reportWarnings(opts Options, warnings []string) error {
	if opts.Strict && len(warnings) > 0 {
		errs := make([]error, 0, len(warnings))
		for _, w := range warnings {
			errs = append(errs, errors.New(w))
		}
		return errors.Join(errs...)
	}
	for _, w := range warnings {
		opts.Log.Warn(w)
		fmt.Fprintf(opts.Stderr, "warning: %s\n", w)
	}
	return nil
}

// ResolveHelper finds the helper file on the load path. A missing default
// helper is not reported; a missing named helper yields a warning.
func ResolveHelper(loadPath []string, helper string) (path string, warning string) {
	explicit := helper != ""
	if !explicit {
		helper = DefaultHelper
	}
	if filepath.IsAbs(helper) {
		if fileExists(helper) {
			return helper, ""
		}
	} else {
		for _, dir := range loadPath {
			candidate := filepath.Join(dir, helper)
			if fileExists(candidate) {
				return candidate, ""
			}
		}
	}
	if explicit {
		return "", fmt.Sprintf("helper %s not found in load path %s", helper, strings.Join(loadPath, string(os.PathListSeparator)))
	}
	return "", ""
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

var shortTestFlags = map[string]bool{
	"bench":     true,
	"benchtime": true,
	"count":     true,
	"cpu":       true,
	"failfast":  true,
	"fullpath":  true,
	"list":      true,
	"parallel":  true,
	"run":       true,
	"short":     true,
	"shuffle":   true,
	"skip":      true,
	"timeout":   true,
	"v":         true,
}

// NormalizeTestArgs rewrites go test style flags such as -run or --v=true
// to their -test. form. Everything after a bare "--" is left alone.
func NormalizeTestArgs(args []string) []string {
	out := make([]string, 0, len(args))
	for i, arg := range args {
		if arg == "--" {
			return append(out, args[i:]...)
		}
		out = append(out, normalizeTestArg(arg))
	}
	return out
}

func normalizeTestArg(arg string) string {
	if !strings.HasPrefix(arg, "-") || strings.HasPrefix(arg, "-test.") {
		return arg
	}
	if rest, ok := strings.CutPrefix(arg, "--test."); ok {
		return "-test." + rest
	}
	trimmed := strings.TrimPrefix(strings.TrimPrefix(arg, "-"), "-")
	name, _, _ := strings.Cut(trimmed, "=")
	if !shortTestFlags[name] {
		return arg
	}
	return "-test." + trimmed
}
