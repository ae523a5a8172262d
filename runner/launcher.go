package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kballard/go-shellquote"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

var _ Launcher = (*ProcessLauncher)(nil)

// Launcher runs one test file and reports how it ended.
type Launcher interface {
	// Run blocks until the file's process has terminated. Failures are
	// reported on the returned outcome, never as a panic or abort.
	Run(ctx context.Context, file types.TestFile, opts types.ExecutionOptions) types.RunOutcome
}

// CmdBuilder creates the command for a child process. The returned func is
// called once the child has been waited on.
type CmdBuilder func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func())

// OutputSink provides a per-file destination for child output.
type OutputSink interface {
	FileOutput(file types.TestFile) (io.WriteCloser, error)
}

// LauncherConfig holds configuration for creating a ProcessLauncher
type LauncherConfig struct {
	HostBinary   string   // Binary started for every file; must understand the exec subcommand
	BaseLoadPath []string // Search path the extra load path entries are prepended to
	WorkDir      string   // Working directory of the children, empty to inherit
	Out          io.Writer
	Log          log.Logger
	EnvProvider  func() []string
	CmdBuilder   CmdBuilder
	Sink         OutputSink // Optional per-file log destination
}

// ProcessLauncher starts every file in a fresh OS process so process-wide
// state changed by one file can never be observed by another.
type ProcessLauncher struct {
	hostBinary   string
	baseLoadPath []string
	workDir      string
	out          io.Writer
	log          log.Logger
	envProvider  func() []string
	cmdBuilder   CmdBuilder
	sink         OutputSink
}

// DefaultCmdBuilder starts the child with exec.CommandContext, so an
// interrupted run kills the file currently executing.
func DefaultCmdBuilder(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	return exec.CommandContext(ctx, name, arg...), func() {}
}

// NewProcessLauncher creates a new process launcher
func NewProcessLauncher(cfg LauncherConfig) (*ProcessLauncher, error) {
	if cfg.HostBinary == "" {
		return nil, fmt.Errorf("hostBinary cannot be empty")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Log == nil {
		cfg.Log = log.Root()
	}
	if cfg.EnvProvider == nil {
		cfg.EnvProvider = os.Environ
	}
	if cfg.CmdBuilder == nil {
		cfg.CmdBuilder = DefaultCmdBuilder
	}

	return &ProcessLauncher{
		hostBinary:   cfg.HostBinary,
		baseLoadPath: cfg.BaseLoadPath,
		workDir:      cfg.WorkDir,
		out:          cfg.Out,
		log:          cfg.Log,
		envProvider:  cfg.EnvProvider,
		cmdBuilder:   cfg.CmdBuilder,
		sink:         cfg.Sink,
	}, nil
}

// Args builds the child command line (without the host binary) for file.
func (l *ProcessLauncher) Args(file types.TestFile, opts types.ExecutionOptions) []string {
	args := []string{ExecCommand}
	for _, dir := range types.MergeLoadPath(l.baseLoadPath, opts.LoadPath) {
		args = append(args, LoadPathFlag, dir)
	}
	if opts.Strict {
		args = append(args, StrictFlag)
	}
	if opts.Helper != "" {
		args = append(args, HelperFlag, opts.Helper)
	}
	args = append(args, ArgsSeparator, file.String())
	return append(args, opts.TestArgs...)
}

// Command returns the shell command that reproduces the run of file standalone.
func (l *ProcessLauncher) Command(file types.TestFile, opts types.ExecutionOptions) string {
	return shellquote.Join(append([]string{l.hostBinary}, l.Args(file, opts)...)...)
}

// Run implements Launcher.
func (l *ProcessLauncher) Run(ctx context.Context, file types.TestFile, opts types.ExecutionOptions) types.RunOutcome {
	fmt.Fprintf(l.out, "%s%s\n", FileBannerPrefix, file)
	fmt.Fprintln(l.out, l.Command(file, opts))

	outcome := l.launch(ctx, file, l.Args(file, opts))
	if !outcome.Succeeded {
		fmt.Fprintln(l.out, FailureMarker)
	}
	return outcome
}

func (l *ProcessLauncher) launch(ctx context.Context, file types.TestFile, args []string) types.RunOutcome {
	outcome := types.RunOutcome{File: file, ExitCode: -1}

	cmd, cleanup := l.cmdBuilder(ctx, l.hostBinary, args...)
	defer cleanup()
	if l.workDir != "" {
		cmd.Dir = l.workDir
	}
	cmd.Env = l.envProvider()

	tail := newOutputTail(defaultOutputTailBytes)
	writers := []io.Writer{l.out, tail}
	if l.sink != nil {
		fileOut, err := l.sink.FileOutput(file)
		if err != nil {
			l.log.Warn("Failed to open file log, continuing without it", "file", file, "err", err)
		} else {
			defer func() {
				if err := fileOut.Close(); err != nil {
					l.log.Warn("Failed to close file log", "file", file, "err", err)
				}
			}()
			writers = append(writers, fileOut)
		}
	}
	combined := io.MultiWriter(writers...)
	cmd.Stdout = combined
	cmd.Stderr = combined

	start := time.Now()
	if err := cmd.Start(); err != nil {
		outcome.Duration = time.Since(start)
		outcome.Err = &LaunchError{File: file, Err: err}
		l.log.Error("Failed to launch test file", "file", file, "binary", l.hostBinary, "err", err)
		return outcome
	}

	waitErr := cmd.Wait()
	outcome.Duration = time.Since(start)
	outcome.Output = tail.String()

	if waitErr == nil {
		outcome.Succeeded = true
		outcome.ExitCode = 0
		return outcome
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		outcome.ExitCode = exitErr.ExitCode()
		outcome.Err = &ChildProcessError{File: file, ExitCode: exitErr.ExitCode(), State: exitErr.ProcessState.String()}
	} else {
		outcome.Err = &ChildProcessError{File: file, ExitCode: -1, Err: waitErr}
	}
	l.log.Debug("Test file failed", "file", file, "exit_code", outcome.ExitCode, "duration", outcome.Duration)
	return outcome
}
