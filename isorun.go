// Package isorun runs test files in isolation: every file of this worker's
// shard is executed in its own OS process, one after another, and the
// outcomes are aggregated into a single exit status.
package isorun

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-isorun/logging"
	"github.com/ethereum-optimism/infra/op-isorun/runner"
	"github.com/ethereum-optimism/infra/op-isorun/shard"
	"github.com/ethereum-optimism/infra/op-isorun/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// isorun implements the cliapp.Lifecycle interface.
var _ cliapp.Lifecycle = &isorun{}

type isorun struct {
	config     *Config
	version    string
	files      []types.TestFile // This worker's shard
	launcher   *runner.ProcessLauncher
	runner     *runner.Runner
	fileLogger *logging.FileLogger
	formatter  ResultFormatter
	reporter   MetricsReporter
	summary    *runner.Summary

	running atomic.Bool

	shutdownCallback func(error) // Callback to signal application shutdown
}

// New selects this worker's shard and wires the launcher and runner for it.
func New(ctx context.Context, config *Config, version string, shutdownCallback func(error)) (*isorun, error) {
	if config == nil {
		return nil, errors.New("config is required")
	}

	files, err := shard.Select(config.Files, config.Shard)
	if err != nil {
		return nil, err
	}

	config.Log.Debug("Creating isolated runner with config",
		"target", config.Target,
		"shard", config.Shard,
		"files", len(config.Files),
		"shardFiles", len(files),
		"loadPath", config.Options.LoadPath,
		"testArgs", config.Options.TestArgs,
		"strict", config.Options.Strict)

	var fileLogger *logging.FileLogger
	var sink runner.OutputSink
	if config.LogDir != "" && !config.DryRun {
		fileLogger, err = logging.NewFileLogger(config.LogDir, uuid.New().String())
		if err != nil {
			return nil, fmt.Errorf("failed to create file logger: %w", err)
		}
		sink = fileLogger
	}

	launcher, err := runner.NewProcessLauncher(runner.LauncherConfig{
		HostBinary:   config.HostBinary,
		BaseLoadPath: config.BaseLoadPath,
		Out:          config.Out,
		Log:          config.Log,
		Sink:         sink,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create launcher: %w", err)
	}

	r, err := runner.NewRunner(runner.Config{
		Launcher:   launcher,
		Options:    config.Options,
		Out:        config.Out,
		Log:        config.Log,
		Target:     config.Target,
		Shard:      config.Shard.String(),
		FileLogger: fileLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create runner: %w", err)
	}

	return &isorun{
		config:           config,
		version:          version,
		files:            files,
		launcher:         launcher,
		runner:           r,
		fileLogger:       fileLogger,
		formatter:        NewConsoleResultFormatter(config.Log, config.Out),
		reporter:         NewDefaultMetricsReporter(),
		shutdownCallback: shutdownCallback,
	}, nil
}

// Start runs every file of the shard and returns once the last one exited.
// Start implements the cliapp.Lifecycle interface.
func (n *isorun) Start(ctx context.Context) error {
	n.running.Store(true)
	defer n.running.Store(false)

	n.config.Log.Info("Starting op-isorun",
		"version", n.version,
		"target", n.config.Target,
		"shard", n.config.Shard,
		"files", len(n.files))

	if n.config.DryRun {
		n.printPlan(n.config.Out)
		n.shutdown()
		return nil
	}

	// Start blocks for the whole run, so interrupts have to reach the
	// runner directly to kill the current child.
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := n.runner.RunFiles(ctx, n.files)
	n.summary = summary
	if summary != nil {
		n.reporter.ReportResults(n.config.Target, summary)
		if n.config.ResultsTable {
			if ferr := n.formatter.FormatResults(summary); ferr != nil {
				n.config.Log.Warn("Failed to print results table", "err", ferr)
			}
		}
	}
	if err != nil {
		return NewRuntimeError(fmt.Errorf("run interrupted: %w", err))
	}

	if n.fileLogger != nil {
		n.config.Log.Info("Test logs written", "dir", n.fileLogger.GetDirectory())
	}
	if summary.ExitCode != 0 {
		n.config.Log.Warn("Run completed with failures", "run_id", summary.RunID, "failed", len(summary.FailingFiles))
		return NewTestFailureError(summary.String(), summary.FailingFiles)
	}

	n.config.Log.Info("Run completed", "run_id", summary.RunID, "summary", summary.String())
	n.shutdown()
	return nil
}

func (n *isorun) shutdown() {
	if n.shutdownCallback != nil {
		go n.shutdownCallback(nil)
	}
}

// printPlan lists this worker's files and the command each would run with.
func (n *isorun) printPlan(out io.Writer) {
	fmt.Fprintf(out, "Shard %s: %d of %d files\n", n.config.Shard, len(n.files), len(n.config.Files))
	for _, file := range n.files {
		fmt.Fprintf(out, "%s%s\n", runner.FileBannerPrefix, file)
		fmt.Fprintln(out, n.launcher.Command(file, n.config.Options))
	}
}

// Stop implements the cliapp.Lifecycle interface. Files run synchronously
// in Start, so there is nothing left to stop; an interrupt cancels the
// context Start runs under.
func (n *isorun) Stop(ctx context.Context) error {
	n.config.Log.Info("Stopping op-isorun")
	n.running.Store(false)
	return nil
}

// Stopped implements the cliapp.Lifecycle interface.
func (n *isorun) Stopped() bool {
	return !n.running.Load()
}

// Summary returns the summary of the last run, or nil before a run.
func (n *isorun) Summary() *runner.Summary {
	return n.summary
}
