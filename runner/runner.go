package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ethereum-optimism/infra/op-isorun/logging"
	"github.com/ethereum-optimism/infra/op-isorun/metrics"
	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// Config holds configuration for creating a new Runner
type Config struct {
	Launcher   Launcher
	Options    types.ExecutionOptions
	Out        io.Writer
	Log        log.Logger
	Target     string              // Adapter/target label used in logs and metrics
	Shard      string              // Shard label used in logs and metrics
	FileLogger *logging.FileLogger // Optional; provides the run ID and receives results
}

// Runner executes the files of one shard strictly one after another.
type Runner struct {
	launcher   Launcher
	options    types.ExecutionOptions
	out        io.Writer
	log        log.Logger
	target     string
	shard      string
	fileLogger *logging.FileLogger
	tracer     trace.Tracer
}

// NewRunner creates a new runner instance
func NewRunner(cfg Config) (*Runner, error) {
	if cfg.Launcher == nil {
		return nil, fmt.Errorf("launcher is required")
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
		cfg.Log.Error("No logger provided, using default")
	}
	if cfg.Target == "" {
		cfg.Target = "default"
	}
	if cfg.Shard == "" {
		cfg.Shard = "0/1"
	}

	return &Runner{
		launcher:   cfg.Launcher,
		options:    cfg.Options,
		out:        cfg.Out,
		log:        cfg.Log,
		target:     cfg.Target,
		shard:      cfg.Shard,
		fileLogger: cfg.FileLogger,
		tracer:     otel.Tracer("isolated runner"),
	}, nil
}

// RunFiles runs every file in order, each in its own process, and returns the
// finalized summary. A failing file never stops the run; only a canceled
// context does, in which case the summary covers the files that ran and the
// context error is returned alongside it.
func (r *Runner) RunFiles(ctx context.Context, files []types.TestFile) (*Summary, error) {
	runID := r.runID()
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("shard %s", r.shard))
	defer span.End()

	r.log.Info("Running test files", "run_id", runID, "target", r.target, "shard", r.shard, "files", len(files))

	agg := NewAggregator(r.out, runID)
	var runErr error
	for i, file := range files {
		if err := ctx.Err(); err != nil {
			r.log.Warn("Run interrupted, skipping remaining files", "remaining", len(files)-i, "err", err)
			runErr = err
			break
		}
		agg.Record(r.runFile(ctx, file))
	}

	summary := agg.Finalize()
	r.log.Info("Run completed", "run_id", runID, "files", len(summary.Outcomes),
		"failed", len(summary.FailingFiles), "duration", summary.Duration)

	if r.fileLogger != nil {
		if err := r.fileLogger.WriteResults(summary.Outcomes, summary.ExitCode); err != nil {
			r.log.Error("Failed to write run results", "err", err)
			metrics.RecordErrorDetails("write_results", err)
		}
	}

	if summary.ExitCode != 0 {
		span.SetStatus(codes.Error, "test files failed")
	}
	return summary, runErr
}

func (r *Runner) runFile(ctx context.Context, file types.TestFile) types.RunOutcome {
	ctx, span := r.tracer.Start(ctx, fmt.Sprintf("file %s", file))
	defer span.End()

	start := time.Now()
	outcome := r.launcher.Run(ctx, file, r.options)
	if outcome.Duration == 0 {
		outcome.Duration = time.Since(start)
	}

	span.SetAttributes(
		attribute.String("file", file.String()),
		attribute.Bool("succeeded", outcome.Succeeded),
		attribute.Int("exit_code", outcome.ExitCode),
	)

	switch {
	case outcome.Succeeded:
		r.log.Debug("Test file passed", "file", file, "duration", outcome.Duration)
	case IsLaunchError(outcome.Err):
		r.log.Error("Test file could not be launched", "file", file, "err", outcome.Err)
		metrics.RecordErrorDetails("launch", outcome.Err)
		span.SetStatus(codes.Error, outcome.Err.Error())
	default:
		r.log.Warn("Test file failed", "file", file, "exit_code", outcome.ExitCode, "duration", outcome.Duration)
		span.SetStatus(codes.Error, "test file failed")
	}

	if !outcome.Succeeded && r.fileLogger != nil {
		if err := r.fileLogger.MarkFailed(file); err != nil {
			r.log.Warn("Failed to copy log of failing file", "file", file, "err", err)
		}
	}
	metrics.RecordFile(r.target, r.shard, outcome.Status(), outcome.Duration)
	return outcome
}

func (r *Runner) runID() string {
	if r.fileLogger != nil {
		return r.fileLogger.GetRunID()
	}
	return uuid.New().String()
}
