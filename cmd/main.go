package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/urfave/cli/v2"

	isorun "github.com/ethereum-optimism/infra/op-isorun"
	"github.com/ethereum-optimism/infra/op-isorun/flags"
	"github.com/ethereum-optimism/infra/op-isorun/harness"
	"github.com/ethereum-optimism/infra/op-isorun/service"
	"github.com/ethereum-optimism/optimism/devnet-sdk/telemetry"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
	"github.com/ethereum-optimism/optimism/op-service/ctxinterrupt"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

var (
	Version   = "v0.1.0"
	GitCommit = ""
	GitDate   = ""
)

func main() {
	app := newApp()

	// Start telemetry
	ctx, shutdown, err := telemetry.SetupOpenTelemetry(
		context.Background(),
		otelconfig.WithServiceName(app.Name),
		otelconfig.WithServiceVersion(app.Version),
	)
	if err != nil {
		log.Crit("Failed to setup open telemetry", "message", err)
	}
	defer shutdown()

	// Start CLI
	ctx = ctxinterrupt.WithSignalWaiterMain(ctx)
	err = app.RunContext(ctx, os.Args)
	if err != nil {
		log.Crit("Application failed", "message", err)
	}
}

func newApp() *cli.App {
	app := cli.NewApp()
	app.Version = fmt.Sprintf("%s-%s-%s", Version, GitCommit, GitDate)
	app.Name = "op-isorun"
	app.Usage = "Isolated test file runner"
	app.Description = "op-isorun runs every test file of a CI shard in its own process"
	app.ArgsUsage = "[test files...]"
	app.Flags = cliapp.ProtectFlags(flags.Flags)
	app.DisableSliceFlagSeparator = true
	app.Action = cliapp.LifecycleCmd(run)
	app.Commands = []*cli.Command{
		{
			Name:      "exec",
			Usage:     "Run the tests of a single file in this process",
			ArgsUsage: "-- <file> [test args...]",
			Hidden:    true,
			Flags:     flags.ExecFlags,
			Action:    execFile,
		},
	}
	app.OnUsageError = func(c *cli.Context, err error, isSubcommand bool) error {
		// Malformed flags or environment are configuration errors
		return isorun.NewRuntimeError(fmt.Errorf("invalid usage: %w", err))
	}
	app.ExitErrHandler = func(c *cli.Context, err error) {
		var exitErr cli.ExitCoder
		if errors.As(err, &exitErr) {
			// Runtime errors and test failures carry their own exit code
			cli.HandleExitCoder(exitErr)
		} else if err != nil {
			cli.HandleExitCoder(cli.Exit(err.Error(), isorun.ExitCodeFor(err)))
		}
	}
	return app
}

func run(ctx *cli.Context, closeApp context.CancelCauseFunc) (cliapp.Lifecycle, error) {
	logCfg := oplog.ReadCLIConfig(ctx)
	log := oplog.NewLogger(oplog.AppOut(ctx), logCfg)
	oplog.SetGlobalLogHandler(log.Handler())
	oplog.SetupDefaults()

	cfg, err := isorun.NewConfig(ctx, log)
	if err != nil {
		// Wrap in RuntimeError to signal this should exit with code 2
		return nil, isorun.NewRuntimeError(fmt.Errorf("failed to create config: %w", err))
	}

	cfg.Log.Debug("Config", "config", cfg)

	runner, err := isorun.New(ctx.Context, cfg, Version, closeApp)
	if err != nil {
		return nil, isorun.NewRuntimeError(fmt.Errorf("failed to create runner: %w", err))
	}

	svc := service.New(service.NewConfig(ctx.String(flags.HealthzAddr.Name), opmetrics.ReadCLIConfig(ctx)))
	svc.Start(ctx.Context)

	return &serviceLifecycle{Lifecycle: runner, svc: svc}, nil
}

// serviceLifecycle shuts the healthz and metrics servers down with the run.
type serviceLifecycle struct {
	cliapp.Lifecycle
	svc *service.Service
}

func (l *serviceLifecycle) Stop(ctx context.Context) error {
	l.svc.Shutdown()
	return l.Lifecycle.Stop(ctx)
}

// execFile is the child side of an isolated run. It loads one file into an
// interpreter and runs its tests. testing.Main exits the process with the
// suite's status, so execFile only returns when the file could not be
// loaded.
func execFile(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return isorun.NewRuntimeError(errors.New("exec requires a test file"))
	}
	log := oplog.NewLogger(oplog.AppOut(ctx), oplog.ReadCLIConfig(ctx))

	err := harness.Exec(harness.NewFramework(nil), ctx.Args().First(), harness.Options{
		LoadPath: ctx.StringSlice(flags.ExecLoadPath.Name),
		Helper:   ctx.String(flags.ExecHelper.Name),
		Strict:   ctx.Bool(flags.ExecStrict.Name),
		TestArgs: ctx.Args().Tail(),
		Log:      log,
	})
	if err != nil {
		return isorun.NewRuntimeError(err)
	}
	return nil
}
