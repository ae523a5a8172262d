package flags

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "OP_ISORUN"

// Environment variables read under their CI names rather than the prefixed form.
const (
	JobCountEnvVar    = "WORKER_JOB_COUNT"
	JobIndexEnvVar    = "WORKER_JOB_INDEX"
	TestOptionsEnvVar = "TEST_OPTIONS"
	LoadPathEnvVar    = "ISORUN_LOAD_PATH"
)

var (
	JobCount = &cli.StringFlag{
		Name:    "job-count",
		Value:   "1",
		EnvVars: []string{JobCountEnvVar},
		Usage:   "Number of parallel workers the file list is sharded across",
	}
	JobIndex = &cli.StringFlag{
		Name:    "job-index",
		Value:   "",
		EnvVars: []string{JobIndexEnvVar},
		Usage:   "Zero-based index of this worker. Required when job-count is greater than 1",
	}
	TestOptions = &cli.StringFlag{
		Name:    "test-options",
		Value:   "",
		EnvVars: []string{TestOptionsEnvVar},
		Usage:   "Test filter arguments forwarded to every test file, split on whitespace with shell-style quotes honored (e.g. -run 'TestUser Create' -v)",
	}
	BaseLoadPath = &cli.StringFlag{
		Name:    "base-load-path",
		Value:   "",
		EnvVars: []string{LoadPathEnvVar},
		Usage:   "Existing search path for helper files, as an OS path list",
	}
	LoadPath = &cli.StringSliceFlag{
		Name:    "load-path",
		Aliases: []string{"I"},
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOAD_PATH"),
		Usage:   "Extra load path directory, prepended to the base load path. The first one listed has the highest priority",
	}
	Strict = &cli.BoolFlag{
		Name:    "strict",
		Aliases: []string{"w"},
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STRICT"),
		Usage:   "Treat loader warnings in the test files as errors",
	}
	Helper = &cli.StringFlag{
		Name:    "helper",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HELPER"),
		Usage:   "Support file preloaded from the load path before each test file (default 'helper_test.go')",
	}
	Manifest = &cli.StringFlag{
		Name:    "manifest",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MANIFEST"),
		Usage:   "Path to a YAML manifest listing test files and execution options",
	}
	HostBinary = &cli.StringFlag{
		Name:    "host-binary",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HOST_BINARY"),
		Usage:   "Binary started for every test file. Defaults to the running executable",
	}
	LogDir = &cli.StringFlag{
		Name:    "log-dir",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOG_DIR"),
		Usage:   "Directory to store per-file test logs in. Disabled when empty",
	}
	Target = &cli.StringFlag{
		Name:    "target",
		Value:   "default",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TARGET"),
		Usage:   "Adapter/target the files are run for, used as a label in logs and metrics",
	}
	DryRun = &cli.BoolFlag{
		Name:    "dry-run",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DRY_RUN"),
		Usage:   "Print this worker's files and their commands without running them",
	}
	ResultsTable = &cli.BoolFlag{
		Name:    "results-table",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_TABLE"),
		Usage:   "Print a results table after the run summary",
	}
	HealthzAddr = &cli.StringFlag{
		Name:    "healthz.addr",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "HEALTHZ_ADDR"),
		Usage:   "Address to serve /healthz on (e.g. '0.0.0.0:8080'). Disabled when empty",
	}
)

var optionalFlags = []cli.Flag{
	JobCount,
	JobIndex,
	TestOptions,
	BaseLoadPath,
	LoadPath,
	Strict,
	Helper,
	Manifest,
	HostBinary,
	LogDir,
	Target,
	DryRun,
	ResultsTable,
	HealthzAddr,
}

var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = optionalFlags
}

// Flags of the exec subcommand, which runs a single test file inside the
// child process. They are set by the parent only and have no env vars.
var (
	ExecLoadPath = &cli.StringSliceFlag{
		Name:  "I",
		Usage: "Load path directory, in priority order",
	}
	ExecStrict = &cli.BoolFlag{
		Name:  "w",
		Usage: "Treat loader warnings as errors",
	}
	ExecHelper = &cli.StringFlag{
		Name:  "helper",
		Usage: "Support file preloaded before the test file",
	}
)

var ExecFlags = []cli.Flag{
	ExecLoadPath,
	ExecStrict,
	ExecHelper,
}

// CheckShard validates the worker flags. The index is mandatory once the
// file list is sharded.
func CheckShard(ctx *cli.Context) error {
	_, _, err := ReadShard(ctx)
	return err
}

// ReadShard parses the shard flags. The shard values come from the CI
// environment as plain strings, so they are parsed here rather than by the
// flag parser. An empty value counts as unset.
func ReadShard(ctx *cli.Context) (index int, count int, err error) {
	count = 1
	if raw := strings.TrimSpace(ctx.String(JobCount.Name)); raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("flag %s (%s) must be an integer, got %q", JobCount.Name, JobCountEnvVar, raw)
		}
	}

	raw := strings.TrimSpace(ctx.String(JobIndex.Name))
	if raw == "" {
		if count > 1 {
			return 0, 0, fmt.Errorf("flag %s (%s) is required when %s is %d", JobIndex.Name, JobIndexEnvVar, JobCount.Name, count)
		}
		return 0, count, nil
	}
	index, err = strconv.Atoi(raw)
	if err != nil {
		return 0, 0, fmt.Errorf("flag %s (%s) must be an integer, got %q", JobIndex.Name, JobIndexEnvVar, raw)
	}
	return index, count, nil
}
