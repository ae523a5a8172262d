package isorun

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"

	"github.com/ethereum/go-ethereum/log"
	"github.com/kballard/go-shellquote"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-isorun/flags"
	"github.com/ethereum-optimism/infra/op-isorun/manifest"
	"github.com/ethereum-optimism/infra/op-isorun/shard"
	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// Config holds the application configuration. It is populated once at
// startup and validated before any file runs.
type Config struct {
	Files        []types.TestFile       // Full file list before sharding, sorted and de-duplicated
	Shard        shard.Spec             // This worker's shard
	Options      types.ExecutionOptions // Passed to every child
	BaseLoadPath []string               // Existing search path the extra load path is prepended to
	HostBinary   string                 // Binary started for every file
	Target       string                 // Adapter/target label
	LogDir       string                 // Directory to store per-file logs in, empty to disable
	DryRun       bool                   // Print the shard's commands instead of running them
	ResultsTable bool                   // Print a results table after the summary
	Out          io.Writer
	Log          log.Logger
}

// NewConfig creates a new Config from cli context. The positional arguments
// are test files; a manifest may add files and execution options.
func NewConfig(ctx *cli.Context, log log.Logger) (*Config, error) {
	spec, err := shardFromFlags(ctx)
	if err != nil {
		return nil, err
	}

	var m manifest.Manifest
	if path := ctx.String(flags.Manifest.Name); path != "" {
		loaded, err := manifest.Load(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load manifest: %w", err)
		}
		m = *loaded
	}

	files := make([]types.TestFile, 0, ctx.NArg()+len(m.Files))
	for _, arg := range ctx.Args().Slice() {
		files = append(files, types.TestFile(arg))
	}
	files = append(files, m.TestFiles()...)
	slices.Sort(files)
	files = slices.Compact(files)
	if len(files) == 0 {
		log.Warn("No test files given")
	}

	testArgs, err := shellquote.Split(ctx.String(flags.TestOptions.Name))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", flags.TestOptionsEnvVar, err)
	}
	// Options from the environment come last so they override the manifest.
	testArgs = append(slices.Clone(m.TestOptions), testArgs...)

	helper := ctx.String(flags.Helper.Name)
	if helper == "" {
		helper = m.Helper
	}

	opts, err := types.NewExecutionOptions(
		append(ctx.StringSlice(flags.LoadPath.Name), m.LoadPath...),
		testArgs,
		ctx.Bool(flags.Strict.Name) || m.Strict,
		helper,
	)
	if err != nil {
		return nil, err
	}

	target := ctx.String(flags.Target.Name)
	if !ctx.IsSet(flags.Target.Name) && m.Target != "" {
		target = m.Target
	}

	hostBinary := ctx.String(flags.HostBinary.Name)
	if hostBinary == "" {
		hostBinary, err = os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to determine host binary: %w", err)
		}
	}

	logDir := ctx.String(flags.LogDir.Name)
	if logDir != "" {
		logDir, err = filepath.Abs(logDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory '%s': %w", logDir, err)
		}
	}

	return &Config{
		Files:        files,
		Shard:        spec,
		Options:      opts,
		BaseLoadPath: filepath.SplitList(ctx.String(flags.BaseLoadPath.Name)),
		HostBinary:   hostBinary,
		Target:       target,
		LogDir:       logDir,
		DryRun:       ctx.Bool(flags.DryRun.Name),
		ResultsTable: ctx.Bool(flags.ResultsTable.Name),
		Out:          os.Stdout,
		Log:          log,
	}, nil
}

func shardFromFlags(ctx *cli.Context) (shard.Spec, error) {
	index, count, err := flags.ReadShard(ctx)
	if err != nil {
		return shard.Spec{}, fmt.Errorf("%w: %w", shard.ErrInvalidShardSpec, err)
	}
	spec := shard.Spec{Index: index, Count: count}
	if err := spec.Validate(); err != nil {
		return shard.Spec{}, err
	}
	return spec, nil
}
