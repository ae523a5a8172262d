package isorun

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/ethereum-optimism/infra/op-isorun/flags"
	"github.com/ethereum-optimism/infra/op-isorun/shard"
	"github.com/ethereum-optimism/infra/op-isorun/types"
	"github.com/ethereum-optimism/optimism/op-service/cliapp"
)

// configFromArgs runs a cli app with the real flags and returns the config
// NewConfig built from them.
func configFromArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	for _, env := range []string{
		flags.JobCountEnvVar, flags.JobIndexEnvVar, flags.TestOptionsEnvVar, flags.LoadPathEnvVar,
	} {
		t.Setenv(env, "")
	}

	var cfg *Config
	var cfgErr error
	app := &cli.App{
		Name:                      "op-isorun",
		Flags:                     cliapp.ProtectFlags(flags.Flags),
		DisableSliceFlagSeparator: true,
		Action: func(ctx *cli.Context) error {
			cfg, cfgErr = NewConfig(ctx, log.NewLogger(log.DiscardHandler()))
			return nil
		},
	}
	require.NoError(t, app.Run(append([]string{"op-isorun"}, args...)))
	return cfg, cfgErr
}

func TestNewConfigDefaults(t *testing.T) {
	cfg, err := configFromArgs(t, "b_test.go", "a_test.go", "b_test.go")
	require.NoError(t, err)

	assert.Equal(t, []types.TestFile{"a_test.go", "b_test.go"}, cfg.Files, "files are sorted and de-duplicated")
	assert.Equal(t, shard.Default, cfg.Shard)
	assert.Equal(t, "default", cfg.Target)
	assert.Empty(t, cfg.Options.LoadPath)
	assert.Empty(t, cfg.Options.TestArgs)
	assert.False(t, cfg.Options.Strict)
	assert.Empty(t, cfg.LogDir)

	exe, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, exe, cfg.HostBinary)
}

func TestNewConfigShard(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected shard.Spec
		wantErr  bool
	}{
		{name: "valid shard", args: []string{"--job-count=4", "--job-index=3"}, expected: shard.Spec{Index: 3, Count: 4}},
		{name: "index out of range", args: []string{"--job-count=2", "--job-index=2"}, wantErr: true},
		{name: "zero count", args: []string{"--job-count=0"}, wantErr: true},
		{name: "missing index", args: []string{"--job-count=2"}, wantErr: true},
		{name: "negative index", args: []string{"--job-count=2", "--job-index=-1"}, wantErr: true},
		{name: "malformed count", args: []string{"--job-count=abc"}, wantErr: true},
		{name: "malformed index", args: []string{"--job-count=2", "--job-index=one"}, wantErr: true},
		{name: "surrounding whitespace", args: []string{"--job-count= 3 ", "--job-index=2"}, expected: shard.Spec{Index: 2, Count: 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := configFromArgs(t, append(tt.args, "a_test.go")...)
			if tt.wantErr {
				require.ErrorIs(t, err, shard.ErrInvalidShardSpec)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, cfg.Shard)
		})
	}
}

func TestNewConfigTestOptions(t *testing.T) {
	cfg, err := configFromArgs(t, "--test-options", `-run 'TestUser Create' -v`, "a_test.go")
	require.NoError(t, err)
	assert.Equal(t, []string{"-run", "TestUser Create", "-v"}, cfg.Options.TestArgs)

	_, err = configFromArgs(t, "--test-options", `-run 'unterminated`, "a_test.go")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "TEST_OPTIONS")
}

func TestNewConfigLoadPath(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	cfg, err := configFromArgs(t,
		"--load-path", "lib", "-I", "test", "--load-path", "lib",
		"--base-load-path", "/usr/share/isorun"+string(os.PathListSeparator)+"/opt/isorun",
		"a_test.go")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(cwd, "lib"), filepath.Join(cwd, "test")}, cfg.Options.LoadPath)
	assert.Equal(t, []string{"/usr/share/isorun", "/opt/isorun"}, cfg.BaseLoadPath)
}

func TestNewConfigManifest(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "isorun.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
target: postgres
files: [test/b_test.go]
load_path: [test]
test_options: ["-v"]
strict: true
helper: support_test.go
`), 0o644))

	cfg, err := configFromArgs(t, "--manifest", path, "--test-options", "-run TestUser", "a_test.go")
	require.NoError(t, err)

	assert.Equal(t, []types.TestFile{types.TestFile(filepath.Join(dir, "test/b_test.go")), "a_test.go"}, cfg.Files)
	assert.Equal(t, "postgres", cfg.Target)
	assert.Equal(t, []string{filepath.Join(dir, "test")}, cfg.Options.LoadPath)
	assert.Equal(t, []string{"-v", "-run", "TestUser"}, cfg.Options.TestArgs)
	assert.True(t, cfg.Options.Strict)
	assert.Equal(t, "support_test.go", cfg.Options.Helper)

	cfg, err = configFromArgs(t, "--manifest", path, "--target", "mysql", "--helper", "other.go")
	require.NoError(t, err)
	assert.Equal(t, "mysql", cfg.Target, "flags win over the manifest")
	assert.Equal(t, "other.go", cfg.Options.Helper)
}

func TestNewConfigBadManifest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "isorun.yaml")
	require.NoError(t, os.WriteFile(path, []byte("files: 3\n"), 0o644))

	_, err := configFromArgs(t, "--manifest", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load manifest")
}
