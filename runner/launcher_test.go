package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethereum-optimism/infra/op-isorun/types"
)

// TestHelperProcess is not a real test. It stands in for the child process
// when the test binary re-executes itself through helperCmdBuilder.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	var file string
	for _, arg := range os.Args {
		if strings.HasSuffix(arg, "_test.go") {
			file = arg
		}
	}
	fmt.Printf("child running %s\n", file)
	if strings.Contains(file, "fail") {
		fmt.Fprintln(os.Stderr, "child assertion failed")
		os.Exit(1)
	}
	os.Exit(0)
}

func helperCmdBuilder(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
	args := append([]string{"-test.run=^TestHelperProcess$", "--", name}, arg...)
	return exec.CommandContext(ctx, os.Args[0], args...), func() {}
}

func helperEnv() []string {
	return append(os.Environ(), "GO_WANT_HELPER_PROCESS=1")
}

func newHelperLauncher(t *testing.T, out io.Writer, sink OutputSink) *ProcessLauncher {
	t.Helper()
	l, err := NewProcessLauncher(LauncherConfig{
		HostBinary:  "op-isorun",
		Out:         out,
		EnvProvider: helperEnv,
		CmdBuilder:  helperCmdBuilder,
		Sink:        sink,
	})
	require.NoError(t, err)
	return l
}

func TestNewProcessLauncher(t *testing.T) {
	t.Run("empty host binary should return error", func(t *testing.T) {
		l, err := NewProcessLauncher(LauncherConfig{})
		assert.Nil(t, l)
		require.EqualError(t, err, "hostBinary cannot be empty")
	})

	t.Run("defaults are filled in", func(t *testing.T) {
		l, err := NewProcessLauncher(LauncherConfig{HostBinary: "op-isorun"})
		require.NoError(t, err)
		assert.Equal(t, os.Stdout, l.out)
		assert.NotNil(t, l.envProvider)
		assert.NotNil(t, l.cmdBuilder)
		assert.NotNil(t, l.log)
	})
}

func TestLauncherArgs(t *testing.T) {
	l, err := NewProcessLauncher(LauncherConfig{
		HostBinary:   "/usr/local/bin/op-isorun",
		BaseLoadPath: []string{"/repo/test"},
	})
	require.NoError(t, err)

	tests := []struct {
		name     string
		opts     types.ExecutionOptions
		expected []string
	}{
		{
			name:     "no options",
			expected: []string{"exec", "-I", "/repo/test", "--", "test/a_test.go"},
		},
		{
			name: "load path is prepended in priority order and de-duplicated",
			opts: types.ExecutionOptions{LoadPath: []string{"/repo/lib", "/repo/test"}},
			expected: []string{"exec", "-I", "/repo/lib", "-I", "/repo/test", "--", "test/a_test.go"},
		},
		{
			name: "strict, helper and test args",
			opts: types.ExecutionOptions{
				Strict:   true,
				Helper:   "helper_test.go",
				TestArgs: []string{"-test.run", "TestUser", "-test.v"},
			},
			expected: []string{"exec", "-I", "/repo/test", "-w", "--helper", "helper_test.go", "--", "test/a_test.go", "-test.run", "TestUser", "-test.v"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, l.Args("test/a_test.go", tt.opts))
		})
	}
}

func TestLauncherCommandIsShellQuoted(t *testing.T) {
	l, err := NewProcessLauncher(LauncherConfig{HostBinary: "op-isorun"})
	require.NoError(t, err)

	cmd := l.Command("test/a b_test.go", types.ExecutionOptions{TestArgs: []string{"-test.run", "Test One"}})
	assert.Equal(t, `op-isorun exec -- 'test/a b_test.go' -test.run 'Test One'`, cmd)
}

func TestLauncherRunPassingFile(t *testing.T) {
	var out bytes.Buffer
	l := newHelperLauncher(t, &out, nil)

	outcome := l.Run(context.Background(), "pass_test.go", types.ExecutionOptions{})

	assert.True(t, outcome.Succeeded)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.NoError(t, outcome.Err)
	assert.Contains(t, outcome.Output, "child running pass_test.go")

	lines := strings.Split(out.String(), "\n")
	require.GreaterOrEqual(t, len(lines), 2)
	assert.Equal(t, "--- pass_test.go", lines[0])
	assert.Equal(t, "op-isorun exec -- pass_test.go", lines[1])
	assert.NotContains(t, out.String(), FailureMarker)
}

func TestLauncherRunFailingFile(t *testing.T) {
	var out bytes.Buffer
	l := newHelperLauncher(t, &out, nil)

	outcome := l.Run(context.Background(), "fail_test.go", types.ExecutionOptions{})

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, 1, outcome.ExitCode)
	require.True(t, IsChildProcessError(outcome.Err))
	assert.False(t, IsLaunchError(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "exit status 1")
	assert.Contains(t, outcome.Output, "child assertion failed")
	assert.True(t, strings.HasSuffix(out.String(), FailureMarker+"\n"), "failure marker must follow the child output")
}

func TestLauncherRunLaunchFailure(t *testing.T) {
	var out bytes.Buffer
	l, err := NewProcessLauncher(LauncherConfig{
		HostBinary: "/nonexistent/op-isorun-host",
		Out:        &out,
	})
	require.NoError(t, err)

	outcome := l.Run(context.Background(), "a_test.go", types.ExecutionOptions{})

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, -1, outcome.ExitCode)
	assert.True(t, IsLaunchError(outcome.Err))
	assert.Contains(t, out.String(), "--- a_test.go\n")
	assert.Contains(t, out.String(), FailureMarker+"\n")
}

func TestLauncherRunChildKilledBySignal(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("signals are not delivered on windows")
	}
	var out bytes.Buffer
	l, err := NewProcessLauncher(LauncherConfig{
		HostBinary: "op-isorun",
		Out:        &out,
		CmdBuilder: func(ctx context.Context, name string, arg ...string) (*exec.Cmd, func()) {
			return exec.CommandContext(ctx, "sh", "-c", "echo before signal; kill -9 $$"), func() {}
		},
	})
	require.NoError(t, err)

	outcome := l.Run(context.Background(), "sig_test.go", types.ExecutionOptions{})

	assert.False(t, outcome.Succeeded)
	assert.Equal(t, -1, outcome.ExitCode)
	require.True(t, IsChildProcessError(outcome.Err))
	assert.False(t, IsLaunchError(outcome.Err))
	assert.Contains(t, outcome.Err.Error(), "signal: killed")
	assert.Contains(t, outcome.Output, "before signal")
	assert.True(t, strings.HasSuffix(out.String(), FailureMarker+"\n"), out.String())
}

type memorySink struct {
	buffers map[types.TestFile]*closeBuffer
}

type closeBuffer struct {
	bytes.Buffer
	closed bool
}

func (b *closeBuffer) Close() error {
	b.closed = true
	return nil
}

func (s *memorySink) FileOutput(file types.TestFile) (io.WriteCloser, error) {
	if s.buffers == nil {
		s.buffers = make(map[types.TestFile]*closeBuffer)
	}
	b := &closeBuffer{}
	s.buffers[file] = b
	return b, nil
}

func TestLauncherWritesToSink(t *testing.T) {
	sink := &memorySink{}
	l := newHelperLauncher(t, io.Discard, sink)

	outcome := l.Run(context.Background(), "pass_test.go", types.ExecutionOptions{})
	require.True(t, outcome.Succeeded)

	buf, ok := sink.buffers["pass_test.go"]
	require.True(t, ok)
	assert.True(t, buf.closed)
	assert.Contains(t, buf.String(), "child running pass_test.go")
}
