//go:build !windows

package execx

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vbox-mcp/internal/provider"
)

func noopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newShellExecutor wires the vboxmanage program to /bin/sh so tests can
// exercise the executor without a hypervisor installed.
func newShellExecutor(t *testing.T) *Executor {
	t.Helper()
	e := New(Config{Paths: map[Program]string{ProgramVBoxManage: "/bin/sh"}}, noopLogger())
	require.True(t, e.Available(ProgramVBoxManage))
	return e
}

func TestRunCapturesOutput(t *testing.T) {
	e := newShellExecutor(t)
	res, err := e.Run(context.Background(), Request{
		Program: ProgramVBoxManage,
		Args:    []string{"-c", `echo out; echo err >&2`},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "out\n", res.Stdout)
	assert.Equal(t, "err\n", res.Stderr)
	assert.Equal(t, 0, res.ExitCode)
	assert.Greater(t, res.Duration, time.Duration(0))
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	e := newShellExecutor(t)
	res, err := e.Run(context.Background(), Request{
		Program: ProgramVBoxManage,
		Args:    []string{"-c", `echo partial; exit 3`},
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "partial\n", res.Stdout)
}

func TestRunTimeoutReturnsPartialOutput(t *testing.T) {
	e := newShellExecutor(t)
	res, err := e.Run(context.Background(), Request{
		Program: ProgramVBoxManage,
		Args:    []string{"-c", `echo early; sleep 30`},
		Timeout: time.Second,
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindTimeout, provider.KindOf(err))
	require.NotNil(t, res)
	assert.Equal(t, "early\n", res.Stdout)
}

func TestRunCancelled(t *testing.T) {
	e := newShellExecutor(t)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	_, err := e.Run(ctx, Request{
		Program: ProgramVBoxManage,
		Args:    []string{"-c", "sleep 30"},
		Timeout: 30 * time.Second,
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindCancelled, provider.KindOf(err))
}

func TestRunStdin(t *testing.T) {
	e := newShellExecutor(t)
	res, err := e.Run(context.Background(), Request{
		Program: ProgramVBoxManage,
		Args:    []string{"-c", "cat"},
		Stdin:   "piped",
		Timeout: 5 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, "piped", res.Stdout)
}

func TestRunUnavailableBinary(t *testing.T) {
	e := New(Config{Paths: map[Program]string{ProgramVBoxManage: "/no/such/path"}}, noopLogger())
	assert.False(t, e.Available(ProgramVBoxManage))
	_, err := e.Run(context.Background(), Request{
		Program: ProgramVBoxManage,
		Args:    []string{"list", "vms"},
		Timeout: 5 * time.Second,
	})
	require.Error(t, err)
	assert.Equal(t, provider.KindBinaryNotFound, provider.KindOf(err))
}

func TestRunRejectsSubSecondTimeout(t *testing.T) {
	e := newShellExecutor(t)
	_, err := e.Run(context.Background(), Request{
		Program: ProgramVBoxManage,
		Args:    []string{"-c", "true"},
		Timeout: 100 * time.Millisecond,
	})
	assert.Error(t, err)
}

func TestRedactEnv(t *testing.T) {
	out := redactEnv(map[string]string{"VBOX_API_TOKEN": "hunter2"})
	assert.Equal(t, "VBOX_API_TOKEN=[redacted]", out)
	assert.NotContains(t, out, "hunter2")
}
