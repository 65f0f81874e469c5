package tunnel

import (
	"context"
	"errors"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArgs(t *testing.T) {
	spec := Spec{Resource: "pod/foo", Namespace: "default", LocalPort: 41234, RemotePort: 8080}
	assert.Equal(t,
		[]string{"port-forward", "pod/foo", "41234:8080", "--namespace", "default"},
		buildArgs(spec))
}

func TestBuildArgsNoNamespace(t *testing.T) {
	spec := Spec{Resource: "service/api", LocalPort: 41234, RemotePort: 80}
	assert.Equal(t,
		[]string{"port-forward", "service/api", "41234:80"},
		buildArgs(spec))
}

func TestStartUnknownBinary(t *testing.T) {
	_, err := startProcess(context.Background(), "pod/foo", "definitely-not-a-binary-kpfgw", nil)
	require.Error(t, err)

	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
	assert.Equal(t, "pod/foo", spawnErr.Resource)
}

func TestWaitCleanExit(t *testing.T) {
	h, err := startProcess(context.Background(), "pod/foo", "sh", []string{"-c", "exit 0"})
	require.NoError(t, err)
	assert.NoError(t, h.Wait())
}

func TestWaitNonZeroExitCarriesStderr(t *testing.T) {
	h, err := startProcess(context.Background(), "pod/foo", "sh", []string{"-c", "echo connection refused >&2; exit 1"})
	require.NoError(t, err)

	waitErr := h.Wait()
	require.Error(t, waitErr)

	var exitErr *ExitError
	require.True(t, errors.As(waitErr, &exitErr))
	assert.Equal(t, "pod/foo", exitErr.Resource)
	assert.Contains(t, exitErr.Stderr, "connection refused")
	assert.Contains(t, exitErr.Error(), "connection refused")
}

func TestKillTreatedAsCleanExit(t *testing.T) {
	h, err := startProcess(context.Background(), "pod/foo", "sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()

	h.Kill()

	select {
	case waitErr := <-done:
		assert.NoError(t, waitErr)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not terminate after Kill")
	}
}

func TestKillIsIdempotent(t *testing.T) {
	h, err := startProcess(context.Background(), "pod/foo", "sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)

	h.Kill()
	assert.NotPanics(t, func() { h.Kill() })
	assert.NoError(t, h.Wait())
	// Killing after exit must also be a no-op.
	assert.NotPanics(t, func() { h.Kill() })
}

func TestContextCancellationKillsProcess(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h, err := startProcess(ctx, "pod/foo", "sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)

	cancel()

	done := make(chan error, 1)
	go func() { done <- h.Wait() }()
	select {
	case waitErr := <-done:
		assert.NoError(t, waitErr)
	case <-time.After(5 * time.Second):
		t.Fatal("process did not terminate after context cancellation")
	}
}

func TestExternalSignalTreatedAsCleanExit(t *testing.T) {
	h, err := startProcess(context.Background(), "pod/foo", "sh", []string{"-c", "sleep 30"})
	require.NoError(t, err)

	// Terminated from outside, not through Kill: the exit status itself
	// identifies the signal.
	require.NoError(t, h.cmd.Process.Signal(syscall.SIGKILL))
	assert.NoError(t, h.Wait())
}

func TestIsSignalExitIgnoresErrorText(t *testing.T) {
	// Only a real signal exit status qualifies, not an error that merely
	// mentions one.
	assert.False(t, isSignalExit(errors.New("signal: killed")))
	assert.False(t, isSignalExit(errors.New("exit status 1")))
}

func TestAllocateLocalPort(t *testing.T) {
	port, err := AllocateLocalPort()
	require.NoError(t, err)
	assert.NotZero(t, port)

	// The listener was closed, so the port must be bindable again.
	other, err := AllocateLocalPort()
	require.NoError(t, err)
	assert.NotZero(t, other)
}
