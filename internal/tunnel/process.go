// Package tunnel owns the opaque external port-forward process: spawning it
// against an internal local port, waiting for it to terminate, and killing it.
package tunnel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"syscall"
)

// kubectlBinary is the external tool that establishes the tunnel.
var kubectlBinary = "kubectl"

// SpawnError reports that the external tool could not be started at all.
type SpawnError struct {
	Resource string
	Err      error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("failed to start port-forward for %s: %v", e.Resource, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// ExitError reports a tunnel process that terminated non-zero, carrying the
// captured stderr as the diagnostic.
type ExitError struct {
	Resource string
	Stderr   string
	Err      error
}

func (e *ExitError) Error() string {
	stderr := strings.TrimSpace(e.Stderr)
	if stderr == "" {
		return fmt.Sprintf("port-forward for %s exited: %v", e.Resource, e.Err)
	}
	return fmt.Sprintf("port-forward for %s exited: %v: %s", e.Resource, e.Err, stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// Spec describes one tunnel to establish.
type Spec struct {
	Resource   string // kind/name, passed through to the external tool
	Namespace  string
	LocalPort  uint16 // internal port the tunnel binds on 127.0.0.1
	RemotePort uint16
}

func buildArgs(spec Spec) []string {
	args := []string{"port-forward", spec.Resource, fmt.Sprintf("%d:%d", spec.LocalPort, spec.RemotePort)}
	if spec.Namespace != "" {
		args = append(args, "--namespace", spec.Namespace)
	}
	return args
}

// Handle owns a running tunnel process. Exactly one goroutine calls Wait;
// Kill may be called from a concurrent goroutine (the liveness path) and is
// serialized against itself and against process exit through the handle's
// mutex.
type Handle struct {
	resource string

	mu     sync.Mutex
	cmd    *exec.Cmd
	killed bool

	stdout bytes.Buffer
	stderr bytes.Buffer
}

// Start spawns the external tunnel process for spec. The returned Handle must
// be Waited on to reap the process.
func Start(ctx context.Context, spec Spec) (*Handle, error) {
	return startProcess(ctx, spec.Resource, kubectlBinary, buildArgs(spec))
}

func startProcess(ctx context.Context, resourceKey, name string, args []string) (*Handle, error) {
	h := &Handle{resource: resourceKey}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &h.stdout
	cmd.Stderr = &h.stderr

	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Resource: resourceKey, Err: err}
	}
	h.cmd = cmd
	return h, nil
}

// Wait blocks until the tunnel process terminates. A clean exit, or any exit
// following a Kill, returns nil; other exits return an *ExitError carrying
// the captured stderr.
func (h *Handle) Wait() error {
	err := h.cmd.Wait()

	h.mu.Lock()
	killed := h.killed
	h.mu.Unlock()

	if err == nil {
		return nil
	}
	if killed || isSignalExit(err) {
		return nil
	}
	return &ExitError{Resource: h.resource, Stderr: h.stderr.String(), Err: err}
}

// Kill terminates the tunnel process: SIGTERM first, falling back to SIGKILL.
// Safe to call while another goroutine blocks in Wait, and safe to call more
// than once.
func (h *Handle) Kill() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.killed {
		return
	}
	h.killed = true
	if h.cmd.Process == nil {
		return
	}
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		h.cmd.Process.Kill()
	}
}

// Stderr returns the stderr captured so far.
func (h *Handle) Stderr() string {
	return h.stderr.String()
}

// isSignalExit reports whether err describes termination by a stop signal,
// which is the normal shutdown path rather than a tunnel failure.
func isSignalExit(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return false
	}
	if !status.Signaled() {
		return false
	}
	switch status.Signal() {
	case syscall.SIGTERM, syscall.SIGKILL, syscall.SIGINT:
		return true
	}
	return false
}
