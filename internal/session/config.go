// Package session owns the full lifecycle of one managed tunnel: connect,
// probe, serve, fail, retry. The orchestrator fans out one session per
// configured resource.
package session

import (
	"time"

	"kpfgw/internal/resource"
)

// Config is everything one session needs. Built by the config loader (or the
// CLI for a single resource); the InternalPort is allocated by the
// orchestrator just before the session starts.
type Config struct {
	Descriptor resource.Descriptor
	Namespace  string

	// LocalPort is the stable client-facing proxy port.
	LocalPort uint16
	// InternalPort is the OS-chosen port the tunnel binds. Never user-visible.
	InternalPort uint16

	// ProbePath enables liveness probing when non-empty (e.g. "/ping").
	ProbePath string
	// ProbeTimeout bounds a single probe. Zero selects the default.
	ProbeTimeout time.Duration

	// Verbosity (0-3) gates request/response body capture in the proxy.
	Verbosity int
	// RequestLogPath enables the diagnostics file sink when non-empty.
	RequestLogPath string
	// RequestLogVerbosity is the file sink's own 0-3 level.
	RequestLogVerbosity int
}

// Key returns the session's kind/name identity.
func (c Config) Key() string {
	return c.Descriptor.Key()
}
