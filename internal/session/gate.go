package session

import (
	"sync"

	"kpfgw/internal/registry"
)

// Gate holds a session's current lifecycle phase. It is the single source of
// truth shared between the manager (sole writer) and the proxy's request
// handlers (concurrent readers); whether traffic may flow is derived from the
// phase, so gate and lifecycle state cannot disagree.
type Gate struct {
	mu    sync.RWMutex
	phase registry.Phase
}

// NewGate creates a Gate in the Initializing phase.
func NewGate() *Gate {
	return &Gate{phase: registry.PhaseInitializing}
}

// Set transitions the gate to phase.
func (g *Gate) Set(phase registry.Phase) {
	g.mu.Lock()
	g.phase = phase
	g.mu.Unlock()
}

// Phase returns the current phase.
func (g *Gate) Phase() registry.Phase {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.phase
}

// Forwarding reports whether the proxy should currently forward traffic.
// Satisfies the proxy's gate contract.
func (g *Gate) Forwarding() bool {
	return g.Phase().Forwarding()
}
