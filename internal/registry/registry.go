// Package registry holds the process-wide view of every session's observable
// state. Entries are seeded by the orchestrator before any session starts and
// updated exclusively by each session's manager afterwards; the dashboard and
// the orchestrator only read.
package registry

import (
	"sort"
	"time"

	cmap "github.com/orcaman/concurrent-map/v2"
)

// Phase is a session's lifecycle state. It is the single source of truth for
// both the status display and the proxy's forwarding decision; whether traffic
// may flow is derived from it, never tracked separately.
type Phase string

const (
	// PhaseInitializing is the seeded state before a session's first connect.
	PhaseInitializing Phase = "Initializing"
	// PhaseOpen is the transient state right after the tunnel process spawned,
	// before the first probe outcome.
	PhaseOpen Phase = "Open"
	// PhaseActive means probes are succeeding and traffic should flow.
	PhaseActive Phase = "Active"
	// PhaseUnavailable means the tunnel process is alive but failing probes
	// and is about to be restarted.
	PhaseUnavailable Phase = "Unavailable"
	// PhaseInactive means no tunnel process is currently running.
	PhaseInactive Phase = "Inactive"
	// PhaseGivenUp is terminal: the retry ceiling was exhausted and the
	// session makes no further attempts.
	PhaseGivenUp Phase = "GivenUp"
)

// Forwarding reports whether the reverse proxy should forward traffic while
// the session is in this phase.
func (p Phase) Forwarding() bool {
	return p == PhaseActive
}

// Snapshot is the copied, externally visible state of one session.
type Snapshot struct {
	Key       string
	LocalPort uint16
	Phase     Phase
	LastProbe time.Time
}

// Registry is the guarded session-key -> Snapshot mapping.
type Registry struct {
	entries cmap.ConcurrentMap[string, Snapshot]
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: cmap.New[Snapshot]()}
}

// Seed inserts an Initializing entry for key. Called once per configured
// resource before its session starts so the dashboard immediately lists it.
func (r *Registry) Seed(key string, localPort uint16) {
	r.entries.Set(key, Snapshot{
		Key:       key,
		LocalPort: localPort,
		Phase:     PhaseInitializing,
	})
}

// SetPhase updates the lifecycle phase for key, preserving the rest of the
// snapshot. Unknown keys get a fresh entry.
func (r *Registry) SetPhase(key string, phase Phase) {
	r.entries.Upsert(key, Snapshot{Key: key, Phase: phase}, func(exist bool, current, fresh Snapshot) Snapshot {
		if !exist {
			return fresh
		}
		current.Phase = phase
		return current
	})
}

// Touch records a successful liveness probe for key.
func (r *Registry) Touch(key string, at time.Time) {
	r.entries.Upsert(key, Snapshot{Key: key, LastProbe: at}, func(exist bool, current, fresh Snapshot) Snapshot {
		if !exist {
			return fresh
		}
		current.LastProbe = at
		return current
	})
}

// Get returns the snapshot for key.
func (r *Registry) Get(key string) (Snapshot, bool) {
	return r.entries.Get(key)
}

// All returns every snapshot, sorted by key for stable display.
func (r *Registry) All() []Snapshot {
	items := r.entries.Items()
	snapshots := make([]Snapshot, 0, len(items))
	for _, s := range items {
		snapshots = append(snapshots, s)
	}
	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].Key < snapshots[j].Key })
	return snapshots
}
