package session

import (
	"context"
	"fmt"
	"time"

	"kpfgw/internal/kube"
	"kpfgw/internal/probe"
	"kpfgw/internal/registry"
	"kpfgw/internal/tunnel"
	"kpfgw/pkg/logging"
)

const (
	// maxAttempts is the connect-failure ceiling before a session gives up.
	maxAttempts = 5
	// retryDelay is the fixed pause between connect attempts.
	retryDelay = 1 * time.Second
	// probeDeadline bounds the whole startup probe-gating phase.
	probeDeadline = 10 * time.Second
	// probeInterval spaces probes apart, both during gating and serving.
	probeInterval = 2 * time.Second
	// probeFailureThreshold is how many consecutive failures force a restart.
	probeFailureThreshold = 3
	// defaultProbeTimeout bounds one probe when no timeout is configured.
	defaultProbeTimeout = 1 * time.Second
)

// TunnelHandle is the slice of the tunnel process the manager depends on.
type TunnelHandle interface {
	Wait() error
	Kill()
}

// SpawnFunc starts a tunnel process. Injectable for tests.
type SpawnFunc func(ctx context.Context, spec tunnel.Spec) (TunnelHandle, error)

func defaultSpawn(ctx context.Context, spec tunnel.Spec) (TunnelHandle, error) {
	return tunnel.Start(ctx, spec)
}

// Manager runs one session's state machine. All its mutable state is private
// to the Run goroutine; the outside world sees only the Gate and the
// registry.
type Manager struct {
	cfg     Config
	gate    *Gate
	reg     *registry.Registry
	checker kube.Checker
	log     *logging.Logger

	// Seams for tests.
	spawn   SpawnFunc
	probeFn probe.Func

	// Timing knobs, fixed in production, shortened in tests.
	retryDelay    time.Duration
	probeInterval time.Duration
	probeDeadline time.Duration

	done chan struct{}
}

// NewManager wires a Manager from its injected dependencies.
func NewManager(cfg Config, gate *Gate, reg *registry.Registry, checker kube.Checker, log *logging.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		gate:    gate,
		reg:     reg,
		checker: checker,
		log:     log,
		spawn:   defaultSpawn,
		probeFn: probe.Once,

		retryDelay:    retryDelay,
		probeInterval: probeInterval,
		probeDeadline: probeDeadline,

		done: make(chan struct{}),
	}
}

// Done is closed when Run exits; the paired proxy shuts down on it.
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

func (m *Manager) subsystem() string {
	return "Session-" + m.cfg.Key()
}

// setPhase publishes a lifecycle transition to both the gate and the
// registry.
func (m *Manager) setPhase(phase registry.Phase) {
	m.gate.Set(phase)
	m.reg.SetPhase(m.cfg.Key(), phase)
}

func (m *Manager) probeTimeout() time.Duration {
	if m.cfg.ProbeTimeout > 0 {
		return m.cfg.ProbeTimeout
	}
	return defaultProbeTimeout
}

// Run drives the session until ctx is cancelled or the retry ceiling is
// exhausted. Only the latter returns an error.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.done)

	key := m.cfg.Key()
	attempts := 0
	first := true

	for {
		if !first {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(m.retryDelay):
			}
		}
		first = false
		if ctx.Err() != nil {
			return nil
		}

		// CONNECTING: confirm the target exists, then spawn the tunnel.
		if err := m.checker.Validate(ctx, m.cfg.Descriptor, m.cfg.Namespace); err != nil {
			if failErr := m.connectFailed(&attempts, err, "existence check failed"); failErr != nil {
				return failErr
			}
			continue
		}

		handle, err := m.spawn(ctx, tunnel.Spec{
			Resource:   key,
			Namespace:  m.cfg.Namespace,
			LocalPort:  m.cfg.InternalPort,
			RemotePort: m.cfg.Descriptor.RemotePort,
		})
		if err != nil {
			if failErr := m.connectFailed(&attempts, err, "tunnel spawn failed"); failErr != nil {
				return failErr
			}
			continue
		}

		m.setPhase(registry.PhaseOpen)
		m.log.Info(m.subsystem(), "tunnel process started, internal port %d", m.cfg.InternalPort)

		// Probe-gating: the tunnel must prove itself before traffic flows.
		if m.cfg.ProbePath != "" {
			if reason, ok := m.gateProbe(ctx); !ok {
				m.log.Warn(m.subsystem(), "startup probing failed: %s; restarting tunnel", reason)
				handle.Kill()
				handle.Wait()
				m.setPhase(registry.PhaseInactive)
				// Probe failures never charge the attempt counter; the
				// next connect cycle's own outcome does.
				continue
			}
		}

		// SERVING.
		m.setPhase(registry.PhaseActive)
		attempts = 0
		m.log.Info(m.subsystem(), "forwarding active: localhost:%d -> %s (namespace %s)",
			m.cfg.LocalPort, m.cfg.Descriptor, m.cfg.Namespace)

		livenessCtx, stopLiveness := context.WithCancel(ctx)
		verdict := make(chan string, 1)
		if m.cfg.ProbePath != "" {
			go m.liveness(livenessCtx, handle, verdict)
		}

		waitErr := m.awaitExit(ctx, handle)
		stopLiveness()

		// Phase transitions after the tunnel's exit are published only
		// here, so a liveness verdict can never land after the exit did.
		restartReason := ""
		select {
		case reason := <-verdict:
			restartReason = reason
		default:
		}

		if ctx.Err() != nil {
			m.setPhase(registry.PhaseInactive)
			m.log.Info(m.subsystem(), "shutdown requested, session stopped")
			return nil
		}
		if restartReason != "" {
			m.setPhase(registry.PhaseUnavailable)
			m.log.Warn(m.subsystem(), "restarting tunnel: %s", restartReason)
		} else {
			m.setPhase(registry.PhaseInactive)
			if waitErr != nil {
				m.log.Error(m.subsystem(), waitErr, "tunnel exited, reconnecting")
			} else {
				m.log.Warn(m.subsystem(), "tunnel closed, reconnecting")
			}
		}
	}
}

// connectFailed handles one failed connect attempt. It returns a non-nil
// error when the ceiling is exhausted and the session must stop for good.
func (m *Manager) connectFailed(attempts *int, cause error, what string) error {
	*attempts++
	m.log.Error(m.subsystem(), cause, "%s (attempt %d/%d)", what, *attempts, maxAttempts)
	if *attempts >= maxAttempts {
		m.setPhase(registry.PhaseGivenUp)
		m.log.Error(m.subsystem(), cause, "max retry attempts (%d) reached, giving up", maxAttempts)
		return fmt.Errorf("session %s gave up after %d attempts: %w", m.cfg.Key(), maxAttempts, cause)
	}
	m.setPhase(registry.PhaseInactive)
	return nil
}

// gateProbe validates a freshly spawned tunnel end to end before the gate
// opens. Returns ok=false with a reason when the tunnel must be restarted.
func (m *Manager) gateProbe(ctx context.Context) (string, bool) {
	deadline := time.Now().Add(m.probeDeadline)
	consecutive := 0

	for {
		if ctx.Err() != nil {
			return "cancelled", false
		}

		res := m.probeFn(ctx, m.cfg.InternalPort, m.cfg.ProbePath, m.probeTimeout())
		switch res.Outcome {
		case probe.OutcomeSuccess:
			m.reg.Touch(m.cfg.Key(), time.Now())
			return "", true
		case probe.OutcomeUnavailable:
			return res.Reason, false
		default:
			consecutive++
			m.log.Debug(m.subsystem(), "startup probe failure %d/%d: %s", consecutive, probeFailureThreshold, res.Reason)
			if consecutive >= probeFailureThreshold {
				return fmt.Sprintf("%d consecutive probe failures (last: %s)", consecutive, res.Reason), false
			}
		}

		if time.Now().Add(m.probeInterval).After(deadline) {
			return "overall probe deadline exceeded", false
		}
		select {
		case <-ctx.Done():
			return "cancelled", false
		case <-time.After(m.probeInterval):
		}
	}
}

// liveness probes the serving tunnel and kills it when it must be restarted.
// It never publishes phases itself; the verdict is handed to Run, which owns
// every transition after the tunnel's exit.
func (m *Manager) liveness(ctx context.Context, handle TunnelHandle, verdict chan<- string) {
	consecutive := 0
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		res := m.probeFn(ctx, m.cfg.InternalPort, m.cfg.ProbePath, m.probeTimeout())
		switch res.Outcome {
		case probe.OutcomeSuccess:
			consecutive = 0
			m.reg.Touch(m.cfg.Key(), time.Now())
		case probe.OutcomeUnavailable:
			verdict <- fmt.Sprintf("target declared itself unavailable: %s", res.Reason)
			handle.Kill()
			return
		default:
			consecutive++
			m.log.Debug(m.subsystem(), "liveness probe failure %d/%d: %s", consecutive, probeFailureThreshold, res.Reason)
			if consecutive >= probeFailureThreshold {
				verdict <- fmt.Sprintf("%d consecutive liveness failures", consecutive)
				handle.Kill()
				return
			}
		}
	}
}

// awaitExit blocks until the tunnel terminates. On external cancellation it
// kills the process and still waits for it to be reaped.
func (m *Manager) awaitExit(ctx context.Context, handle TunnelHandle) error {
	waitDone := make(chan error, 1)
	go func() { waitDone <- handle.Wait() }()

	select {
	case err := <-waitDone:
		return err
	case <-ctx.Done():
		handle.Kill()
		return <-waitDone
	}
}
