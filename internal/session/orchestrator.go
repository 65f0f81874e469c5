package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"kpfgw/internal/kube"
	"kpfgw/internal/proxy"
	"kpfgw/internal/registry"
	"kpfgw/internal/tunnel"
	"kpfgw/pkg/logging"
)

// Orchestrator runs one independent session per forward definition. Sessions
// never share state beyond the registry, so one giving up leaves its siblings
// untouched.
type Orchestrator struct {
	checker kube.Checker
	reg     *registry.Registry
	log     *logging.Logger
	version string

	// newManager is a seam so orchestration tests can substitute scripted
	// session lifecycles.
	newManager func(cfg Config, gate *Gate) runner
}

type runner interface {
	Run(ctx context.Context) error
}

// NewOrchestrator wires an Orchestrator from its shared dependencies.
func NewOrchestrator(checker kube.Checker, reg *registry.Registry, log *logging.Logger, version string) *Orchestrator {
	o := &Orchestrator{
		checker: checker,
		reg:     reg,
		log:     log,
		version: version,
	}
	o.newManager = func(cfg Config, gate *Gate) runner {
		return NewManager(cfg, gate, reg, checker, log)
	}
	return o
}

// Run starts every session and blocks until all of them have finished. It
// returns the joined errors of the sessions that gave up; cancellation of
// ctx is a clean stop.
func (o *Orchestrator) Run(ctx context.Context, configs []Config) error {
	if len(configs) == 0 {
		return errors.New("no forwards to run")
	}

	// Seed the registry up front so status consumers see every session
	// immediately, not only once its goroutine gets scheduled.
	for i := range configs {
		o.reg.Seed(configs[i].Key(), configs[i].LocalPort)
	}

	var wg sync.WaitGroup
	errCh := make(chan error, len(configs))

	for i := range configs {
		cfg := configs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := o.runSession(ctx, cfg); err != nil {
				errCh <- err
			}
		}()
	}

	wg.Wait()
	close(errCh)

	var errs []error
	for err := range errCh {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// runSession runs one manager with its paired proxy. The proxy keeps
// answering (rejecting, serving the status document) exactly as long as the
// manager lives, and is torn down when the manager finishes.
func (o *Orchestrator) runSession(ctx context.Context, cfg Config) error {
	if cfg.InternalPort == 0 {
		port, err := tunnel.AllocateLocalPort()
		if err != nil {
			return fmt.Errorf("session %s: allocating internal port: %w", cfg.Key(), err)
		}
		cfg.InternalPort = port
	}

	var recorder *proxy.Recorder
	if cfg.RequestLogPath != "" {
		rec, err := proxy.NewRecorder(cfg.RequestLogPath, cfg.RequestLogVerbosity)
		if err != nil {
			return fmt.Errorf("session %s: opening request log: %w", cfg.Key(), err)
		}
		recorder = rec
		defer recorder.Close()
	}

	gate := NewGate()
	mgr := o.newManager(cfg, gate)

	srv := proxy.New(proxy.Config{
		Resource:   cfg.Key(),
		LocalPort:  cfg.LocalPort,
		TargetPort: cfg.InternalPort,
		Verbosity:  cfg.Verbosity,
		Version:    o.version,
	}, gate, o.log, recorder)

	proxyCtx, stopProxy := context.WithCancel(ctx)
	proxyDone := make(chan error, 1)
	go func() {
		proxyDone <- srv.Serve(proxyCtx)
	}()

	runErr := mgr.Run(ctx)

	stopProxy()
	if err := <-proxyDone; err != nil {
		o.log.Error("Orchestrator", err, "proxy for %s stopped", cfg.Key())
	}
	return runErr
}
