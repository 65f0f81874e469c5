package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kpfgw/internal/proxy"
	"kpfgw/internal/registry"
	"kpfgw/internal/resource"
	"kpfgw/internal/tunnel"
)

// scriptedRunner stands in for a Manager with a predetermined lifecycle.
type scriptedRunner struct {
	err     error
	blocks  bool
	started chan struct{}
}

func (r *scriptedRunner) Run(ctx context.Context) error {
	if r.started != nil {
		close(r.started)
	}
	if r.blocks {
		<-ctx.Done()
		return nil
	}
	return r.err
}

func orchestratorConfig(name string, localPort uint16) Config {
	return Config{
		Descriptor: resource.Descriptor{Kind: "pod", Name: name, RemotePort: 8080},
		Namespace:  "default",
		LocalPort:  localPort,
	}
}

func TestOrchestratorRejectsEmptyConfig(t *testing.T) {
	o := NewOrchestrator(&fakeChecker{}, registry.New(), nil, "test")
	require.Error(t, o.Run(context.Background(), nil))
}

func TestOrchestratorSeedsRegistryBeforeSessionsRun(t *testing.T) {
	reg := registry.New()
	o := NewOrchestrator(&fakeChecker{}, reg, nil, "test")

	seen := make(chan []registry.Snapshot, 1)
	o.newManager = func(cfg Config, gate *Gate) runner {
		r := &scriptedRunner{started: make(chan struct{})}
		go func() {
			<-r.started
			seen <- reg.All()
		}()
		return r
	}

	port, err := tunnel.AllocateLocalPort()
	require.NoError(t, err)
	require.NoError(t, o.Run(context.Background(), []Config{orchestratorConfig("web", port)}))

	snaps := <-seen
	require.Len(t, snaps, 1)
	assert.Equal(t, "pod/web", snaps[0].Key)
	assert.Equal(t, port, snaps[0].LocalPort)
	assert.Equal(t, registry.PhaseInitializing, snaps[0].Phase)
}

func TestOrchestratorOneSessionGivingUpLeavesSiblingsRunning(t *testing.T) {
	reg := registry.New()
	o := NewOrchestrator(&fakeChecker{}, reg, nil, "test")

	gaveUp := errors.New("session pod/bad gave up after 5 attempts")
	survivorStarted := make(chan struct{})
	o.newManager = func(cfg Config, gate *Gate) runner {
		if cfg.Descriptor.Name == "bad" {
			return &scriptedRunner{err: gaveUp}
		}
		return &scriptedRunner{blocks: true, started: survivorStarted}
	}

	portA, err := tunnel.AllocateLocalPort()
	require.NoError(t, err)
	portB, err := tunnel.AllocateLocalPort()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- o.Run(ctx, []Config{
			orchestratorConfig("bad", portA),
			orchestratorConfig("good", portB),
		})
	}()

	// The survivor keeps running after its sibling has failed. Run only
	// returns once every session is finished.
	<-survivorStarted
	select {
	case err := <-runDone:
		t.Fatalf("Run returned %v while a session was still running", err)
	case <-time.After(50 * time.Millisecond):
	}

	cancel()
	err = <-runDone
	require.ErrorIs(t, err, gaveUp)
}

func TestOrchestratorProxyAnswersWhileSessionLives(t *testing.T) {
	reg := registry.New()
	o := NewOrchestrator(&fakeChecker{}, reg, nil, "test")

	started := make(chan struct{})
	o.newManager = func(cfg Config, gate *Gate) runner {
		return &scriptedRunner{blocks: true, started: started}
	}

	port, err := tunnel.AllocateLocalPort()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	runDone := make(chan error, 1)
	go func() {
		runDone <- o.Run(ctx, []Config{orchestratorConfig("web", port)})
	}()
	<-started

	// The status document is served even though the gate never opened.
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, proxy.InternalStatusPath)
	var resp *http.Response
	require.Eventually(t, func() bool {
		resp, err = http.Get(url)
		return err == nil
	}, 5*time.Second, 10*time.Millisecond)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-runDone)
}
