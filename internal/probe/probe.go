// Package probe issues the synthetic HTTP requests that verify a tunnel is
// healthy end to end. Probes target the internal tunnel port, not the
// user-visible proxy port, so probe traffic never shows up in request logs
// and a failing tunnel cannot hide behind a closed forwarding gate.
package probe

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// MarkerHeader distinguishes probe requests from user traffic in backend logs.
const MarkerHeader = "X-Kpfgw-Probe"

// Outcome classifies a single probe.
type Outcome int

const (
	// OutcomeSuccess: the backend answered 2xx.
	OutcomeSuccess Outcome = iota
	// OutcomeUnavailable: the backend explicitly declared itself down (503).
	// An immediate, non-retried restart verdict.
	OutcomeUnavailable
	// OutcomeFailure: any other status, a connection error, or a timeout.
	OutcomeFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "Success"
	case OutcomeUnavailable:
		return "ExplicitUnavailable"
	default:
		return "Failure"
	}
}

// Result is the verdict of one probe plus its diagnostic reason.
type Result struct {
	Outcome    Outcome
	StatusCode int // 0 when no response was received
	Reason     string
}

// Func is the probing contract the session manager depends on, injectable for
// tests.
type Func func(ctx context.Context, port uint16, path string, timeout time.Duration) Result

// Once issues a single HTTP GET to http://127.0.0.1:<port><path> with the
// probe marker header and classifies the response.
func Once(ctx context.Context, port uint16, path string, timeout time.Duration) Result {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Outcome: OutcomeFailure, Reason: fmt.Sprintf("failed to build probe request: %v", err)}
	}
	req.Header.Set(MarkerHeader, "1")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Result{Outcome: OutcomeFailure, Reason: fmt.Sprintf("probe request failed: %v", err)}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Outcome: OutcomeSuccess, StatusCode: resp.StatusCode}
	case resp.StatusCode == http.StatusServiceUnavailable:
		return Result{
			Outcome:    OutcomeUnavailable,
			StatusCode: resp.StatusCode,
			Reason:     "target explicitly reported service unavailable",
		}
	default:
		return Result{
			Outcome:    OutcomeFailure,
			StatusCode: resp.StatusCode,
			Reason:     fmt.Sprintf("unexpected probe status %d", resp.StatusCode),
		}
	}
}
