// Package proxy exposes the stable client-facing HTTP endpoint for a session
// and forwards traffic to the tunnel's internal port while the session's gate
// allows it.
package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"kpfgw/pkg/logging"
)

// InternalStatusPath is reserved for the synthesized status document and is
// never forwarded.
const InternalStatusPath = "/_internal/status"

// Gate is the forwarding decision the proxy reads on every request. The
// session manager owns the state behind it.
type Gate interface {
	Forwarding() bool
}

// Config is the immutable per-session proxy setup.
type Config struct {
	Resource   string // kind/name key, tagged onto every log line
	LocalPort  uint16 // client-facing listen port on 127.0.0.1
	TargetPort uint16 // the tunnel's internal port
	Verbosity  int    // 0-3, gates body capture only
	Version    string
}

// Server is one session's reverse proxy.
type Server struct {
	cfg      Config
	gate     Gate
	log      *logging.Logger
	recorder *Recorder // optional diagnostics file sink, may be nil
	client   *http.Client
	started  time.Time
}

// New creates a Server. recorder may be nil when no diagnostics file is
// configured.
func New(cfg Config, gate Gate, log *logging.Logger, recorder *Recorder) *Server {
	return &Server{
		cfg:      cfg,
		gate:     gate,
		log:      log,
		recorder: recorder,
		// Dedicated transport: the target is always loopback, environment
		// proxies must not intercept it.
		client:  &http.Client{Transport: &http.Transport{Proxy: nil}},
		started: time.Now(),
	}
}

// Handler returns the request handler. Exposed for tests.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handle)
}

// Serve listens on 127.0.0.1:<LocalPort> until ctx is cancelled, then shuts
// down gracefully. The owning session cancels ctx when its manager finishes.
func (s *Server) Serve(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", s.cfg.LocalPort),
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info(s.subsystem(), "HTTP proxy listening on http://localhost:%d", s.cfg.LocalPort)

	err := srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) subsystem() string {
	return "Proxy-" + s.cfg.Resource
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	if r.URL.Path == InternalStatusPath {
		s.handleStatus(w)
		return
	}

	requestID := uuid.NewString()

	if !s.gate.Forwarding() {
		s.reject(w, r, start, requestID)
		return
	}
	s.forward(w, r, start, requestID)
}

// reject fast-fails a request while the tunnel is down. No backend call is
// made.
func (s *Server) reject(w http.ResponseWriter, r *http.Request, start time.Time, requestID string) {
	status := http.StatusServiceUnavailable
	http.Error(w, "Service Unavailable: tunnel is not active", status)

	elapsed := time.Since(start)
	s.log.Request(logging.LevelWarn, s.subsystem(), nil, "%s %s -> %d %s (%dms) req=%s",
		r.Method, r.URL.Path, status, http.StatusText(status), elapsed.Milliseconds(), requestID)
	s.record(Entry{
		Time:     time.Now().UTC(),
		Resource: s.cfg.Resource,
		Method:   r.Method,
		Path:     r.URL.Path,
		Status:   fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Elapsed:  elapsed,
	})
}

func (s *Server) forward(w http.ResponseWriter, r *http.Request, start time.Time, requestID string) {
	targetURL := fmt.Sprintf("http://127.0.0.1:%d%s", s.cfg.TargetPort, r.URL.RequestURI())

	body, capturedReqBody, err := s.captureRequestBody(r)
	if err != nil {
		s.backendFailure(w, r, start, requestID, fmt.Errorf("failed to read request body: %w", err))
		return
	}

	outReq, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, body)
	if err != nil {
		s.backendFailure(w, r, start, requestID, err)
		return
	}
	// Copy headers except the hop-specific host header; the target is
	// addressed by the outbound URL.
	for name, values := range r.Header {
		if http.CanonicalHeaderKey(name) == "Host" {
			continue
		}
		for _, v := range values {
			outReq.Header.Add(name, v)
		}
	}

	resp, err := s.client.Do(outReq)
	if err != nil {
		s.backendFailure(w, r, start, requestID, err)
		return
	}
	defer resp.Body.Close()

	captureRespBody := s.cfg.Verbosity >= 3 || (s.recorder != nil && s.recorder.Verbosity() >= 3)

	for name, values := range resp.Header {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	var payload string
	if captureRespBody {
		data, readErr := io.ReadAll(resp.Body)
		if readErr == nil {
			payload = renderBody(data, s.recorder == nil)
		}
		w.Write(data)
	} else {
		io.Copy(w, resp.Body)
	}

	elapsed := time.Since(start)
	s.log.Request(logging.LevelInfo, s.subsystem(), nil, "%s %s -> %d %s (%dms) req=%s",
		r.Method, r.URL.Path, resp.StatusCode, http.StatusText(resp.StatusCode), elapsed.Milliseconds(), requestID)
	s.record(Entry{
		Time:     time.Now().UTC(),
		Resource: s.cfg.Resource,
		Method:   r.Method,
		Path:     r.URL.Path,
		Status:   fmt.Sprintf("%d %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		Elapsed:  elapsed,
		Payload:  payload,
	})

	if capturedReqBody != "" {
		s.log.Debug(s.subsystem(), "request body req=%s:\n%s", requestID, capturedReqBody)
	}
	if payload != "" {
		s.log.Debug(s.subsystem(), "response body req=%s:\n%s", requestID, payload)
	}
}

// backendFailure answers 502 with the error text when the tunnel dropped
// mid-request. Fully local to this request; the session state is untouched.
func (s *Server) backendFailure(w http.ResponseWriter, r *http.Request, start time.Time, requestID string, cause error) {
	status := http.StatusBadGateway
	http.Error(w, fmt.Sprintf("failed to forward request: %v", cause), status)

	elapsed := time.Since(start)
	s.log.Request(logging.LevelError, s.subsystem(), cause, "%s %s -> %d %s (%dms) req=%s",
		r.Method, r.URL.Path, status, http.StatusText(status), elapsed.Milliseconds(), requestID)
	s.record(Entry{
		Time:     time.Now().UTC(),
		Resource: s.cfg.Resource,
		Method:   r.Method,
		Path:     r.URL.Path,
		Status:   fmt.Sprintf("%d %s", status, http.StatusText(status)),
		Elapsed:  elapsed,
	})
}

// captureRequestBody buffers and renders the request body when verbosity asks
// for it. GET bodies are never captured. The returned reader always delivers
// the full body to the backend.
func (s *Server) captureRequestBody(r *http.Request) (io.Reader, string, error) {
	if r.Body == nil {
		return nil, "", nil
	}
	if s.cfg.Verbosity < 2 || r.Method == http.MethodGet {
		return r.Body, "", nil
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, "", err
	}
	if len(data) == 0 {
		return bytes.NewReader(data), "", nil
	}
	return bytes.NewReader(data), renderBody(data, true), nil
}

func (s *Server) record(e Entry) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.Record(e); err != nil {
		s.log.Error(s.subsystem(), err, "failed to write diagnostics entry")
	}
}

// renderBody classifies a captured body as JSON or binary and formats it for
// logging. Pretty-printing is skipped for the diagnostics file, which wants
// one line per request.
func renderBody(data []byte, pretty bool) string {
	var value interface{}
	if json.Unmarshal(data, &value) == nil {
		var out []byte
		var err error
		if pretty {
			out, err = json.MarshalIndent(value, "", "  ")
		} else {
			out, err = json.Marshal(value)
		}
		if err == nil {
			return string(out)
		}
	}
	return fmt.Sprintf("Binary data: %d bytes", len(data))
}
