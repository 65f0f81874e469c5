package proxy

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is one diagnostics record: a single proxied (or rejected) request.
type Entry struct {
	Time     time.Time
	Resource string
	Method   string
	Path     string
	Status   string
	Elapsed  time.Duration
	Payload  string // captured response body, already rendered; empty when not captured
}

// Recorder appends diagnostics entries to a file, one line per request.
// Writes are serialized so concurrent request handlers never interleave
// output.
type Recorder struct {
	mu        sync.Mutex
	file      *os.File
	verbosity int
}

// NewRecorder opens (or creates) the diagnostics file at path for appending.
func NewRecorder(path string, verbosity int) (*Recorder, error) {
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open diagnostics file %s: %w", path, err)
	}
	return &Recorder{file: file, verbosity: verbosity}, nil
}

// Verbosity returns the file sink's own verbosity level. Response bodies are
// appended only at level 3.
func (r *Recorder) Verbosity() int {
	return r.verbosity
}

// Record appends one entry.
func (r *Recorder) Record(e Entry) error {
	line := fmt.Sprintf("%s %s - %s %s → %s (%dms)",
		e.Time.Format(time.RFC3339), e.Resource, e.Method, e.Path, e.Status, e.Elapsed.Milliseconds())
	if r.verbosity >= 3 && e.Payload != "" {
		line += fmt.Sprintf(" [Payload: %s]", e.Payload)
	}
	line += "\n"

	r.mu.Lock()
	defer r.mu.Unlock()
	_, err := r.file.WriteString(line)
	return err
}

// Close closes the underlying file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.file.Close()
}
