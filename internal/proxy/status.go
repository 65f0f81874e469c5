package proxy

import (
	"encoding/json"
	"net/http"
	"os"
	"time"
)

// statusDocument is the synthesized response for the reserved internal route.
type statusDocument struct {
	Health    statusHealth `json:"health"`
	Status    statusInfo   `json:"status"`
	Version   string       `json:"version"`
	DebugInfo statusDebug  `json:"debug_info"`
	Help      statusHelp   `json:"help"`
}

type statusHealth struct {
	Active    bool   `json:"active"`
	CheckedAt string `json:"checked_at"`
}

type statusInfo struct {
	VerboseLevel int    `json:"verbose_level"`
	StatusText   string `json:"status_text"`
}

type statusDebug struct {
	ProcessID     int    `json:"process_id"`
	SystemTime    string `json:"system_time"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type statusHelp struct {
	Endpoints map[string]string `json:"endpoints"`
}

// handleStatus serves the internal status document. Always 200, never
// forwarded.
func (s *Server) handleStatus(w http.ResponseWriter) {
	active := s.gate.Forwarding()

	statusText := "DISCONNECTED"
	if active {
		statusText = "CONNECTED"
	}

	now := time.Now().UTC()
	doc := statusDocument{
		Health: statusHealth{
			Active:    active,
			CheckedAt: now.Format(time.RFC3339),
		},
		Status: statusInfo{
			VerboseLevel: s.cfg.Verbosity,
			StatusText:   statusText,
		},
		Version: s.cfg.Version,
		DebugInfo: statusDebug{
			ProcessID:     os.Getpid(),
			SystemTime:    now.Format(time.RFC3339Nano),
			UptimeSeconds: int64(time.Since(s.started).Seconds()),
		},
		Help: statusHelp{
			Endpoints: map[string]string{
				InternalStatusPath: "Shows tunnel status and health",
				"/<any-path>":      "Proxied to the target resource",
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	encoder.Encode(doc)

	s.log.Debug(s.subsystem(), "internal status request: %s", statusText)
}
