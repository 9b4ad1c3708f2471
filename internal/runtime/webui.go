package runtime

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/p4flow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	"github.com/drblury/p4flow/transport"
)

// SinkStatus is served by /api/sink.
type SinkStatus struct {
	Name         string                 `json:"name"`
	Capabilities transport.Capabilities `json:"capabilities"`
	Topics       []TopicStatus          `json:"topics"`
}

// TopicStatus describes one forwarded topic. Stored is only set for
// archive sinks.
type TopicStatus struct {
	Kind   string `json:"kind"`
	Topic  string `json:"topic"`
	Stored *int64 `json:"stored,omitempty"`
	Error  string `json:"error,omitempty"`
}

// StartWebUIServer registers the status API when the web UI is enabled.
func (s *Service) StartWebUIServer() {
	if !s.Conf.WebUIEnabled {
		return
	}

	port := s.Conf.WebUIPort
	if port == 0 {
		port = 8081
	}

	s.RegisterHTTPHandler(port, "/api/kinds", http.HandlerFunc(s.handleGetKinds))
	s.RegisterHTTPHandler(port, "/api/sink", http.HandlerFunc(s.handleGetSink))
}

func (s *Service) startMetricsServer() {
	if !s.Conf.MetricsEnabled || s.Conf.MetricsPort == 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.MetricsPort, "/metrics", s.MetricsHandler())
}

// MetricsHandler serves the service registry in the Prometheus text format.
func (s *Service) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// StatusHandler serves the status API on a single handler, e.g. for tests
// or for mounting under an existing server.
func (s *Service) StatusHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/kinds", s.handleGetKinds)
	mux.HandleFunc("/api/sink", s.handleGetSink)
	return mux
}

func (s *Service) handleGetKinds(w http.ResponseWriter, r *http.Request) {
	if s.writeCORS(w, r) {
		return
	}
	s.writeJSON(w, s.stream.Stats())
}

func (s *Service) handleGetSink(w http.ResponseWriter, r *http.Request) {
	if s.writeCORS(w, r) {
		return
	}

	status := SinkStatus{
		Name:         s.sink.Name,
		Capabilities: s.sink.Capabilities,
		Topics:       make([]TopicStatus, 0, len(s.forwards)),
	}

	archive, ok := s.sink.Archive()
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for _, f := range s.forwards {
		ts := TopicStatus{Kind: f.kind.String(), Topic: f.topic}
		if ok {
			n, err := archive.Count(ctx, f.topic)
			if err != nil {
				ts.Error = err.Error()
			} else {
				ts.Stored = &n
			}
		}
		status.Topics = append(status.Topics, ts)
	}
	s.writeJSON(w, status)
}

// writeCORS sets CORS headers and reports whether the request was a
// preflight that has been answered.
func (s *Service) writeCORS(w http.ResponseWriter, r *http.Request) bool {
	if s.Conf != nil && len(s.Conf.WebUICORSAllowedOrigins) > 0 {
		allowedOrigin := s.getAllowedCORSOrigin(r.Header.Get("Origin"))
		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
	}

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return true
	}
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET, OPTIONS")
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return true
	}
	return false
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	body, err := jsoncodec.Marshal(v)
	if err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(body); err != nil {
		s.Logger.Debug("Writing status response failed", loggingpkg.LogFields{"error": err.Error()})
	}
}

// getAllowedCORSOrigin checks if the request origin is allowed and returns the appropriate
// Access-Control-Allow-Origin value.
func (s *Service) getAllowedCORSOrigin(requestOrigin string) string {
	if s.Conf == nil {
		return ""
	}
	for _, allowed := range s.Conf.WebUICORSAllowedOrigins {
		if allowed == "*" {
			return "*"
		}
		if strings.EqualFold(allowed, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
