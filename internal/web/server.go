// Package web provides an HTTP status server for the field logger.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"

	"github.com/sweeney/field-logger/internal/history"
	"github.com/sweeney/field-logger/internal/status"
)

// TransitionSource answers history queries. history.Recorder satisfies it.
type TransitionSource interface {
	Transitions(ctx context.Context, event string, limit int) ([]history.Transition, error)
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	history    TransitionSource
}

// New creates a Server that reads state from the given tracker. hist may
// be nil, in which case /history.json is not served.
func New(addr string, tracker *status.Tracker, hist TransitionSource) *Server {
	s := &Server{tracker: tracker, history: hist}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	if hist != nil {
		mux.HandleFunc("/history.json", s.handleHistory)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.html" {
		http.NotFound(w, r)
		return
	}
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// HistoryJSON is one stored transition.
type HistoryJSON struct {
	Event      string `json:"event"`
	From       string `json:"from"`
	To         string `json:"to"`
	Started    uint32 `json:"started_ms"`
	Ended      uint32 `json:"ended_ms"`
	Duration   uint32 `json:"duration_ms"`
	Count      int    `json:"count"`
	RecordedAt string `json:"recorded_at"`
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	event := r.URL.Query().Get("event")
	if event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.history.Transitions(r.Context(), event, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	out := make([]HistoryJSON, len(rows))
	for i, t := range rows {
		out[i] = HistoryJSON{
			Event:      t.Event,
			From:       t.From,
			To:         t.To,
			Started:    uint32(t.Started),
			Ended:      uint32(t.Ended),
			Duration:   uint32(t.Duration),
			Count:      t.Count,
			RecordedAt: t.RecordedAt.UTC().Format("2006-01-02T15:04:05.000Z"),
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}
