// Package web provides an HTTP status and control server for the speedometer daemon.
package web

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/sweeney/speedometer/internal/status"
)

// maxCommandBytes bounds the POST /command body.
const maxCommandBytes = 64

// CommandHandler accepts START / STOP payloads and reports whether the
// payload was recognised.
type CommandHandler interface {
	Handle(payload string) bool
}

// Server serves the status page over HTTP.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	commands   CommandHandler
}

// New creates a Server that reads state from the given tracker.
// metrics and commands may be nil, in which case the matching routes are
// not registered.
func New(addr string, tracker *status.Tracker, metrics http.Handler, commands CommandHandler) *Server {
	s := &Server{tracker: tracker, commands: commands}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/index.html", s.handleIndex)
	mux.HandleFunc("/index.json", s.handleJSON)
	mux.HandleFunc("/speed", s.handleSpeed)
	mux.HandleFunc("/period", s.handlePeriod)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}
	if commands != nil {
		mux.HandleFunc("/command", s.handleCommand)
	}

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Handler returns the server's request router.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

// handleSpeed serves the speed characteristic as plain text.
func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, status.SpeedString(snap))
}

// handlePeriod serves the period characteristic as 4 little-endian bytes.
func (s *Server) handlePeriod(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(status.PeriodBytes(snap))
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxCommandBytes))
	if err != nil {
		http.Error(w, "read body", http.StatusBadRequest)
		return
	}

	// Shell clients append a newline; the token itself must match exactly.
	payload := strings.TrimRight(string(body), "\r\n")
	// Unknown tokens are ignored as on the MQTT command topic. The
	// controller logs them.
	s.commands.Handle(payload)
	w.WriteHeader(http.StatusAccepted)
}
