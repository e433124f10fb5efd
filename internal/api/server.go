// Package api serves the daemon's HTTP surface: score queries, board
// control, on-demand analysis and the live websocket feed.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/cortical-data/affinity.report/internal/cyton"
	"github.com/cortical-data/affinity.report/internal/db"
	"github.com/cortical-data/affinity.report/internal/eeg"
	"github.com/cortical-data/affinity.report/internal/serialmux"
	"github.com/cortical-data/affinity.report/internal/stream"
	"github.com/cortical-data/affinity.report/internal/version"
)

// Config wires the server's collaborators. Nil fields disable the
// routes that need them.
type Config struct {
	DB  *db.DB
	Hub *stream.Hub
	Mux serialmux.Mux
	// DecoderStats snapshots the decode pipeline counters.
	DecoderStats func() cyton.Stats
}

// Server handles the HTTP interface. It holds no request state; one
// instance serves the daemon's lifetime.
type Server struct {
	db           *db.DB
	hub          *stream.Hub
	mux          serialmux.Mux
	decoderStats func() cyton.Stats
}

// NewServer creates a server with the provided configuration.
func NewServer(cfg Config) *Server {
	return &Server{
		db:           cfg.DB,
		hub:          cfg.Hub,
		mux:          cfg.Mux,
		decoderStats: cfg.DecoderStats,
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeJSONError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// ServeMux configures the HTTP routes and handlers.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/scores/latest", s.handleLatestScore)
	mux.HandleFunc("/api/scores", s.handleScores)
	mux.HandleFunc("/api/stats", s.handleStats)
	mux.HandleFunc("/api/report", s.handleReport)
	mux.HandleFunc("/api/analyze", s.handleAnalyze)
	mux.HandleFunc("/api/command", s.handleCommand)
	if s.hub != nil {
		mux.Handle("/ws", s.hub)
	}
	if s.db != nil {
		s.db.AttachAdminRoutes(mux)
	}

	return mux
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.Version,
	})
}

// handleSessions lists sessions newest first.
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	sessions, err := s.db.Sessions()
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list sessions: %v", err))
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	s.writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleLatestScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	rec, err := s.db.LatestScore()
	if errors.Is(err, db.ErrNoScores) {
		s.writeJSONError(w, http.StatusNotFound, "no scores recorded yet")
		return
	}
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("latest score: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, rec)
}

// handleScores lists a session's scores oldest first.
// Query params:
//
//	session (required)
func (s *Server) handleScores(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.db == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no database configured")
		return
	}
	sessionID := r.URL.Query().Get("session")
	if sessionID == "" {
		s.writeJSONError(w, http.StatusBadRequest, "missing 'session' parameter")
		return
	}
	records, err := s.db.ScoresBySession(sessionID)
	if err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list scores: %v", err))
		return
	}
	if records == nil {
		records = []db.ScoreRecord{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

type statsResponse struct {
	Decoder *cyton.Stats     `json:"decoder,omitempty"`
	Serial  *serialmux.Stats `json:"serial,omitempty"`
	Viewers *viewerStats     `json:"viewers,omitempty"`
}

type viewerStats struct {
	Connected int    `json:"connected"`
	Dropped   uint64 `json:"dropped"`
}

// handleStats snapshots the pipeline counters for diagnostics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var resp statsResponse
	if s.decoderStats != nil {
		stats := s.decoderStats()
		resp.Decoder = &stats
	}
	if s.mux != nil {
		stats := s.mux.Stats()
		resp.Serial = &stats
	}
	if s.hub != nil {
		resp.Viewers = &viewerStats{Connected: s.hub.ClientCount(), Dropped: s.hub.Dropped()}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type analyzeRequest struct {
	SampleRate float64      `json:"sample_rate"`
	Channels   [][]float64  `json:"channels"`
	Montage    *eeg.Montage `json:"montage,omitempty"`
}

// handleAnalyze scores a caller-supplied window without touching the
// live pipeline. Channels are addressed channel-first.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, http.StatusBadRequest, fmt.Sprintf("malformed request: %v", err))
		return
	}
	if req.SampleRate <= 0 {
		s.writeJSONError(w, http.StatusBadRequest, "sample_rate must be positive")
		return
	}
	if len(req.Channels) == 0 {
		s.writeJSONError(w, http.StatusBadRequest, "channels must not be empty")
		return
	}
	montage := eeg.DefaultMontage()
	if req.Montage != nil {
		montage = *req.Montage
	}

	analyzer := eeg.NewAnalyzer(req.SampleRate, montage)
	result, err := analyzer.Analyze(req.Channels)
	switch {
	case errors.Is(err, eeg.ErrWindowTooShort), errors.Is(err, eeg.ErrMissingChannels):
		s.writeJSONError(w, http.StatusUnprocessableEntity, err.Error())
		return
	case err != nil:
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("analysis failed: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

// handleCommand forwards a single control character to the board.
func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.mux == nil {
		s.writeJSONError(w, http.StatusServiceUnavailable, "no board connected")
		return
	}

	command := r.FormValue("command")
	if len(command) != 1 {
		s.writeJSONError(w, http.StatusBadRequest, "command must be a single character")
		return
	}
	if err := s.mux.SendCommand(command[0]); err != nil {
		s.writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("send command: %v", err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"sent": command})
}

// scoreIDParam resolves the score to report on: ?score=ID or the most
// recent one.
func (s *Server) scoreIDParam(r *http.Request) (int64, error) {
	if raw := r.URL.Query().Get("score"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return 0, fmt.Errorf("invalid 'score' parameter %q", raw)
		}
		return id, nil
	}
	rec, err := s.db.LatestScore()
	if err != nil {
		return 0, err
	}
	return rec.ID, nil
}
