// Package web exposes the engine over a small JSON API: file sync, single
// card reviews, and study sessions. The UI itself lives outside this
// repository; this surface is what it talks to.
package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	stdsync "sync"
	"time"

	"github.com/mdstudy/mdstudy/internal/domain"
	"github.com/mdstudy/mdstudy/internal/session"
	"github.com/mdstudy/mdstudy/internal/storage"
	"github.com/mdstudy/mdstudy/internal/sync"
)

// Server holds the dependencies for the HTTP server.
type Server struct {
	db       *storage.DB
	rec      *sync.Reconciler
	mgr      *session.Manager
	reposDir string
	router   *http.ServeMux

	// One active session at a time; answers are serialized here because a
	// session itself is not safe for concurrent use.
	mu   stdsync.Mutex
	sess *session.Session
}

// NewServer creates and configures a new server. reposDir is where git
// sources are checked out.
func NewServer(db *storage.DB, rec *sync.Reconciler, mgr *session.Manager, reposDir string) *Server {
	s := &Server{
		db:       db,
		rec:      rec,
		mgr:      mgr,
		reposDir: reposDir,
		router:   http.NewServeMux(),
	}
	s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// routes sets up the routing for the server.
func (s *Server) routes() {
	s.router.HandleFunc("POST /sync", s.handleSyncFile)
	s.router.HandleFunc("POST /sync/sources", s.handleSyncSources)
	s.router.HandleFunc("GET /decks", s.handleListDecks)
	s.router.HandleFunc("GET /decks/{id}/stats", s.handleDeckStats)
	s.router.HandleFunc("POST /cards/{id}/review", s.handleReviewCard)
	s.router.HandleFunc("GET /cards/{id}/preview", s.handlePreviewCard)
	s.router.HandleFunc("POST /session", s.handleStartSession)
	s.router.HandleFunc("GET /session/current", s.handleCurrentCard)
	s.router.HandleFunc("POST /session/answer", s.handleAnswer)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidRating), errors.Is(err, domain.ErrInvalidState):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionClosed):
		status = http.StatusConflict
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleSyncFile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Path string `json:"path"`
		Text string `json:"text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Path == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "path and text required"})
		return
	}
	res, err := s.rec.SyncFile(req.Path, req.Text)
	if err != nil {
		slog.Error("Sync failed", "path", req.Path, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSyncSources(w http.ResponseWriter, r *http.Request) {
	if err := s.rec.RunSources(s.reposDir); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListDecks(w http.ResponseWriter, r *http.Request) {
	decks, err := s.db.ListDecks()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, domain.BuildHierarchy(decks))
}

func (s *Server) handleDeckStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid deck id"})
		return
	}
	ids, err := s.db.SubtreeDeckIDs(id)
	if err != nil {
		writeError(w, err)
		return
	}
	stats, err := s.db.GetDeckStats(ids, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleReviewCard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid card id"})
		return
	}
	var req struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating required"})
		return
	}
	state, err := s.mgr.ReviewCard(id, domain.Rating(req.Rating), time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handlePreviewCard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid card id"})
		return
	}
	previews, retrievability, err := s.mgr.PreviewCard(id, time.Now())
	if err != nil {
		writeError(w, err)
		return
	}
	outcomes := make(map[string]domain.CardState, len(previews))
	for rating, state := range previews {
		outcomes[rating.String()] = state
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"retrievability": retrievability,
		"outcomes":       outcomes,
	})
}

func (s *Server) handleStartSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DeckID          int64  `json:"deck_id"`
		Mode            string `json:"mode"`
		IncludeChildren bool   `json:"include_children"`
		NewLimit        int    `json:"new_limit"`
		ReviewLimit     int    `json:"review_limit"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session request"})
		return
	}
	mode := session.ModeDue
	switch req.Mode {
	case "", "due":
	case "new":
		mode = session.ModeNew
	case "all":
		mode = session.ModeAll
	default:
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "mode must be due, new, or all"})
		return
	}

	sess, err := s.mgr.Start(session.Options{
		DeckID:          req.DeckID,
		Mode:            mode,
		IncludeChildren: req.IncludeChildren,
		NewLimit:        req.NewLimit,
		ReviewLimit:     req.ReviewLimit,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()

	if sess == nil {
		writeJSON(w, http.StatusOK, map[string]any{"empty": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"remaining": sess.Remaining(),
		"card":      sess.Current(),
	})
}

func (s *Server) handleCurrentCard(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	card := s.sess.Current()
	if card == nil {
		writeJSON(w, http.StatusOK, map[string]any{"finished": true, "reviewed": s.sess.Reviewed()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"remaining": s.sess.Remaining(),
		"card":      card,
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rating int `json:"rating"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "rating required"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no active session"})
		return
	}
	next, err := s.sess.Answer(domain.Rating(req.Rating))
	if err != nil {
		writeError(w, err)
		return
	}
	if next == nil {
		writeJSON(w, http.StatusOK, map[string]any{"finished": true, "reviewed": s.sess.Reviewed()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"remaining": s.sess.Remaining(),
		"card":      next,
	})
}
