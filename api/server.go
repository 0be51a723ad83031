// Package api exposes the ingestion triggers over HTTP.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"listing-ingest/models"
	"listing-ingest/storage"
	"listing-ingest/utils"
)

// Engine is the part of services.Engine the HTTP layer drives.
type Engine interface {
	RunCycle(ctx context.Context) *models.CycleSummary
	RunScraper(ctx context.Context, scraperID string) (*models.CycleSummary, error)
	Reset(ctx context.Context) *models.ResetSummary
}

type Server struct {
	engine     Engine
	adminToken string
	logger     *utils.Logger

	// base outlives individual requests so a client hanging up does not abort
	// a cycle halfway.
	base context.Context
}

// NewServer creates the API. An empty adminToken disables the reset endpoint.
func NewServer(base context.Context, engine Engine, adminToken string, logger *utils.Logger) *Server {
	return &Server{engine: engine, adminToken: adminToken, logger: logger, base: base}
}

// Router returns the mux router with every route registered.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Routes sit on the root router: a mux subrouter answers a method
	// mismatch with 404 instead of 405.
	r.HandleFunc("/api/cycles", s.handleRunCycle).Methods(http.MethodPost)
	r.HandleFunc("/api/scrapers/run", s.handleRunScraperBody).Methods(http.MethodPost)
	r.HandleFunc("/api/scrapers/{scraper_id}/run", s.handleRunScraper).Methods(http.MethodPost)
	r.HandleFunc("/api/admin/reset", s.requireAdmin(s.handleReset)).Methods(http.MethodPost)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, req.Method+" not allowed on "+req.URL.Path)
	})

	r.Use(s.logRequests)
	return r
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("[api] Listening on %s", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunCycle(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.RunCycle(s.base)
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRunScraper(w http.ResponseWriter, r *http.Request) {
	s.runScraper(w, mux.Vars(r)["scraper_id"])
}

func (s *Server) handleRunScraperBody(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScraperID string `json:"scraper_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.runScraper(w, req.ScraperID)
}

func (s *Server) runScraper(w http.ResponseWriter, id string) {
	id = strings.TrimSpace(id)
	if id == "" {
		writeError(w, http.StatusBadRequest, "scraper_id is required")
		return
	}

	summary, err := s.engine.RunScraper(s.base, id)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "unknown scraper "+id)
		return
	}
	if err != nil {
		s.logger.Error("[api] Run scraper %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	summary := s.engine.Reset(s.base)
	status := http.StatusOK
	if len(summary.Errors) > 0 {
		status = http.StatusMultiStatus
	}
	writeJSON(w, status, summary)
}

func (s *Server) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken == "" {
			writeError(w, http.StatusForbidden, "admin endpoints are disabled")
			return
		}
		token := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
			writeError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("[api] %s %s (%v)", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
