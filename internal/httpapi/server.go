// Package httpapi is the thin JSON backend behind the browser UI. It only
// delegates to an open dataset handle; no retrieval logic lives here.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	rlerrors "github.com/raglite/raglite/internal/errors"
	"github.com/raglite/raglite/internal/model"
	"github.com/raglite/raglite/pkg/raglite"
)

// Server serves the UI backend for one dataset.
type Server struct {
	dataset *raglite.Dataset
}

// NewServer wraps an open dataset handle.
func NewServer(dataset *raglite.Dataset) *Server {
	return &Server{dataset: dataset}
}

// Router builds the HTTP routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/api/stats", s.handleStats)
	r.Post("/api/search", s.handleSearch)
	r.Post("/api/ingest", s.handleIngest)

	return r
}

// ListenAndServe runs the server on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	slog.Info("ui backend listening", slog.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.dataset.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

type searchRequest struct {
	Query       string  `json:"query"`
	TopK        int     `json:"top_k"`
	Rerank      bool    `json:"rerank"`
	ContentType string  `json:"content_type"`
	Vector      []float32 `json:"vector,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rlerrors.New(rlerrors.ErrCodeInvalidInput, "invalid search request body", err))
		return
	}

	opts := raglite.SearchOptions{
		TopK:        req.TopK,
		Rerank:      req.Rerank,
		ContentType: model.ContentType(req.ContentType),
	}

	var (
		results []raglite.SearchResult
		err     error
	)
	if len(req.Vector) > 0 {
		results, err = s.dataset.SearchVector(r.Context(), req.Vector, opts)
	} else {
		results, err = s.dataset.Search(r.Context(), req.Query, opts)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

type ingestRequest struct {
	Path         string `json:"path"`
	ChunkSize    int    `json:"chunk_size"`
	ChunkOverlap int    `json:"chunk_overlap"`
	ForceRebuild bool   `json:"force_rebuild"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, rlerrors.New(rlerrors.ErrCodeInvalidInput, "invalid ingest request body", err))
		return
	}
	if req.Path == "" {
		writeError(w, rlerrors.Newf(rlerrors.ErrCodeInvalidInput, "path is required"))
		return
	}

	result, err := s.dataset.IngestDirectory(r.Context(), req.Path, raglite.IngestOptions{
		ChunkSize:    req.ChunkSize,
		ChunkOverlap: req.ChunkOverlap,
		ForceRebuild: req.ForceRebuild,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to encode response", slog.String("error", err.Error()))
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError

	var re *rlerrors.Error
	if errors.As(err, &re) {
		switch re.Category {
		case rlerrors.CategoryValidation, rlerrors.CategoryConfig:
			status = http.StatusBadRequest
		case rlerrors.CategoryIO:
			status = http.StatusNotFound
		case rlerrors.CategoryModel:
			status = http.StatusConflict
		}
		writeJSON(w, status, map[string]any{
			"error":      re.Message,
			"code":       re.Code,
			"suggestion": re.Suggestion,
		})
		return
	}

	writeJSON(w, status, map[string]any{"error": err.Error()})
}
