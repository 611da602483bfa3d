package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/Polkawatch/substrate-archive/internal/pipeline"
	"github.com/Polkawatch/substrate-archive/internal/store"
)

const summaryTimeout = 5 * time.Second

// Pipeline is the view of a running archive pipeline the admin API needs.
// In production it is satisfied by *pipeline.Pipeline.
type Pipeline interface {
	Status() pipeline.Status
	Health() *pipeline.Health
	CrawlNow() bool
	Summary(ctx context.Context) (store.BlockSummary, error)
}

// Server provides an HTTP-based admin API for operational management.
type Server struct {
	pipeline Pipeline
	logger   *slog.Logger
}

func NewServer(p Pipeline, logger *slog.Logger) *Server {
	return &Server{
		pipeline: p,
		logger:   logger.With("component", "admin"),
	}
}

// Handler returns the HTTP handler for the admin API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /admin/v1/status", s.handleStatus)
	mux.HandleFunc("GET /admin/v1/health", s.handleHealth)
	mux.HandleFunc("POST /admin/v1/crawl", s.handleCrawl)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

type statusResponse struct {
	pipeline.Status
	Storage      *store.BlockSummary `json:"storage,omitempty"`
	StorageError string              `json:"storage_error,omitempty"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{Status: s.pipeline.Status()}

	if resp.Running {
		ctx, cancel := context.WithTimeout(r.Context(), summaryTimeout)
		defer cancel()
		summary, err := s.pipeline.Summary(ctx)
		if err != nil {
			s.logger.Warn("storage summary failed", "error", err)
			resp.StorageError = err.Error()
		} else {
			resp.Storage = &summary
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.pipeline.Health()
	status := http.StatusOK
	if !h.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h.Snapshot())
}

func (s *Server) handleCrawl(w http.ResponseWriter, r *http.Request) {
	if !s.pipeline.CrawlNow() {
		http.Error(w, `{"error":"indexer is not running"}`, http.StatusConflict)
		return
	}
	s.logger.Info("crawl requested via admin API")
	writeJSON(w, http.StatusAccepted, map[string]bool{"triggered": true})
}
