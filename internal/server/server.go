// Package server exposes the linking pipeline over HTTP: a one-shot annotate
// endpoint plus websocket sessions that accumulate a conversation turn by
// turn.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mbakker/convel-go/internal/kb"
	"github.com/mbakker/convel-go/internal/metrics"
	"github.com/mbakker/convel-go/internal/models"
)

// Annotator runs the linking pipeline over a whole conversation.
type Annotator interface {
	Annotate(ctx context.Context, conv []models.Turn) ([]models.AnnotatedTurn, error)
}

// StatsSource reports knowledge-base record counts.
type StatsSource interface {
	KBStats(ctx context.Context) (kb.Stats, error)
}

// Server handles the HTTP API.
type Server struct {
	annotator Annotator
	stats     StatsSource
	metrics   *metrics.Collector
	logger    *slog.Logger
}

// New creates a Server. stats may be nil, in which case /stats omits
// knowledge-base counts.
func New(annotator Annotator, stats StatsSource, collector *metrics.Collector, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		annotator: annotator,
		stats:     stats,
		metrics:   collector,
		logger:    logger,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /annotate", s.handleAnnotate)
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /conversations/ws", s.handleConversationWS)
	return mux
}

// HTTPServer wraps the handler with production timeouts.
func (s *Server) HTTPServer(port string) *http.Server {
	return &http.Server{
		Addr:         ":" + port,
		Handler:      s.Handler(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second, // annotation can wait on model inference
		IdleTimeout:  120 * time.Second,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type annotateResponse struct {
	Conversation []models.AnnotatedTurn `json:"conversation"`
}

func (s *Server) handleAnnotate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "request body too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "read request body"})
		return
	}

	conv, err := models.DecodeConversation(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	annotated, err := s.annotator.Annotate(r.Context(), conv)
	if err != nil {
		var verr *models.ValidationError
		if errors.As(err, &verr) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: verr.Error()})
			return
		}
		s.logger.Error("annotation failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "annotation failed"})
		return
	}

	writeJSON(w, http.StatusOK, annotateResponse{Conversation: annotated})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	fmt.Fprintln(w, "ok")
}

type statsResponse struct {
	Pipeline      metrics.Snapshot `json:"pipeline"`
	KnowledgeBase *kb.Stats        `json:"knowledge_base,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{}
	if s.metrics != nil {
		resp.Pipeline = s.metrics.Snapshot()
	}
	if s.stats != nil {
		stats, err := s.stats.KBStats(r.Context())
		if err != nil {
			s.logger.Warn("knowledge-base stats unavailable", "error", err)
		} else {
			resp.KnowledgeBase = &stats
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "error", err)
	}
}
