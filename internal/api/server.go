// Package api exposes the HTTP control surface for the harvest
// pipeline.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lexharvest/lexharvest/internal/metrics"
	"github.com/lexharvest/lexharvest/internal/pipeline"
)

const askTimeout = 5 * time.Second

// Asker is the request/reply view of the coordinator actor.
type Asker interface {
	Ask(msg pipeline.Message, timeout time.Duration) (pipeline.Message, error)
}

// Config controls the HTTP server surface.
type Config struct {
	Addr           string        `mapstructure:"addr"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// Server wires HTTP handlers to the coordinator actor.
type Server struct {
	router chi.Router
	coord  Asker
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(coord Asker, cfg Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	s := &Server{coord: coord, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(cfg.RequestTimeout))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/pipeline", func(r chi.Router) {
		r.Get("/status", s.getStatus)
		r.Get("/statistics", s.getStatistics)
		r.Post("/pause", s.pausePipeline)
		r.Post("/resume", s.resumePipeline)
		r.Post("/stop", s.stopPipeline)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statusResponse struct {
	State      pipeline.State      `json:"state"`
	Paused     bool                `json:"paused"`
	Breakers   map[string]string   `json:"breakers,omitempty"`
	Statistics pipeline.Statistics `json:"statistics"`
}

func (s *Server) getStatus(w http.ResponseWriter, _ *http.Request) {
	reply, err := s.coord.Ask(pipeline.GetStatus{}, askTimeout)
	if err != nil {
		s.writeAskError(w, err)
		return
	}
	status, ok := reply.(pipeline.StatusReply)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected coordinator reply")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{
		State:      status.State,
		Paused:     status.Paused,
		Breakers:   status.Breakers,
		Statistics: status.Statistics,
	})
}

func (s *Server) getStatistics(w http.ResponseWriter, _ *http.Request) {
	reply, err := s.coord.Ask(pipeline.GetStatistics{}, askTimeout)
	if err != nil {
		s.writeAskError(w, err)
		return
	}
	stats, ok := reply.(pipeline.StatisticsReply)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected coordinator reply")
		return
	}
	writeJSON(w, http.StatusOK, stats.Statistics)
}

type checkpointResponse struct {
	CheckpointID string `json:"checkpoint_id"`
	SessionID    string `json:"session_id"`
	Pending      int    `json:"pending"`
	Processed    int    `json:"processed"`
}

func (s *Server) pausePipeline(w http.ResponseWriter, _ *http.Request) {
	reply, err := s.coord.Ask(pipeline.PausePipeline{}, askTimeout)
	if err != nil {
		s.writeAskError(w, err)
		return
	}
	saved, ok := reply.(pipeline.CheckpointSaved)
	if !ok {
		writeError(w, http.StatusInternalServerError, "unexpected coordinator reply")
		return
	}
	writeJSON(w, http.StatusOK, checkpointResponse{
		CheckpointID: saved.Checkpoint.ID.String(),
		SessionID:    saved.Checkpoint.SessionID.String(),
		Pending:      len(saved.Checkpoint.PendingIDs),
		Processed:    saved.Checkpoint.TotalProcessed,
	})
}

func (s *Server) resumePipeline(w http.ResponseWriter, _ *http.Request) {
	if _, err := s.coord.Ask(pipeline.ResumePipeline{}, askTimeout); err != nil {
		s.writeAskError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resumed"})
}

type stopRequest struct {
	SaveProgress bool `json:"save_progress"`
}

func (s *Server) stopPipeline(w http.ResponseWriter, r *http.Request) {
	var req stopRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}
	reply, err := s.coord.Ask(pipeline.StopPipeline{SaveProgress: req.SaveProgress}, askTimeout)
	if err != nil {
		s.writeAskError(w, err)
		return
	}
	resp := map[string]any{"status": "stopped"}
	if saved, ok := reply.(pipeline.CheckpointSaved); ok {
		resp["checkpoint_id"] = saved.Checkpoint.ID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeAskError maps pipeline error kinds to HTTP statuses.
func (s *Server) writeAskError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if errors.As(err, &pe) {
		switch pe.Kind {
		case pipeline.KindIllegalTransition:
			writeError(w, http.StatusConflict, pe.Message)
			return
		case pipeline.KindTimeout:
			writeError(w, http.StatusGatewayTimeout, pe.Message)
			return
		}
	}
	s.logger.Error("coordinator request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Request-ID", uuid.NewString())
		next.ServeHTTP(w, r)
	})
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
