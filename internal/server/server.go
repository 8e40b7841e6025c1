// Package server exposes the pipeline over HTTP: one endpoint to run an
// objective and a health probe.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vkozyrev/screenpilot/internal/agent"
	"github.com/vkozyrev/screenpilot/internal/backend"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// ObjectiveRunner runs one objective to a terminal status.
type ObjectiveRunner interface {
	Run(ctx context.Context, modelID, objective string) (agent.Result, error)
}

// Server is the HTTP front end over the agent.
type Server struct {
	runner ObjectiveRunner
	cfg    config.ServerConfig
	logger *zap.Logger
}

func New(runner ObjectiveRunner, cfg config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		runner: runner,
		cfg:    cfg,
		logger: logger.Named("server"),
	}
}

// -- Wire types --

type pipelineRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type pipelineResponse struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	Iterations int    `json:"iterations"`
	Summary    string `json:"summary,omitempty"`
	Error      string `json:"error,omitempty"`
}

type healthResponse struct {
	Status string `json:"status"`
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /pipeline", s.handlePipeline)
	mux.HandleFunc("POST /health", s.handleHealth)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	var req pipelineRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, pipelineResponse{Error: "invalid request body"})
		return
	}
	if req.Model == "" || req.Prompt == "" {
		s.writeJSON(w, http.StatusBadRequest, pipelineResponse{Error: "model and prompt are required"})
		return
	}

	result, err := s.runner.Run(r.Context(), req.Model, req.Prompt)
	resp := pipelineResponse{
		SessionID:  result.SessionID,
		Status:     string(result.Status),
		Iterations: result.Iterations,
		Summary:    result.Summary,
	}
	switch {
	case errors.Is(err, backend.ErrUnrecognizedBackend):
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusBadRequest, resp)
	case err != nil:
		resp.Error = err.Error()
		s.writeJSON(w, http.StatusInternalServerError, resp)
	default:
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "OK"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}
