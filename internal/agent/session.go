// Package agent runs the observe/act loop for one objective: ask the
// dispatcher for the next actions, execute them, repeat until the model
// reports done, the iteration cap is hit, or the caller cancels.
package agent

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/backend"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// ActionProvider is the dispatcher boundary: one call produces the next
// resolved operations and the updated conversation.
type ActionProvider interface {
	GetNextAction(ctx context.Context, modelID string, conv schemas.Conversation, objective string) (schemas.BackendResult, error)
}

// OperationRunner is the executor boundary.
type OperationRunner interface {
	ExecuteAll(ctx context.Context, ops []schemas.Operation) error
}

// Status is the terminal state of one objective.
type Status string

const (
	// StatusCompleted means the model reported done.
	StatusCompleted Status = "completed"
	// StatusAbandoned means retries or iterations ran out before done.
	StatusAbandoned Status = "abandoned"
	// StatusCanceled means the caller aborted between iterations.
	StatusCanceled Status = "canceled"
)

// Result summarizes a finished objective.
type Result struct {
	SessionID  string
	Status     Status
	Iterations int
	// Summary is the model's own account of what was completed, taken from
	// the done operation.
	Summary string
}

// Agent owns the per-objective loop.
type Agent struct {
	dispatcher ActionProvider
	executor   OperationRunner
	cfg        config.AgentConfig
	logger     *zap.Logger
}

func New(dispatcher ActionProvider, exec OperationRunner, cfg config.AgentConfig, logger *zap.Logger) *Agent {
	return &Agent{
		dispatcher: dispatcher,
		executor:   exec,
		cfg:        cfg,
		logger:     logger.Named("agent"),
	}
}

// Run processes one objective end to end. The returned error carries the
// failure that ended an abandoned session; a completed or canceled session
// returns a nil error.
func (a *Agent) Run(ctx context.Context, modelID, objective string) (Result, error) {
	sessionID := uuid.NewString()
	logger := a.logger.With(
		zap.String("session_id", sessionID),
		zap.String("model", modelID))
	logger.Info("Session started", zap.String("objective", objective))

	// Slot 0 is a placeholder; the dispatcher installs the addressing-scheme
	// prompt on the first call.
	conv := schemas.NewConversation("")
	result := Result{SessionID: sessionID, Status: StatusAbandoned}

	for i := 1; i <= a.cfg.MaxIterations; i++ {
		// Cancellation is honored between iterations, never mid-call.
		if err := ctx.Err(); err != nil {
			logger.Info("Session canceled", zap.Int("iteration", i))
			result.Status = StatusCanceled
			return result, nil
		}
		result.Iterations = i

		step, err := a.dispatcher.GetNextAction(ctx, modelID, conv, objective)
		if err != nil {
			if errors.Is(err, backend.ErrUnrecognizedBackend) {
				return result, err
			}
			if errors.Is(err, context.Canceled) {
				result.Status = StatusCanceled
				return result, nil
			}
			logger.Error("Iteration failed, abandoning objective",
				zap.Int("iteration", i), zap.Error(err))
			return result, err
		}
		conv = step.Conversation

		if err := a.executor.ExecuteAll(ctx, step.Operations); err != nil {
			logger.Error("Execution failed, abandoning objective",
				zap.Int("iteration", i), zap.Error(err))
			return result, fmt.Errorf("execution failed: %w", err)
		}

		if summary, done := step.Done(); done {
			result.Status = StatusCompleted
			result.Summary = summary
			if result.Summary == "" {
				if msg, ok := conv.LastAssistant(); ok {
					result.Summary = msg.Content
				}
			}
			logger.Info("Session completed",
				zap.Int("iterations", i),
				zap.String("summary", result.Summary))
			return result, nil
		}
	}

	logger.Warn("Max iterations reached, abandoning objective",
		zap.Int("max_iterations", a.cfg.MaxIterations))
	return result, fmt.Errorf("objective not completed after %d iterations", a.cfg.MaxIterations)
}
