package backend

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
	"github.com/vkozyrev/screenpilot/internal/normalize"
	"github.com/vkozyrev/screenpilot/internal/resolve"
)

// Dispatcher runs one observe/act iteration end to end: capture, optional
// labeling, model call, normalization, and reference resolution, with the
// retry and fallback policy around all of it. It owns the conversation for
// the duration of a call; failed attempts never leave a dangling user turn
// because every mutation works on a tentative copy.
type Dispatcher struct {
	registry *Registry
	capturer schemas.Capturer
	labeler  schemas.Labeler
	resolver *resolve.Resolver
	limiter  *rate.Limiter
	cfg      config.AgentConfig
	logger   *zap.Logger
}

// NewDispatcher wires the iteration pipeline together.
func NewDispatcher(registry *Registry, capturer schemas.Capturer, labeler schemas.Labeler, resolver *resolve.Resolver, cfg config.AgentConfig, logger *zap.Logger) *Dispatcher {
	limit := rate.Inf
	if cfg.CallsPerSecond > 0 {
		limit = rate.Limit(cfg.CallsPerSecond)
	}
	return &Dispatcher{
		registry: registry,
		capturer: capturer,
		labeler:  labeler,
		resolver: resolver,
		limiter:  rate.NewLimiter(limit, 1),
		cfg:      cfg,
		logger:   logger.Named("dispatcher"),
	}
}

// GetNextAction captures the screen, asks the selected backend what to do,
// and returns fully resolved operations plus the updated conversation. A
// recoverable resolution miss (unknown label, no text match) escalates
// exactly once to the configured coordinate-based fallback backend with the
// same screenshot.
func (d *Dispatcher) GetNextAction(ctx context.Context, modelID string, conv schemas.Conversation, objective string) (schemas.BackendResult, error) {
	b, err := d.registry.Lookup(modelID)
	if err != nil {
		return schemas.BackendResult{}, err
	}

	shot, err := d.capturer.Capture(ctx)
	if err != nil {
		return schemas.BackendResult{}, fmt.Errorf("screen capture failed: %w", err)
	}

	result, err := d.runBackend(ctx, b, conv, objective, shot)
	if err == nil {
		return result, nil
	}

	var resErr *resolve.ResolutionError
	if !errors.As(err, &resErr) {
		return schemas.BackendResult{}, err
	}

	fallback, lookupErr := d.registry.Lookup(d.cfg.FallbackModel)
	if lookupErr != nil {
		return schemas.BackendResult{}, fmt.Errorf("resolution failed (%v) and no fallback backend is configured: %w", resErr, lookupErr)
	}
	if fallback.ID == b.ID {
		return schemas.BackendResult{}, fmt.Errorf("resolution failed on the fallback backend itself: %w", err)
	}

	d.logger.Warn("Resolution failed, escalating once to fallback backend",
		zap.String("from", b.ID),
		zap.String("to", fallback.ID),
		zap.String("kind", string(resErr.Kind)),
		zap.String("ref", resErr.Ref))

	result, err = d.runBackend(ctx, fallback, conv, objective, shot)
	if err != nil {
		return schemas.BackendResult{}, fmt.Errorf("fallback backend %q failed: %w", fallback.ID, err)
	}
	return result, nil
}

// runBackend performs one complete call against a single backend. The
// conversation it receives stays untouched; only the returned result carries
// the new turns.
func (d *Dispatcher) runBackend(ctx context.Context, b Backend, conv schemas.Conversation, objective string, shot schemas.Screenshot) (schemas.BackendResult, error) {
	modelShot := shot
	var elements map[string]schemas.BoundingBox

	if b.Addressing == schemas.AddressingLabels {
		if d.labeler == nil {
			return schemas.BackendResult{}, fmt.Errorf("backend %q requires a labeling service and none is configured", b.ID)
		}
		labelRes, err := d.labeler.Label(ctx, shot)
		if err != nil {
			return schemas.BackendResult{}, fmt.Errorf("labeling pass failed: %w", err)
		}
		modelShot = labelRes.Annotated
		elements = schemas.ElementMap(labelRes.Elements)
	}

	// The system prompt tracks the addressing scheme, so re-confirm slot 0
	// on every call. Switching backends mid-objective swaps the prompt
	// without touching the rest of the history.
	conv = conv.WithSystemPrompt(SystemPrompt(b.Addressing, objective))

	userPrompt := NextUserPrompt()
	if conv.FirstUserTurn() {
		userPrompt = FirstUserPrompt()
	}
	tentative := conv.Append(schemas.Message{
		Role:     schemas.RoleUser,
		Content:  userPrompt,
		ImagePNG: modelShot.PNG,
	})

	raw, ops, err := d.callWithRetry(ctx, b, tentative)
	if err != nil {
		return schemas.BackendResult{}, err
	}

	resolved, err := d.resolver.ResolveAll(ctx, ops, shot, elements)
	if err != nil {
		return schemas.BackendResult{}, err
	}

	// Success: commit the user turn and the assistant reply, then drop image
	// payloads from the retained history. The screenshot only matters for
	// the call it was taken for.
	final := tentative.Append(schemas.Message{
		Role:    schemas.RoleAssistant,
		Content: raw,
	}).WithoutImages()

	return schemas.BackendResult{Operations: resolved, Conversation: final}, nil
}

// callWithRetry issues the model call and normalizes the answer. Transient
// transport failures retry up to the configured bound with a fixed delay
// between attempts; a malformed answer earns exactly one re-ask of the same
// backend with the unchanged conversation.
func (d *Dispatcher) callWithRetry(ctx context.Context, b Backend, conv schemas.Conversation) (string, []schemas.Operation, error) {
	transientLeft := d.cfg.CallRetries
	parseLeft := 1

	for {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", nil, err
		}

		raw, callErr := b.Transport.Generate(ctx, conv)
		if callErr != nil {
			if ctx.Err() != nil {
				return "", nil, ctx.Err()
			}
			if transientLeft <= 0 {
				return "", nil, fmt.Errorf("backend %q call failed after %d retries: %w", b.ID, d.cfg.CallRetries, callErr)
			}
			transientLeft--
			d.logger.Warn("Model call failed, retrying",
				zap.String("backend", b.ID),
				zap.Int("retries_left", transientLeft),
				zap.Error(callErr))
			if err := d.pause(ctx); err != nil {
				return "", nil, err
			}
			continue
		}

		ops, parseErr := normalize.Normalize(raw)
		if parseErr == nil {
			return raw, ops, nil
		}

		var pe *normalize.ParseError
		if errors.As(parseErr, &pe) && parseLeft > 0 {
			parseLeft--
			// Raw output is kept for audit logs only; it is never surfaced
			// as if it were a resolved action.
			d.logger.Warn("Model output failed to parse, re-asking once",
				zap.String("backend", b.ID),
				zap.String("raw_output", pe.Raw))
			if err := d.pause(ctx); err != nil {
				return "", nil, err
			}
			continue
		}
		return "", nil, parseErr
	}
}

// pause waits the fixed retry delay, honoring cancellation.
func (d *Dispatcher) pause(ctx context.Context) error {
	if d.cfg.RetryDelay <= 0 {
		return nil
	}
	t := time.NewTimer(d.cfg.RetryDelay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
