// Package backend contains the model backend transports and the dispatcher
// that drives one observe/act iteration: capture, optional labeling, model
// call, normalization, reference resolution, and the retry/fallback policy
// around all of it.
package backend

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// ErrUnrecognizedBackend is returned for a model id outside the dispatch
// table. It is fatal and never retried.
var ErrUnrecognizedBackend = errors.New("unrecognized model backend")

// Transport is one way of reaching a vision model. Implementations receive
// the full conversation (messages may carry PNG image payloads) and return
// the model's raw free-text answer. Transports own their wire-level retry;
// the dispatcher owns the iteration-level retry policy.
type Transport interface {
	Name() string
	Generate(ctx context.Context, conv schemas.Conversation) (string, error)
}

// Backend pairs a transport with the addressing scheme its prompts use.
type Backend struct {
	ID         string
	Addressing schemas.Addressing
	Transport  Transport
}

// addressingByModel is the closed dispatch table. Adding a model id here
// requires a transport case in buildTransport.
var addressingByModel = map[string]schemas.Addressing{
	"gpt-4":             schemas.AddressingCoordinates,
	"gpt-4-with-som":    schemas.AddressingLabels,
	"gpt-4-with-ocr":    schemas.AddressingText,
	"gemini-pro-vision": schemas.AddressingCoordinates,
	"llava":             schemas.AddressingCoordinates,
	"local-qwen":        schemas.AddressingCoordinates,
}

// Registry holds the configured backends keyed by model id.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds every backend present in the configuration. Model ids
// outside the dispatch table are rejected up front rather than at call time.
func NewRegistry(ctx context.Context, cfg config.BackendsConfig, logger *zap.Logger) (*Registry, error) {
	backends := make(map[string]Backend, len(cfg.Models))
	for id, mc := range cfg.Models {
		addressing, ok := addressingByModel[id]
		if !ok {
			return nil, fmt.Errorf("model id %q: %w", id, ErrUnrecognizedBackend)
		}
		transport, err := buildTransport(ctx, id, mc, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to build backend %q: %w", id, err)
		}
		backends[id] = Backend{ID: id, Addressing: addressing, Transport: transport}
	}
	return &Registry{backends: backends}, nil
}

func buildTransport(ctx context.Context, id string, mc config.ModelConfig, logger *zap.Logger) (Transport, error) {
	switch mc.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIClient(id, mc, logger)
	case config.ProviderGemini:
		return NewGeminiClient(ctx, id, mc, logger)
	case config.ProviderOllama:
		return NewOllamaClient(id, mc, logger)
	case config.ProviderLocal:
		return NewLocalVLMClient(id, mc, logger)
	default:
		return nil, fmt.Errorf("unknown provider %q for model %q", mc.Provider, id)
	}
}

// Lookup resolves a model id to its backend.
func (r *Registry) Lookup(modelID string) (Backend, error) {
	b, ok := r.backends[modelID]
	if !ok {
		return Backend{}, fmt.Errorf("model id %q: %w", modelID, ErrUnrecognizedBackend)
	}
	return b, nil
}
