package backend

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// GeminiClient reaches Gemini vision models through the official SDK. The
// SDK carries its own transport retry, so unlike the hand-rolled HTTP
// clients there is no backoff loop here.
type GeminiClient struct {
	name   string
	model  string
	client *genai.Client
	config config.ModelConfig
	logger *zap.Logger
}

// NewGeminiClient initializes the client.
func NewGeminiClient(ctx context.Context, name string, cfg config.ModelConfig, logger *zap.Logger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for backend %q", name)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		name:   name,
		model:  cfg.Model,
		client: client,
		config: cfg,
		logger: logger.Named("backend.gemini"),
	}, nil
}

func (c *GeminiClient) Name() string { return c.name }

// Generate sends the conversation to Gemini and returns the generated text.
func (c *GeminiClient) Generate(ctx context.Context, conv schemas.Conversation) (string, error) {
	genCfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(conv.SystemPrompt(), genai.RoleUser),
		Temperature:       genai.Ptr(c.config.Temperature),
	}
	if c.config.MaxTokens > 0 {
		genCfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}

	contents := toGeminiContents(conv)
	if len(contents) == 0 {
		return "", fmt.Errorf("conversation has no user turns to send")
	}

	startTime := time.Now()
	resp, err := c.client.Models.GenerateContent(ctx, c.model, contents, genCfg)
	if err != nil {
		return "", fmt.Errorf("gemini generation failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini API returned empty content")
	}

	c.logger.Info("Model generation complete",
		zap.String("backend", c.name),
		zap.Duration("duration", time.Since(startTime)),
	)
	return text, nil
}

// toGeminiContents maps conversation turns onto SDK content. The system slot
// travels separately as the system instruction.
func toGeminiContents(conv schemas.Conversation) []*genai.Content {
	msgs := conv.Messages()
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == schemas.RoleSystem {
			continue
		}
		var role genai.Role = genai.RoleUser
		if m.Role == schemas.RoleAssistant {
			role = genai.RoleModel
		}
		parts := []*genai.Part{genai.NewPartFromText(m.Content)}
		if len(m.ImagePNG) > 0 {
			parts = append(parts, genai.NewPartFromBytes(m.ImagePNG, "image/png"))
		}
		out = append(out, genai.NewContentFromParts(parts, role))
	}
	return out
}
