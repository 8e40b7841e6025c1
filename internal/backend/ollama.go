package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// OllamaClient talks to a locally hosted Ollama server, used for the llava
// vision model. No API key; the server is assumed to be on a trusted host.
type OllamaClient struct {
	name       string
	model      string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

type ollamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ollamaRequestPayload struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaResponsePayload struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// NewOllamaClient initializes the client.
func NewOllamaClient(name string, cfg config.ModelConfig, logger *zap.Logger) (*OllamaClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:11434"
	}
	return &OllamaClient{
		name:     name,
		model:    cfg.Model,
		endpoint: strings.TrimRight(endpoint, "/") + "/api/chat",
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("backend.ollama"),
	}, nil
}

func (c *OllamaClient) Name() string { return c.name }

// Generate sends the conversation to the Ollama chat endpoint. Local model
// servers reload weights on cold start, so the first call can be slow; the
// retry window (rather than a tight per-call timeout) absorbs that.
func (c *OllamaClient) Generate(ctx context.Context, conv schemas.Conversation) (string, error) {
	payload := ollamaRequestPayload{
		Model:    c.model,
		Messages: toOllamaMessages(conv),
		Stream:   false,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 3 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			c.logger.Warn("Network error during model request, retrying...", zap.Error(err))
			return fmt.Errorf("failed to execute HTTP request: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return classifyAPIError(c.logger, resp.StatusCode, respBody)
		}

		var responsePayload ollamaResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		responseContent = responsePayload.Message.Content
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

func toOllamaMessages(conv schemas.Conversation) []ollamaMessage {
	msgs := conv.Messages()
	out := make([]ollamaMessage, 0, len(msgs))
	for _, m := range msgs {
		om := ollamaMessage{Role: string(m.Role), Content: m.Content}
		if len(m.ImagePNG) > 0 {
			om.Images = []string{base64.StdEncoding.EncodeToString(m.ImagePNG)}
		}
		out = append(out, om)
	}
	return out
}
