package backend

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// OpenAIClient speaks the OpenAI-compatible chat completions API. It serves
// the hosted gpt-4 family and any compatible self-hosted gateway.
type OpenAIClient struct {
	name       string
	model      string
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
	config     config.ModelConfig
}

// -- Chat Completions Request/Response Structures (internal to this file) --

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatMessage struct {
	Role string `json:"role"`
	// Content is a plain string for text-only messages and a part array when
	// an image is attached.
	Content any `json:"content"`
}

type chatRequestPayload struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float32       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type chatResponsePayload struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// NewOpenAIClient initializes the client.
func NewOpenAIClient(name string, cfg config.ModelConfig, logger *zap.Logger) (*OpenAIClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for backend %q", name)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "https://api.openai.com/v1/chat/completions"
	}
	return &OpenAIClient{
		name:     name,
		model:    cfg.Model,
		endpoint: endpoint,
		apiKey:   cfg.APIKey,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("backend.openai"),
	}, nil
}

func (c *OpenAIClient) Name() string { return c.name }

// Generate sends the conversation to the chat completions endpoint and
// returns the generated content with retries.
func (c *OpenAIClient) Generate(ctx context.Context, conv schemas.Conversation) (string, error) {
	payload := chatRequestPayload{
		Model:       c.model,
		Messages:    toChatMessages(conv),
		Temperature: c.config.Temperature,
		MaxTokens:   c.config.MaxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request payload: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second

	var responseContent string

	operation := func() error {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create HTTP request: %w", err))
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

		startTime := time.Now()
		resp, err := c.httpClient.Do(httpReq)
		duration := time.Since(startTime)

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

		var responsePayload chatResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}
		if len(responsePayload.Choices) == 0 {
			return backoff.Permanent(fmt.Errorf("chat API returned no choices"))
		}

		c.logger.Info("Model generation complete",
			zap.String("backend", c.name),
			zap.Duration("duration", duration),
			zap.Int("prompt_tokens", responsePayload.Usage.PromptTokens),
			zap.Int("completion_tokens", responsePayload.Usage.CompletionTokens),
		)

		responseContent = responsePayload.Choices[0].Message.Content
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

// toChatMessages converts the conversation into the chat wire shape,
// attaching image payloads as base64 data URLs.
func toChatMessages(conv schemas.Conversation) []chatMessage {
	msgs := conv.Messages()
	out := make([]chatMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.ImagePNG) == 0 {
			out = append(out, chatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		out = append(out, chatMessage{
			Role: string(m.Role),
			Content: []chatContentPart{
				{Type: "text", Text: m.Content},
				{Type: "image_url", ImageURL: &chatImageURL{
					URL: "data:image/png;base64," + base64.StdEncoding.EncodeToString(m.ImagePNG),
				}},
			},
		})
	}
	return out
}

// classifyAPIError maps an HTTP status to a retryable or permanent failure.
// Rate limits and server-side errors are transient; everything else in 4xx
// means the request itself is wrong and retrying cannot help.
func classifyAPIError(logger *zap.Logger, status int, body []byte) error {
	err := fmt.Errorf("API request failed with status %d: %s", status, string(body))
	if status == http.StatusTooManyRequests || status >= 500 {
		logger.Warn("Transient API error, retrying...", zap.Int("status", status))
		return err
	}
	return backoff.Permanent(err)
}
