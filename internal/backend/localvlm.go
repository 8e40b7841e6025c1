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

// LocalVLMClient talks to a self-hosted vision model microservice. The wire
// contract is a single POST of the full message history to /generate/ and a
// {"text": ...} reply.
type LocalVLMClient struct {
	name       string
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

type vlmContentPart struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	Image string `json:"image,omitempty"`
}

type vlmMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type vlmRequestPayload struct {
	Messages []vlmMessage `json:"messages"`
}

type vlmResponsePayload struct {
	Text string `json:"text"`
}

// NewLocalVLMClient initializes the client.
func NewLocalVLMClient(name string, cfg config.ModelConfig, logger *zap.Logger) (*LocalVLMClient, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = "http://localhost:8001"
	}
	return &LocalVLMClient{
		name:     name,
		endpoint: strings.TrimRight(endpoint, "/") + "/generate/",
		httpClient: &http.Client{
			Timeout: cfg.APITimeout,
		},
		logger: logger.Named("backend.localvlm"),
	}, nil
}

func (c *LocalVLMClient) Name() string { return c.name }

// Generate posts the conversation to the local generation service.
func (c *LocalVLMClient) Generate(ctx context.Context, conv schemas.Conversation) (string, error) {
	payload := vlmRequestPayload{Messages: toVLMMessages(conv)}
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

		var responsePayload vlmResponsePayload
		if err := json.Unmarshal(respBody, &responsePayload); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response payload: %w", err))
		}

		responseContent = responsePayload.Text
		return nil
	}

	if err = backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return "", err
	}
	return responseContent, nil
}

func toVLMMessages(conv schemas.Conversation) []vlmMessage {
	msgs := conv.Messages()
	out := make([]vlmMessage, 0, len(msgs))
	for _, m := range msgs {
		if len(m.ImagePNG) == 0 {
			out = append(out, vlmMessage{Role: string(m.Role), Content: m.Content})
			continue
		}
		out = append(out, vlmMessage{
			Role: string(m.Role),
			Content: []vlmContentPart{
				{Type: "text", Text: m.Content},
				{Type: "image", Image: "data:image/png;base64," + base64.StdEncoding.EncodeToString(m.ImagePNG)},
			},
		})
	}
	return out
}
