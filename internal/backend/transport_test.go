package backend

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

func visionConversation() schemas.Conversation {
	conv := schemas.NewConversation("system prompt")
	return conv.Append(schemas.Message{
		Role:     schemas.RoleUser,
		Content:  "take the next action",
		ImagePNG: []byte("fake-png-bytes"),
	})
}

func TestOpenAIClient_Generate(t *testing.T) {
	var captured chatRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[{\"operation\":\"done\",\"summary\":\"ok\"}]"}}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("gpt-4", config.ModelConfig{
		Model:      "gpt-4o",
		APIKey:     "test-key",
		Endpoint:   srv.URL,
		APITimeout: 5 * time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	out, err := client.Generate(context.Background(), visionConversation())
	require.NoError(t, err)
	assert.Contains(t, out, `"done"`)

	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
	assert.Equal(t, "system prompt", captured.Messages[0].Content)

	// The user turn carries the image as a base64 data URL part.
	parts, ok := captured.Messages[1].Content.([]any)
	require.True(t, ok, "user message with image must be a part array")
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.True(t, strings.HasPrefix(url, "data:image/png;base64,"))
}

func TestOpenAIClient_RequiresAPIKey(t *testing.T) {
	_, err := NewOpenAIClient("gpt-4", config.ModelConfig{}, zap.NewNop())
	require.Error(t, err)
}

func TestOpenAIClient_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("gpt-4", config.ModelConfig{APIKey: "bad", Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	_, genErr := client.Generate(context.Background(), visionConversation())
	require.Error(t, genErr)
	assert.Equal(t, 1, calls)
}

func TestOpenAIClient_TransientErrorRetried(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"[]"}}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient("gpt-4", config.ModelConfig{APIKey: "k", Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	out, genErr := client.Generate(context.Background(), visionConversation())
	require.NoError(t, genErr)
	assert.Equal(t, "[]", out)
	assert.Equal(t, 2, calls)
}

func TestOllamaClient_Generate(t *testing.T) {
	var captured ollamaRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"message":{"content":"[]"},"done":true}`))
	}))
	defer srv.Close()

	client, err := NewOllamaClient("llava", config.ModelConfig{Model: "llava", Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	out, genErr := client.Generate(context.Background(), visionConversation())
	require.NoError(t, genErr)
	assert.Equal(t, "[]", out)

	assert.False(t, captured.Stream)
	assert.Equal(t, "llava", captured.Model)
	require.Len(t, captured.Messages, 2)
	assert.Empty(t, captured.Messages[0].Images)
	require.Len(t, captured.Messages[1].Images, 1)
}

func TestLocalVLMClient_Generate(t *testing.T) {
	var captured vlmRequestPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate/", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		_, _ = w.Write([]byte(`{"text":"[{\"operation\":\"scroll\"}]"}`))
	}))
	defer srv.Close()

	client, err := NewLocalVLMClient("local-qwen", config.ModelConfig{Endpoint: srv.URL}, zap.NewNop())
	require.NoError(t, err)

	out, genErr := client.Generate(context.Background(), visionConversation())
	require.NoError(t, genErr)
	assert.Contains(t, out, "scroll")
	require.Len(t, captured.Messages, 2)
}

func TestNewRegistry_RejectsUnknownModelID(t *testing.T) {
	cfg := config.BackendsConfig{Models: map[string]config.ModelConfig{
		"gpt-5-imaginary": {Provider: config.ProviderOpenAI, APIKey: "k"},
	}}
	_, err := NewRegistry(context.Background(), cfg, zap.NewNop())
	require.ErrorIs(t, err, ErrUnrecognizedBackend)
}

func TestNewRegistry_RejectsUnknownProvider(t *testing.T) {
	cfg := config.BackendsConfig{Models: map[string]config.ModelConfig{
		"gpt-4": {Provider: "carrier-pigeon"},
	}}
	_, err := NewRegistry(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}

func TestSystemPrompt_PerScheme(t *testing.T) {
	coord := SystemPrompt(schemas.AddressingCoordinates, "book a flight")
	assert.Contains(t, coord, `"x": "0.10"`)
	assert.Contains(t, coord, "Objective: book a flight")

	labeled := SystemPrompt(schemas.AddressingLabels, "book a flight")
	assert.Contains(t, labeled, `"label": "~x"`)
	assert.NotContains(t, labeled, `"x": "0.10"`)

	ocr := SystemPrompt(schemas.AddressingText, "book a flight")
	assert.Contains(t, ocr, "nothing to click")
	assert.Contains(t, ocr, `"text"`)
}

func TestToGeminiContents_RoleAndPartMapping(t *testing.T) {
	conv := schemas.NewConversation("system prompt")
	conv = conv.Append(schemas.Message{
		Role:     schemas.RoleUser,
		Content:  "take the next action",
		ImagePNG: []byte("fake-png-bytes"),
	})
	conv = conv.Append(schemas.Message{Role: schemas.RoleAssistant, Content: "[]"})

	contents := toGeminiContents(conv)
	require.Len(t, contents, 2, "system slot travels as the system instruction, not as content")

	assert.Equal(t, string(genai.RoleUser), contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "take the next action", contents[0].Parts[0].Text)
	require.NotNil(t, contents[0].Parts[1].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MIMEType)

	assert.Equal(t, string(genai.RoleModel), contents[1].Role)
	require.Len(t, contents[1].Parts, 1)
}
