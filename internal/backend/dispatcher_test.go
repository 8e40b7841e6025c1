package backend

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
	"github.com/vkozyrev/screenpilot/internal/normalize"
	"github.com/vkozyrev/screenpilot/internal/resolve"
)

// -- Test doubles --

type scriptedTransport struct {
	name    string
	replies []string
	errs    []error
	calls   int
	convs   []schemas.Conversation
}

func (t *scriptedTransport) Name() string { return t.name }

func (t *scriptedTransport) Generate(_ context.Context, conv schemas.Conversation) (string, error) {
	i := t.calls
	t.calls++
	t.convs = append(t.convs, conv)
	if i < len(t.errs) && t.errs[i] != nil {
		return "", t.errs[i]
	}
	if i < len(t.replies) {
		return t.replies[i], nil
	}
	return t.replies[len(t.replies)-1], nil
}

type fakeCapturer struct {
	shot schemas.Screenshot
	err  error
}

func (c *fakeCapturer) Capture(_ context.Context) (schemas.Screenshot, error) {
	return c.shot, c.err
}

type fakeLabeler struct {
	elements []schemas.DetectedElement
	calls    int
}

func (l *fakeLabeler) Label(_ context.Context, shot schemas.Screenshot) (schemas.LabelResult, error) {
	l.calls++
	annotated := shot
	annotated.PNG = append([]byte("labeled:"), shot.PNG...)
	return schemas.LabelResult{Annotated: annotated, Elements: l.elements}, nil
}

func testAgentConfig() config.AgentConfig {
	return config.AgentConfig{
		MaxIterations: 10,
		CallRetries:   2,
		RetryDelay:    time.Millisecond,
		FallbackModel: "gpt-4",
	}
}

func newTestDispatcher(t *testing.T, backends map[string]Backend, labeler schemas.Labeler) *Dispatcher {
	t.Helper()
	registry := &Registry{backends: backends}
	capturer := &fakeCapturer{shot: schemas.Screenshot{PNG: []byte("png"), Width: 1000, Height: 800}}
	resolver := resolve.NewResolver(nil, zap.NewNop())
	return NewDispatcher(registry, capturer, labeler, resolver, testAgentConfig(), zap.NewNop())
}

const doneReply = `[{"thought": "finished", "operation": "done", "summary": "ok"}]`
const clickPercentReply = `[{"thought": "click it", "operation": "click", "x": "0.25", "y": "0.5"}]`

// -- Tests --

func TestGetNextAction_UnknownModel(t *testing.T) {
	d := newTestDispatcher(t, map[string]Backend{}, nil)

	_, err := d.GetNextAction(context.Background(), "gpt-5-imaginary", schemas.NewConversation("sys"), "open a browser")
	require.ErrorIs(t, err, ErrUnrecognizedBackend)
}

func TestGetNextAction_PercentBackend(t *testing.T) {
	transport := &scriptedTransport{name: "gpt-4", replies: []string{clickPercentReply}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	conv := schemas.NewConversation("placeholder")
	result, err := d.GetNextAction(context.Background(), "gpt-4", conv, "open a browser")
	require.NoError(t, err)

	require.Len(t, result.Operations, 1)
	op := result.Operations[0]
	require.True(t, op.Resolved())
	assert.Equal(t, 0.25, *op.XResolved)
	assert.Equal(t, 0.5, *op.YResolved)
	_, done := result.Done()
	assert.False(t, done)

	// One user and one assistant turn were committed, image pruned.
	msgs := result.Conversation.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, schemas.RoleUser, msgs[1].Role)
	assert.Equal(t, schemas.RoleAssistant, msgs[2].Role)
	assert.Equal(t, clickPercentReply, msgs[2].Content)
	assert.Nil(t, msgs[1].ImagePNG)

	// The objective lands in the system prompt.
	assert.Contains(t, result.Conversation.SystemPrompt(), "open a browser")
}

func TestGetNextAction_FirstAndNextUserPrompt(t *testing.T) {
	transport := &scriptedTransport{name: "gpt-4", replies: []string{doneReply}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	first, err := d.GetNextAction(context.Background(), "gpt-4", schemas.NewConversation("sys"), "obj")
	require.NoError(t, err)
	assert.Equal(t, FirstUserPrompt(), transport.convs[0].Messages()[1].Content)
	_, done := first.Done()
	assert.True(t, done)

	_, err = d.GetNextAction(context.Background(), "gpt-4", first.Conversation, "obj")
	require.NoError(t, err)
	assert.Equal(t, NextUserPrompt(), transport.convs[1].Messages()[3].Content)
}

func TestGetNextAction_ParseRetryOnce(t *testing.T) {
	transport := &scriptedTransport{name: "gpt-4", replies: []string{"I cannot help with that.", doneReply}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	result, err := d.GetNextAction(context.Background(), "gpt-4", schemas.NewConversation("sys"), "obj")
	require.NoError(t, err)
	assert.Equal(t, 2, transport.calls)
	_, done := result.Done()
	assert.True(t, done)

	// The re-ask used the same conversation state.
	assert.Equal(t, transport.convs[0].Len(), transport.convs[1].Len())
}

func TestGetNextAction_ParseFailureIsBounded(t *testing.T) {
	transport := &scriptedTransport{name: "gpt-4", replies: []string{"garbage", "still garbage", doneReply}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	_, err := d.GetNextAction(context.Background(), "gpt-4", schemas.NewConversation("sys"), "obj")
	require.Error(t, err)
	var pe *normalize.ParseError
	assert.ErrorAs(t, err, &pe)
	assert.Equal(t, 2, transport.calls, "exactly one re-ask on malformed output")
}

func TestGetNextAction_TransientRetryBounded(t *testing.T) {
	callErr := errors.New("connection refused")
	transport := &scriptedTransport{name: "gpt-4", errs: []error{callErr, callErr, callErr, callErr}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	_, err := d.GetNextAction(context.Background(), "gpt-4", schemas.NewConversation("sys"), "obj")
	require.Error(t, err)
	assert.ErrorIs(t, err, callErr)
	// CallRetries=2 means one initial attempt plus two retries.
	assert.Equal(t, 3, transport.calls)
}

func TestGetNextAction_TransientThenSuccess(t *testing.T) {
	transport := &scriptedTransport{
		name:    "gpt-4",
		errs:    []error{errors.New("timeout"), nil},
		replies: []string{"", doneReply},
	}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	result, err := d.GetNextAction(context.Background(), "gpt-4", schemas.NewConversation("sys"), "obj")
	require.NoError(t, err)
	_, done := result.Done()
	assert.True(t, done)

	// No dangling user turn from the failed attempt.
	msgs := result.Conversation.Messages()
	for i := 1; i < len(msgs); i++ {
		assert.NotEqual(t, msgs[i-1].Role, msgs[i].Role, "roles must alternate")
	}
}

func TestGetNextAction_LabelBackend(t *testing.T) {
	transport := &scriptedTransport{
		name:    "gpt-4-with-som",
		replies: []string{`[{"thought": "press the button", "operation": "click", "label": "~1"}]`},
	}
	labeler := &fakeLabeler{elements: []schemas.DetectedElement{
		{LabelID: "~0", Box: schemas.BoundingBox{X1: 0, Y1: 0, X2: 100, Y2: 100}},
		{LabelID: "~1", Box: schemas.BoundingBox{X1: 400, Y1: 300, X2: 600, Y2: 500}},
	}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4-with-som": {ID: "gpt-4-with-som", Addressing: schemas.AddressingLabels, Transport: transport},
	}, labeler)

	result, err := d.GetNextAction(context.Background(), "gpt-4-with-som", schemas.NewConversation("sys"), "obj")
	require.NoError(t, err)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, 0.5, *result.Operations[0].XResolved)
	assert.Equal(t, 0.5, *result.Operations[0].YResolved)
	assert.Equal(t, 1, labeler.calls)

	// The model saw the annotated screenshot, not the raw one.
	sent := transport.convs[0].Messages()[1].ImagePNG
	assert.Equal(t, []byte("labeled:png"), sent)
}

func TestGetNextAction_EscalatesOnceOnLabelMiss(t *testing.T) {
	somTransport := &scriptedTransport{
		name:    "gpt-4-with-som",
		replies: []string{`[{"thought": "hm", "operation": "click", "label": "~9"}]`},
	}
	fallbackTransport := &scriptedTransport{name: "gpt-4", replies: []string{clickPercentReply}}
	labeler := &fakeLabeler{elements: []schemas.DetectedElement{
		{LabelID: "~0", Box: schemas.BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}},
	}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4-with-som": {ID: "gpt-4-with-som", Addressing: schemas.AddressingLabels, Transport: somTransport},
		"gpt-4":          {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: fallbackTransport},
	}, labeler)

	result, err := d.GetNextAction(context.Background(), "gpt-4-with-som", schemas.NewConversation("sys"), "obj")
	require.NoError(t, err)
	assert.Equal(t, 1, somTransport.calls)
	assert.Equal(t, 1, fallbackTransport.calls)
	require.Len(t, result.Operations, 1)
	assert.Equal(t, 0.25, *result.Operations[0].XResolved)

	// The fallback call carried the coordinate-scheme system prompt and the
	// raw (unlabeled) screenshot.
	fbConv := fallbackTransport.convs[0]
	assert.Equal(t, SystemPrompt(schemas.AddressingCoordinates, "obj"), fbConv.SystemPrompt())
	assert.Equal(t, []byte("png"), fbConv.Messages()[1].ImagePNG)
}

func TestGetNextAction_NoSecondEscalation(t *testing.T) {
	// The fallback backend itself produces an unresolvable answer; the
	// dispatcher must fail instead of looping.
	somTransport := &scriptedTransport{
		name:    "gpt-4-with-som",
		replies: []string{`[{"thought": "hm", "operation": "click", "label": "~9"}]`},
	}
	fallbackTransport := &scriptedTransport{
		name:    "gpt-4",
		replies: []string{`[{"thought": "hm", "operation": "click", "label": "~9"}]`},
	}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4-with-som": {ID: "gpt-4-with-som", Addressing: schemas.AddressingLabels, Transport: somTransport},
		"gpt-4":          {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: fallbackTransport},
	}, &fakeLabeler{})

	_, err := d.GetNextAction(context.Background(), "gpt-4-with-som", schemas.NewConversation("sys"), "obj")
	require.Error(t, err)
	var resErr *resolve.ResolutionError
	assert.ErrorAs(t, err, &resErr)
	assert.Equal(t, 1, somTransport.calls)
	assert.Equal(t, 1, fallbackTransport.calls)
}

func TestGetNextAction_CaptureFailure(t *testing.T) {
	registry := &Registry{backends: map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: &scriptedTransport{name: "gpt-4", replies: []string{doneReply}}},
	}}
	capturer := &fakeCapturer{err: errors.New("no display")}
	d := NewDispatcher(registry, capturer, nil, resolve.NewResolver(nil, zap.NewNop()), testAgentConfig(), zap.NewNop())

	_, err := d.GetNextAction(context.Background(), "gpt-4", schemas.NewConversation("sys"), "obj")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "screen capture failed")
}

func TestGetNextAction_Cancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	transport := &scriptedTransport{name: "gpt-4", replies: []string{doneReply}}
	d := newTestDispatcher(t, map[string]Backend{
		"gpt-4": {ID: "gpt-4", Addressing: schemas.AddressingCoordinates, Transport: transport},
	}, nil)

	_, err := d.GetNextAction(ctx, "gpt-4", schemas.NewConversation("sys"), "obj")
	require.ErrorIs(t, err, context.Canceled)
}
