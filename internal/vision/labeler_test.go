package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// testScreenshot builds a small solid PNG screenshot.
func testScreenshot(t *testing.T, w, h int) schemas.Screenshot {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 40, G: 40, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return schemas.Screenshot{PNG: buf.Bytes(), Width: w, Height: h, Taken: time.Now()}
}

type fakeDetector struct {
	detections []RawDetection
	err        error
}

func (f *fakeDetector) Detect(_ context.Context, _ image.Image) ([]RawDetection, error) {
	return f.detections, f.err
}

func newTestArtifacts(t *testing.T) *ArtifactStore {
	t.Helper()
	store := NewArtifactStore(t.TempDir(), true, zap.NewNop())
	// Saves are asynchronous; drain them before the temp dir is removed.
	t.Cleanup(store.Flush)
	return store
}

func TestLocalLabeler_Label(t *testing.T) {
	detector := &fakeDetector{detections: []RawDetection{
		{Box: box(0, 0, 10, 10), Description: "button"},
		{Box: box(5, 5, 15, 15)}, // duplicate, suppressed
		{Box: box(40, 40, 60, 60)},
	}}
	artifacts := newTestArtifacts(t)
	labeler := NewLocalLabeler(detector, artifacts, zap.NewNop())

	shot := testScreenshot(t, 100, 80)
	result, err := labeler.Label(context.Background(), shot)
	require.NoError(t, err)

	require.Len(t, result.Elements, 2)
	assert.Equal(t, "~0", result.Elements[0].LabelID)
	assert.Equal(t, "button", result.Elements[0].Description)
	assert.Equal(t, "~1", result.Elements[1].LabelID)

	// The annotated image must decode and keep the source dimensions.
	annotated, err := png.Decode(bytes.NewReader(result.Annotated.PNG))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 100, 80), annotated.Bounds())
	assert.Equal(t, 100, result.Annotated.Width)
	assert.Equal(t, 80, result.Annotated.Height)
}

func TestLocalLabeler_PersistsArtifacts(t *testing.T) {
	dir := t.TempDir()
	artifacts := NewArtifactStore(dir, true, zap.NewNop())
	artifacts.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	labeler := NewLocalLabeler(&fakeDetector{detections: []RawDetection{{Box: box(1, 1, 5, 5)}}}, artifacts, zap.NewNop())
	_, err := labeler.Label(context.Background(), testScreenshot(t, 20, 20))
	require.NoError(t, err)
	artifacts.Flush()

	for _, kind := range []string{"original", "labeled", "debug"} {
		path := filepath.Join(dir, "img_20260301-120000_"+kind+".png")
		_, statErr := os.Stat(path)
		assert.NoError(t, statErr, "expected artifact %s", path)
	}
}

func TestLocalLabeler_DetectorError(t *testing.T) {
	labeler := NewLocalLabeler(&fakeDetector{err: errors.New("weights missing")}, newTestArtifacts(t), zap.NewNop())

	_, err := labeler.Label(context.Background(), testScreenshot(t, 10, 10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "element detection failed")
}

func TestLocalLabeler_BadScreenshot(t *testing.T) {
	labeler := NewLocalLabeler(&fakeDetector{}, newTestArtifacts(t), zap.NewNop())

	_, err := labeler.Label(context.Background(), schemas.Screenshot{PNG: []byte("not a png")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode")
}

func TestRemoteLabeler_Label(t *testing.T) {
	annotated := testScreenshot(t, 64, 48)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/label/", r.URL.Path)
		var req schemas.LabelRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.NotEmpty(t, req.ImageBase64)

		resp := schemas.LabelResponse{
			Image: base64.StdEncoding.EncodeToString(annotated.PNG),
			Coordinates: []schemas.WireElement{
				{BBox: [4]float64{0, 0, 10, 10}, Description: "icon"},
				{BBox: [4]float64{2, 2, 8, 8}}, // overlaps, must not get a label
				{BBox: [4]float64{30, 30, 50, 40}},
			},
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	labeler := NewRemoteLabeler(config.LabelerConfig{Endpoint: srv.URL, Timeout: 5 * time.Second}, newTestArtifacts(t), zap.NewNop())
	result, err := labeler.Label(context.Background(), testScreenshot(t, 64, 48))
	require.NoError(t, err)

	require.Len(t, result.Elements, 2)
	assert.Equal(t, "~0", result.Elements[0].LabelID)
	assert.Equal(t, "icon", result.Elements[0].Description)
	assert.Equal(t, "~1", result.Elements[1].LabelID)
	assert.Equal(t, box(30, 30, 50, 40), result.Elements[1].Box)

	assert.Equal(t, 64, result.Annotated.Width)
	assert.Equal(t, 48, result.Annotated.Height)
}

func TestRemoteLabeler_PermanentFailure(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	labeler := NewRemoteLabeler(config.LabelerConfig{Endpoint: srv.URL}, newTestArtifacts(t), zap.NewNop())
	_, err := labeler.Label(context.Background(), testScreenshot(t, 8, 8))
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRemoteLabeler_BadImagePayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"image":"%%% not base64 %%%","coordinates":[]}`))
	}))
	defer srv.Close()

	labeler := NewRemoteLabeler(config.LabelerConfig{Endpoint: srv.URL}, newTestArtifacts(t), zap.NewNop())
	_, err := labeler.Label(context.Background(), testScreenshot(t, 8, 8))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid image encoding")
}
