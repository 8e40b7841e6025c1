package vision

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"

	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

// Detector is the in-process detection model boundary. The model weights and
// inference machinery are a black box; the pipeline only consumes raw boxes
// in detection order.
type Detector interface {
	Detect(ctx context.Context, img image.Image) ([]RawDetection, error)
}

// LocalLabeler runs element detection in-process and owns overlap
// suppression, label assignment, and overlay drawing for its results.
type LocalLabeler struct {
	detector  Detector
	artifacts *ArtifactStore
	logger    *zap.Logger
}

var _ schemas.Labeler = (*LocalLabeler)(nil)

func NewLocalLabeler(detector Detector, artifacts *ArtifactStore, logger *zap.Logger) *LocalLabeler {
	return &LocalLabeler{
		detector:  detector,
		artifacts: artifacts,
		logger:    logger.Named("labeler.local"),
	}
}

// Label detects UI elements on the screenshot, suppresses overlapping boxes,
// assigns dense "~N" ids, and returns the annotated image the model will see.
func (l *LocalLabeler) Label(ctx context.Context, shot schemas.Screenshot) (schemas.LabelResult, error) {
	img, err := png.Decode(bytes.NewReader(shot.PNG))
	if err != nil {
		return schemas.LabelResult{}, fmt.Errorf("failed to decode screenshot: %w", err)
	}

	raw, err := l.detector.Detect(ctx, img)
	if err != nil {
		return schemas.LabelResult{}, fmt.Errorf("element detection failed: %w", err)
	}

	accepted, suppressed := FilterAndLabel(raw)
	l.logger.Debug("Labeling pass complete",
		zap.Int("detected", len(raw)),
		zap.Int("accepted", len(accepted)),
		zap.Int("suppressed", len(suppressed)),
	)

	labeledPNG, debugPNG, err := Annotate(img, accepted, raw)
	if err != nil {
		return schemas.LabelResult{}, err
	}
	l.artifacts.SaveLabelPass(shot.PNG, labeledPNG, debugPNG)

	return schemas.LabelResult{
		Annotated: schemas.Screenshot{
			PNG:    labeledPNG,
			Width:  shot.Width,
			Height: shot.Height,
			Taken:  shot.Taken,
		},
		Elements: accepted,
	}, nil
}
