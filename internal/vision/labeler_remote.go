package vision

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
	"github.com/vkozyrev/screenpilot/internal/config"
)

// RemoteLabeler calls the labeling microservice. The wire contract is
// {image_base64} in, {image, coordinates} out; everything behind that
// endpoint (detection, captioning, its own overlay drawing) is the service's
// business. Label ids are still assigned client-side with the same
// suppression rules as the local labeler, so the resolvable set is identical
// whichever implementation is active.
type RemoteLabeler struct {
	endpoint   string
	httpClient *http.Client
	artifacts  *ArtifactStore
	logger     *zap.Logger
}

var _ schemas.Labeler = (*RemoteLabeler)(nil)

func NewRemoteLabeler(cfg config.LabelerConfig, artifacts *ArtifactStore, logger *zap.Logger) *RemoteLabeler {
	return &RemoteLabeler{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/") + "/label/",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		artifacts:  artifacts,
		logger:     logger.Named("labeler.remote"),
	}
}

// Label sends the screenshot to the labeling service and converts its
// response into the shared labeled-element contract.
func (l *RemoteLabeler) Label(ctx context.Context, shot schemas.Screenshot) (schemas.LabelResult, error) {
	body, err := json.Marshal(schemas.LabelRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(shot.PNG),
	})
	if err != nil {
		return schemas.LabelResult{}, fmt.Errorf("failed to marshal label request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 90 * time.Second
	b.MaxInterval = 15 * time.Second

	var wire schemas.LabelResponse
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create label request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := l.httpClient.Do(req)
		if err != nil {
			l.logger.Warn("Labeling service unreachable, retrying...", zap.Error(err))
			return fmt.Errorf("labeling service request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read labeling response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("labeling service error: status %d, body: %s", resp.StatusCode, respBody)
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
				return err // transient
			default:
				return backoff.Permanent(err)
			}
		}
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode labeling response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return schemas.LabelResult{}, err
	}

	annotatedPNG, err := base64.StdEncoding.DecodeString(wire.Image)
	if err != nil {
		return schemas.LabelResult{}, fmt.Errorf("labeling service returned invalid image encoding: %w", err)
	}

	raw := make([]RawDetection, 0, len(wire.Coordinates))
	for _, el := range wire.Coordinates {
		raw = append(raw, RawDetection{
			Box: schemas.BoundingBox{
				X1: el.BBox[0], Y1: el.BBox[1], X2: el.BBox[2], Y2: el.BBox[3],
			},
			Description: el.Description,
		})
	}
	accepted, suppressed := FilterAndLabel(raw)
	l.logger.Debug("Remote labeling pass complete",
		zap.Int("detected", len(raw)),
		zap.Int("accepted", len(accepted)),
		zap.Int("suppressed", len(suppressed)),
	)

	width, height := shot.Width, shot.Height
	if cfg, err := png.DecodeConfig(bytes.NewReader(annotatedPNG)); err == nil {
		width, height = cfg.Width, cfg.Height
	}

	l.artifacts.SaveLabelPass(shot.PNG, annotatedPNG, nil)

	return schemas.LabelResult{
		Annotated: schemas.Screenshot{
			PNG:    annotatedPNG,
			Width:  width,
			Height: height,
			Taken:  shot.Taken,
		},
		Elements: accepted,
	}, nil
}
