package vision

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

// Recognizer is the OCR engine boundary: it reads every text occurrence off
// a screenshot. Recognition quality is the engine's problem; candidate
// selection is ours.
type Recognizer interface {
	Recognize(ctx context.Context, shot schemas.Screenshot) ([]schemas.TextBox, error)
}

// Matcher picks the single best on-screen occurrence of a query string.
//
// Match rule, in order: a case-insensitive exact match always wins; otherwise
// a candidate qualifies when the query contains the recognized text or vice
// versa, scored by the longest-common-substring length divided by the longer
// string's length, and only scores of at least minRatio qualify. Among equal
// scores the first occurrence in reading order (top-to-bottom, then
// left-to-right) wins, so matching is deterministic.
type Matcher struct {
	recognizer Recognizer
	minRatio   float64
	logger     *zap.Logger
}

var _ schemas.TextFinder = (*Matcher)(nil)

func NewMatcher(recognizer Recognizer, minRatio float64, logger *zap.Logger) *Matcher {
	return &Matcher{
		recognizer: recognizer,
		minRatio:   minRatio,
		logger:     logger.Named("ocr.matcher"),
	}
}

// FindText returns the bounding box of the best match for query, or
// schemas.ErrNoTextMatch when nothing on screen qualifies.
func (m *Matcher) FindText(ctx context.Context, shot schemas.Screenshot, query string) (schemas.BoundingBox, error) {
	candidates, err := m.recognizer.Recognize(ctx, shot)
	if err != nil {
		return schemas.BoundingBox{}, fmt.Errorf("text recognition failed: %w", err)
	}

	normQuery := normalizeText(query)
	if normQuery == "" {
		return schemas.BoundingBox{}, fmt.Errorf("%w: empty query", schemas.ErrNoTextMatch)
	}

	best := -1
	bestScore := 0.0
	for i, cand := range candidates {
		score := m.score(normQuery, normalizeText(cand.Text))
		if score <= 0 {
			continue
		}
		if best == -1 || score > bestScore ||
			(score == bestScore && readingOrderBefore(cand.Box, candidates[best].Box)) {
			best, bestScore = i, score
		}
	}

	if best == -1 {
		m.logger.Debug("No on-screen text matched query", zap.String("query", query))
		return schemas.BoundingBox{}, fmt.Errorf("%w: %q", schemas.ErrNoTextMatch, query)
	}

	m.logger.Debug("Matched on-screen text",
		zap.String("query", query),
		zap.String("matched", candidates[best].Text),
		zap.Float64("score", bestScore),
	)
	return candidates[best].Box, nil
}

// score returns 0 for non-matches, 2 for exact matches, and the LCS ratio in
// (0,1] for qualifying containment matches.
func (m *Matcher) score(query, candidate string) float64 {
	if candidate == "" {
		return 0
	}
	if query == candidate {
		return 2
	}
	if !strings.Contains(candidate, query) && !strings.Contains(query, candidate) {
		return 0
	}
	longer := len(query)
	if len(candidate) > longer {
		longer = len(candidate)
	}
	ratio := float64(longestCommonSubstring(query, candidate)) / float64(longer)
	if ratio < m.minRatio {
		return 0
	}
	return ratio
}

func normalizeText(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// readingOrderBefore reports whether box a comes before box b top-to-bottom,
// then left-to-right.
func readingOrderBefore(a, b schemas.BoundingBox) bool {
	if a.Y1 != b.Y1 {
		return a.Y1 < b.Y1
	}
	return a.X1 < b.X1
}

// longestCommonSubstring is the classic quadratic dynamic program; OCR
// strings are short enough that anything fancier would be noise.
func longestCommonSubstring(a, b string) int {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	best := 0
	for i := 1; i <= len(a); i++ {
		for j := 1; j <= len(b); j++ {
			if a[i-1] == b[j-1] {
				curr[j] = prev[j-1] + 1
				if curr[j] > best {
					best = curr[j]
				}
			} else {
				curr[j] = 0
			}
		}
		prev, curr = curr, prev
	}
	return best
}

// -- Remote OCR engine client --

// ocrWireResult is the OCR service response shape.
type ocrWireResult struct {
	Results []struct {
		Text string     `json:"text"`
		BBox [4]float64 `json:"bbox"`
	} `json:"results"`
}

// RemoteRecognizer reads text via the OCR endpoint of the labeling
// microservice. Same transport discipline as the remote labeler.
type RemoteRecognizer struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Recognizer = (*RemoteRecognizer)(nil)

func NewRemoteRecognizer(cfg config.OCRConfig, logger *zap.Logger) *RemoteRecognizer {
	return &RemoteRecognizer{
		endpoint:   strings.TrimRight(cfg.Endpoint, "/") + "/ocr/",
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("ocr.remote"),
	}
}

func (r *RemoteRecognizer) Recognize(ctx context.Context, shot schemas.Screenshot) ([]schemas.TextBox, error) {
	body, err := json.Marshal(schemas.LabelRequest{
		ImageBase64: base64.StdEncoding.EncodeToString(shot.PNG),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal OCR request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 60 * time.Second
	b.MaxInterval = 15 * time.Second

	var wire ocrWireResult
	operation := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create OCR request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := r.httpClient.Do(req)
		if err != nil {
			r.logger.Warn("OCR service unreachable, retrying...", zap.Error(err))
			return fmt.Errorf("OCR service request failed: %w", err)
		}
		defer resp.Body.Close()

		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read OCR response: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("OCR service error: status %d, body: %s", resp.StatusCode, respBody)
			switch resp.StatusCode {
			case http.StatusTooManyRequests, http.StatusServiceUnavailable, http.StatusInternalServerError:
				return err
			default:
				return backoff.Permanent(err)
			}
		}
		if err := json.Unmarshal(respBody, &wire); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode OCR response: %w", err))
		}
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(b, ctx)); err != nil {
		return nil, err
	}

	out := make([]schemas.TextBox, 0, len(wire.Results))
	for _, res := range wire.Results {
		out = append(out, schemas.TextBox{
			Text: res.Text,
			Box:  schemas.BoundingBox{X1: res.BBox[0], Y1: res.BBox[1], X2: res.BBox[2], Y2: res.BBox[3]},
		})
	}
	return out, nil
}
