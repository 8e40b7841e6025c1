// Package resolve turns an operation's symbolic click target (detector label,
// on-screen text, or literal percent coordinates) into a concrete fractional
// screen coordinate. Resolution failures are typed so the dispatcher can
// distinguish recoverable misses (escalate to a fallback backend) from hard
// errors.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

// -- Error Taxonomy --

// ErrorKind classifies why a symbolic reference could not be resolved.
type ErrorKind string

const (
	// LabelNotFound means the referenced detector label id is not present in
	// the current element mapping.
	LabelNotFound ErrorKind = "label_not_found"
	// TextNotFound means no recognized on-screen text was a sufficient match
	// for the query.
	TextNotFound ErrorKind = "text_not_found"
)

// NothingToClick is the sentinel message a failed text resolution carries back
// to the dispatcher. It mirrors the phrasing the escalation path keys on.
const NothingToClick = "nothing to click"

// ResolutionError reports a recoverable failure to resolve a symbolic click
// target. The dispatcher reacts by escalating once to a coordinate-based
// fallback backend rather than failing the whole turn.
type ResolutionError struct {
	Kind ErrorKind
	// Ref is the symbolic reference that failed to resolve: the label id or
	// the text query. Retained for audit logs, never executed.
	Ref string
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case TextNotFound:
		return fmt.Sprintf("%s: no match for text %q", NothingToClick, e.Ref)
	default:
		return fmt.Sprintf("label %q not present in current element mapping", e.Ref)
	}
}

// -- Resolver --

// Resolver resolves click targets against the screenshot and element mapping
// of the current iteration. Label mappings are never cached across iterations.
type Resolver struct {
	finder schemas.TextFinder
	logger *zap.Logger
}

// NewResolver creates a resolver. finder may be nil when no OCR backend is
// configured; text references then fail with TextNotFound.
func NewResolver(finder schemas.TextFinder, logger *zap.Logger) *Resolver {
	return &Resolver{
		finder: finder,
		logger: logger.Named("resolver"),
	}
}

// ResolveAll resolves every click operation in ops, returning a new slice with
// x_resolved and y_resolved populated. Non-click operations pass through
// unchanged. The first failure aborts the batch: partial resolution of a turn
// is never executed.
func (r *Resolver) ResolveAll(ctx context.Context, ops []schemas.Operation, shot schemas.Screenshot, elements map[string]schemas.BoundingBox) ([]schemas.Operation, error) {
	resolved := make([]schemas.Operation, len(ops))
	for i, op := range ops {
		out, err := r.Resolve(ctx, op, shot, elements)
		if err != nil {
			return nil, err
		}
		resolved[i] = out
	}
	return resolved, nil
}

// Resolve returns a copy of op with the click point resolved to fractional
// screen coordinates in [0,1]. Literal percent targets pass through unchanged;
// label and text targets resolve to the box center rounded to two decimals,
// the precision the model backends are prompted against.
func (r *Resolver) Resolve(ctx context.Context, op schemas.Operation, shot schemas.Screenshot, elements map[string]schemas.BoundingBox) (schemas.Operation, error) {
	if op.Kind != schemas.KindClick {
		return op, nil
	}

	scheme, err := op.ClickScheme()
	if err != nil {
		return schemas.Operation{}, err
	}

	switch scheme {
	case schemas.AddressingCoordinates:
		return r.resolvePercent(op)
	case schemas.AddressingLabels:
		return r.resolveLabel(op, shot, elements)
	case schemas.AddressingText:
		return r.resolveText(ctx, op, shot)
	default:
		return schemas.Operation{}, fmt.Errorf("unsupported addressing scheme %q", scheme)
	}
}

// resolvePercent passes literal percent coordinates through unchanged. Only
// coordinates derived from a bounding box get rounded.
func (r *Resolver) resolvePercent(op schemas.Operation) (schemas.Operation, error) {
	x := float64(*op.X)
	y := float64(*op.Y)
	op.XResolved = &x
	op.YResolved = &y
	return op, nil
}

func (r *Resolver) resolveLabel(op schemas.Operation, shot schemas.Screenshot, elements map[string]schemas.BoundingBox) (schemas.Operation, error) {
	box, ok := elements[op.Label]
	if !ok {
		r.logger.Warn("Click label not present in element mapping",
			zap.String("label", op.Label),
			zap.Int("known_elements", len(elements)))
		return schemas.Operation{}, &ResolutionError{Kind: LabelNotFound, Ref: op.Label}
	}
	return r.resolveBox(op, box, shot)
}

func (r *Resolver) resolveText(ctx context.Context, op schemas.Operation, shot schemas.Screenshot) (schemas.Operation, error) {
	if r.finder == nil {
		return schemas.Operation{}, &ResolutionError{Kind: TextNotFound, Ref: op.Text}
	}
	box, err := r.finder.FindText(ctx, shot, op.Text)
	if err != nil {
		if errors.Is(err, schemas.ErrNoTextMatch) {
			r.logger.Warn("No on-screen text matched click query", zap.String("query", op.Text))
			return schemas.Operation{}, &ResolutionError{Kind: TextNotFound, Ref: op.Text}
		}
		return schemas.Operation{}, fmt.Errorf("text lookup for %q failed: %w", op.Text, err)
	}
	return r.resolveBox(op, box, shot)
}

// resolveBox converts a pixel-space bounding box into the fractional click
// point at its center.
func (r *Resolver) resolveBox(op schemas.Operation, box schemas.BoundingBox, shot schemas.Screenshot) (schemas.Operation, error) {
	if shot.Width <= 0 || shot.Height <= 0 {
		return schemas.Operation{}, fmt.Errorf("screenshot has invalid dimensions %dx%d", shot.Width, shot.Height)
	}
	cx, cy := box.Center()
	x := roundPercent(cx / float64(shot.Width))
	y := roundPercent(cy / float64(shot.Height))
	op.XResolved = &x
	op.YResolved = &y
	return op, nil
}

// roundPercent formats a fractional coordinate to two decimal places.
func roundPercent(v float64) float64 {
	return math.Round(v*100) / 100
}
