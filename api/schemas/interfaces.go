package schemas

import (
	"context"
	"errors"
	"time"
)

// Screenshot is a timestamped raster of the current display, cursor included.
type Screenshot struct {
	PNG    []byte
	Width  int
	Height int
	Taken  time.Time
}

// -- External collaborator boundaries --

// Capturer produces the current screen image. The OS-level implementation
// lives outside the core pipeline; the core depends only on this contract.
type Capturer interface {
	Capture(ctx context.Context) (Screenshot, error)
}

// LabelResult is what a labeling pass hands back to the dispatcher: the
// annotated screenshot the model will see and the accepted, labeled elements.
type LabelResult struct {
	Annotated Screenshot
	Elements  []DetectedElement
}

// Labeler sends a screenshot through element detection and returns the
// annotated image plus the label_id -> bbox element set. Two implementations
// share this contract: an in-process detector and a remote labeling
// microservice.
type Labeler interface {
	Label(ctx context.Context, shot Screenshot) (LabelResult, error)
}

// ErrNoTextMatch is returned by TextFinder implementations when no on-screen
// text is a sufficient match for the query.
var ErrNoTextMatch = errors.New("no on-screen text matches query")

// TextFinder locates the single best on-screen occurrence of query text.
// Implementations must be deterministic: ties break by reading order,
// top-to-bottom then left-to-right.
type TextFinder interface {
	FindText(ctx context.Context, shot Screenshot, query string) (BoundingBox, error)
}

// Driver is the device-control collaborator that performs real input. The
// executor translates resolved operations into these primitives.
type Driver interface {
	// ScreenSize reports the active display dimensions in pixels.
	ScreenSize(ctx context.Context) (width, height int, err error)
	// MoveAndClick moves the pointer to the pixel position and clicks.
	MoveAndClick(ctx context.Context, x, y int) error
	// TypeText types literal text, character by character.
	TypeText(ctx context.Context, text string) error
	// KeyDown presses and holds a named key.
	KeyDown(ctx context.Context, key string) error
	// KeyUp releases a named key.
	KeyUp(ctx context.Context, key string) error
	// Scroll performs one scroll step.
	Scroll(ctx context.Context) error
}
