// Package executor translates resolved operations into device input through
// the Driver boundary.
package executor

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

// chordHold is how long a press chord is held before release.
const chordHold = 100 * time.Millisecond

// Executor performs one resolved operation at a time against a Driver.
type Executor struct {
	driver schemas.Driver
	logger *zap.Logger

	// hold is swappable in tests so press chords don't slow the suite.
	hold func()
}

func NewExecutor(driver schemas.Driver, logger *zap.Logger) *Executor {
	return &Executor{
		driver: driver,
		logger: logger.Named("executor"),
		hold:   func() { time.Sleep(chordHold) },
	}
}

// ExecuteAll runs the operations in order, stopping at the first failure.
func (e *Executor) ExecuteAll(ctx context.Context, ops []schemas.Operation) error {
	for i, op := range ops {
		if err := e.Execute(ctx, op); err != nil {
			return fmt.Errorf("operation %d (%s) failed: %w", i, op.Kind, err)
		}
	}
	return nil
}

// Execute performs a single operation. done is a no-op here; the session
// loop owns completion handling.
func (e *Executor) Execute(ctx context.Context, op schemas.Operation) error {
	switch op.Kind {
	case schemas.KindClick:
		return e.click(ctx, op)
	case schemas.KindWrite:
		return e.write(ctx, op)
	case schemas.KindPress:
		return e.press(ctx, op)
	case schemas.KindScroll:
		return e.driver.Scroll(ctx)
	case schemas.KindDone:
		return nil
	default:
		return fmt.Errorf("unsupported operation kind %q", op.Kind)
	}
}

func (e *Executor) click(ctx context.Context, op schemas.Operation) error {
	if !op.Resolved() {
		return fmt.Errorf("click operation reached the executor unresolved")
	}
	width, height, err := e.driver.ScreenSize(ctx)
	if err != nil {
		return fmt.Errorf("failed to read screen size: %w", err)
	}
	x := int(math.Round(*op.XResolved * float64(width)))
	y := int(math.Round(*op.YResolved * float64(height)))

	e.logger.Debug("Clicking",
		zap.Float64("x_percent", *op.XResolved),
		zap.Float64("y_percent", *op.YResolved),
		zap.Int("x", x),
		zap.Int("y", y))
	return e.driver.MoveAndClick(ctx, x, y)
}

// write types the content literally, unescaping embedded newline sequences
// the model tends to emit.
func (e *Executor) write(ctx context.Context, op schemas.Operation) error {
	text := strings.ReplaceAll(op.Content, `\n`, "\n")
	return e.driver.TypeText(ctx, text)
}

// press executes the key list as a simultaneous chord: every key down in
// order, a short hold, then every key up in reverse order.
func (e *Executor) press(ctx context.Context, op schemas.Operation) error {
	if len(op.Keys) == 0 {
		return fmt.Errorf("press operation carries no keys")
	}
	for i, key := range op.Keys {
		if err := e.driver.KeyDown(ctx, key); err != nil {
			// Release whatever went down before failing.
			for j := i - 1; j >= 0; j-- {
				_ = e.driver.KeyUp(ctx, op.Keys[j])
			}
			return fmt.Errorf("failed to press key %q: %w", key, err)
		}
	}
	e.hold()
	var firstErr error
	for i := len(op.Keys) - 1; i >= 0; i-- {
		if err := e.driver.KeyUp(ctx, op.Keys[i]); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to release key %q: %w", op.Keys[i], err)
		}
	}
	return firstErr
}
