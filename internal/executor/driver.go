package executor

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

// XdoDriver drives mouse and keyboard through the xdotool command. It is the
// default device backend on X11 desktops; other platforms plug in their own
// Driver implementation.
type XdoDriver struct {
	logger *zap.Logger

	// run is swappable in tests.
	run func(ctx context.Context, args ...string) (string, error)
}

func NewXdoDriver(logger *zap.Logger) *XdoDriver {
	return &XdoDriver{
		logger: logger.Named("xdotool"),
		run: func(ctx context.Context, args ...string) (string, error) {
			out, err := exec.CommandContext(ctx, "xdotool", args...).CombinedOutput()
			return strings.TrimSpace(string(out)), err
		},
	}
}

var _ schemas.Driver = (*XdoDriver)(nil)

// ScreenSize reads the active display geometry.
func (d *XdoDriver) ScreenSize(ctx context.Context) (int, int, error) {
	out, err := d.run(ctx, "getdisplaygeometry")
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read display geometry: %w", err)
	}
	fields := strings.Fields(out)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("unexpected display geometry output %q", out)
	}
	width, err := strconv.Atoi(fields[0])
	if err != nil {
		return 0, 0, fmt.Errorf("bad display width %q: %w", fields[0], err)
	}
	height, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, 0, fmt.Errorf("bad display height %q: %w", fields[1], err)
	}
	return width, height, nil
}

func (d *XdoDriver) MoveAndClick(ctx context.Context, x, y int) error {
	if _, err := d.run(ctx, "mousemove", strconv.Itoa(x), strconv.Itoa(y)); err != nil {
		return fmt.Errorf("mouse move failed: %w", err)
	}
	if _, err := d.run(ctx, "click", "1"); err != nil {
		return fmt.Errorf("click failed: %w", err)
	}
	return nil
}

func (d *XdoDriver) TypeText(ctx context.Context, text string) error {
	if _, err := d.run(ctx, "type", "--delay", "50", "--", text); err != nil {
		return fmt.Errorf("typing failed: %w", err)
	}
	return nil
}

func (d *XdoDriver) KeyDown(ctx context.Context, key string) error {
	if _, err := d.run(ctx, "keydown", "--", mapKey(key)); err != nil {
		return fmt.Errorf("key down %q failed: %w", key, err)
	}
	return nil
}

func (d *XdoDriver) KeyUp(ctx context.Context, key string) error {
	if _, err := d.run(ctx, "keyup", "--", mapKey(key)); err != nil {
		return fmt.Errorf("key up %q failed: %w", key, err)
	}
	return nil
}

// Scroll performs one downward scroll step (X11 button 5).
func (d *XdoDriver) Scroll(ctx context.Context) error {
	if _, err := d.run(ctx, "click", "5"); err != nil {
		return fmt.Errorf("scroll failed: %w", err)
	}
	return nil
}

// keyNames maps the key vocabulary the prompts advertise onto X keysym
// names. Unlisted keys pass through unchanged.
var keyNames = map[string]string{
	"enter":     "Return",
	"esc":       "Escape",
	"escape":    "Escape",
	"space":     "space",
	"tab":       "Tab",
	"backspace": "BackSpace",
	"delete":    "Delete",
	"del":       "Delete",
	"up":        "Up",
	"down":      "Down",
	"left":      "Left",
	"right":     "Right",
	"home":      "Home",
	"end":       "End",
	"pageup":    "Page_Up",
	"pagedown":  "Page_Down",
	"pgup":      "Page_Up",
	"pgdn":      "Page_Down",
	"ctrl":      "ctrl",
	"shift":     "shift",
	"alt":       "alt",
	"win":       "super",
	"command":   "super",
	"cmd":       "super",
	"option":    "alt",
	"capslock":  "Caps_Lock",
	"printscreen": "Print",
}

func mapKey(key string) string {
	if mapped, ok := keyNames[strings.ToLower(key)]; ok {
		return mapped
	}
	return key
}
