// Package screen provides the screen capture boundary. Real capture shells
// out to the platform screenshot tool; a file-backed capturer serves tests
// and offline runs against recorded screens.
package screen

import (
	"bytes"
	"context"
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

// -- Command Capturer --

// CommandCapturer captures the display by invoking the OS screenshot tool
// and reading back the PNG it writes.
type CommandCapturer struct {
	// saveDir, when set, keeps a copy of every capture for audit.
	saveDir string
	logger  *zap.Logger
}

// NewCommandCapturer creates a capturer. saveDir may be empty to skip
// persisting captures.
func NewCommandCapturer(saveDir string, logger *zap.Logger) *CommandCapturer {
	return &CommandCapturer{
		saveDir: saveDir,
		logger:  logger.Named("capture"),
	}
}

var _ schemas.Capturer = (*CommandCapturer)(nil)

// Capture takes one full-screen screenshot, cursor included.
func (c *CommandCapturer) Capture(ctx context.Context) (schemas.Screenshot, error) {
	tmp, err := os.CreateTemp("", "screenpilot-*.png")
	if err != nil {
		return schemas.Screenshot{}, fmt.Errorf("failed to create capture file: %w", err)
	}
	path := tmp.Name()
	tmp.Close()
	defer os.Remove(path)

	cmd := captureCommand(ctx, path)
	if out, err := cmd.CombinedOutput(); err != nil {
		return schemas.Screenshot{}, fmt.Errorf("screenshot command failed: %w (%s)", err, bytes.TrimSpace(out))
	}

	shot, err := loadPNG(path)
	if err != nil {
		return schemas.Screenshot{}, err
	}

	if c.saveDir != "" {
		c.persist(shot)
	}
	return shot, nil
}

func (c *CommandCapturer) persist(shot schemas.Screenshot) {
	if err := os.MkdirAll(c.saveDir, 0o755); err != nil {
		c.logger.Warn("Failed to create screenshots directory", zap.Error(err))
		return
	}
	name := "screenshot_" + shot.Taken.Format("20060102-150405") + ".png"
	if err := os.WriteFile(filepath.Join(c.saveDir, name), shot.PNG, 0o644); err != nil {
		c.logger.Warn("Failed to persist screenshot", zap.Error(err))
	}
}

// captureCommand picks the platform screenshot tool. The cursor flag is kept
// where the tool supports one so the model sees the pointer position.
func captureCommand(ctx context.Context, path string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.CommandContext(ctx, "screencapture", "-C", "-x", path)
	case "windows":
		script := fmt.Sprintf(`Add-Type -AssemblyName System.Windows.Forms,System.Drawing; `+
			`$b = [System.Windows.Forms.SystemInformation]::VirtualScreen; `+
			`$bmp = New-Object System.Drawing.Bitmap($b.Width, $b.Height); `+
			`$g = [System.Drawing.Graphics]::FromImage($bmp); `+
			`$g.CopyFromScreen($b.X, $b.Y, 0, 0, $bmp.Size); `+
			`$bmp.Save('%s')`, path)
		return exec.CommandContext(ctx, "powershell", "-NoProfile", "-Command", script)
	default:
		return exec.CommandContext(ctx, "gnome-screenshot", "-p", "-f", path)
	}
}

// -- File Capturer --

// FileCapturer serves a fixed PNG as the current screen. Used by tests and
// for replaying recorded sessions.
type FileCapturer struct {
	path string
}

func NewFileCapturer(path string) *FileCapturer {
	return &FileCapturer{path: path}
}

var _ schemas.Capturer = (*FileCapturer)(nil)

func (c *FileCapturer) Capture(_ context.Context) (schemas.Screenshot, error) {
	return loadPNG(c.path)
}

// loadPNG reads a PNG file into a Screenshot with its dimensions decoded.
func loadPNG(path string) (schemas.Screenshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schemas.Screenshot{}, fmt.Errorf("failed to read screenshot: %w", err)
	}
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return schemas.Screenshot{}, fmt.Errorf("screenshot is not a valid PNG: %w", err)
	}
	return schemas.Screenshot{
		PNG:    data,
		Width:  cfg.Width,
		Height: cfg.Height,
		Taken:  time.Now(),
	}, nil
}
