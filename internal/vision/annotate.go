package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

var (
	acceptedColor   = color.RGBA{R: 255, A: 255}         // red
	suppressedColor = color.RGBA{B: 255, A: 255}         // blue
	labelBackground = color.RGBA{R: 255, G: 255, B: 255, A: 220} // white
)

// Annotate renders the model-facing labeled image (accepted boxes in red with
// their "~N" ids) and the diagnostic debug image (every raw detection in
// blue with a "D_N" detection-order id, suppressed boxes included). Both are
// returned PNG-encoded.
func Annotate(src image.Image, accepted []schemas.DetectedElement, raw []RawDetection) (labeledPNG, debugPNG []byte, err error) {
	labeled := toRGBA(src)
	for _, el := range accepted {
		drawBox(labeled, el.Box, acceptedColor)
		drawLabel(labeled, el.LabelID, el.Box, acceptedColor)
	}

	debug := toRGBA(src)
	for i, det := range raw {
		drawBox(debug, det.Box, suppressedColor)
		drawLabel(debug, fmt.Sprintf("D_%d", i), det.Box, suppressedColor)
	}

	labeledPNG, err = encodePNG(labeled)
	if err != nil {
		return nil, nil, err
	}
	debugPNG, err = encodePNG(debug)
	if err != nil {
		return nil, nil, err
	}
	return labeledPNG, debugPNG, nil
}

// toRGBA copies any image into a drawable RGBA canvas.
func toRGBA(src image.Image) *image.RGBA {
	bounds := src.Bounds()
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Src)
	return dst
}

func encodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode annotated image: %w", err)
	}
	return buf.Bytes(), nil
}

// drawBox draws a one-pixel rectangle outline clamped to image bounds.
func drawBox(img *image.RGBA, box schemas.BoundingBox, c color.Color) {
	bounds := img.Bounds()
	x1, y1 := clamp(int(box.X1), bounds.Min.X, bounds.Max.X-1), clamp(int(box.Y1), bounds.Min.Y, bounds.Max.Y-1)
	x2, y2 := clamp(int(box.X2), bounds.Min.X, bounds.Max.X-1), clamp(int(box.Y2), bounds.Min.Y, bounds.Max.Y-1)
	if x2 <= x1 || y2 <= y1 {
		return
	}
	for x := x1; x <= x2; x++ {
		img.Set(x, y1, c)
		img.Set(x, y2, c)
	}
	for y := y1; y <= y2; y++ {
		img.Set(x1, y, c)
		img.Set(x2, y, c)
	}
}

// drawLabel renders the id just above the box's top-left corner, over a small
// background strip so it stays readable on busy screenshots.
func drawLabel(img *image.RGBA, text string, box schemas.BoundingBox, c color.Color) {
	face := basicfont.Face7x13
	textWidth := len(text) * face.Advance
	textHeight := face.Height

	x := int(box.X1)
	y := int(box.Y1) - 2
	if y-textHeight < img.Bounds().Min.Y {
		// No room above the box; draw inside it instead.
		y = int(box.Y1) + textHeight + 2
	}

	strip := image.Rect(x, y-textHeight, x+textWidth, y+2)
	draw.Draw(img, strip.Intersect(img.Bounds()), &image.Uniform{C: labelBackground}, image.Point{}, draw.Over)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
