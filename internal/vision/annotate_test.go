package vision

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vkozyrev/screenpilot/api/schemas"
)

func solidPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 20, G: 20, B: 20, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestAnnotate(t *testing.T) {
	src, err := png.Decode(bytes.NewReader(solidPNG(t, 120, 90)))
	require.NoError(t, err)

	accepted := []schemas.DetectedElement{
		{LabelID: "~0", Box: box(10, 10, 40, 30)},
	}
	raw := []RawDetection{
		{Box: box(10, 10, 40, 30)},
		{Box: box(15, 15, 35, 25)},
	}

	labeledPNG, debugPNG, err := Annotate(src, accepted, raw)
	require.NoError(t, err)

	labeled, err := png.Decode(bytes.NewReader(labeledPNG))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), labeled.Bounds())

	debug, err := png.Decode(bytes.NewReader(debugPNG))
	require.NoError(t, err)
	assert.Equal(t, src.Bounds(), debug.Bounds())

	// Boxes are drawn in red on the labeled image.
	r, _, _, _ := labeled.At(10, 10).RGBA()
	assert.Equal(t, uint32(0xffff), r)
}

func TestAnnotate_BoxOutsideImage(t *testing.T) {
	src, err := png.Decode(bytes.NewReader(solidPNG(t, 50, 50)))
	require.NoError(t, err)

	accepted := []schemas.DetectedElement{
		{LabelID: "~0", Box: box(-10, -10, 200, 200)},
	}
	_, _, err = Annotate(src, accepted, []RawDetection{{Box: box(-10, -10, 200, 200)}})
	require.NoError(t, err)
}
