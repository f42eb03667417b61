package render_test

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"browserd/internal/render"
)

func solidImage(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.White)
		}
	}
	return img
}

func TestRenderProducesSameDimensions(t *testing.T) {
	src := solidImage(800, 600)
	boxes := []render.Rect{{100, 100, 200, 150}, {400, 300, 500, 360}}
	out := render.Render(src, boxes, render.ModeBoundingBox)
	require.Equal(t, src.Bounds(), out.Bounds())
}

func TestRenderDrawsDistinctPixelsForEachBox(t *testing.T) {
	src := solidImage(800, 600)
	boxes := []render.Rect{{100, 100, 200, 150}}
	out := render.Render(src, boxes, render.ModeBoundingBox)

	changed := false
	for y := 100; y <= 150; y++ {
		for x := 100; x <= 200; x++ {
			r, g, b, _ := out.At(x, y).RGBA()
			if r>>8 != 255 || g>>8 != 255 || b>>8 != 255 {
				changed = true
			}
		}
	}
	require.True(t, changed, "expected at least one non-white pixel on the box border")
}

func TestRenderHandlesClusteredBoxesWithoutPanicking(t *testing.T) {
	src := solidImage(1000, 1000)
	boxes := []render.Rect{
		{100, 100, 140, 130},
		{110, 105, 150, 135},
		{120, 95, 160, 125},
	}
	require.NotPanics(t, func() {
		render.Render(src, boxes, render.ModeCrosshair)
	})
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	src := solidImage(32, 32)
	data, err := render.Encode(src, "png")
	require.NoError(t, err)

	decoded, format, err := render.Decode(data)
	require.NoError(t, err)
	require.Equal(t, "png", format)
	require.Equal(t, src.Bounds(), decoded.Bounds())
}

func TestRectCenterAndHalfDiagonal(t *testing.T) {
	// A geometry sanity check on Rect math only; the 0-1000 normalized
	// scaling is tested in the vision package (Box.ToPixels).
	r := render.Rect{X1: 100, Y1: 100, X2: 300, Y2: 300}
	cx := (r.X1 + r.X2) / 2
	cy := (r.Y1 + r.Y2) / 2
	require.Equal(t, 200, cx)
	require.Equal(t, 200, cy)
	require.InDelta(t, math.Hypot(100, 100), math.Hypot(float64(r.X2-cx), float64(r.Y2-cy)), 0.001)
}
