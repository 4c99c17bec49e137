package canvas

import (
	"image/color"
	"image/png"
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFillRectProducesSolidColor(t *testing.T) {
	ctx := NewContext(10, 10)
	ctx.SetFillStyle(color.RGBA{255, 0, 0, 255})
	ctx.BeginPath()
	ctx.Rect(2, 2, 4, 4)
	ctx.Fill()

	assert.Equal(t, color.RGBA{255, 0, 0, 255}, rgbaAt(ctx, 3, 3))
	assert.Equal(t, color.RGBA{0, 0, 0, 0}, rgbaAt(ctx, 9, 9))
}

func TestSaveRestoreRoundTripsStyle(t *testing.T) {
	ctx := NewContext(4, 4)
	ctx.SetFillStyle(color.RGBA{1, 2, 3, 255})
	ctx.Save()
	ctx.SetFillStyle(color.RGBA{9, 9, 9, 255})
	ctx.Restore()
	assert.Equal(t, color.RGBA{1, 2, 3, 255}, ctx.FillStyle())
}

func TestTranslateAffectsSubsequentPath(t *testing.T) {
	ctx := NewContext(20, 20)
	ctx.SetFillStyle(color.RGBA{0, 255, 0, 255})
	ctx.Translate(10, 10)
	ctx.BeginPath()
	ctx.Rect(0, 0, 2, 2)
	ctx.Fill()
	assert.Equal(t, color.RGBA{0, 255, 0, 255}, rgbaAt(ctx, 11, 11))
	assert.Equal(t, color.RGBA{0, 0, 0, 0}, rgbaAt(ctx, 1, 1))
}

func TestGradientInterpolatesBetweenStops(t *testing.T) {
	g := &Gradient{X0: 0, Y0: 0, X1: 10, Y1: 0}
	g.AddColorStop(0, color.RGBA{0, 0, 0, 255})
	g.AddColorStop(1, color.RGBA{255, 255, 255, 255})
	mid := g.colorAt(0.5)
	assert.InDelta(t, 127, int(mid.R), 2)
}

func TestEncodePNGProducesDecodableImage(t *testing.T) {
	ctx := NewContext(5, 5)
	ctx.SetFillStyle(color.RGBA{10, 20, 30, 255})
	ctx.BeginPath()
	ctx.Rect(0, 0, 5, 5)
	ctx.Fill()

	data, err := ctx.EncodePNG()
	require.NoError(t, err)
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 5, img.Bounds().Dx())
}

func rgbaAt(ctx *Context, x, y int) color.RGBA {
	r, g, b, a := ctx.img.At(x, y).RGBA()
	return color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), uint8(a >> 8)}
}
