package preview_test

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pecam/geometry"
	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/preview"
	"github.com/nasa-jpl/pecam/roi"
)

func TestNormalize(t *testing.T) {
	dst := make([]uint8, 4)
	preview.Normalize(dst, []float64{0, 1, 2, 4}, 4)
	assert.Equal(t, []uint8{0, 63, 127, 255}, dst)

	preview.Normalize(dst, []float64{0, 1, 2, 4}, 0)
	assert.Equal(t, []uint8{0, 0, 0, 0}, dst)
}

func flat(w, h int, v float64) photometry.Image {
	im := photometry.Image{Pix: make([]float64, w*h), Width: w, Height: h}
	for i := range im.Pix {
		im.Pix[i] = v
	}
	return im
}

func decode(t *testing.T, b []byte) *image.Gray {
	t.Helper()
	img, err := jpeg.Decode(bytes.NewReader(b))
	require.NoError(t, err)
	g, ok := img.(*image.Gray)
	require.True(t, ok, "expected grayscale jpeg, got %T", img)
	return g
}

func mean(g *image.Gray, r image.Rectangle) float64 {
	var sum, n float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			sum += float64(g.GrayAt(x, y).Y)
			n++
		}
	}
	return sum / n
}

func TestRenderSize(t *testing.T) {
	r, err := preview.NewRenderer(400, 200, 0.25, 50)
	require.NoError(t, err)
	w, h := r.Size()
	assert.Equal(t, 100, w)
	assert.Equal(t, 50, h)

	b, err := r.Render(flat(400, 200, 1), geometry.Full(400, 200), nil)
	require.NoError(t, err)
	g := decode(t, b)
	assert.Equal(t, image.Rect(0, 0, 100, 50), g.Bounds())
	assert.Greater(t, mean(g, g.Bounds()), 240.)
}

func TestRenderZeroFrameIsDark(t *testing.T) {
	r, err := preview.NewRenderer(400, 400, 0.25, 50)
	require.NoError(t, err)
	b, err := r.Render(flat(400, 400, 0), geometry.Full(400, 400), nil)
	require.NoError(t, err)
	g := decode(t, b)
	assert.Less(t, mean(g, g.Bounds()), 5.)
}

func TestRenderCompositesSubarray(t *testing.T) {
	r, err := preview.NewRenderer(400, 400, 0.25, 50)
	require.NoError(t, err)
	sub := geometry.Resolve(400, 400, 50, 0, 4)
	require.True(t, sub.Active)
	b, err := r.Render(flat(sub.HSize, sub.VSize, 3), sub, nil)
	require.NoError(t, err)
	g := decode(t, b)
	// the top half was cropped away and stays dark, the bottom half is lit
	assert.Less(t, mean(g, image.Rect(0, 0, 100, 40)), 10.)
	assert.Greater(t, mean(g, image.Rect(0, 60, 100, 100)), 240.)
}

func TestRenderDrawsEnabledROIs(t *testing.T) {
	r, err := preview.NewRenderer(400, 400, 0.25, 90)
	require.NoError(t, err)
	dark := flat(400, 400, 0)
	rois := []roi.ROI{
		{Name: "ROI1", X: 80, Y: 80, Width: 200, Height: 200, Enabled: true},
	}
	b, err := r.Render(dark, geometry.Full(400, 400), rois)
	require.NoError(t, err)
	lit := mean(decode(t, b), image.Rect(0, 0, 100, 100))

	rois[0].Enabled = false
	b, err = r.Render(dark, geometry.Full(400, 400), rois)
	require.NoError(t, err)
	unlit := mean(decode(t, b), image.Rect(0, 0, 100, 100))
	assert.Greater(t, lit, unlit)
}

func TestNewRendererRejectsEmptySensor(t *testing.T) {
	_, err := preview.NewRenderer(0, 10, 0.25, 50)
	assert.Error(t, err)
}
