package photometry_test

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nasa-jpl/pecam/geometry"
	"github.com/nasa-jpl/pecam/photometry"
)

func TestApplyNeverNegative(t *testing.T) {
	cals := []photometry.Calibration{
		{Coeff: 0.107, Offset: 100},
		{Coeff: -2, Offset: 0},
		{Coeff: 1, Offset: 65535},
		{Coeff: 1e9, Offset: -5},
	}
	for _, c := range cals {
		for _, raw := range []float64{0, 1, 99, 100, 101, 4095, 65535} {
			v := c.Apply(raw)
			if v < 0 || math.IsNaN(v) {
				t.Errorf("%+v.Apply(%v) = %v", c, raw, v)
			}
		}
	}
}

func TestApplyLinear(t *testing.T) {
	c := photometry.Calibration{Coeff: 0.5, Offset: 100}
	assert.Equal(t, 50., c.Apply(200))
	assert.Equal(t, 0., c.Apply(50))
}

func TestFrameCalibrates(t *testing.T) {
	c := photometry.Calibration{Coeff: 2, Offset: 1}
	dst := make([]float64, 8)
	c.Frame(dst, []uint16{0, 1, 2, 3})
	assert.Equal(t, []float64{0, 0, 2, 4, 0, 0, 0, 0}, dst)
}

func ramp(w, h int) photometry.Image {
	im := photometry.Image{Pix: make([]float64, w*h), Width: w, Height: h}
	for i := range im.Pix {
		im.Pix[i] = float64(i % 7)
	}
	return im
}

func TestRegionInsideMeanIsTotalOverArea(t *testing.T) {
	im := ramp(40, 30)
	s := photometry.RegionStats(im, image.Rect(3, 4, 3+11, 4+9))
	assert.Equal(t, s.Total/float64(11*9), s.Mean)
	assert.Greater(t, s.Total, 0.)
}

func TestRegionOutsideIsZero(t *testing.T) {
	im := ramp(40, 30)
	sub := geometry.Resolve(40, 40, 25, 0, 2)
	r := sub.Clip(0, 0, 10, 5)
	assert.Equal(t, photometry.Stats{}, photometry.RegionStats(im, r))
	assert.Equal(t, photometry.Stats{}, photometry.RegionStats(im, image.Rect(50, 50, 60, 60)))
}

func TestFrameStats(t *testing.T) {
	im := photometry.Image{Pix: []float64{1, 2, 3, 4, 5, 6}, Width: 3, Height: 2}
	s := photometry.FrameStats(im)
	assert.Equal(t, 21., s.Total)
	assert.Equal(t, 3.5, s.Mean)
	assert.Equal(t, 6., photometry.Max(im))
	assert.Equal(t, 0., photometry.Max(photometry.Image{}))
}

func TestRegionClipsToImage(t *testing.T) {
	im := photometry.Image{Pix: []float64{1, 1, 1, 1}, Width: 2, Height: 2}
	s := photometry.RegionStats(im, image.Rect(1, 1, 5, 5))
	assert.Equal(t, photometry.Stats{Total: 1, Mean: 1}, s)
}
