// Package photometry converts raw sensor counts to photoelectrons and reduces
// calibrated frames to totals and per-pixel means over rectangular regions.
package photometry

import (
	"image"

	"gonum.org/v1/gonum/floats"
)

// Calibration is a linear count to photoelectron conversion
type Calibration struct {
	// Coeff is the photoelectrons per count
	Coeff float64 `json:"coeff" yaml:"Coeff" koanf:"Coeff"`

	// Offset is subtracted from the raw counts before scaling
	Offset float64 `json:"offset" yaml:"Offset" koanf:"Offset"`
}

// DefaultCalibration is used when the device does not report its conversion
// factors
var DefaultCalibration = Calibration{Coeff: 0.107, Offset: 0}

// Apply converts one raw value.  The result is never negative.
func (c Calibration) Apply(raw float64) float64 {
	v := (raw - c.Offset) * c.Coeff
	if v < 0 {
		return 0
	}
	return v
}

// Frame calibrates src into dst, which must be at least as long as src
func (c Calibration) Frame(dst []float64, src []uint16) {
	dst = dst[:len(src)]
	for i, v := range src {
		dst[i] = c.Apply(float64(v))
	}
}

// Stats is the total and per-pixel mean photoelectron count over a region
type Stats struct {
	Total float64 `json:"total"`
	Mean  float64 `json:"mean"`
}

// Image is a calibrated frame, row major with a stride of Width
type Image struct {
	Pix           []float64
	Width, Height int
}

// Bounds is the rectangle covered by the image
func (im Image) Bounds() image.Rectangle {
	return image.Rect(0, 0, im.Width, im.Height)
}

// Row returns row y
func (im Image) Row(y int) []float64 {
	return im.Pix[y*im.Width : (y+1)*im.Width]
}

// FrameStats reduces the whole image
func FrameStats(im Image) Stats {
	return RegionStats(im, im.Bounds())
}

// RegionStats reduces the region r of im.  r is clipped to the image; an
// empty region gives zero total and zero mean.
func RegionStats(im Image, r image.Rectangle) Stats {
	r = r.Intersect(im.Bounds())
	if r.Empty() {
		return Stats{}
	}
	var total float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		total += floats.Sum(im.Row(y)[r.Min.X:r.Max.X])
	}
	area := float64(r.Dx() * r.Dy())
	return Stats{Total: total, Mean: total / area}
}

// Max returns the largest value in the image, 0 for an empty image
func Max(im Image) float64 {
	if len(im.Pix) == 0 {
		return 0
	}
	return floats.Max(im.Pix)
}
