// Package geometry resolves the sensor sub-array used for readout from crop
// percentages, and maps full-sensor rectangles into it.
package geometry

import (
	"image"

	"github.com/nasa-jpl/pecam/camera"
)

// Subarray is the region of the sensor that is read out.  Positions are
// 0-based in full-sensor pixels.
type Subarray struct {
	HPos  int `json:"hpos"`
	HSize int `json:"hsize"`
	VPos  int `json:"vpos"`
	VSize int `json:"vsize"`

	// Active is true when the sub-array is smaller than the sensor
	Active bool `json:"active"`
}

// Full returns the inactive sub-array covering an entire w x h sensor
func Full(w, h int) Subarray {
	return Subarray{HSize: w, VSize: h}
}

// Resolve computes the sub-array for a fullW x fullH sensor with topPct and
// bottomPct percent of the rows cropped away.  Cropped row counts are rounded
// down to step and the remaining height is a multiple of step, no smaller
// than one step.  Cropping is vertical only.
func Resolve(fullW, fullH int, topPct, bottomPct float64, step int) Subarray {
	if step < 1 {
		step = 1
	}
	top := lines(fullH, topPct, step)
	bottom := lines(fullH, bottomPct, step)
	vsize := ((fullH - top - bottom) / step) * step
	if vsize < step {
		vsize = step
	}
	if top+vsize > fullH {
		top = fullH - vsize
		if top < 0 {
			top = 0
			vsize = fullH
		}
	}
	return Subarray{
		HPos:   0,
		HSize:  fullW,
		VPos:   top,
		VSize:  vsize,
		Active: vsize < fullH,
	}
}

func lines(h int, pct float64, step int) int {
	if pct <= 0 {
		return 0
	}
	n := int(float64(h) * pct / 100 / float64(step))
	return n * step
}

// AOI converts the sub-array to a device area of interest
func (s Subarray) AOI() camera.AOI {
	return camera.AOI{Left: s.HPos, Top: s.VPos, Width: s.HSize, Height: s.VSize}
}

// Bounds is the sub-array in full-sensor coordinates
func (s Subarray) Bounds() image.Rectangle {
	return image.Rect(s.HPos, s.VPos, s.HPos+s.HSize, s.VPos+s.VSize)
}

// Clip translates the full-sensor rectangle (x, y, w, h) into sub-array
// relative coordinates and clips it to the sub-array.  The result is empty
// when the rectangle does not overlap the sub-array.
func (s Subarray) Clip(x, y, w, h int) image.Rectangle {
	r := image.Rect(x-s.HPos, y-s.VPos, x-s.HPos+w, y-s.VPos+h)
	return r.Intersect(image.Rect(0, 0, s.HSize, s.VSize))
}
