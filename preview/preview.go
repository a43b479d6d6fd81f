// Package preview renders calibrated frames into small annotated JPEG images
// for display.
package preview

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"

	"github.com/disintegration/gift"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"

	"github.com/nasa-jpl/pecam/geometry"
	"github.com/nasa-jpl/pecam/photometry"
	"github.com/nasa-jpl/pecam/roi"
)

const (
	// DefaultScale is the per-axis downsampling factor
	DefaultScale = 0.25

	// DefaultQuality is the JPEG quality
	DefaultQuality = 50

	// LabelSize is the height of the ROI labels in full-sensor pixels
	LabelSize = 40

	thickness = 2
)

var white = image.NewUniform(color.Gray{Y: 255})

// Renderer draws previews for one sensor size.  Its buffers are reused across
// calls; it is not safe for concurrent use.
type Renderer struct {
	canvas  *image.Gray
	small   *image.Gray
	filter  *gift.GIFT
	face    font.Face
	quality int
	buf     bytes.Buffer
}

// NewRenderer returns a Renderer for a fullW x fullH sensor, downsampling by
// scale and encoding at quality
func NewRenderer(fullW, fullH int, scale float64, quality int) (*Renderer, error) {
	if fullW < 1 || fullH < 1 {
		return nil, fmt.Errorf("preview: invalid sensor size %dx%d", fullW, fullH)
	}
	if scale <= 0 || scale > 1 {
		scale = DefaultScale
	}
	if quality < 1 || quality > 100 {
		quality = DefaultQuality
	}
	f, err := opentype.Parse(goregular.TTF)
	if err != nil {
		return nil, err
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{Size: LabelSize, DPI: 72, Hinting: font.HintingNone})
	if err != nil {
		return nil, err
	}
	sw, sh := int(float64(fullW)*scale), int(float64(fullH)*scale)
	if sw < 1 {
		sw = 1
	}
	if sh < 1 {
		sh = 1
	}
	return &Renderer{
		canvas:  image.NewGray(image.Rect(0, 0, fullW, fullH)),
		small:   image.NewGray(image.Rect(0, 0, sw, sh)),
		filter:  gift.New(gift.Resize(sw, sh, gift.BoxResampling)),
		face:    face,
		quality: quality,
	}, nil
}

// Size is the size of the rendered preview
func (r *Renderer) Size() (int, int) {
	b := r.small.Bounds()
	return b.Dx(), b.Dy()
}

// Normalize scales src into the 8-bit range so that max maps to 255.  With a
// max of zero or less every value maps to 0.
func Normalize(dst []uint8, src []float64, max float64) {
	if max <= 0 {
		for i := range src {
			dst[i] = 0
		}
		return
	}
	for i, v := range src {
		if v <= 0 {
			dst[i] = 0
			continue
		}
		dst[i] = uint8(v / max * 255)
	}
}

// Render draws im, the frame read out from sub, onto the full-sensor canvas,
// overlays the crop boundary and the enabled ROIs, downsamples and encodes the
// result.  The label of each ROI carries its 1-based position in rois.
func (r *Renderer) Render(im photometry.Image, sub geometry.Subarray, rois []roi.ROI) ([]byte, error) {
	c := r.canvas
	for i := range c.Pix {
		c.Pix[i] = 0
	}
	max := photometry.Max(im)
	cb := c.Bounds()
	w := im.Width
	if sub.HPos+w > cb.Max.X {
		w = cb.Max.X - sub.HPos
	}
	for y := 0; y < im.Height && w > 0; y++ {
		cy := sub.VPos + y
		if cy < 0 || cy >= cb.Max.Y {
			continue
		}
		off := c.PixOffset(sub.HPos, cy)
		Normalize(c.Pix[off:off+w], im.Row(y)[:w], max)
	}

	if sub.Active {
		r.hline(sub.VPos)
		r.hline(sub.VPos + sub.VSize)
	}
	for i, rg := range rois {
		if !rg.Enabled {
			continue
		}
		r.rect(image.Rect(rg.X, rg.Y, rg.X+rg.Width, rg.Y+rg.Height))
		d := font.Drawer{Dst: c, Src: white, Face: r.face, Dot: fixed.P(rg.X, rg.Y-10)}
		d.DrawString(fmt.Sprintf("%s (%d)", rg.Name, i+1))
	}

	r.filter.Draw(r.small, c)
	r.buf.Reset()
	if err := jpeg.Encode(&r.buf, r.small, &jpeg.Options{Quality: r.quality}); err != nil {
		return nil, err
	}
	out := make([]byte, r.buf.Len())
	copy(out, r.buf.Bytes())
	return out, nil
}

func (r *Renderer) fill(rect image.Rectangle) {
	rect = rect.Intersect(r.canvas.Bounds())
	if rect.Empty() {
		return
	}
	draw.Draw(r.canvas, rect, white, image.Point{}, draw.Src)
}

func (r *Renderer) hline(y int) {
	r.fill(image.Rect(0, y-thickness/2, r.canvas.Bounds().Dx(), y-thickness/2+thickness))
}

func (r *Renderer) rect(b image.Rectangle) {
	h := thickness / 2
	r.fill(image.Rect(b.Min.X-h, b.Min.Y-h, b.Max.X+h, b.Min.Y+h))
	r.fill(image.Rect(b.Min.X-h, b.Max.Y-h, b.Max.X+h, b.Max.Y+h))
	r.fill(image.Rect(b.Min.X-h, b.Min.Y-h, b.Min.X+h, b.Max.Y+h))
	r.fill(image.Rect(b.Max.X-h, b.Min.Y-h, b.Max.X+h, b.Max.Y+h))
}
