// Package overlay annotates display frames with recognition results.
package overlay

import (
	"image"
	"image/color"

	"github.com/andresmejia3/securiface/internal/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PixelFormat is the channel order of every frame the renderer produces.
const PixelFormat = "RGBA"

const (
	BorderWidth = 2
	LabelHeight = 35
	labelInset  = 6
	Banner      = "ACCESS GRANTED"
)

var (
	Matched = color.RGBA{R: 0, G: 255, B: 0, A: 255}
	Unknown = color.RGBA{R: 255, G: 0, B: 0, A: 255}
	White   = color.RGBA{R: 255, G: 255, B: 255, A: 255}

	bannerAt = image.Pt(50, 50)
)

// Renderer draws detections, which carry boxes in sampled-frame coordinates.
type Renderer struct {
	// Upscale maps a detection box onto the full frame.
	Upscale func(types.BoundingBox) types.BoundingBox
	Face    font.Face
}

func New(upscale func(types.BoundingBox) types.BoundingBox) *Renderer {
	return &Renderer{Upscale: upscale, Face: basicfont.Face7x13}
}

// Render draws onto frame in place and returns it. The caller must own frame exclusively.
func (r *Renderer) Render(frame *image.RGBA, detections []types.Detection, banner bool) *image.RGBA {
	for _, d := range detections {
		box := d.Box
		if r.Upscale != nil {
			box = r.Upscale(box)
		}
		c := Unknown
		if d.Matched {
			c = Matched
		}
		rect := image.Rect(box.Left, box.Top, box.Right, box.Bottom)

		strokeRect(frame, rect, c, BorderWidth)
		fillRect(frame, image.Rect(rect.Min.X, rect.Max.Y-LabelHeight, rect.Max.X, rect.Max.Y), c)
		r.text(frame, d.Label, image.Pt(rect.Min.X+labelInset, rect.Max.Y-labelInset), White)
	}
	if banner {
		r.text(frame, Banner, bannerAt, Matched)
	}
	return frame
}

func (r *Renderer) text(img *image.RGBA, s string, at image.Point, c color.RGBA) {
	face := r.Face
	if face == nil {
		face = basicfont.Face7x13
	}
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: face,
		Dot:  fixed.P(at.X, at.Y),
	}
	d.DrawString(s)
}

func strokeRect(img *image.RGBA, rect image.Rectangle, c color.RGBA, width int) {
	fillRect(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Min.Y+width), c)
	fillRect(img, image.Rect(rect.Min.X, rect.Max.Y-width, rect.Max.X, rect.Max.Y), c)
	fillRect(img, image.Rect(rect.Min.X, rect.Min.Y, rect.Min.X+width, rect.Max.Y), c)
	fillRect(img, image.Rect(rect.Max.X-width, rect.Min.Y, rect.Max.X, rect.Max.Y), c)
}

func fillRect(img *image.RGBA, rect image.Rectangle, c color.RGBA) {
	// Clip rect to image bounds to prevent panics
	rect = rect.Intersect(img.Bounds())
	if rect.Empty() {
		return
	}
	stride := img.Stride
	pix := img.Pix
	imgMinX, imgMinY := img.Rect.Min.X, img.Rect.Min.Y
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		rowStart := (y-imgMinY)*stride + (rect.Min.X-imgMinX)*4
		for x := 0; x < rect.Dx(); x++ {
			off := rowStart + x*4
			pix[off] = c.R
			pix[off+1] = c.G
			pix[off+2] = c.B
			pix[off+3] = c.A
		}
	}
}
