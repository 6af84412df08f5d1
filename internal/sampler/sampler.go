// Package sampler decides which frames get analyzed and converts between full and reduced resolution.
package sampler

import (
	"fmt"
	"image"

	"github.com/andresmejia3/securiface/internal/types"
	"golang.org/x/image/draw"
)

const (
	DefaultInterval = 4
	DefaultScale    = 0.25
)

type Sampler struct {
	Interval int
	Scale    float64
}

func New(interval int, scale float64) (*Sampler, error) {
	if interval < 1 {
		return nil, fmt.Errorf("sampling interval must be >= 1, got %d", interval)
	}
	if scale <= 0 || scale > 1 {
		return nil, fmt.Errorf("sampling scale must be in (0, 1], got %v", scale)
	}
	return &Sampler{Interval: interval, Scale: scale}, nil
}

// ShouldProcess reports whether the frame with this (already incremented) counter is analyzed.
func (s *Sampler) ShouldProcess(counter int) bool {
	return counter%s.Interval == 0
}

// Downscale returns a copy of frame resized by Scale in each dimension.
func (s *Sampler) Downscale(frame image.Image) *image.RGBA {
	b := frame.Bounds()
	w := max(1, int(float64(b.Dx())*s.Scale))
	h := max(1, int(float64(b.Dy())*s.Scale))
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), frame, b, draw.Src, nil)
	return dst
}

// Upscale maps a box found on a downscaled frame back to full-frame coordinates.
func (s *Sampler) Upscale(box types.BoundingBox) types.BoundingBox {
	f := 1 / s.Scale
	return types.BoundingBox{
		Top:    int(float64(box.Top) * f),
		Right:  int(float64(box.Right) * f),
		Bottom: int(float64(box.Bottom) * f),
		Left:   int(float64(box.Left) * f),
	}
}
