package overlay

import (
	"image"
	"image/color"
	"testing"

	"github.com/andresmejia3/securiface/internal/sampler"
	"github.com/andresmejia3/securiface/internal/types"
)

func blank(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return img
}

func TestRender_MatchedAndUnknown(t *testing.T) {
	s, _ := sampler.New(4, 0.25)
	r := New(s.Upscale)
	frame := blank(640, 480)

	// Sampled-frame boxes: x4 puts them at (40,40)-(200,200) and (320,40)-(480,200).
	detections := []types.Detection{
		{Box: types.BoundingBox{Top: 10, Right: 50, Bottom: 50, Left: 10}, Label: "alice", Matched: true},
		{Box: types.BoundingBox{Top: 10, Right: 120, Bottom: 50, Left: 80}, Label: "Unknown"},
	}
	out := r.Render(frame, detections, false)
	if out != frame {
		t.Fatal("Render should draw in place")
	}

	tests := []struct {
		name string
		x, y int
		want color.RGBA
	}{
		{"matched top border", 100, 40, Matched},
		{"matched left border", 41, 100, Matched},
		{"matched label band", 190, 170, Matched},
		{"unknown top border", 400, 41, Unknown},
		{"unknown label band", 470, 190, Unknown},
		{"inside matched box", 100, 100, color.RGBA{A: 255}},
		{"outside both", 600, 400, color.RGBA{A: 255}},
	}
	for _, tt := range tests {
		if got := frame.RGBAAt(tt.x, tt.y); got != tt.want {
			t.Errorf("%s at (%d,%d): expected %v, got %v", tt.name, tt.x, tt.y, tt.want, got)
		}
	}

	// Label text is white somewhere inside the band.
	if !hasColor(frame, image.Rect(46, 165, 120, 200), White) {
		t.Error("expected white label text in the matched band")
	}
}

func TestRender_ClipsToFrame(t *testing.T) {
	r := New(nil)
	frame := blank(100, 100)
	detections := []types.Detection{
		{Box: types.BoundingBox{Top: -20, Right: 150, Bottom: 130, Left: 80}, Label: "edge", Matched: true},
	}
	r.Render(frame, detections, false) // must not panic
	if got := frame.RGBAAt(80, 50); got != Matched {
		t.Errorf("expected left border at x=80, got %v", got)
	}
}

func TestRender_Banner(t *testing.T) {
	r := New(nil)

	frame := blank(320, 240)
	r.Render(frame, nil, true)
	if !hasColor(frame, image.Rect(50, 35, 160, 55), Matched) {
		t.Error("expected green banner text near (50,50)")
	}

	quiet := blank(320, 240)
	r.Render(quiet, nil, false)
	if hasColor(quiet, quiet.Bounds(), Matched) {
		t.Error("no banner expected")
	}
}

func hasColor(img *image.RGBA, rect image.Rectangle, c color.RGBA) bool {
	rect = rect.Intersect(img.Bounds())
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			if img.RGBAAt(x, y) == c {
				return true
			}
		}
	}
	return false
}
