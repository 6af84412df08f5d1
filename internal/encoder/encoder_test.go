package encoder

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"testing"

	"github.com/andresmejia3/securiface/internal/types"
)

type stubProvider struct {
	faces []types.DetectedFace
	err   error
}

func (s stubProvider) Detect(image.Image) ([]types.DetectedFace, error) { return s.faces, s.err }
func (s stubProvider) Close() error                                     { return nil }

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	img.Set(3, 3, color.RGBA{R: 200, A: 255})

	data, err := EncodeJPEG(img)
	if err != nil {
		t.Fatalf("EncodeJPEG failed: %v", err)
	}
	if !bytes.HasPrefix(data, []byte{0xFF, 0xD8}) {
		t.Fatalf("output is not a JPEG stream")
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("round trip decode failed: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("bounds changed: %v -> %v", img.Bounds(), decoded.Bounds())
	}
}

func TestFirst(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	t.Run("uses first face only", func(t *testing.T) {
		p := stubProvider{faces: []types.DetectedFace{
			{Encoding: []float64{1, 2}},
			{Encoding: []float64{3, 4}},
		}}
		enc, err := First(p, img)
		if err != nil {
			t.Fatal(err)
		}
		if enc[0] != 1 || enc[1] != 2 {
			t.Errorf("expected first encoding, got %v", enc)
		}
	})

	t.Run("no face", func(t *testing.T) {
		if _, err := First(stubProvider{}, img); !errors.Is(err, ErrNoFace) {
			t.Errorf("expected ErrNoFace, got %v", err)
		}
	})

	t.Run("provider error", func(t *testing.T) {
		boom := errors.New("boom")
		if _, err := First(stubProvider{err: boom}, img); !errors.Is(err, boom) {
			t.Errorf("expected provider error, got %v", err)
		}
	})
}
