// Package encoder defines the face encoding capability used by the gallery and the recognition loop.
// Implementations are opaque: they locate faces in an image and return one encoding per face.
package encoder

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"

	"github.com/andresmejia3/securiface/internal/types"
)

// ErrNoFace is returned by helpers that require at least one face.
var ErrNoFace = errors.New("no face found")

// Provider locates faces in an image and encodes them.
// Boxes are in the coordinate space of the image passed in.
type Provider interface {
	Detect(img image.Image) ([]types.DetectedFace, error)
	Close() error
}

// JPEGQuality is used when a provider needs the frame as an encoded JPEG.
const JPEGQuality = 90

// EncodeJPEG serializes an image for providers that only accept JPEG bytes.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: JPEGQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// First returns the encoding of the first face a provider finds in img.
func First(p Provider, img image.Image) ([]float64, error) {
	faces, err := p.Detect(img)
	if err != nil {
		return nil, err
	}
	if len(faces) == 0 {
		return nil, ErrNoFace
	}
	return faces[0].Encoding, nil
}
