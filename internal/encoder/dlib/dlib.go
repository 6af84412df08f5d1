// Package dlib implements encoder.Provider in-process with dlib through go-face.
package dlib

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/Kagami/go-face"
	"github.com/andresmejia3/securiface/internal/encoder"
	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/types"
)

// ErrClosed is returned by Detect after Close.
var ErrClosed = errors.New("dlib recognizer is closed")

// Recognizer wraps a go-face recognizer. The underlying dlib object is not safe for
// concurrent use, so every call is serialized.
type Recognizer struct {
	rec *face.Recognizer
	cnn bool
	mu  sync.Mutex
}

// New loads the dlib models from modelsDir. The directory must contain
// shape_predictor_5_face_landmarks.dat and dlib_face_recognition_resnet_model_v1.dat,
// plus mmod_human_face_detector.dat when cnn is set.
func New(modelsDir string, cnn bool) (*Recognizer, error) {
	rec, err := face.NewRecognizer(modelsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load dlib models from %s: %w", modelsDir, err)
	}
	logger.Info("dlib recognizer ready", logger.LoggerOptions{Key: "models", Data: modelsDir}, logger.LoggerOptions{Key: "cnn", Data: cnn})
	return &Recognizer{rec: rec, cnn: cnn}, nil
}

// Detect JPEG-encodes img (go-face only decodes JPEG) and returns every face with its descriptor.
func (r *Recognizer) Detect(img image.Image) ([]types.DetectedFace, error) {
	data, err := encoder.EncodeJPEG(img)
	if err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	r.mu.Lock()
	if r.rec == nil {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	var faces []face.Face
	if r.cnn {
		faces, err = r.rec.RecognizeCNN(data)
	} else {
		faces, err = r.rec.Recognize(data)
	}
	r.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("dlib recognize: %w", err)
	}

	out := make([]types.DetectedFace, 0, len(faces))
	for _, f := range faces {
		out = append(out, types.DetectedFace{
			Box:      boxFromRect(f.Rectangle),
			Encoding: widen(f.Descriptor),
		})
	}
	return out, nil
}

// Close releases the dlib models.
func (r *Recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rec != nil {
		r.rec.Close()
		r.rec = nil
	}
	return nil
}

func boxFromRect(rect image.Rectangle) types.BoundingBox {
	return types.BoundingBox{Top: rect.Min.Y, Right: rect.Max.X, Bottom: rect.Max.Y, Left: rect.Min.X}
}

func widen(d face.Descriptor) []float64 {
	v := make([]float64, len(d))
	for i, x := range d {
		v[i] = float64(x)
	}
	return v
}
