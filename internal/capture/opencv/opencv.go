// Package opencv captures frames through OpenCV's VideoCapture (gocv).
package opencv

import (
	"context"
	"errors"
	"fmt"
	"image"

	"github.com/andresmejia3/securiface/internal/capture"
	"github.com/andresmejia3/securiface/internal/logger"
	"gocv.io/x/gocv"
)

var errEmptyFrame = errors.New("camera returned an empty frame")

type Opener struct{}

func (Opener) Open(ctx context.Context, sel capture.Selector) (capture.Source, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var device interface{} = sel.Index
	if sel.IsURL() {
		device = sel.URL
	}
	webcam, err := gocv.OpenVideoCapture(device)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", sel, err)
	}
	if !webcam.IsOpened() {
		webcam.Close()
		return nil, fmt.Errorf("opening %s: device not available", sel)
	}

	logger.Info("capture opened",
		logger.LoggerOptions{Key: "source", Data: sel.String()},
		logger.LoggerOptions{Key: "width", Data: int(webcam.Get(gocv.VideoCaptureFrameWidth))},
		logger.LoggerOptions{Key: "height", Data: int(webcam.Get(gocv.VideoCaptureFrameHeight))},
	)
	return &source{webcam: webcam, frame: gocv.NewMat()}, nil
}

type source struct {
	webcam *gocv.VideoCapture
	frame  gocv.Mat
}

func (s *source) Read() (*image.RGBA, error) {
	if ok := s.webcam.Read(&s.frame); !ok {
		return nil, errors.New("cannot read from device")
	}
	if s.frame.Empty() {
		return nil, errEmptyFrame
	}
	img, err := s.frame.ToImage()
	if err != nil {
		return nil, fmt.Errorf("converting frame: %w", err)
	}
	return capture.ToRGBA(img), nil
}

func (s *source) Close() error {
	s.frame.Close()
	return s.webcam.Close()
}
