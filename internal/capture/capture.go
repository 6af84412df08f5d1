// Package capture opens live video sources and yields decoded frames.
package capture

import (
	"context"
	"fmt"
	"image"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/image/draw"
)

// MaxCameraIndex bounds the device indexes offered to operators.
const MaxCameraIndex = 63

// Selector names a video source: a local camera index or a network stream URL.
type Selector struct {
	Index int    `json:"index"`
	URL   string `json:"url,omitempty"`
}

func (s Selector) IsURL() bool { return s.URL != "" }

func (s Selector) String() string {
	if s.IsURL() {
		return s.URL
	}
	return strconv.Itoa(s.Index)
}

// ParseSelector accepts "0".."63" or an rtsp/rtsps/http/https URL.
func ParseSelector(raw string) (Selector, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Selector{}, fmt.Errorf("empty video source")
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 || n > MaxCameraIndex {
			return Selector{}, fmt.Errorf("camera index %d out of range 0..%d", n, MaxCameraIndex)
		}
		return Selector{Index: n}, nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Selector{}, fmt.Errorf("invalid video source %q: %w", raw, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "rtsp", "rtsps", "http", "https":
	default:
		return Selector{}, fmt.Errorf("unsupported video source %q: want a camera index or rtsp/http url", raw)
	}
	if u.Host == "" {
		return Selector{}, fmt.Errorf("video source %q has no host", raw)
	}
	return Selector{URL: raw}, nil
}

// Source yields full-resolution frames. Read blocks until the next frame is available.
type Source interface {
	Read() (*image.RGBA, error)
	Close() error
}

// Opener opens a Source for a selector. ctx bounds the lifetime of the source.
type Opener interface {
	Open(ctx context.Context, sel Selector) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, sel Selector) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, sel Selector) (Source, error) { return f(ctx, sel) }

// ToRGBA returns img as *image.RGBA, converting when needed.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}
