package capture

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"runtime"
	"strconv"
	"strings"

	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/utils"
)

const megabyte = 1024 * 1024

// FFmpeg opens sources by piping them through ffmpeg as an MJPEG stream.
type FFmpeg struct {
	// GOOS picks the camera input device. Empty means runtime.GOOS.
	GOOS string
}

// InputArgs builds the ffmpeg input arguments for a selector.
func (f FFmpeg) InputArgs(sel Selector) ([]string, error) {
	if sel.IsURL() {
		if strings.HasPrefix(strings.ToLower(sel.URL), "rtsp") {
			return []string{"-rtsp_transport", "tcp", "-i", sel.URL}, nil
		}
		return []string{"-i", sel.URL}, nil
	}

	goos := f.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}
	switch goos {
	case "linux":
		return []string{"-f", "v4l2", "-i", "/dev/video" + strconv.Itoa(sel.Index)}, nil
	case "darwin":
		return []string{"-f", "avfoundation", "-framerate", "30", "-i", strconv.Itoa(sel.Index)}, nil
	default:
		return nil, fmt.Errorf("camera capture through ffmpeg is not supported on %s; use a stream url or the opencv backend", goos)
	}
}

// Open starts ffmpeg and waits for the first frame, so sources that cannot be opened fail here.
func (f FFmpeg) Open(ctx context.Context, sel Selector) (Source, error) {
	args, err := f.InputArgs(sel)
	if err != nil {
		return nil, err
	}

	proc := utils.NewFFmpegCaptureCmd(ctx, args)
	out, err := proc.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create ffmpeg pipe: %w", err)
	}
	if err := proc.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	src := newStreamSource(out)
	src.proc = proc

	first, err := src.next()
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("no frames from %s: %w", sel, withStderr(err, proc))
	}
	src.pending = first

	logger.Info("capture opened",
		logger.LoggerOptions{Key: "source", Data: sel.String()},
		logger.LoggerOptions{Key: "width", Data: first.Bounds().Dx()},
		logger.LoggerOptions{Key: "height", Data: first.Bounds().Dy()},
	)
	return src, nil
}

// streamSource decodes concatenated JPEG frames from r.
type streamSource struct {
	r       io.ReadCloser
	scanner *bufio.Scanner
	proc    *utils.SafeCommand
	pending *image.RGBA
}

func newStreamSource(r io.ReadCloser) *streamSource {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, megabyte), 64*megabyte)
	scanner.Split(utils.SplitJpeg)
	return &streamSource{r: r, scanner: scanner}
}

func (s *streamSource) next() (*image.RGBA, error) {
	if !s.scanner.Scan() {
		// Check for scanner errors (e.g. token too long, unexpected EOF)
		if err := s.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	img, err := jpeg.Decode(bytes.NewReader(s.scanner.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("decoding frame: %w", err)
	}
	return ToRGBA(img), nil
}

func (s *streamSource) Read() (*image.RGBA, error) {
	if s.pending != nil {
		img := s.pending
		s.pending = nil
		return img, nil
	}
	img, err := s.next()
	if err != nil {
		return nil, withStderr(err, s.proc)
	}
	return img, nil
}

func (s *streamSource) Close() error {
	s.r.Close()
	if s.proc == nil || s.proc.Process == nil {
		return nil
	}
	s.proc.Process.Kill()
	// Wait reaps the process; a kill exit status is expected here.
	s.proc.Wait()
	return nil
}

// withStderr attaches ffmpeg's own complaint, when there is one.
func withStderr(err error, proc *utils.SafeCommand) error {
	if proc == nil || proc.Stderr.Len() == 0 {
		return err
	}
	msg := strings.TrimSpace(proc.Stderr.String())
	if errors.Is(err, io.EOF) {
		return fmt.Errorf("stream ended: %s", msg)
	}
	return fmt.Errorf("%w: %s", err, msg)
}
