package pipeline

import (
	"errors"
	"fmt"

	"github.com/andresmejia3/securiface/internal/capture"
)

var (
	ErrAlreadyRunning = errors.New("recognition loop already running")
	ErrNotRunning     = errors.New("recognition loop not running")
)

// SourceOpenError means the selected source could not be opened. The driver stays idle.
type SourceOpenError struct {
	Source capture.Selector
	Err    error
}

func (e *SourceOpenError) Error() string {
	return fmt.Sprintf("cannot open video source %s: %v", e.Source, e.Err)
}

func (e *SourceOpenError) Unwrap() error { return e.Err }

// FrameReadError means a running source stopped delivering frames. The session ends.
type FrameReadError struct {
	Frame int
	Err   error
}

func (e *FrameReadError) Error() string {
	return fmt.Sprintf("frame read failed after frame %d: %v", e.Frame, e.Err)
}

func (e *FrameReadError) Unwrap() error { return e.Err }
