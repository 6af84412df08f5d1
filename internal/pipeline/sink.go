package pipeline

import (
	"context"
	"image"
	"sync"
)

// Sink receives every annotated frame. Publish must not block the loop; ownership of the
// frame passes to the sink.
type Sink interface {
	Publish(frame *image.RGBA)
}

type discard struct{}

func (discard) Publish(*image.RGBA) {}

// FrameSlot is a Sink that keeps only the latest frame and wakes anyone waiting for a newer one.
type FrameSlot struct {
	mu    sync.Mutex
	frame *image.RGBA
	seq   uint64
	ready chan struct{}
}

func NewFrameSlot() *FrameSlot {
	return &FrameSlot{ready: make(chan struct{})}
}

func (s *FrameSlot) Publish(frame *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ready == nil {
		s.ready = make(chan struct{})
	}
	s.frame = frame
	s.seq++
	close(s.ready)
	s.ready = make(chan struct{})
}

// Latest returns the newest frame and its sequence number (0 before the first frame).
func (s *FrameSlot) Latest() (*image.RGBA, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

// Next blocks until a frame newer than seq is published. Frames are shared and must not be modified.
func (s *FrameSlot) Next(ctx context.Context, seq uint64) (*image.RGBA, uint64, error) {
	for {
		s.mu.Lock()
		if s.ready == nil {
			s.ready = make(chan struct{})
		}
		if s.seq > seq && s.frame != nil {
			f, n := s.frame, s.seq
			s.mu.Unlock()
			return f, n, nil
		}
		ready := s.ready
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, seq, ctx.Err()
		case <-ready:
		}
	}
}
