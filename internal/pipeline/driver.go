// Package pipeline runs the live recognition loop: sample frames, detect and match faces,
// record attendance, annotate and publish every frame.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/capture"
	"github.com/andresmejia3/securiface/internal/encoder"
	"github.com/andresmejia3/securiface/internal/events"
	"github.com/andresmejia3/securiface/internal/gallery"
	"github.com/andresmejia3/securiface/internal/logger"
	"github.com/andresmejia3/securiface/internal/matcher"
	"github.com/andresmejia3/securiface/internal/overlay"
	"github.com/andresmejia3/securiface/internal/sampler"
	"github.com/andresmejia3/securiface/internal/types"
	"github.com/google/uuid"
)

type State int

const (
	Idle State = iota
	Running
)

func (s State) String() string {
	if s == Running {
		return "running"
	}
	return "idle"
}

// LoopState is the driver's view of the current (or last) session.
type LoopState struct {
	Running        bool              `json:"running"`
	Source         capture.Selector  `json:"source"`
	SessionID      string            `json:"session_id,omitempty"`
	FrameCounter   int               `json:"frame_counter"`
	LastDetections []types.Detection `json:"last_detections"`
}

type Options struct {
	Opener   capture.Opener
	Provider encoder.Provider
	Gallery  *gallery.Gallery
	Sampler  *sampler.Sampler
	Matcher  *matcher.Matcher
	Ledger   attendance.Ledger
	// Optional.
	Renderer *overlay.Renderer
	Sink     Sink
	Events   *events.Broadcaster
	Now      func() time.Time
}

// Driver owns the loop state. At most one session runs at a time.
type Driver struct {
	opener   capture.Opener
	provider encoder.Provider
	gallery  *gallery.Gallery
	sampler  *sampler.Sampler
	matcher  *matcher.Matcher
	ledger   attendance.Ledger
	renderer *overlay.Renderer
	sink     Sink
	events   *events.Broadcaster
	now      func() time.Time

	mu       sync.Mutex
	state    LoopState
	starting bool
	stopping bool
	stop     chan struct{}
	cancel   context.CancelFunc
	done     chan struct{}
	lastErr  error
}

func New(opts Options) (*Driver, error) {
	if opts.Opener == nil || opts.Provider == nil || opts.Gallery == nil ||
		opts.Sampler == nil || opts.Matcher == nil || opts.Ledger == nil {
		return nil, errors.New("pipeline: opener, provider, gallery, sampler, matcher and ledger are required")
	}
	d := &Driver{
		opener:   opts.Opener,
		provider: opts.Provider,
		gallery:  opts.Gallery,
		sampler:  opts.Sampler,
		matcher:  opts.Matcher,
		ledger:   opts.Ledger,
		renderer: opts.Renderer,
		sink:     opts.Sink,
		events:   opts.Events,
		now:      opts.Now,
	}
	if d.renderer == nil {
		d.renderer = overlay.New(d.sampler.Upscale)
	}
	if d.sink == nil {
		d.sink = discard{}
	}
	if d.events == nil {
		d.events = &events.Broadcaster{}
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

func (d *Driver) Events() *events.Broadcaster { return d.events }

func (d *Driver) Gallery() *gallery.Gallery { return d.gallery }

func (d *Driver) Ledger() attendance.Ledger { return d.ledger }

func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.state.Running {
		return Running
	}
	return Idle
}

// Status returns a copy of the loop state.
func (d *Driver) Status() LoopState {
	d.mu.Lock()
	defer d.mu.Unlock()
	s := d.state
	s.LastDetections = append([]types.Detection(nil), d.state.LastDetections...)
	return s
}

// Start opens the source and runs a new session in the background.
// The source selection is locked until the session ends.
func (d *Driver) Start(sel capture.Selector) error {
	d.mu.Lock()
	if d.state.Running || d.starting {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.starting = true
	d.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	src, err := d.opener.Open(ctx, sel)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.starting = false
	if err != nil {
		cancel()
		return &SourceOpenError{Source: sel, Err: err}
	}

	sessionID := uuid.New().String()
	d.state = LoopState{Running: true, Source: sel, SessionID: sessionID}
	d.stopping = false
	d.stop = make(chan struct{})
	d.cancel = cancel
	d.done = make(chan struct{})
	d.lastErr = nil

	logger.Info("recognition loop started",
		logger.LoggerOptions{Key: "session", Data: sessionID},
		logger.LoggerOptions{Key: "source", Data: sel.String()},
	)
	d.emit(events.Event{Type: events.TypeState, SessionID: sessionID, Message: Running.String(), Data: sel})

	go d.run(ctx, src, sessionID, d.stop, d.done)
	return nil
}

// Stop asks the running session to end. It returns before the loop has exited; use Wait.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.state.Running {
		return ErrNotRunning
	}
	if !d.stopping {
		d.stopping = true
		close(d.stop)
		// Unblocks a read stuck on a process-backed source.
		d.cancel()
	}
	return nil
}

// Wait blocks until the current session ends and returns its terminal error.
// It returns nil after an operator stop, and immediately when nothing ever ran.
func (d *Driver) Wait() error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()
	if done != nil {
		<-done
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastErr
}

func (d *Driver) run(ctx context.Context, src capture.Source, sessionID string, stop, done chan struct{}) {
	var exitErr error
	defer func() {
		src.Close()
		d.finish(sessionID, exitErr, done)
	}()

	// Stop cancels ctx to unblock the source. The iteration in flight still finishes its ledger writes.
	writeCtx := context.WithoutCancel(ctx)

	var last []types.Detection
	counter := 0
	for {
		select {
		case <-stop:
			return
		default:
		}

		frame, err := src.Read()
		if err != nil {
			select {
			case <-stop:
				// The read was cut short by Stop.
				return
			default:
			}
			exitErr = &FrameReadError{Frame: counter, Err: err}
			return
		}
		counter++

		recorded := false
		if d.sampler.ShouldProcess(counter) {
			dets, wrote, err := d.analyze(writeCtx, frame, sessionID)
			var pe *attendance.PersistenceError
			switch {
			case errors.As(err, &pe) && pe.Fatal:
				exitErr = err
				return
			case err != nil:
				// Keep the previous overlay on a failed detection.
				d.emitError(sessionID, err)
			default:
				last = dets
			}
			recorded = wrote
		}

		d.mu.Lock()
		d.state.FrameCounter = counter
		d.state.LastDetections = last
		d.mu.Unlock()

		d.sink.Publish(d.renderer.Render(frame, last, recorded))
	}
}

// analyze detects and matches faces on a downscaled copy of frame and records matched identities.
// Retryable ledger errors are reported as events here; the face counts as not recorded.
func (d *Driver) analyze(ctx context.Context, frame *image.RGBA, sessionID string) ([]types.Detection, bool, error) {
	faces, err := d.provider.Detect(d.sampler.Downscale(frame))
	if err != nil {
		return nil, false, fmt.Errorf("face detection: %w", err)
	}

	results := d.matcher.MatchAll(faces, d.gallery.Faces())
	dets := make([]types.Detection, 0, len(results))
	wrote := false
	for _, res := range results {
		dets = append(dets, types.Detection{Box: res.Face.Box, Label: res.Identity, Matched: res.Matched})
		if !res.Matched {
			continue
		}

		now := d.now()
		ok, err := d.ledger.RecordIfNew(ctx, res.Identity, now)
		if err != nil {
			var pe *attendance.PersistenceError
			if errors.As(err, &pe) && pe.Fatal {
				return dets, wrote, err
			}
			d.emitError(sessionID, err)
			continue
		}
		if ok {
			wrote = true
			date, clock := attendance.Stamp(now)
			rec := types.AttendanceRecord{Name: res.Identity, Date: date, Time: clock}
			logger.Info("attendance recorded",
				logger.LoggerOptions{Key: "name", Data: rec.Name},
				logger.LoggerOptions{Key: "distance", Data: res.Distance},
			)
			d.emit(events.Event{Type: events.TypeAttendance, SessionID: sessionID, Message: rec.Name, Data: rec})
		}
	}
	return dets, wrote, nil
}

func (d *Driver) finish(sessionID string, err error, done chan struct{}) {
	d.mu.Lock()
	d.state.Running = false
	d.lastErr = err
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()
	defer close(done)

	if err != nil {
		logger.Error("recognition loop stopped",
			logger.LoggerOptions{Key: "session", Data: sessionID},
			logger.LoggerOptions{Key: "error", Data: err},
		)
		d.emitError(sessionID, err)
	} else {
		logger.Info("recognition loop stopped", logger.LoggerOptions{Key: "session", Data: sessionID})
	}
	d.emit(events.Event{Type: events.TypeState, SessionID: sessionID, Message: Idle.String()})
}

func (d *Driver) emit(ev events.Event) {
	d.events.SendEvent(ev)
}

func (d *Driver) emitError(sessionID string, err error) {
	d.emit(events.Event{Type: events.TypeError, SessionID: sessionID, Message: err.Error()})
}
