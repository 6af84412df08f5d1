package pipeline

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/securiface/internal/attendance"
	"github.com/andresmejia3/securiface/internal/capture"
	"github.com/andresmejia3/securiface/internal/events"
	"github.com/andresmejia3/securiface/internal/gallery"
	"github.com/andresmejia3/securiface/internal/matcher"
	"github.com/andresmejia3/securiface/internal/sampler"
	"github.com/andresmejia3/securiface/internal/types"
)

// finiteSource yields n blank frames, then io.EOF. n < 0 means endless.
type finiteSource struct {
	n      int
	read   int
	closed atomic.Bool
}

func (s *finiteSource) Read() (*image.RGBA, error) {
	if s.n >= 0 && s.read >= s.n {
		return nil, io.EOF
	}
	s.read++
	if s.n < 0 {
		time.Sleep(time.Millisecond)
	}
	return image.NewRGBA(image.Rect(0, 0, 64, 48)), nil
}

func (s *finiteSource) Close() error {
	s.closed.Store(true)
	return nil
}

type fakeOpener struct {
	src *finiteSource
	err error
}

func (o *fakeOpener) Open(ctx context.Context, sel capture.Selector) (capture.Source, error) {
	if o.err != nil {
		return nil, o.err
	}
	return o.src, nil
}

// fakeProvider returns one face with a fixed encoding on every call.
type fakeProvider struct {
	encoding []float64
	calls    atomic.Int32
	failOn   int32 // 1-based call number that fails, 0 never
}

func (p *fakeProvider) Detect(img image.Image) ([]types.DetectedFace, error) {
	n := p.calls.Add(1)
	if n == p.failOn {
		return nil, errors.New("detector crashed")
	}
	return []types.DetectedFace{{
		Box:      types.BoundingBox{Top: 2, Right: 10, Bottom: 10, Left: 2},
		Encoding: p.encoding,
	}}, nil
}

func (p *fakeProvider) Close() error { return nil }

type countingSink struct {
	mu     sync.Mutex
	frames int
}

func (s *countingSink) Publish(*image.RGBA) {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}

func (s *countingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// flakyLedger fails the first `failures` writes with the given error.
type flakyLedger struct {
	*attendance.MemoryLedger
	failures int
	fatal    bool
	calls    int
}

func (l *flakyLedger) RecordIfNew(ctx context.Context, name string, now time.Time) (bool, error) {
	l.calls++
	if l.calls <= l.failures {
		return false, &attendance.PersistenceError{Op: "record", Fatal: l.fatal, Err: errors.New("database is locked")}
	}
	return l.MemoryLedger.RecordIfNew(ctx, name, now)
}

type harness struct {
	driver   *Driver
	source   *finiteSource
	provider *fakeProvider
	ledger   attendance.Ledger
	sink     *countingSink
	events   chan events.Event
}

func newHarness(t *testing.T, frames int, encoding []float64, ledger attendance.Ledger) *harness {
	t.Helper()
	if ledger == nil {
		ledger = attendance.NewMemoryLedger()
	}
	h := &harness{
		source:   &finiteSource{n: frames},
		provider: &fakeProvider{encoding: encoding},
		ledger:   ledger,
		sink:     &countingSink{},
	}
	s, err := sampler.New(4, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	b := &events.Broadcaster{}
	h.events = b.AddListener()

	h.driver, err = New(Options{
		Opener:   &fakeOpener{src: h.source},
		Provider: h.provider,
		Gallery:  gallery.New([]types.KnownFace{{Name: "alice", Encoding: []float64{0, 0}}}),
		Sampler:  s,
		Matcher:  matcher.New(0.5, "Unknown"),
		Ledger:   ledger,
		Sink:     h.sink,
		Events:   b,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func (h *harness) drain() []events.Event {
	var out []events.Event
	for {
		select {
		case ev := <-h.events:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func countType(evs []events.Event, typ string) int {
	n := 0
	for _, ev := range evs {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestDriver_RecordsKnownFaceOnce(t *testing.T) {
	h := newHarness(t, 12, []float64{0.1, 0}, nil)

	if err := h.driver.Start(capture.Selector{Index: 0}); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	err := h.driver.Wait()

	var readErr *FrameReadError
	if !errors.As(err, &readErr) || !errors.Is(err, io.EOF) {
		t.Fatalf("expected FrameReadError at end of stream, got %v", err)
	}
	if readErr.Frame != 12 {
		t.Errorf("expected failure after frame 12, got %d", readErr.Frame)
	}

	if calls := h.provider.calls.Load(); calls != 3 {
		t.Errorf("expected detection on frames 4, 8, 12 only, got %d calls", calls)
	}
	if h.sink.count() != 12 {
		t.Errorf("every frame should be published, got %d", h.sink.count())
	}
	if !h.source.closed.Load() {
		t.Error("source should be closed when the session ends")
	}

	ctx := context.Background()
	records, err := h.ledger.QueryAll(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Name != "alice" {
		t.Fatalf("expected one alice record, got %+v", records)
	}
	summary := attendance.Summarize(records, h.driver.Gallery().Len(), time.Now())
	if summary.TodayCount != 1 || summary.LastEntry != "alice" || summary.ActiveFaces != 1 {
		t.Errorf("unexpected summary %+v", summary)
	}

	evs := h.drain()
	if n := countType(evs, events.TypeAttendance); n != 1 {
		t.Errorf("expected 1 attendance event, got %d", n)
	}

	st := h.driver.Status()
	if st.Running || st.FrameCounter != 12 || st.SessionID == "" {
		t.Errorf("unexpected final state %+v", st)
	}
	if len(st.LastDetections) != 1 || st.LastDetections[0].Label != "alice" || !st.LastDetections[0].Matched {
		t.Errorf("unexpected detections %+v", st.LastDetections)
	}
	if h.driver.State() != Idle {
		t.Error("driver should be idle after the source ends")
	}
}

func TestDriver_UnknownFaceNeverRecorded(t *testing.T) {
	h := newHarness(t, 8, []float64{0, 0.9}, nil)

	if err := h.driver.Start(capture.Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	h.driver.Wait()

	records, _ := h.ledger.QueryAll(context.Background())
	if len(records) != 0 {
		t.Errorf("unknown face must not be recorded, got %+v", records)
	}
	st := h.driver.Status()
	if len(st.LastDetections) != 1 || st.LastDetections[0].Label != "Unknown" || st.LastDetections[0].Matched {
		t.Errorf("expected an Unknown detection, got %+v", st.LastDetections)
	}
}

func TestDriver_StartWhileRunning(t *testing.T) {
	h := newHarness(t, -1, []float64{0, 0}, nil)

	if err := h.driver.Start(capture.Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	if err := h.driver.Start(capture.Selector{Index: 1}); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("expected ErrAlreadyRunning, got %v", err)
	}
	if got := h.driver.Status().Source; got.Index != 0 {
		t.Errorf("source selection should stay locked, got %+v", got)
	}

	if err := h.driver.Stop(); err != nil {
		t.Fatal(err)
	}
	if err := h.driver.Wait(); err != nil {
		t.Errorf("operator stop should end cleanly, got %v", err)
	}
	if !h.source.closed.Load() {
		t.Error("source should be closed after stop")
	}
	if err := h.driver.Stop(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}
}

func TestDriver_RestartAfterStop(t *testing.T) {
	h := newHarness(t, -1, []float64{0, 0}, nil)

	h.driver.Start(capture.Selector{Index: 0})
	first := h.driver.Status().SessionID
	h.driver.Stop()
	h.driver.Wait()

	h.source.n = 4
	h.source.read = 0
	if err := h.driver.Start(capture.Selector{Index: 2}); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	h.driver.Wait()
	st := h.driver.Status()
	if st.SessionID == first || st.Source.Index != 2 || st.FrameCounter != 4 {
		t.Errorf("state should be reset on start, got %+v", st)
	}
}

func TestDriver_SourceOpenError(t *testing.T) {
	h := newHarness(t, 1, []float64{0, 0}, nil)
	h.driver.opener = &fakeOpener{err: errors.New("no such device")}

	err := h.driver.Start(capture.Selector{Index: 5})
	var openErr *SourceOpenError
	if !errors.As(err, &openErr) || openErr.Source.Index != 5 {
		t.Fatalf("expected SourceOpenError, got %v", err)
	}
	if h.driver.State() != Idle {
		t.Error("driver should stay idle")
	}
	if err := h.driver.Wait(); err != nil {
		t.Errorf("Wait with no session should return nil, got %v", err)
	}
}

func TestDriver_DetectionErrorKeepsPreviousDetections(t *testing.T) {
	h := newHarness(t, 8, []float64{0.1, 0}, nil)
	h.provider.failOn = 2 // frame 8

	h.driver.Start(capture.Selector{Index: 0})
	err := h.driver.Wait()
	var readErr *FrameReadError
	if !errors.As(err, &readErr) {
		t.Fatalf("loop should continue past a detection error, got %v", err)
	}

	evs := h.drain()
	if countType(evs, events.TypeError) < 2 { // detection error + end of stream
		t.Errorf("expected detection error event, got %+v", evs)
	}
	st := h.driver.Status()
	if len(st.LastDetections) != 1 || st.LastDetections[0].Label != "alice" {
		t.Errorf("previous detections should be kept, got %+v", st.LastDetections)
	}
	if h.sink.count() != 8 {
		t.Errorf("expected 8 frames published, got %d", h.sink.count())
	}
}

func TestDriver_RetryablePersistenceError(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: attendance.NewMemoryLedger(), failures: 1}
	h := newHarness(t, 8, []float64{0.1, 0}, ledger)

	h.driver.Start(capture.Selector{Index: 0})
	h.driver.Wait()

	records, _ := ledger.QueryAll(context.Background())
	if len(records) != 1 {
		t.Fatalf("face should be recorded on the next sighting, got %+v", records)
	}
	if ledger.calls != 2 {
		t.Errorf("expected 2 record attempts, got %d", ledger.calls)
	}
	if countType(h.drain(), events.TypeAttendance) != 1 {
		t.Error("expected one attendance event")
	}
}

func TestDriver_FatalPersistenceErrorStopsLoop(t *testing.T) {
	ledger := &flakyLedger{MemoryLedger: attendance.NewMemoryLedger(), failures: 100, fatal: true}
	h := newHarness(t, 12, []float64{0.1, 0}, ledger)

	h.driver.Start(capture.Selector{Index: 0})
	err := h.driver.Wait()

	var pe *attendance.PersistenceError
	if !errors.As(err, &pe) || !pe.Fatal {
		t.Fatalf("expected fatal PersistenceError, got %v", err)
	}
	if h.provider.calls.Load() != 1 {
		t.Errorf("loop should stop at the first fatal write, detection ran %d times", h.provider.calls.Load())
	}
	if h.driver.State() != Idle || !h.source.closed.Load() {
		t.Error("driver should be idle with the source released")
	}
}

func TestNew_RequiresCollaborators(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Error("expected error for missing collaborators")
	}
}

func TestFrameSlot(t *testing.T) {
	slot := NewFrameSlot()
	if f, seq := slot.Latest(); f != nil || seq != 0 {
		t.Fatalf("empty slot should have no frame")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	want := image.NewRGBA(image.Rect(0, 0, 1, 1))
	go func() {
		time.Sleep(5 * time.Millisecond)
		slot.Publish(want)
	}()
	got, seq, err := slot.Next(ctx, 0)
	if err != nil || got != want || seq != 1 {
		t.Fatalf("Next = %v %d %v", got, seq, err)
	}

	short, cancelShort := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancelShort()
	if _, _, err := slot.Next(short, seq); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline while no newer frame exists, got %v", err)
	}
}

// gatedProvider blocks its first Detect until release is closed.
type gatedProvider struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *gatedProvider) Detect(image.Image) ([]types.DetectedFace, error) {
	p.once.Do(func() { close(p.entered) })
	<-p.release
	return []types.DetectedFace{{
		Box:      types.BoundingBox{Top: 2, Right: 10, Bottom: 10, Left: 2},
		Encoding: []float64{0, 0},
	}}, nil
}

func (p *gatedProvider) Close() error { return nil }

func TestDriver_StopDuringDetectionStillRecords(t *testing.T) {
	h := newHarness(t, -1, []float64{0, 0}, nil)
	gp := &gatedProvider{entered: make(chan struct{}), release: make(chan struct{})}
	h.driver.provider = gp
	every, err := sampler.New(1, 0.25)
	if err != nil {
		t.Fatal(err)
	}
	h.driver.sampler = every

	if err := h.driver.Start(capture.Selector{Index: 0}); err != nil {
		t.Fatal(err)
	}
	select {
	case <-gp.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("detection never started")
	}

	if err := h.driver.Stop(); err != nil {
		t.Fatal(err)
	}
	close(gp.release)

	if err := h.driver.Wait(); err != nil {
		t.Fatalf("operator stop should end cleanly, got %v", err)
	}
	records, err := h.ledger.QueryAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].Name != "alice" {
		t.Errorf("the in-flight iteration should record alice, got %+v", records)
	}
	if n := countType(h.drain(), events.TypeError); n != 0 {
		t.Errorf("expected no error events, got %d", n)
	}
}
