package detector

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/petems/wish-candle/internal/audio"
	"github.com/petems/wish-candle/internal/audio/mock"
	"github.com/petems/wish-candle/internal/observe"
	"github.com/rs/zerolog"
)

// manualFrames lets a test decide exactly when each frame happens.
type manualFrames struct {
	ch chan time.Time
}

func newManualFrames() *manualFrames {
	return &manualFrames{ch: make(chan time.Time)}
}

func (m *manualFrames) Frames() (<-chan time.Time, func()) {
	return m.ch, func() {}
}

// tick delivers one frame and reports whether a sampling loop accepted it.
func (m *manualFrames) tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(50 * time.Millisecond):
		return false
	}
}

type recorder struct {
	mu     sync.Mutex
	blows  []float64
	ends   int
	blowCh chan float64
	endCh  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{
		blowCh: make(chan float64, 8),
		endCh:  make(chan struct{}, 8),
	}
}

func (r *recorder) BlowDetected(level float64) {
	r.mu.Lock()
	r.blows = append(r.blows, level)
	r.mu.Unlock()
	r.blowCh <- level
}

func (r *recorder) ListeningEnded() {
	r.mu.Lock()
	r.ends++
	r.mu.Unlock()
	r.endCh <- struct{}{}
}

func (r *recorder) blowCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.blows)
}

func (r *recorder) endCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ends
}

func (r *recorder) waitBlow(t *testing.T) float64 {
	t.Helper()
	select {
	case level := <-r.blowCh:
		return level
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for blow detection")
		return 0
	}
}

func (r *recorder) waitEnded(t *testing.T) {
	t.Helper()
	select {
	case <-r.endCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listening to end")
	}
}

func newTestDetector(t *testing.T, mic *mock.Microphone, confirm int) (*Detector, *manualFrames, *recorder) {
	t.Helper()
	return newThresholdDetector(t, mic, confirm, 0.07)
}

func newThresholdDetector(t *testing.T, mic *mock.Microphone, confirm int, threshold float64) (*Detector, *manualFrames, *recorder) {
	t.Helper()
	mp, _ := observe.NewProvider()
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	frames := newManualFrames()
	det := New(audio.NewMonitor(mic, 64, zerolog.Nop()), Options{
		ThresholdRMS:  threshold,
		ConfirmFrames: confirm,
		Frames:        frames,
		Metrics:       metrics,
		Logger:        zerolog.Nop(),
	})
	rec := newRecorder()
	det.SetEvents(rec)
	t.Cleanup(det.StopListening)
	return det, frames, rec
}

func TestDetectsFirstLoudSample(t *testing.T) {
	mic := &mock.Microphone{Levels: []float64{0.01, 0.02, 0.09, 0.5}}
	det, frames, rec := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		if !frames.tick() {
			t.Fatalf("frame %d was not accepted", i)
		}
	}

	level := rec.waitBlow(t)
	if math.Abs(level-0.09) > 1e-6 {
		t.Errorf("expected detection at the 0.09 sample, got %f", level)
	}

	// The loop is gone, later loud samples are never evaluated
	if frames.tick() {
		t.Error("sampling loop should have stopped after detection")
	}
	if mic.Reads() != 3 {
		t.Errorf("expected detection on read index 2 (3 reads), got %d reads", mic.Reads())
	}
	if rec.blowCount() != 1 {
		t.Errorf("expected exactly one detection, got %d", rec.blowCount())
	}
	if mic.OpenStreams() != 0 {
		t.Error("capture session should be closed after detection")
	}
	if !det.Triggered() {
		t.Error("detector should be triggered")
	}
}

func TestDetectionIsOneShot(t *testing.T) {
	mic := &mock.Microphone{Levels: []float64{0.5, 0.5, 0.5, 0.5}}
	det, frames, rec := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	frames.tick()
	rec.waitBlow(t)

	err := det.StartListening(context.Background(), 0)
	if !errors.Is(err, ErrTriggered) {
		t.Fatalf("expected ErrTriggered, got %v", err)
	}
	frames.tick()

	if rec.blowCount() != 1 {
		t.Errorf("expected one detection, got %d", rec.blowCount())
	}
	if mic.CallCountRequestAccess != 1 {
		t.Errorf("expected no new capture session after trigger, got %d requests", mic.CallCountRequestAccess)
	}
}

func TestQuietWindowExpiresWithoutDetection(t *testing.T) {
	mic := &mock.Microphone{Levels: []float64{0.01, 0.05, 0.03, 0.02}}
	det, frames, rec := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), 40*time.Millisecond); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		frames.tick()
	}

	rec.waitEnded(t)

	if rec.blowCount() != 0 {
		t.Errorf("expected no detection, got %d", rec.blowCount())
	}
	if det.Listening() {
		t.Error("detector should stop listening when the window expires")
	}
	if mic.OpenStreams() != 0 {
		t.Error("capture session should be closed when the window expires")
	}
}

func TestStopListeningSuppressesQueuedLoudSamples(t *testing.T) {
	mic := &mock.Microphone{Levels: []float64{0.9, 0.9, 0.9}}
	det, frames, rec := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	det.StopListening()

	for i := 0; i < 3; i++ {
		frames.tick()
	}
	time.Sleep(20 * time.Millisecond)

	if rec.blowCount() != 0 {
		t.Errorf("expected no detection after stop, got %d", rec.blowCount())
	}
	if mic.Reads() != 0 {
		t.Errorf("expected no evaluation after stop, got %d reads", mic.Reads())
	}
	if mic.OpenStreams() != 0 {
		t.Error("capture session should be closed after stop")
	}

	// Idempotent
	det.StopListening()
}

func TestStartListeningReusesSession(t *testing.T) {
	mic := &mock.Microphone{}
	det, _, _ := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), time.Second); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("second StartListening failed: %v", err)
	}

	if mic.CallCountRequestAccess != 1 {
		t.Errorf("expected one access request, got %d", mic.CallCountRequestAccess)
	}
	if mic.OpenStreams() != 1 {
		t.Errorf("expected one open stream, got %d", mic.OpenStreams())
	}
}

func TestWindowExpiryKeepsUnboundedListener(t *testing.T) {
	mic := &mock.Microphone{}
	det, _, rec := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	if err := det.StartListening(context.Background(), 20*time.Millisecond); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}

	rec.waitEnded(t)

	if !det.Listening() || !det.Unbounded() {
		t.Error("unbounded listener should survive the window")
	}
	if mic.OpenStreams() != 1 {
		t.Error("capture session should stay open for the unbounded listener")
	}

	det.StopListening()
	if det.Listening() || mic.OpenStreams() != 0 {
		t.Error("StopListening should close everything")
	}
}

func TestReArmingWindowExtendsListening(t *testing.T) {
	mic := &mock.Microphone{}
	det, _, rec := newTestDetector(t, mic, 1)

	if err := det.StartListening(context.Background(), 50*time.Millisecond); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	if err := det.StartListening(context.Background(), 200*time.Millisecond); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	time.Sleep(60 * time.Millisecond)

	if !det.Listening() {
		t.Fatal("re-armed window should still be listening")
	}

	rec.waitEnded(t)
	time.Sleep(20 * time.Millisecond)
	if rec.endCount() != 1 {
		t.Errorf("expected one listening-ended event, got %d", rec.endCount())
	}
}

func TestConfirmFramesRequiresConsecutiveLoudSamples(t *testing.T) {
	mic := &mock.Microphone{Levels: []float64{0.09, 0.01, 0.2, 0.3}}
	det, frames, rec := newTestDetector(t, mic, 2)

	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	for i := 0; i < 4; i++ {
		if !frames.tick() {
			t.Fatalf("frame %d was not accepted", i)
		}
	}

	level := rec.waitBlow(t)
	if math.Abs(level-0.3) > 1e-6 {
		t.Errorf("expected detection on the second consecutive loud sample, got %f", level)
	}
	if mic.Reads() != 4 {
		t.Errorf("expected 4 reads, got %d", mic.Reads())
	}
}

func TestStartListeningPropagatesMicErrors(t *testing.T) {
	for _, want := range []error{audio.ErrPermissionDenied, audio.ErrDeviceUnavailable} {
		t.Run(want.Error(), func(t *testing.T) {
			mic := &mock.Microphone{AccessError: want}
			det, _, _ := newTestDetector(t, mic, 1)

			err := det.StartListening(context.Background(), time.Second)
			if !errors.Is(err, want) {
				t.Fatalf("expected %v, got %v", want, err)
			}
			if det.Listening() {
				t.Error("detector should not listen after a failed open")
			}
		})
	}
}

func TestLevelAtThresholdIsNotABlow(t *testing.T) {
	// 0.0625 is exact in float32 and float64, so the RMS equals the threshold
	mic := &mock.Microphone{Levels: []float64{0.0625, 0.0625, 0.0626}}
	det, frames, rec := newThresholdDetector(t, mic, 1, 0.0625)

	if err := det.StartListening(context.Background(), 0); err != nil {
		t.Fatalf("StartListening failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if !frames.tick() {
			t.Fatalf("frame %d was not accepted", i)
		}
	}
	if rec.blowCount() != 0 || det.Triggered() {
		t.Fatal("a level equal to the threshold must not count as a blow")
	}

	frames.tick()
	if level := rec.waitBlow(t); level <= 0.0625 {
		t.Errorf("expected detection above the threshold, got %f", level)
	}
}

func TestStopListeningDuringPendingGrant(t *testing.T) {
	gate := make(chan struct{})
	mic := &mock.Microphone{Gate: gate, Levels: []float64{0.9}}
	det, frames, rec := newTestDetector(t, mic, 1)

	started := make(chan error, 1)
	go func() { started <- det.StartListening(context.Background(), 0) }()
	for mic.Requests() == 0 {
		time.Sleep(time.Millisecond)
	}

	stopped := make(chan struct{})
	go func() {
		det.StopListening()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("StopListening blocked behind a pending microphone grant")
	}
	if det.Listening() {
		t.Error("detector should not report listening while access is pending")
	}

	close(gate)
	if err := <-started; !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if mic.OpenStreams() != 0 {
		t.Error("stream granted after stop should be released")
	}
	if frames.tick() || rec.blowCount() != 0 {
		t.Error("no sampling should start for a dropped grant")
	}
}

func TestConcurrentStartsShareOneGrant(t *testing.T) {
	gate := make(chan struct{})
	mic := &mock.Microphone{Gate: gate}
	det, _, _ := newTestDetector(t, mic, 1)

	results := make(chan error, 2)
	go func() { results <- det.StartListening(context.Background(), 0) }()
	for mic.Requests() == 0 {
		time.Sleep(time.Millisecond)
	}
	go func() { results <- det.StartListening(context.Background(), time.Second) }()
	time.Sleep(10 * time.Millisecond)
	close(gate)

	for i := 0; i < 2; i++ {
		if err := <-results; err != nil {
			t.Fatalf("StartListening failed: %v", err)
		}
	}
	if mic.Requests() != 1 || mic.OpenStreams() != 1 {
		t.Errorf("expected one shared session, got %d requests and %d streams", mic.Requests(), mic.OpenStreams())
	}
	if !det.Unbounded() {
		t.Error("the open-ended request should hold the session")
	}
}

func TestTickerFrames(t *testing.T) {
	frames, stop := Ticker{Interval: time.Millisecond}.Frames()
	defer stop()

	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("ticker produced no frame")
	}
}
