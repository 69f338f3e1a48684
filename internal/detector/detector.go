package detector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/petems/wish-candle/internal/audio"
	"github.com/petems/wish-candle/internal/observe"
	"github.com/rs/zerolog"
)

// ErrTriggered is returned when listening is requested after the one-shot
// blow event has already fired.
var ErrTriggered = errors.New("blow already detected")

// ErrStopped is returned when StopListening or a detection happens while the
// microphone grant is still pending.
var ErrStopped = errors.New("listening stopped while opening microphone")

// Monitor is the capture side the detector drives. *audio.Monitor satisfies it.
type Monitor interface {
	Open(ctx context.Context) error
	IsOpen() bool
	Sample() (float64, error)
	Close() error
}

// Events receives detector signals. Callbacks run on the sampling goroutine
// or the window timer, never while the detector holds its lock.
type Events interface {
	BlowDetected(level float64)
	ListeningEnded()
}

type Options struct {
	ThresholdRMS  float64
	ConfirmFrames int
	Frames        FrameSource
	Metrics       *observe.Metrics
	Logger        zerolog.Logger
}

// Detector watches loudness once per frame and fires a single blow event when
// it crosses the threshold.
type Detector struct {
	monitor   Monitor
	threshold float64
	confirm   int
	frames    FrameSource
	metrics   *observe.Metrics
	log       zerolog.Logger

	mu        sync.Mutex
	events    Events
	episode   *episode
	window    *window
	windowSeq uint64
	unbounded bool
	triggered bool
	loud      int

	// opening is closed when the pending monitor open finishes.
	opening chan struct{}
	stops   uint64
}

// episode is one run of the sampling loop.
type episode struct {
	stop chan struct{}
}

// window bounds a listening episode in time.
type window struct {
	timer    *time.Timer
	started  time.Time
	duration time.Duration
}

func New(monitor Monitor, opts Options) *Detector {
	if opts.ThresholdRMS <= 0 {
		opts.ThresholdRMS = 0.07
	}
	if opts.ConfirmFrames < 1 {
		opts.ConfirmFrames = 1
	}
	if opts.Frames == nil {
		opts.Frames = Ticker{Interval: time.Second / 60}
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.Default()
	}
	return &Detector{
		monitor:   monitor,
		threshold: opts.ThresholdRMS,
		confirm:   opts.ConfirmFrames,
		frames:    opts.Frames,
		metrics:   opts.Metrics,
		log:       opts.Logger.With().Str("component", "detector").Logger(),
	}
}

// SetEvents registers the receiver of detector signals.
func (d *Detector) SetEvents(e Events) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = e
}

// StartListening opens the capture session if needed and starts sampling.
// A positive window bounds this request; zero keeps listening until
// StopListening. An already open session is reused. The detector lock is
// released while access is pending; if StopListening or a detection happens
// meanwhile, the grant is dropped and ErrStopped returned.
func (d *Detector) StartListening(ctx context.Context, limit time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	stops := d.stops
	for {
		if d.triggered {
			return ErrTriggered
		}
		if d.monitor.IsOpen() {
			break
		}
		if d.opening == nil {
			if err := d.openLocked(ctx); err != nil {
				return err
			}
			continue
		}

		// Another request is waiting for the grant
		pending := d.opening
		d.mu.Unlock()
		select {
		case <-pending:
			d.mu.Lock()
			if d.stops != stops {
				return ErrStopped
			}
		case <-ctx.Done():
			d.mu.Lock()
			return ctx.Err()
		}
	}

	if d.episode == nil {
		d.loud = 0
		ep := &episode{stop: make(chan struct{})}
		d.episode = ep
		frames, stopFrames := d.frames.Frames()
		go d.run(ep, frames, stopFrames)
	}

	if limit > 0 {
		d.armWindowLocked(limit)
	} else {
		d.unbounded = true
	}

	d.log.Debug().
		Dur("window", limit).
		Bool("unbounded", d.unbounded).
		Msg("Listening for blow")
	return nil
}

// StopListening halts sampling, cancels any window and closes the capture
// session. No evaluation fires after it returns.
func (d *Detector) StopListening() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked("stopped")
}

// Listening reports whether the sampling loop is active.
func (d *Detector) Listening() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.episode != nil
}

// Unbounded reports whether an open-ended listener holds the session.
func (d *Detector) Unbounded() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unbounded
}

// Triggered reports whether the blow event has fired.
func (d *Detector) Triggered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.triggered
}

// openLocked opens the monitor with d.mu released, so StopListening and
// detection never wait on the platform access request.
func (d *Detector) openLocked(ctx context.Context) error {
	pending := make(chan struct{})
	d.opening = pending
	stops := d.stops

	d.mu.Unlock()
	err := d.monitor.Open(ctx)
	d.mu.Lock()

	d.opening = nil
	close(pending)

	if d.stops != stops || d.triggered {
		if err == nil {
			if cerr := d.monitor.Close(); cerr != nil {
				d.log.Warn().Err(cerr).Msg("Failed to close late monitor")
			}
		}
		d.log.Debug().Msg("Dropped microphone granted after stop")
		return ErrStopped
	}
	if err != nil {
		d.metrics.RecordMicError(context.Background(), micErrorReason(err))
		return err
	}
	return nil
}

func (d *Detector) armWindowLocked(duration time.Duration) {
	if d.window != nil {
		d.window.timer.Stop()
	}
	d.windowSeq++
	seq := d.windowSeq
	d.window = &window{
		timer:    time.AfterFunc(duration, func() { d.windowExpired(seq) }),
		started:  time.Now(),
		duration: duration,
	}
}

func (d *Detector) windowExpired(seq uint64) {
	d.mu.Lock()
	if d.window == nil || seq != d.windowSeq {
		// Re-armed or stopped in the meantime
		d.mu.Unlock()
		return
	}

	d.log.Debug().
		Dur("duration", d.window.duration).
		Dur("elapsed", time.Since(d.window.started)).
		Msg("Listening window expired")
	d.window = nil
	if !d.unbounded {
		d.stopLocked("expired")
	}
	events := d.events
	d.mu.Unlock()

	if events != nil {
		events.ListeningEnded()
	}
}

func (d *Detector) stopLocked(outcome string) {
	if d.episode != nil {
		close(d.episode.stop)
		d.episode = nil
		d.metrics.RecordWindow(context.Background(), outcome)
	}
	if d.window != nil {
		d.window.timer.Stop()
		d.window = nil
		d.windowSeq++
	}
	d.unbounded = false
	d.loud = 0
	d.stops++

	if err := d.monitor.Close(); err != nil {
		d.log.Warn().Err(err).Msg("Failed to close monitor")
	}
}

type verdict int

const (
	keepGoing verdict = iota
	detected
	ended
	quit
)

func (d *Detector) run(ep *episode, frames <-chan time.Time, stopFrames func()) {
	defer stopFrames()

	for {
		select {
		case <-ep.stop:
			return
		case <-frames:
			level, v, events := d.evaluate(ep)
			switch v {
			case keepGoing:
				continue
			case detected:
				if events != nil {
					events.BlowDetected(level)
				}
			case ended:
				if events != nil {
					events.ListeningEnded()
				}
			}
			return
		}
	}
}

// evaluate takes one loudness sample for ep. The episode check under the lock
// is what keeps a stopped loop from firing.
func (d *Detector) evaluate(ep *episode) (float64, verdict, Events) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.episode != ep || d.triggered {
		return 0, quit, nil
	}

	ctx := context.Background()
	level, err := d.monitor.Sample()
	if err != nil {
		d.log.Error().Err(err).Msg("Sampling failed")
		d.metrics.RecordMicError(ctx, "read")
		d.stopLocked("error")
		return 0, ended, d.events
	}
	d.metrics.RecordEvaluation(ctx, level)

	if level > d.threshold {
		d.loud++
	} else {
		d.loud = 0
	}
	if d.loud < d.confirm {
		return level, keepGoing, nil
	}

	d.triggered = true
	d.metrics.RecordDetection(ctx)
	d.log.Info().Float64("rms", level).Float64("threshold", d.threshold).Msg("Blow detected")
	d.stopLocked("detected")
	return level, detected, d.events
}

func micErrorReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "device_unavailable"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	default:
		return "open"
	}
}
