package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/petems/wish-candle/internal/audio"
	"github.com/rs/zerolog"
)

type State int

const (
	Idle State = iota
	Listening
	Extinguished
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Extinguished:
		return "extinguished"
	default:
		return "unknown"
	}
}

const (
	StatusIdle          = "Idle"
	StatusMakeAWish     = "Make a wish..."
	StatusListening     = "Listening for blow..."
	StatusListeningDone = "Listening ended"
	StatusMicActive     = "Mic active — blow into mic"
	StatusExtinguished  = "Make a wish — Candle extinguished!"

	LabelStartMic = "Start Mic (optional)"
	LabelStopMic  = "Stop Mic"
)

// UI is the set of visual collaborators the controller drives (e.g. the tray).
type UI interface {
	SetStatusText(s string)
	SetFlameHighlighted(on bool)
	SetCandleOut(out bool)
	SetSmokeVisible(visible bool)
	SpawnConfettiBurst(count int)
	SetMicButtonLabel(s string)
}

// Detector is the blow detector the controller starts and stops.
type Detector interface {
	StartListening(ctx context.Context, window time.Duration) error
	StopListening()
	Listening() bool
}

type Config struct {
	Detector      Detector
	UI            UI
	Logger        zerolog.Logger
	PromptWindow  time.Duration
	ConfettiCount int
}

// Controller turns user intents and detector signals into the candle session.
type Controller struct {
	det      Detector
	ui       UI
	log      zerolog.Logger
	window   time.Duration
	confetti int

	mu     sync.Mutex
	state  State
	micOn  bool
	closed bool
	wishes int
	// generation advances on every intent that changes who owns the mic, so a
	// late access grant can tell it was superseded.
	generation uint64
}

func New(cfg Config) *Controller {
	if cfg.PromptWindow <= 0 {
		cfg.PromptWindow = 6 * time.Second
	}
	if cfg.ConfettiCount < 0 {
		cfg.ConfettiCount = 0
	}
	return &Controller{
		det:      cfg.Detector,
		ui:       cfg.UI,
		log:      cfg.Logger.With().Str("component", "controller").Logger(),
		window:   cfg.PromptWindow,
		confetti: cfg.ConfettiCount,
		state:    Idle,
	}
}

// Start paints the initial UI.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.ui.SetCandleOut(false)
	c.ui.SetSmokeVisible(false)
	c.ui.SetFlameHighlighted(false)
	c.ui.SetMicButtonLabel(LabelStartMic)
	c.ui.SetStatusText(StatusIdle)
}

// PromptWish opens a bounded listening window and highlights the flame.
func (c *Controller) PromptWish(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Extinguished {
		c.mu.Unlock()
		c.log.Debug().Msg("Prompt ignored, candle already out")
		return nil
	}
	c.wishes++
	c.ui.SetStatusText(StatusMakeAWish)
	c.ui.SetFlameHighlighted(true)
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	c.log.Info().Dur("window", c.window).Msg("Make a wish")
	err := c.det.StartListening(ctx, c.window)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		// The candle went out or the mic was toggled while access was pending
		c.dropLateSessionLocked(err)
		return nil
	}
	if err != nil {
		c.failLocked(err)
		return err
	}

	c.state = Listening
	c.ui.SetStatusText(StatusListening)
	return nil
}

// ToggleMic starts open-ended listening, or stops all listening when active.
func (c *Controller) ToggleMic(ctx context.Context) error {
	c.mu.Lock()
	if c.state == Extinguished {
		c.mu.Unlock()
		c.log.Debug().Msg("Mic toggle ignored, candle already out")
		return nil
	}
	c.generation++
	gen := c.generation

	if c.state == Listening {
		c.det.StopListening()
		c.state = Idle
		c.micOn = false
		c.ui.SetFlameHighlighted(false)
		c.ui.SetMicButtonLabel(LabelStartMic)
		c.ui.SetStatusText(StatusIdle)
		c.mu.Unlock()
		c.log.Info().Msg("Microphone stopped")
		return nil
	}
	c.mu.Unlock()

	err := c.det.StartListening(ctx, 0)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.generation != gen {
		if err == nil && c.state != Extinguished && !c.closed {
			// A wish prompt took over while access was pending; the open-ended
			// listener still holds the mic
			c.state = Listening
			c.micOn = true
			c.ui.SetMicButtonLabel(LabelStopMic)
			return nil
		}
		c.dropLateSessionLocked(err)
		return nil
	}
	if err != nil {
		c.failLocked(err)
		return err
	}

	c.state = Listening
	c.micOn = true
	c.ui.SetMicButtonLabel(LabelStopMic)
	c.ui.SetStatusText(StatusMicActive)
	c.log.Info().Msg("Microphone active")
	return nil
}

// ManualBlow extinguishes the candle regardless of the detector.
func (c *Controller) ManualBlow() {
	c.log.Info().Msg("Manual blow")
	c.extinguish()
}

// CakeClicked is the same as a manual blow.
func (c *Controller) CakeClicked() {
	c.log.Info().Msg("Cake clicked")
	c.extinguish()
}

// BlowDetected implements detector.Events.
func (c *Controller) BlowDetected(level float64) {
	c.log.Info().Float64("rms", level).Msg("Blow heard")
	c.extinguish()
}

// ListeningEnded implements detector.Events.
func (c *Controller) ListeningEnded() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Listening {
		return
	}
	if c.det.Listening() {
		// The open-ended mic is still on
		c.ui.SetFlameHighlighted(false)
		c.ui.SetStatusText(StatusMicActive)
		return
	}

	c.state = Idle
	c.micOn = false
	c.ui.SetFlameHighlighted(false)
	c.ui.SetMicButtonLabel(LabelStartMic)
	c.ui.SetStatusText(StatusListeningDone)
	c.log.Info().Msg("Listening ended")
}

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Wishes returns how many wishes were made this session.
func (c *Controller) Wishes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wishes
}

// MicOn reports whether open-ended listening is active.
func (c *Controller) MicOn() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.micOn
}

// Shutdown releases the microphone.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.closed = true
	c.det.StopListening()
	if c.state == Listening {
		c.state = Idle
	}
	return nil
}

func (c *Controller) extinguish() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Extinguished {
		return
	}
	c.state = Extinguished
	c.micOn = false
	c.generation++

	c.det.StopListening()

	c.ui.SetFlameHighlighted(false)
	c.ui.SetCandleOut(true)
	c.ui.SetSmokeVisible(true)
	c.ui.SetMicButtonLabel(LabelStartMic)
	c.ui.SetStatusText(StatusExtinguished)
	c.ui.SpawnConfettiBurst(c.confetti)
	c.log.Info().Msg("Candle extinguished")
}

// dropLateSessionLocked stops a capture session granted to a superseded
// intent once nobody may use it anymore.
func (c *Controller) dropLateSessionLocked(err error) {
	if err == nil && (c.state == Extinguished || c.closed) {
		c.det.StopListening()
	}
}

// failLocked leaves the session usable without a microphone.
func (c *Controller) failLocked(err error) {
	c.log.Error().Err(err).Msg("Microphone error")
	c.state = Idle
	c.micOn = false
	c.ui.SetFlameHighlighted(false)
	c.ui.SetMicButtonLabel(LabelStartMic)
	c.ui.SetStatusText(MicErrorText(err))
}

// MicErrorText renders err for the status line.
func MicErrorText(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Mic error: " + audio.ErrPermissionDenied.Error()
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "Mic error: " + audio.ErrDeviceUnavailable.Error()
	default:
		return fmt.Sprintf("Mic error: %v", err)
	}
}
