package tray

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/getlantern/systray"
	"github.com/ncruces/zenity"
	"github.com/petems/wish-candle/internal/app"
	"github.com/petems/wish-candle/internal/audio"
	"github.com/petems/wish-candle/internal/share"
	"github.com/pkg/browser"
	"github.com/rs/zerolog"
)

// Controller is the set of user intents the tray menu produces
type Controller interface {
	PromptWish(ctx context.Context) error
	ManualBlow()
	ToggleMic(ctx context.Context) error
	CakeClicked()
	State() app.State
	Wishes() int
}

// Devices lists and selects microphones
type Devices interface {
	ListDevices() ([]audio.AudioDevice, error)
	SetDevice(id string)
}

type Config struct {
	Devices Devices
	Sharer  share.Sharer
	Logger  zerolog.Logger
	LogPath string
	Version string
	Commit  string
}

var confettiPieces = []string{"🟨", "🟥", "🟩", "🟦", "🟧"}

const (
	confettiDuration = 2200 * time.Millisecond
	confettiFrame    = 110 * time.Millisecond
	confettiWidth    = 6
)

// model is what the tray currently shows
type model struct {
	status      string
	micLabel    string
	highlighted bool
	candleOut   bool
	smoke       bool
	confetti    string
}

type UI struct {
	ctrl    Controller
	devices Devices
	sharer  share.Sharer
	log     zerolog.Logger
	logPath string
	version string
	commit  string

	mu         sync.Mutex
	state      model
	ready      bool
	burstSeq   int
	burstLen   time.Duration
	burstFrame time.Duration

	// Menu items
	mStatus *systray.MenuItem
	mWish   *systray.MenuItem
	mBlow   *systray.MenuItem
	mMic    *systray.MenuItem
	mCake   *systray.MenuItem
	mDevice *systray.MenuItem
	mShare  *systray.MenuItem
}

func New(cfg Config) *UI {
	return &UI{
		devices:    cfg.Devices,
		sharer:     cfg.Sharer,
		log:        cfg.Logger.With().Str("component", "tray").Logger(),
		logPath:    cfg.LogPath,
		version:    cfg.Version,
		commit:     cfg.Commit,
		burstLen:   confettiDuration,
		burstFrame: confettiFrame,
		state: model{
			status:   app.StatusIdle,
			micLabel: app.LabelStartMic,
		},
	}
}

// SetController sets the controller reference (for circular dependency resolution)
func (u *UI) SetController(ctrl Controller) {
	u.ctrl = ctrl
}

// Run blocks on the systray event loop. onReady runs once the menu exists.
func (u *UI) Run(onReady func()) {
	systray.Run(func() {
		u.buildMenu()
		if onReady != nil {
			onReady()
		}
	}, u.onExit)
}

// Quit ends the tray event loop
func (u *UI) Quit() {
	systray.Quit()
}

// UI collaborator methods for the controller to call

func (u *UI) SetStatusText(s string) {
	u.update(func(m *model) { m.status = s })
}

func (u *UI) SetFlameHighlighted(on bool) {
	u.update(func(m *model) { m.highlighted = on })
}

func (u *UI) SetCandleOut(out bool) {
	u.update(func(m *model) { m.candleOut = out })
}

func (u *UI) SetSmokeVisible(visible bool) {
	u.update(func(m *model) { m.smoke = visible })
}

func (u *UI) SetMicButtonLabel(s string) {
	u.update(func(m *model) { m.micLabel = s })
}

// SpawnConfettiBurst animates count pieces of confetti across the title.
func (u *UI) SpawnConfettiBurst(count int) {
	if count <= 0 {
		return
	}

	u.mu.Lock()
	u.burstSeq++
	seq := u.burstSeq
	length, frame := u.burstLen, u.burstFrame
	u.mu.Unlock()

	go func() {
		rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(seq)))
		ticker := time.NewTicker(frame)
		defer ticker.Stop()
		deadline := time.Now().Add(length)

		pieces := min(count, confettiWidth)
		for {
			if !u.confettiStep(seq, confettiBurstFrame(rng, pieces)) {
				return
			}
			if time.Now().After(deadline) {
				u.confettiStep(seq, "")
				return
			}
			<-ticker.C
		}
	}()
}

// Title returns the current tray title
func (u *UI) Title() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return composeTitle(u.state)
}

// confettiStep shows frame unless a newer burst took over.
func (u *UI) confettiStep(seq int, frame string) bool {
	u.mu.Lock()
	if seq != u.burstSeq {
		u.mu.Unlock()
		return false
	}
	u.state.confetti = frame
	u.mu.Unlock()

	u.render()
	return true
}

func (u *UI) update(fn func(m *model)) {
	u.mu.Lock()
	fn(&u.state)
	u.mu.Unlock()

	u.render()
}

func (u *UI) render() {
	u.mu.Lock()
	if !u.ready {
		u.mu.Unlock()
		return
	}
	m := u.state
	u.mu.Unlock()

	systray.SetTitle(composeTitle(m))
	systray.SetTooltip(m.status)
	u.mStatus.SetTitle(m.status)
	u.mMic.SetTitle(m.micLabel)
	if m.candleOut {
		u.mWish.Disable()
		u.mBlow.Disable()
		u.mMic.Disable()
		u.mCake.Disable()
		u.mShare.Enable()
	} else {
		u.mShare.Disable()
	}
}

func (u *UI) buildMenu() {
	u.mStatus = systray.AddMenuItem(app.StatusIdle, "Status")
	u.mStatus.Disable()
	systray.AddSeparator()

	u.mWish = systray.AddMenuItem("Make a Wish", "Listen for a blow for a few seconds")
	u.mBlow = systray.AddMenuItem("Blow", "Blow out the candle")
	u.mMic = systray.AddMenuItem(app.LabelStartMic, "Keep the microphone open")
	u.mCake = systray.AddMenuItem("🎂 Cake", "Click the cake")
	systray.AddSeparator()

	u.mDevice = systray.AddMenuItem("Microphone", "Select audio device")
	u.buildDeviceMenu()

	u.mShare = systray.AddMenuItem("Share Celebration", "Copy the celebration to the clipboard")
	u.mShare.Disable()

	systray.AddSeparator()
	mLogs := systray.AddMenuItem("Open Logs", "View application logs")
	mAbout := systray.AddMenuItem("About", "About Wish Candle")
	mQuit := systray.AddMenuItem("Quit", "Exit application")

	u.mu.Lock()
	u.ready = true
	u.mu.Unlock()
	u.render()

	// Event loop
	go u.handleEvents(mLogs, mAbout, mQuit)
}

func (u *UI) handleEvents(mLogs, mAbout, mQuit *systray.MenuItem) {
	for {
		select {
		case <-u.mWish.ClickedCh:
			go u.runIntent("prompt", u.ctrl.PromptWish)
		case <-u.mBlow.ClickedCh:
			go u.ctrl.ManualBlow()
		case <-u.mMic.ClickedCh:
			go u.runIntent("toggle-mic", u.ctrl.ToggleMic)
		case <-u.mCake.ClickedCh:
			go u.ctrl.CakeClicked()
		case <-u.mShare.ClickedCh:
			u.shareCelebration()
		case <-mLogs.ClickedCh:
			u.openLogs()
		case <-mAbout.ClickedCh:
			go u.showAbout()
		case <-mQuit.ClickedCh:
			systray.Quit()
			return
		}
	}
}

// runIntent runs a microphone intent off the event loop; access requests can
// block on the OS permission prompt.
func (u *UI) runIntent(name string, intent func(ctx context.Context) error) {
	err := intent(context.Background())
	if err == nil {
		return
	}
	u.log.Warn().Err(err).Str("intent", name).Msg("Microphone unavailable, use Blow instead")
	if errors.Is(err, audio.ErrPermissionDenied) {
		zenity.Warning("Wish Candle needs microphone access to hear you blow.\nYou can still click Blow.",
			zenity.Title("Microphone permission denied"),
			zenity.WarningIcon)
	}
}

func (u *UI) buildDeviceMenu() {
	if u.devices == nil {
		u.mDevice.Disable()
		return
	}

	devices, err := u.devices.ListDevices()
	if err != nil {
		u.log.Error().Err(err).Msg("Failed to list audio devices")
		u.mDevice.Disable()
		return
	}

	var mu sync.Mutex
	deviceItems := make(map[string]*systray.MenuItem)

	for _, dev := range devices {
		item := u.mDevice.AddSubMenuItem(dev.Name, "")
		if dev.Default {
			item.Check()
		}
		deviceItems[dev.ID] = item

		go func(deviceID, deviceName string, menuItem *systray.MenuItem) {
			for range menuItem.ClickedCh {
				mu.Lock()
				// Uncheck all other items
				for id, itm := range deviceItems {
					if id != deviceID {
						itm.Uncheck()
					}
				}
				mu.Unlock()
				menuItem.Check()
				// Session only, the next capture session picks it up
				u.devices.SetDevice(deviceID)
				u.log.Info().Str("device", deviceName).Msg("Changed audio device")
			}
		}(dev.ID, dev.Name, item)
	}
}

func (u *UI) shareCelebration() {
	if u.sharer == nil || u.ctrl.State() != app.Extinguished {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := u.sharer.Copy(ctx, share.Celebration(u.ctrl.Wishes())); err != nil {
		u.log.Error().Err(err).Msg("Share failed")
		return
	}
	u.log.Info().Msg("Celebration copied to clipboard")
}

func (u *UI) openLogs() {
	if err := browser.OpenFile(u.logPath); err != nil {
		u.log.Error().Err(err).Str("path", u.logPath).Msg("Failed to open logs")
	}
}

func (u *UI) showAbout() {
	text := fmt.Sprintf("Wish Candle %s (%s)\nMake a wish and blow out the candle.", u.version, u.commit)
	if err := zenity.Info(text, zenity.Title("About Wish Candle"), zenity.InfoIcon); err != nil && !errors.Is(err, zenity.ErrCanceled) {
		u.log.Error().Err(err).Msg("Failed to show about dialog")
	}
}

func (u *UI) onExit() {
	u.mu.Lock()
	u.ready = false
	u.burstSeq++ // stops a running confetti burst
	u.mu.Unlock()
}

// composeTitle renders the candle, its flame state and any confetti
func composeTitle(m model) string {
	var b strings.Builder
	b.WriteString("🎂 ")
	switch {
	case m.candleOut && m.smoke:
		b.WriteString("💨")
	case m.candleOut:
		b.WriteString("🕯")
	case m.highlighted:
		b.WriteString("✨🕯️✨")
	default:
		b.WriteString("🕯️")
	}
	if m.confetti != "" {
		b.WriteString(" ")
		b.WriteString(m.confetti)
	}
	return b.String()
}

// confettiBurstFrame picks n random pieces
func confettiBurstFrame(rng *rand.Rand, n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString(confettiPieces[rng.IntN(len(confettiPieces))])
	}
	return b.String()
}
