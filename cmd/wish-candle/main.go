package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/petems/wish-candle/internal/app"
	"github.com/petems/wish-candle/internal/audio"
	"github.com/petems/wish-candle/internal/config"
	"github.com/petems/wish-candle/internal/detector"
	"github.com/petems/wish-candle/internal/hotkey"
	"github.com/petems/wish-candle/internal/logging"
	"github.com/petems/wish-candle/internal/observe"
	"github.com/petems/wish-candle/internal/share"
	"github.com/petems/wish-candle/internal/tray"
)

var (
	// Version is set via ldflags at build time
	Version = "dev"
	// Commit is set via ldflags at build time
	Commit = "unknown"
)

func main() {
	// Load config from XDG/Library/AppData
	cfg, err := config.Load()
	if err != nil {
		// Use default logger if config fails to load
		log := logging.New()
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	// Initialize logger with configured level
	log := logging.NewWithLevel(cfg.LogLevel)

	mp, reader := observe.NewProvider()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize metrics")
	}

	// A missing microphone only disables listening; Blow and the cake still work
	capture, err := audio.New(cfg.Audio, log)
	if err != nil {
		log.Warn().Err(err).Msg("Audio unavailable, blow detection disabled")
	}
	defer capture.Close()

	monitor := audio.NewMonitor(capture, cfg.Detector.BufferSize, log)
	det := detector.New(monitor, detector.Options{
		ThresholdRMS:  cfg.Detector.ThresholdRMS,
		ConfirmFrames: cfg.Detector.ConfirmFrames,
		Frames:        detector.Ticker{Interval: cfg.Detector.FrameInterval()},
		Metrics:       metrics,
		Logger:        log,
	})

	// Create tray UI first (we'll pass it to the controller)
	trayUI := tray.New(tray.Config{
		Devices: capture,
		Sharer:  share.New(),
		Logger:  log,
		LogPath: logging.LogPath(),
		Version: Version,
		Commit:  Commit,
	})

	ctrl := app.New(app.Config{
		Detector:      det,
		UI:            trayUI,
		Logger:        log,
		PromptWindow:  cfg.PromptWindow(),
		ConfettiCount: cfg.ConfettiCount,
	})
	det.SetEvents(ctrl)

	// Set controller reference in tray
	trayUI.SetController(ctrl)

	// Global hotkey blows out the candle
	hkManager, err := hotkey.New()
	if err != nil {
		log.Warn().Err(err).Msg("Hotkeys unavailable")
	} else {
		defer hkManager.Close()
		if err := hkManager.Register(cfg.PlatformHotkey(), func(pressed bool) {
			if pressed {
				ctrl.ManualBlow()
			}
		}); err != nil {
			log.Warn().Err(err).Str("hotkey", cfg.PlatformHotkey()).Msg("Failed to register hotkey")
		}
	}

	log.Info().Str("version", Version).Msg("Wish Candle starting...")

	// Setup shutdown signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("Shutting down...")
		trayUI.Quit()
	}()

	// Start tray UI - MUST run on main thread
	trayUI.Run(ctrl.Start)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := ctrl.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	totals, err := observe.Totals(ctx, reader)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to collect metrics")
	} else {
		log.Info().
			Int64("evaluations", totals[observe.EvaluationsMetric]).
			Int64("detections", totals[observe.DetectionsMetric]).
			Int64("mic_errors", totals[observe.MicErrorsMetric]).
			Str("state", ctrl.State().String()).
			Int("wishes", ctrl.Wishes()).
			Msg("Session summary")
	}

	if err := mp.Shutdown(ctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		log.Warn().Err(err).Msg("Metrics shutdown error")
	}
}
