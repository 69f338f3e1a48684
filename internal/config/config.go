package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"
)

type Config struct {
	LogLevel       string         `json:"log_level"`
	Hotkey         string         `json:"hotkey"`
	HotkeyDarwin   string         `json:"hotkey_darwin"`
	Audio          AudioConfig    `json:"audio"`
	Detector       DetectorConfig `json:"detector"`
	PromptWindowMs int            `json:"prompt_window_ms"`
	ConfettiCount  int            `json:"confetti_count"`
}

type AudioConfig struct {
	DeviceID   string `json:"device_id"`
	SampleRate int    `json:"sample_rate"`
}

// DetectorConfig tunes the blow detector. The defaults reproduce a
// single-frame threshold crossing over a 2048 sample window.
type DetectorConfig struct {
	ThresholdRMS  float64 `json:"threshold_rms"`
	BufferSize    int     `json:"buffer_size"`
	ConfirmFrames int     `json:"confirm_frames"` // consecutive loud frames required
	FrameRate     int     `json:"frame_rate"`     // evaluations per second
}

// MaxBufferSize is the largest detector window; the capture ring holds this
// many of the latest samples.
const MaxBufferSize = 8192

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LogLevel:     "info",
		Hotkey:       "Alt+B",
		HotkeyDarwin: "Ctrl+B",
		Audio: AudioConfig{
			DeviceID:   "",
			SampleRate: 44100,
		},
		Detector:       DefaultDetector(),
		PromptWindowMs: 6000,
		ConfettiCount:  40,
	}
}

// DefaultDetector returns the reference detector tuning.
func DefaultDetector() DetectorConfig {
	return DetectorConfig{
		ThresholdRMS:  0.07,
		BufferSize:    2048,
		ConfirmFrames: 1,
		FrameRate:     60,
	}
}

// Load reads the config from disk or returns defaults. The file is never
// written back; settings changed from the tray last for the session only.
func Load() (*Config, error) {
	return LoadFile(configPath())
}

// LoadFile reads the config at path on top of the defaults. A missing file is
// not an error.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return cfg, nil
	case err != nil:
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if !validLogLevel(c.LogLevel) {
		errs = append(errs, fmt.Errorf("log_level %q is invalid; valid values: %v", c.LogLevel, validLogLevels))
	}
	if c.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", c.Audio.SampleRate))
	}
	d := c.Detector
	if d.ThresholdRMS <= 0 || d.ThresholdRMS > 1 {
		errs = append(errs, fmt.Errorf("detector.threshold_rms must be in (0, 1], got %g", d.ThresholdRMS))
	}
	if d.BufferSize <= 0 || d.BufferSize&(d.BufferSize-1) != 0 {
		errs = append(errs, fmt.Errorf("detector.buffer_size must be a power of two, got %d", d.BufferSize))
	} else if d.BufferSize > MaxBufferSize {
		errs = append(errs, fmt.Errorf("detector.buffer_size must be at most %d, got %d", MaxBufferSize, d.BufferSize))
	}
	if d.ConfirmFrames < 1 {
		errs = append(errs, fmt.Errorf("detector.confirm_frames must be at least 1, got %d", d.ConfirmFrames))
	}
	if d.FrameRate < 1 {
		errs = append(errs, fmt.Errorf("detector.frame_rate must be at least 1, got %d", d.FrameRate))
	}
	if c.PromptWindowMs < 1 {
		errs = append(errs, fmt.Errorf("prompt_window_ms must be positive, got %d", c.PromptWindowMs))
	}
	if c.ConfettiCount < 0 {
		errs = append(errs, fmt.Errorf("confetti_count must not be negative, got %d", c.ConfettiCount))
	}

	return errors.Join(errs...)
}

// PromptWindow is the listening window opened by "Make a Wish".
func (c *Config) PromptWindow() time.Duration {
	return time.Duration(c.PromptWindowMs) * time.Millisecond
}

// FrameInterval is the time between two detector evaluations.
func (d DetectorConfig) FrameInterval() time.Duration {
	if d.FrameRate < 1 {
		return time.Second / 60
	}
	return time.Second / time.Duration(d.FrameRate)
}

// PlatformHotkey returns the appropriate hotkey for the current platform
func (c *Config) PlatformHotkey() string {
	if runtime.GOOS == "darwin" && c.HotkeyDarwin != "" {
		return c.HotkeyDarwin
	}
	return c.Hotkey
}

func validLogLevel(level string) bool {
	for _, l := range validLogLevels {
		if l == level {
			return true
		}
	}
	return false
}

// configPath returns the platform-specific config file path
func configPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Application Support"
	case "windows":
		base = os.Getenv("APPDATA")
	default: // linux
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.config"
		}
	}

	return filepath.Join(base, "wish-candle", "config.json")
}

// LogsPath returns the platform-specific directory for log files
func LogsPath() string {
	var base string

	switch runtime.GOOS {
	case "darwin":
		base = os.Getenv("HOME") + "/Library/Logs"
	case "windows":
		base = os.Getenv("LOCALAPPDATA")
	default:
		if xdg := os.Getenv("XDG_STATE_HOME"); xdg != "" {
			base = xdg
		} else {
			base = os.Getenv("HOME") + "/.local/state"
		}
	}

	return filepath.Join(base, "wish-candle")
}
