package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/petems/wish-candle/internal/config"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a new zerolog logger with console and file output
func New() zerolog.Logger {
	return NewWithLevel("info")
}

// NewWithLevel creates the console + file logger filtered at level. Unknown
// levels fall back to info.
func NewWithLevel(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	return newLogger(console, FileWriter(LogPath())).Level(lvl)
}

// FileWriter returns a size-rotated log file sink at path.
func FileWriter(path string) io.WriteCloser {
	// Ensure directory exists
	os.MkdirAll(filepath.Dir(path), 0755)

	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    5, // megabytes
		MaxBackups: 3,
		MaxAge:     14, // days
	}
}

// LogPath returns the platform-specific log file path
func LogPath() string {
	return filepath.Join(config.LogsPath(), "wish-candle.log")
}

func newLogger(writers ...io.Writer) zerolog.Logger {
	multi := zerolog.MultiLevelWriter(writers...)
	return zerolog.New(multi).With().Timestamp().Caller().Logger()
}
