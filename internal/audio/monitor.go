package audio

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBufferSize is the number of samples each loudness estimate covers.
const DefaultBufferSize = 2048

// Monitor owns at most one capture session and measures its loudness.
type Monitor struct {
	mic  Microphone
	size int
	log  zerolog.Logger

	mu      sync.Mutex
	stream  Stream
	buf     []float32
	opening bool

	// closes advances on every Close so an access grant that returns after
	// one can be released.
	closes uint64
}

// NewMonitor creates a monitor reading bufferSize samples per estimate.
func NewMonitor(mic Microphone, bufferSize int, log zerolog.Logger) *Monitor {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Monitor{
		mic:  mic,
		size: bufferSize,
		log:  log.With().Str("component", "monitor").Logger(),
	}
}

// Open requests microphone access and starts a capture session. The lock is
// not held while access is pending, so Close can run meanwhile; a stream
// granted after Close is released and Open returns ErrClosed.
func (m *Monitor) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.stream != nil || m.opening {
		m.mu.Unlock()
		return ErrAlreadyOpen
	}
	m.opening = true
	closes := m.closes
	m.mu.Unlock()

	stream, err := m.mic.RequestAccess(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opening = false

	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}

	// The caller may have given up while access was pending
	late := ctx.Err()
	if late == nil && m.closes != closes {
		late = ErrClosed
	}
	if late != nil {
		if rerr := stream.Release(); rerr != nil {
			m.log.Warn().Err(rerr).Msg("Failed to release late stream")
		}
		return late
	}

	m.stream = stream
	m.buf = make([]float32, m.size)
	m.log.Debug().Int("buffer_size", m.size).Msg("Capture session opened")
	return nil
}

// IsOpen reports whether a capture session is active.
func (m *Monitor) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// Sample refreshes the buffer from the stream and returns its RMS loudness.
func (m *Monitor) Sample() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.stream == nil {
		return 0, ErrClosed
	}
	if err := m.stream.Read(m.buf); err != nil {
		return 0, fmt.Errorf("read samples: %w", err)
	}
	return RMS(m.buf), nil
}

// Close releases the capture session. Closing a closed monitor is a no-op.
func (m *Monitor) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closes++
	if m.stream == nil {
		return nil
	}

	err := m.stream.Release()
	m.stream = nil
	m.buf = nil
	m.log.Debug().Msg("Capture session closed")
	if err != nil {
		return fmt.Errorf("release microphone: %w", err)
	}
	return nil
}

// RMS returns the root-mean-square of samples clamped to [-1, 1].
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}

	var sumSquares float64
	for _, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		sumSquares += v * v
	}
	return math.Sqrt(sumSquares / float64(len(samples)))
}
