// Package mock provides scripted implementations of [audio.Microphone] and
// [audio.Stream] for unit tests.
//
// Each Read fills the destination with a constant amplitude taken from
// Levels, so the RMS of read i equals Levels[i]. Reads past the end of the
// script repeat silence.
//
//	mic := &mock.Microphone{Levels: []float64{0.01, 0.02, 0.09, 0.5}}
//	mon := audio.NewMonitor(mic, 2048, zerolog.Nop())
package mock

import (
	"context"
	"sync"

	"github.com/petems/wish-candle/internal/audio"
)

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// Levels is the RMS script shared by every stream the microphone opens.
	Levels []float64

	// AccessError is returned by RequestAccess when set.
	AccessError error

	// Gate, when non-nil, blocks RequestAccess until it is closed.
	Gate chan struct{}

	CallCountRequestAccess int
	CallCountRelease       int
	reads                  int
	open                   int
}

// RequestAccess implements [audio.Microphone].
func (m *Microphone) RequestAccess(ctx context.Context) (audio.Stream, error) {
	m.mu.Lock()
	m.CallCountRequestAccess++
	gate := m.Gate
	m.mu.Unlock()

	if gate != nil {
		<-gate
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.AccessError != nil {
		return nil, m.AccessError
	}
	m.open++
	return &Stream{mic: m}, nil
}

// Requests returns how many access requests have been made.
func (m *Microphone) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountRequestAccess
}

// Reads returns how many reads all streams have served.
func (m *Microphone) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// OpenStreams returns how many streams are currently unreleased.
func (m *Microphone) OpenStreams() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

// Releases returns how many streams have been released.
func (m *Microphone) Releases() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CallCountRelease
}

// Stream is a mock implementation of [audio.Stream].
type Stream struct {
	mic      *Microphone
	released bool
}

// Read implements [audio.Stream].
func (s *Stream) Read(dst []float32) error {
	m := s.mic
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.released {
		return audio.ErrClosed
	}

	var level float32
	if m.reads < len(m.Levels) {
		level = float32(m.Levels[m.reads])
	}
	m.reads++

	for i := range dst {
		dst[i] = level
	}
	return nil
}

// Release implements [audio.Stream].
func (s *Stream) Release() error {
	m := s.mic
	m.mu.Lock()
	defer m.mu.Unlock()

	if s.released {
		return nil
	}
	s.released = true
	m.open--
	m.CallCountRelease++
	return nil
}
