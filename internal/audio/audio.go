package audio

import (
	"context"
	"errors"
)

var (
	// ErrPermissionDenied is returned when the user or OS refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceUnavailable is returned when no capture API or device is present.
	ErrDeviceUnavailable = errors.New("no microphone available")
	// ErrAlreadyOpen is returned when a capture session is opened twice.
	ErrAlreadyOpen = errors.New("capture session already open")
	// ErrClosed is returned when sampling a monitor without a capture session.
	ErrClosed = errors.New("capture session closed")
)

// Microphone grants access to a live capture stream
type Microphone interface {
	RequestAccess(ctx context.Context) (Stream, error)
}

// Stream is an open microphone acquisition
type Stream interface {
	// Read copies the most recent len(dst) mono samples into dst, zero-padding
	// the front until enough audio has arrived.
	Read(dst []float32) error
	Release() error
}

// AudioDevice represents an audio input device
type AudioDevice struct {
	ID      string
	Name    string
	Default bool
}
