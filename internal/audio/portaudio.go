package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/petems/wish-candle/internal/config"
	"github.com/petems/wish-candle/internal/permissions"
	"github.com/rs/zerolog"
)

const framesPerBuffer = 512

// PortAudio is a PortAudio-backed Microphone.
type PortAudio struct {
	cfg config.AudioConfig
	log zerolog.Logger

	mu       sync.Mutex
	deviceID string
	ready    bool
}

// New creates a new PortAudio-based microphone. When PortAudio cannot be
// initialized the microphone still works as a value, but every access request
// fails with ErrDeviceUnavailable.
func New(cfg config.AudioConfig, log zerolog.Logger) (*PortAudio, error) {
	p := &PortAudio{
		cfg:      cfg,
		log:      log.With().Str("component", "portaudio").Logger(),
		deviceID: cfg.DeviceID,
	}
	if err := portaudio.Initialize(); err != nil {
		return p, fmt.Errorf("%w: failed to initialize PortAudio: %v", ErrDeviceUnavailable, err)
	}
	p.ready = true
	return p, nil
}

// SetDevice selects the input device used by the next capture session.
func (p *PortAudio) SetDevice(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.deviceID = id
}

func (p *PortAudio) RequestAccess(ctx context.Context) (Stream, error) {
	p.mu.Lock()
	ready, deviceID := p.ready, p.deviceID
	p.mu.Unlock()

	if !ready {
		return nil, ErrDeviceUnavailable
	}
	if status := permissions.Microphone(); !status.Granted() {
		return nil, fmt.Errorf("%w (%s)", ErrPermissionDenied, status)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	device, err := findDevice(deviceID)
	if err != nil {
		return nil, err
	}

	channels := min(device.MaxInputChannels, 2)
	buffer := make([]float32, framesPerBuffer*channels)
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: channels,
			Latency:  device.DefaultLowInputLatency,
		},
		SampleRate:      float64(p.cfg.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}, buffer)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio stream: %w", err)
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start audio stream: %w", err)
	}

	s := &paStream{
		stream:   stream,
		buffer:   buffer,
		channels: channels,
		ring:     newSampleRing(ringSize),
		done:     make(chan struct{}),
		log:      p.log,
	}
	go s.readLoop()

	p.log.Info().Str("device", device.Name).Int("channels", channels).Msg("Microphone stream started")
	return s, nil
}

// ListDevices returns the input-capable devices.
func (p *PortAudio) ListDevices() ([]AudioDevice, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, ErrDeviceUnavailable
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	result := make([]AudioDevice, 0, len(devices))
	defaultDevice, _ := portaudio.DefaultInputDevice()

	for _, d := range devices {
		if d.MaxInputChannels > 0 {
			result = append(result, AudioDevice{
				ID:      d.Name,
				Name:    d.Name,
				Default: d == defaultDevice,
			})
		}
	}

	return result, nil
}

func (p *PortAudio) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil
	}
	p.ready = false
	return portaudio.Terminate()
}

func findDevice(deviceID string) (*portaudio.DeviceInfo, error) {
	if deviceID == "" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		if device == nil || device.MaxInputChannels < 1 {
			return nil, ErrDeviceUnavailable
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("%w: failed to enumerate devices: %v", ErrDeviceUnavailable, err)
	}
	for _, d := range devices {
		if d.Name == deviceID && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("%w: device not found: %s", ErrDeviceUnavailable, deviceID)
}

// ringSize covers the largest detector window config accepts.
const ringSize = config.MaxBufferSize

type paStream struct {
	stream   *portaudio.Stream
	buffer   []float32
	channels int
	ring     *sampleRing
	done     chan struct{}
	log      zerolog.Logger

	once sync.Once
	err  error
}

func (s *paStream) readLoop() {
	defer close(s.done)
	for {
		if err := s.stream.Read(); err != nil {
			// Stop unblocks Read with an error; overflows are transient
			if err == portaudio.InputOverflowed {
				continue
			}
			s.log.Debug().Err(err).Msg("Read loop ended")
			return
		}
		s.ring.write(downmixInterleaved(s.buffer, s.channels, framesPerBuffer))
	}
}

func (s *paStream) Read(dst []float32) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}
	s.ring.latest(dst)
	return nil
}

func (s *paStream) Release() error {
	s.once.Do(func() {
		if err := s.stream.Stop(); err != nil {
			s.err = fmt.Errorf("failed to stop audio stream: %w", err)
		}
		<-s.done
		if err := s.stream.Close(); err != nil && s.err == nil {
			s.err = fmt.Errorf("failed to close audio stream: %w", err)
		}
	})
	return s.err
}

// downmixInterleaved averages interleaved frames into a new mono slice.
func downmixInterleaved(input []float32, channels, frames int) []float32 {
	out := make([]float32, frames)
	if channels <= 1 {
		copy(out, input)
		return out
	}

	for f := 0; f < frames; f++ {
		var sum float32
		base := f * channels
		for c := 0; c < channels; c++ {
			sum += input[base+c]
		}
		out[f] = sum / float32(channels)
	}
	return out
}
