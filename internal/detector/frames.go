package detector

import "time"

// FrameSource paces the sampling loop, one tick per rendered frame. The
// returned stop function releases the source.
type FrameSource interface {
	Frames() (<-chan time.Time, func())
}

// Ticker is a FrameSource backed by a fixed-rate time.Ticker. Ticks the loop
// cannot keep up with are dropped.
type Ticker struct {
	Interval time.Duration
}

func (t Ticker) Frames() (<-chan time.Time, func()) {
	interval := t.Interval
	if interval <= 0 {
		interval = time.Second / 60
	}
	tk := time.NewTicker(interval)
	return tk.C, tk.Stop
}
