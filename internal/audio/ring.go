package audio

import "sync"

// sampleRing keeps the latest samples written by the capture goroutine.
type sampleRing struct {
	mu     sync.Mutex
	buf    []float32
	next   int
	filled bool
}

func newSampleRing(size int) *sampleRing {
	return &sampleRing{buf: make([]float32, size)}
}

func (r *sampleRing) write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Only the tail can survive a write larger than the ring
	if len(samples) > len(r.buf) {
		samples = samples[len(samples)-len(r.buf):]
	}
	for _, s := range samples {
		r.buf[r.next] = s
		r.next++
		if r.next == len(r.buf) {
			r.next = 0
			r.filled = true
		}
	}
}

// latest fills dst oldest-first with the newest samples.
func (r *sampleRing) latest(dst []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	avail := r.next
	if r.filled {
		avail = len(r.buf)
	}

	n := len(dst)
	if n > avail {
		pad := n - avail
		clear(dst[:pad])
		dst = dst[pad:]
		n = avail
	}

	start := r.next - n
	if start < 0 {
		start += len(r.buf)
	}
	copied := copy(dst, r.buf[start:min(start+n, len(r.buf))])
	copy(dst[copied:], r.buf[:n-copied])
}
