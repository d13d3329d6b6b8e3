package analysis

import (
	"sync"

	"github.com/poiselabs/poise/internal/domain"
)

// observationRing is a fixed-capacity FIFO ring of observations. On
// overflow the oldest observation is evicted.
type observationRing struct {
	buf   []domain.Observation
	head  int // next write position
	count int
	mu    sync.RWMutex
}

func newObservationRing(capacity int) *observationRing {
	if capacity <= 0 {
		capacity = 100
	}
	return &observationRing{buf: make([]domain.Observation, capacity)}
}

// push appends an observation, evicting the oldest when full.
func (r *observationRing) push(o domain.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf[r.head] = o
	r.head = (r.head + 1) % len(r.buf)
	if r.count < len(r.buf) {
		r.count++
	}
}

// snapshot returns the buffered observations oldest-first.
func (r *observationRing) snapshot() []domain.Observation {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Observation, r.count)
	start := r.head - r.count
	if start < 0 {
		start += len(r.buf)
	}
	for i := 0; i < r.count; i++ {
		out[i] = r.buf[(start+i)%len(r.buf)]
	}
	return out
}

func (r *observationRing) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

func (r *observationRing) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head = 0
	r.count = 0
}
