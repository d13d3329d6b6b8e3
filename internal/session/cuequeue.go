package session

import (
	"sync"

	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
)

// cueQueueCapacity bounds the coaching-cue feed; the oldest cue is dropped
// beyond it.
const cueQueueCapacity = 10

// cueQueue is an append-only bounded queue of coaching cues.
type cueQueue struct {
	mu   sync.Mutex
	cues []domain.CoachingCue
}

func newCueQueue() *cueQueue {
	return &cueQueue{cues: make([]domain.CoachingCue, 0, cueQueueCapacity)}
}

// push appends a cue, evicting the oldest when full.
func (q *cueQueue) push(cue domain.CoachingCue) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.cues) >= cueQueueCapacity {
		copy(q.cues, q.cues[1:])
		q.cues = q.cues[:len(q.cues)-1]
		metrics.IncCuesDropped()
	}
	q.cues = append(q.cues, cue)
}

// snapshot returns the queued cues oldest-first.
func (q *cueQueue) snapshot() []domain.CoachingCue {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.CoachingCue, len(q.cues))
	copy(out, q.cues)
	return out
}

func (q *cueQueue) reset() {
	q.mu.Lock()
	q.cues = q.cues[:0]
	q.mu.Unlock()
}
