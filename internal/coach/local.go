package coach

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/poiselabs/poise/internal/domain"
)

// cueCooldown spaces locally synthesized cues so the user is not flooded.
const cueCooldown = 15 * time.Second

// LocalProvider synthesizes cues from threshold rules over the confidence
// metrics. It is the fallback that keeps sessions functional with no remote
// coaching available, and the source of cues in degraded local-only mode.
type LocalProvider struct {
	mu      sync.Mutex
	lastCue time.Time
	now     func() time.Time
}

// NewLocalProvider creates the rule-based fallback provider.
func NewLocalProvider() *LocalProvider {
	return &LocalProvider{now: time.Now}
}

// Advise implements Provider.
func (p *LocalProvider) Advise(_ context.Context, snap Snapshot) (*domain.CoachingCue, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if now.Sub(p.lastCue) < cueCooldown {
		return nil, nil
	}

	cue := ruleCue(snap)
	if cue == nil {
		return nil, nil
	}

	p.lastCue = now
	cue.ID = uuid.NewString()
	cue.Timestamp = now
	return cue, nil
}

// Close implements Provider.
func (p *LocalProvider) Close() error { return nil }

func ruleCue(snap Snapshot) *domain.CoachingCue {
	m := snap.Metrics

	if m.Trend == domain.TrendDeclining {
		return &domain.CoachingCue{
			Message:  "Take a breath and slow down. Reset your posture.",
			Priority: domain.CuePriorityHigh,
		}
	}
	if v, ok := m.Breakdown[domain.DimensionVocal]; ok && v < 50 {
		return &domain.CoachingCue{
			Message:  "Project your voice a little more.",
			Priority: domain.CuePriorityMedium,
		}
	}
	if v, ok := m.Breakdown[domain.DimensionFacial]; ok && v < 50 {
		return &domain.CoachingCue{
			Message:  "Look up and hold eye contact with the camera.",
			Priority: domain.CuePriorityMedium,
		}
	}
	if v, ok := m.Breakdown[domain.DimensionPostural]; ok && v < 40 {
		return &domain.CoachingCue{
			Message:  "Square your shoulders and open your stance.",
			Priority: domain.CuePriorityLow,
		}
	}
	if m.Trend == domain.TrendImproving && m.Overall >= 80 {
		return &domain.CoachingCue{
			Message:  "Great momentum, keep this energy.",
			Priority: domain.CuePriorityLow,
		}
	}
	return nil
}
