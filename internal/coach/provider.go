// Package coach supplies coaching cues to the session controller. Providers
// are pluggable; the controller is agnostic to which one is wired in.
package coach

import (
	"context"
	"time"

	"github.com/poiselabs/poise/internal/domain"
)

// Snapshot is the session state a provider advises on.
type Snapshot struct {
	Metrics  domain.ConfidenceMetrics
	Mode     domain.ThrottleMode
	Elapsed  time.Duration
	Degraded bool // transport lost, running local-only
}

// Provider produces coaching cues. Returning (nil, nil) means nothing to say
// this tick.
type Provider interface {
	Advise(ctx context.Context, snap Snapshot) (*domain.CoachingCue, error)
	Close() error
}
