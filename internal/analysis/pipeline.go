package analysis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/poiselabs/poise/internal/capture"
	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
)

// ThrottleSource exposes the current throttle state to the pipeline.
type ThrottleSource interface {
	State() domain.ThrottleState
}

// Pipeline runs the variable per-tick feature set chosen by capability
// profile and throttle state.
type Pipeline struct {
	profile   domain.CapabilityProfile
	throttle  ThrottleSource
	analyzers map[domain.FeatureKind]Analyzer

	counter uint64 // ticks seen, including skipped ones; single-writer
}

// NewPipeline creates a pipeline over the given analyzer set. Analyzers for
// features outside the profile's enabled set are never invoked.
func NewPipeline(profile domain.CapabilityProfile, throttle ThrottleSource, analyzers map[domain.FeatureKind]Analyzer) *Pipeline {
	return &Pipeline{
		profile:   profile,
		throttle:  throttle,
		analyzers: analyzers,
	}
}

// ProcessTick analyzes one frame/audio pair. The second return is false when
// the tick was skipped by the throttle frame-skip factor. Individual
// analyzer failures omit that feature's block, never fail the tick.
func (p *Pipeline) ProcessTick(ctx context.Context, frame capture.Frame, audio capture.AudioChunk) (domain.Observation, bool) {
	state := p.throttle.State()

	p.counter++
	if p.counter%uint64(state.FrameSkipFactor) != 0 {
		metrics.IncFramesSkipped()
		return domain.Observation{}, false
	}

	active := p.activeSet(state)

	type result struct {
		kind  domain.FeatureKind
		block domain.ScoreBlock
		err   error
	}

	results := make([]result, 0, len(active))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for kind := range active {
		analyzer, ok := p.analyzers[kind]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(kind domain.FeatureKind, a Analyzer) {
			defer wg.Done()
			block, err := a.Analyze(ctx, frame, audio)
			mu.Lock()
			results = append(results, result{kind: kind, block: block, err: err})
			mu.Unlock()
		}(kind, analyzer)
	}
	wg.Wait()

	obs := domain.Observation{
		Timestamp: frame.Timestamp,
		Scores:    make(map[domain.FeatureKind]domain.ScoreBlock, len(results)),
	}
	if obs.Timestamp.IsZero() {
		obs.Timestamp = time.Now()
	}

	for _, r := range results {
		if r.err != nil {
			// Omission, not failure: downstream sees "no data this tick".
			metrics.IncAnalyzerOmission(string(r.kind))
			if !errors.Is(r.err, ErrNoSignal) {
				slog.Debug("Analyzer failed, omitting score", "feature", r.kind, "error", r.err)
			}
			continue
		}
		obs.Scores[r.kind] = r.block
	}

	metrics.IncTicksProcessed()
	return obs, true
}

// activeSet intersects profile capability with throttle reductions.
// Throttling may only shrink, never add, capability.
func (p *Pipeline) activeSet(state domain.ThrottleState) domain.FeatureSet {
	if !state.Throttling() {
		return p.profile.EnabledFeatures
	}
	return p.profile.EnabledFeatures.Intersect(state.ReducedFeatureSet)
}
