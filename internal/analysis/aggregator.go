package analysis

import (
	"sync"

	"gonum.org/v1/gonum/stat"

	"github.com/poiselabs/poise/internal/domain"
	"github.com/poiselabs/poise/internal/metrics"
)

// WindowCapacity is the sliding observation window size.
const WindowCapacity = 100

// trendMargin is the half-window mean difference required before the trend
// leaves stable.
const trendMargin = 3.0

// Aggregator turns the observation stream into smoothed, focus-area-weighted
// confidence metrics. It keeps only the bounded sliding window; nothing is
// stored beyond it.
type Aggregator struct {
	ring *observationRing

	mu    sync.RWMutex
	focus []domain.FocusArea
}

// NewAggregator creates an aggregator with the default window capacity.
func NewAggregator() *Aggregator {
	return &Aggregator{ring: newObservationRing(WindowCapacity)}
}

// SetFocusAreas sets the user-selected focus areas used to weight the
// overall score. An empty slice reverts to the unweighted mean.
func (a *Aggregator) SetFocusAreas(areas []domain.FocusArea) {
	a.mu.Lock()
	a.focus = append([]domain.FocusArea(nil), areas...)
	a.mu.Unlock()
}

// Ingest adds one observation to the window, evicting the oldest beyond
// capacity.
func (a *Aggregator) Ingest(o domain.Observation) {
	a.ring.push(o)
	metrics.IncObservationsIngested()
}

// Len returns the number of observations currently in the window.
func (a *Aggregator) Len() int { return a.ring.len() }

// Reset clears the window. Called at session start.
func (a *Aggregator) Reset() { a.ring.reset() }

// Current recomputes confidence metrics from the window. Dimensions with no
// observations in the window are excluded from every mean, never treated as
// zero.
func (a *Aggregator) Current() domain.ConfidenceMetrics {
	window := a.ring.snapshot()

	breakdown := computeBreakdown(window)
	focusScores := computeFocusScores(window, breakdown)

	a.mu.RLock()
	focus := a.focus
	a.mu.RUnlock()

	return domain.ConfidenceMetrics{
		Overall:         computeOverall(breakdown, focusScores, focus),
		Breakdown:       breakdown,
		FocusAreaScores: focusScores,
		Trend:           computeTrend(window),
	}
}

// computeBreakdown averages each dimension's present scores across the
// window.
func computeBreakdown(window []domain.Observation) map[domain.Dimension]float64 {
	samples := make(map[domain.Dimension][]float64)
	for _, obs := range window {
		for kind, block := range obs.Scores {
			dim := domain.DimensionOf(kind)
			samples[dim] = append(samples[dim], block.Score)
		}
	}

	breakdown := make(map[domain.Dimension]float64, len(samples))
	for dim, xs := range samples {
		breakdown[dim] = stat.Mean(xs, nil)
	}
	return breakdown
}

// computeOverall is the unweighted mean of present breakdown dimensions, or
// the focus-area-weighted mean when focus areas are set.
func computeOverall(breakdown map[domain.Dimension]float64, focusScores map[domain.FocusArea]float64, focus []domain.FocusArea) float64 {
	if len(focus) > 0 {
		xs := make([]float64, 0, len(focus))
		for _, area := range focus {
			if score, ok := focusScores[area]; ok {
				xs = append(xs, score)
			}
		}
		if len(xs) > 0 {
			return stat.Mean(xs, nil)
		}
	}

	xs := make([]float64, 0, len(breakdown))
	for _, v := range breakdown {
		xs = append(xs, v)
	}
	if len(xs) == 0 {
		return 0
	}
	return stat.Mean(xs, nil)
}

// computeFocusScores applies the fixed focus-area mapping. Engagement reads
// the face analyzer's eyeContact and joy components; it falls back to the
// facial dimension when components are absent.
func computeFocusScores(window []domain.Observation, breakdown map[domain.Dimension]float64) map[domain.FocusArea]float64 {
	scores := make(map[domain.FocusArea]float64)

	if v, ok := meanOfDims(breakdown, domain.DimensionFacial, domain.DimensionVocal); ok {
		scores[domain.FocusConfidence] = v
	}
	if v, ok := breakdown[domain.DimensionVocal]; ok {
		scores[domain.FocusClarity] = v
	}
	if v, ok := meanOfDims(breakdown, domain.DimensionPostural, domain.DimensionGestural); ok {
		scores[domain.FocusBodyLanguage] = v
	}

	var engagement []float64
	for _, obs := range window {
		block, ok := obs.Scores[domain.FeatureFaceDetection]
		if !ok {
			continue
		}
		if eye, ok := block.Components["eyeContact"]; ok {
			engagement = append(engagement, eye)
		}
		if joy, ok := block.Components["joy"]; ok {
			engagement = append(engagement, joy)
		}
	}
	switch {
	case len(engagement) > 0:
		scores[domain.FocusEngagement] = stat.Mean(engagement, nil)
	default:
		if v, ok := breakdown[domain.DimensionFacial]; ok {
			scores[domain.FocusEngagement] = v
		}
	}

	return scores
}

func meanOfDims(breakdown map[domain.Dimension]float64, dims ...domain.Dimension) (float64, bool) {
	xs := make([]float64, 0, len(dims))
	for _, d := range dims {
		if v, ok := breakdown[d]; ok {
			xs = append(xs, v)
		}
	}
	if len(xs) == 0 {
		return 0, false
	}
	return stat.Mean(xs, nil), true
}

// computeTrend compares the mean per-observation score of the window's first
// half against its second half.
func computeTrend(window []domain.Observation) domain.Trend {
	if len(window) < 2 {
		return domain.TrendStable
	}

	half := len(window) / 2
	first := halfMean(window[:half])
	second := halfMean(window[half:])
	if first == nil || second == nil {
		return domain.TrendStable
	}

	switch diff := *second - *first; {
	case diff > trendMargin:
		return domain.TrendImproving
	case diff < -trendMargin:
		return domain.TrendDeclining
	default:
		return domain.TrendStable
	}
}

func halfMean(obs []domain.Observation) *float64 {
	var xs []float64
	for _, o := range obs {
		var sum float64
		n := 0
		for _, block := range o.Scores {
			sum += block.Score
			n++
		}
		if n > 0 {
			xs = append(xs, sum/float64(n))
		}
	}
	if len(xs) == 0 {
		return nil
	}
	m := stat.Mean(xs, nil)
	return &m
}
