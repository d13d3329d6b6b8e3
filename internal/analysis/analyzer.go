// Package analysis runs per-tick feature analysis and aggregates the
// resulting observations into confidence metrics.
package analysis

import (
	"context"
	"errors"
	"math"

	"github.com/poiselabs/poise/internal/capture"
	"github.com/poiselabs/poise/internal/domain"
)

// ErrNoSignal indicates an analyzer found nothing to score this tick (no
// face in frame, silent audio). Not an error at the pipeline level: the
// feature's ScoreBlock is omitted from the observation.
var ErrNoSignal = errors.New("no signal detected")

// Analyzer scores one feature for a single tick. Analyzers are read-only
// over the frame and audio chunk and may run concurrently with each other.
type Analyzer interface {
	Kind() domain.FeatureKind
	Analyze(ctx context.Context, frame capture.Frame, audio capture.AudioChunk) (domain.ScoreBlock, error)
}

// Variant selects the analyzer implementation once at construction time.
type Variant string

// Analyzer variants.
const (
	VariantNative Variant = "native"
	VariantMock   Variant = "mock"
)

// NewAnalyzerSet builds one analyzer per enabled feature in the profile.
// The variant is chosen once here, never branched per call.
func NewAnalyzerSet(profile domain.CapabilityProfile, v Variant) map[domain.FeatureKind]Analyzer {
	set := make(map[domain.FeatureKind]Analyzer, len(profile.EnabledFeatures))
	for kind := range profile.EnabledFeatures {
		if v == VariantMock {
			set[kind] = &MockAnalyzer{Feature: kind, Fixed: 75}
			continue
		}
		set[kind] = &nativeAnalyzer{kind: kind}
	}
	return set
}

// nativeAnalyzer scores features from raw signal statistics. Platform ML
// backends replace this behind the Analyzer interface.
type nativeAnalyzer struct {
	kind domain.FeatureKind
}

func (a *nativeAnalyzer) Kind() domain.FeatureKind { return a.kind }

func (a *nativeAnalyzer) Analyze(_ context.Context, frame capture.Frame, audio capture.AudioChunk) (domain.ScoreBlock, error) {
	switch a.kind {
	case domain.FeatureVoiceAnalysis:
		return scoreAudio(audio)
	default:
		return scoreFrame(a.kind, frame)
	}
}

func scoreAudio(audio capture.AudioChunk) (domain.ScoreBlock, error) {
	if len(audio.PCM) == 0 {
		return domain.ScoreBlock{}, ErrNoSignal
	}
	energy := byteEnergy(audio.PCM)
	if energy < 0.02 {
		return domain.ScoreBlock{}, ErrNoSignal
	}
	// Speaking energy in a comfortable band scores highest.
	score := 100 * (1 - math.Abs(energy-0.5)*2)
	return domain.ScoreBlock{
		Score: clampScore(score),
		Components: map[string]float64{
			"energy": energy,
		},
	}, nil
}

func scoreFrame(kind domain.FeatureKind, frame capture.Frame) (domain.ScoreBlock, error) {
	if len(frame.Data) == 0 {
		return domain.ScoreBlock{}, ErrNoSignal
	}
	energy := byteEnergy(frame.Data)
	spread := byteSpread(frame.Data)

	base := clampScore(100 * (0.4*energy + 0.6*spread))
	switch kind {
	case domain.FeatureFaceDetection:
		return domain.ScoreBlock{
			Score: base,
			Components: map[string]float64{
				"eyeContact": clampScore(100 * spread),
				"joy":        clampScore(100 * energy),
			},
		}, nil
	case domain.FeatureEmotionAnalysis:
		return domain.ScoreBlock{
			Score: base,
			Components: map[string]float64{
				"valence": energy,
				"arousal": spread,
			},
		}, nil
	default:
		return domain.ScoreBlock{Score: base}, nil
	}
}

// byteEnergy is the mean absolute deviation from mid-scale, normalized to
// 0-1. A cheap stand-in for signal amplitude.
func byteEnergy(data []byte) float64 {
	var sum float64
	for _, b := range data {
		sum += math.Abs(float64(b)-128) / 128
	}
	return sum / float64(len(data))
}

// byteSpread is the fraction of distinct byte values present, a cheap
// stand-in for scene detail.
func byteSpread(data []byte) float64 {
	var seen [256]bool
	distinct := 0
	for _, b := range data {
		if !seen[b] {
			seen[b] = true
			distinct++
		}
	}
	return float64(distinct) / 256
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// MockAnalyzer returns a fixed score, or ErrNoSignal when Fail is set.
type MockAnalyzer struct {
	Feature    domain.FeatureKind
	Fixed      float64
	Components map[string]float64
	Fail       bool

	// Calls counts invocations; tests use it to assert an analyzer never ran.
	Calls int
}

// Kind implements Analyzer.
func (m *MockAnalyzer) Kind() domain.FeatureKind { return m.Feature }

// Analyze implements Analyzer.
func (m *MockAnalyzer) Analyze(context.Context, capture.Frame, capture.AudioChunk) (domain.ScoreBlock, error) {
	m.Calls++
	if m.Fail {
		return domain.ScoreBlock{}, ErrNoSignal
	}
	return domain.ScoreBlock{Score: m.Fixed, Components: m.Components}, nil
}
