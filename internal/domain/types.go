// Package domain contains core domain types for the Poise session engine.
package domain

import (
	"time"
)

// FeatureKind identifies one on-device analysis capability.
type FeatureKind string

// Analysis features. Which of these run on a given tick is decided by
// CapabilityProfile and ThrottleState, never by the analyzers themselves.
const (
	FeatureFaceDetection   FeatureKind = "faceDetection"
	FeatureEmotionAnalysis FeatureKind = "emotionAnalysis"
	FeatureVoiceAnalysis   FeatureKind = "voiceAnalysis"
	FeaturePoseTracking    FeatureKind = "poseTracking"
	FeatureHandTracking    FeatureKind = "handTracking"
	FeatureGestureAnalysis FeatureKind = "gestureAnalysis"
)

// FeatureSet is a set of analysis features.
type FeatureSet map[FeatureKind]struct{}

// NewFeatureSet builds a set from the given kinds.
func NewFeatureSet(kinds ...FeatureKind) FeatureSet {
	s := make(FeatureSet, len(kinds))
	for _, k := range kinds {
		s[k] = struct{}{}
	}
	return s
}

// Has reports whether the set contains k.
func (s FeatureSet) Has(k FeatureKind) bool {
	_, ok := s[k]
	return ok
}

// Intersect returns the features present in both sets.
func (s FeatureSet) Intersect(other FeatureSet) FeatureSet {
	out := make(FeatureSet)
	for k := range s {
		if other.Has(k) {
			out[k] = struct{}{}
		}
	}
	return out
}

// SubsetOf reports whether every feature in s is present in other.
func (s FeatureSet) SubsetOf(other FeatureSet) bool {
	for k := range s {
		if !other.Has(k) {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of the set.
func (s FeatureSet) Clone() FeatureSet {
	out := make(FeatureSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Kinds returns the features in the set in unspecified order.
func (s FeatureSet) Kinds() []FeatureKind {
	out := make([]FeatureKind, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	return out
}

// DeviceTier is the coarse device performance classification.
type DeviceTier string

// Device tiers.
const (
	TierHigh DeviceTier = "high"
	TierMid  DeviceTier = "mid"
	TierLow  DeviceTier = "low"
)

// CapabilityProfile is the fixed per-process capability classification.
// Computed once at startup and immutable afterwards.
type CapabilityProfile struct {
	Tier            DeviceTier
	MaxFrameRate    int
	EnabledFeatures FeatureSet
	GPUEligible     bool
}

// ThrottleMode is the runtime degradation state, independent of tier.
type ThrottleMode string

// Throttle modes. When battery and thermal throttling are both active the
// mode reports the more severe of the two (thermal).
const (
	ThrottleNormal           ThrottleMode = "normal"
	ThrottleBatteryOptimized ThrottleMode = "batteryOptimized"
	ThrottleThermalReduced   ThrottleMode = "thermalReduced"
)

// ThrottleState is the current degradation state consumed by the analysis
// pipeline. ReducedFeatureSet is the set of features still permitted under
// throttling; it is always a subset of the capability profile's enabled set.
// FrameSkipFactor is always >= 1.
type ThrottleState struct {
	Mode              ThrottleMode
	FrameSkipFactor   int
	ReducedFeatureSet FeatureSet
}

// Throttling reports whether any degradation is active.
func (t ThrottleState) Throttling() bool {
	return t.Mode != ThrottleNormal
}

// ScoreBlock is one analyzer's output for a single tick. Score is 0-100.
// Components carries named sub-scores (e.g. eyeContact, joy for the face
// analyzer); it may be nil.
type ScoreBlock struct {
	Score      float64            `json:"score"`
	Components map[string]float64 `json:"components,omitempty"`
}

// Observation is one tick's raw per-feature analysis output. Features that
// did not run (or whose analyzer failed) are absent from Scores — absence is
// distinguishable from a real zero score downstream.
type Observation struct {
	Timestamp time.Time                  `json:"timestamp"`
	Scores    map[FeatureKind]ScoreBlock `json:"scores"`
}

// Dimension is one of the four confidence breakdown axes.
type Dimension string

// Breakdown dimensions.
const (
	DimensionFacial   Dimension = "facial"
	DimensionVocal    Dimension = "vocal"
	DimensionPostural Dimension = "postural"
	DimensionGestural Dimension = "gestural"
)

// DimensionOf maps a feature to the breakdown dimension it contributes to.
func DimensionOf(k FeatureKind) Dimension {
	switch k {
	case FeatureFaceDetection, FeatureEmotionAnalysis:
		return DimensionFacial
	case FeatureVoiceAnalysis:
		return DimensionVocal
	case FeaturePoseTracking:
		return DimensionPostural
	default:
		return DimensionGestural
	}
}

// FocusArea is a user-selected skill dimension used to weight scoring.
type FocusArea string

// Focus areas.
const (
	FocusConfidence   FocusArea = "confidence"
	FocusClarity      FocusArea = "clarity"
	FocusBodyLanguage FocusArea = "body-language"
	FocusEngagement   FocusArea = "engagement"
)

// Trend describes the direction of the confidence window.
type Trend string

// Trend values.
const (
	TrendImproving Trend = "improving"
	TrendDeclining Trend = "declining"
	TrendStable    Trend = "stable"
)

// ConfidenceMetrics is the smoothed output of the aggregator, recomputed
// from the sliding observation window. All scores are 0-100.
type ConfidenceMetrics struct {
	Overall         float64               `json:"overall"`
	Breakdown       map[Dimension]float64 `json:"breakdown"`
	FocusAreaScores map[FocusArea]float64 `json:"focus_area_scores"`
	Trend           Trend                 `json:"trend"`
}

// CuePriority orders coaching cues.
type CuePriority string

// Cue priorities.
const (
	CuePriorityLow    CuePriority = "low"
	CuePriorityMedium CuePriority = "medium"
	CuePriorityHigh   CuePriority = "high"
)

// CoachingCue is a short actionable message surfaced during a session.
type CoachingCue struct {
	ID        string      `json:"id"`
	Message   string      `json:"message"`
	Priority  CuePriority `json:"priority"`
	Timestamp time.Time   `json:"timestamp"`
}
