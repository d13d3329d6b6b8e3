package domain

import (
	"time"
)

// EmotionSample is one point of the per-session emotion series.
type EmotionSample struct {
	Timestamp time.Time          `json:"timestamp"`
	Dominant  string             `json:"dominant"`
	Scores    map[string]float64 `json:"scores"`
}

// TranscriptSample is one point of the per-session transcription series.
type TranscriptSample struct {
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	WordsPerM float64   `json:"words_per_minute"`
}

// VisionSample is one point of the per-session vision series.
type VisionSample struct {
	Timestamp  time.Time `json:"timestamp"`
	EyeContact float64   `json:"eye_contact"`
	Posture    float64   `json:"posture"`
}

// AggregateScores are the finalized per-session scores written at end().
type AggregateScores struct {
	Average          float64               `json:"average"`
	Peak             float64               `json:"peak"`
	ImprovementDelta float64               `json:"improvement_delta"`
	Breakdown        map[Dimension]float64 `json:"breakdown"`
}

// SessionRecord is the durable per-session record. It is created at session
// start, mutated only by the session controller while the session is active,
// finalized at end, and persisted regardless of transport success. Synced
// flips true only after confirmed remote acknowledgment.
type SessionRecord struct {
	SessionID           string             `json:"session_id"`
	StartedAt           time.Time          `json:"started_at"`
	EndedAt             time.Time          `json:"ended_at"`
	Duration            time.Duration      `json:"duration"`
	EmotionsSeries      []EmotionSample    `json:"emotions_series"`
	TranscriptionSeries []TranscriptSample `json:"transcription_series"`
	VisionSeries        []VisionSample     `json:"vision_series"`
	Aggregate           AggregateScores    `json:"aggregate_scores"`
	Synced              bool               `json:"synced"`
}

// Finalize stamps the end time, duration, and aggregate scores.
func (r *SessionRecord) Finalize(endedAt time.Time, agg AggregateScores) {
	r.EndedAt = endedAt
	r.Duration = endedAt.Sub(r.StartedAt)
	r.Aggregate = agg
}

// UserStats is the payload pushed to the user-stats service after a record
// syncs successfully.
type UserStats struct {
	Duration          time.Duration `json:"duration"`
	AverageConfidence float64       `json:"average_confidence"`
	PeakConfidence    float64       `json:"peak_confidence"`
	ImprovementDelta  float64       `json:"improvement_delta"`
}
