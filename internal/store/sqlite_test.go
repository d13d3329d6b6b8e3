package store

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/poiselabs/poise/internal/domain"
)

func newTestStore(t *testing.T) Repository {
	t.Helper()
	repo, err := NewSQLite(filepath.Join(t.TempDir(), "poise.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func testRecord(id string, startedAt time.Time) *domain.SessionRecord {
	endedAt := startedAt.Add(3 * time.Minute)
	return &domain.SessionRecord{
		SessionID: id,
		StartedAt: startedAt,
		EndedAt:   endedAt,
		Duration:  endedAt.Sub(startedAt),
		EmotionsSeries: []domain.EmotionSample{
			{Timestamp: startedAt.Add(time.Second), Dominant: "joy", Scores: map[string]float64{"joy": 72.5, "neutral": 20}},
		},
		TranscriptionSeries: []domain.TranscriptSample{
			{Timestamp: startedAt.Add(2 * time.Second), Text: "so as I was saying", WordsPerM: 135},
		},
		VisionSeries: []domain.VisionSample{
			{Timestamp: startedAt.Add(time.Second), EyeContact: 81, Posture: 64},
		},
		Aggregate: domain.AggregateScores{
			Average:          68.4,
			Peak:             85.1,
			ImprovementDelta: 4.2,
			Breakdown: map[domain.Dimension]float64{
				domain.DimensionFacial: 72,
				domain.DimensionVocal:  64.8,
			},
		},
	}
}

func TestSQLiteConflictClassification(t *testing.T) {
	if !IsSQLiteConflictError(errors.New("stmt: SQLITE_BUSY (5)")) {
		t.Error("SQLITE_BUSY not classified as conflict")
	}
	if !IsSQLiteConflictError(errors.New("database is locked")) {
		t.Error("locked database not classified as conflict")
	}
	if IsSQLiteConflictError(errors.New("no such table: session_records")) {
		t.Error("Unrelated error classified as conflict")
	}
	if IsSQLiteConflictError(nil) {
		t.Error("nil classified as conflict")
	}
}

func TestSQLite_AppendAndGet(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("sess-1", time.Now().Add(-time.Hour))
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := repo.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got == nil {
		t.Fatal("Record not found")
	}

	if !got.StartedAt.Equal(rec.StartedAt) || !got.EndedAt.Equal(rec.EndedAt) {
		t.Errorf("Timestamps not preserved: %v/%v vs %v/%v", got.StartedAt, got.EndedAt, rec.StartedAt, rec.EndedAt)
	}
	if got.Duration != rec.Duration {
		t.Errorf("Duration not preserved: %v vs %v", got.Duration, rec.Duration)
	}
	if got.Synced {
		t.Error("Fresh record reported synced")
	}
	if len(got.EmotionsSeries) != 1 || got.EmotionsSeries[0].Dominant != "joy" {
		t.Errorf("Emotions series not preserved: %+v", got.EmotionsSeries)
	}
	if len(got.TranscriptionSeries) != 1 || got.TranscriptionSeries[0].WordsPerM != 135 {
		t.Errorf("Transcription series not preserved: %+v", got.TranscriptionSeries)
	}
	if len(got.VisionSeries) != 1 || got.VisionSeries[0].EyeContact != 81 {
		t.Errorf("Vision series not preserved: %+v", got.VisionSeries)
	}
	if got.Aggregate.Peak != 85.1 || got.Aggregate.Breakdown[domain.DimensionVocal] != 64.8 {
		t.Errorf("Aggregate scores not preserved: %+v", got.Aggregate)
	}
}

func TestSQLite_GetAbsent(t *testing.T) {
	repo := newTestStore(t)

	got, err := repo.Get(context.Background(), "no-such-session")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil for absent session, got %+v", got)
	}
}

func TestSQLite_AppendDuplicateFails(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("sess-dup", time.Now())
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatalf("First append failed: %v", err)
	}
	if err := repo.Append(ctx, rec); err == nil {
		t.Fatal("Expected error re-appending existing session id")
	}
}

func TestSQLite_MarkSynced(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("sess-sync", time.Now())
	if err := repo.Append(ctx, rec); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	if err := repo.MarkSynced(ctx, "sess-sync"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	got, err := repo.Get(ctx, "sess-sync")
	if err != nil || got == nil {
		t.Fatalf("Get after MarkSynced failed: %v", err)
	}
	if !got.Synced {
		t.Error("Record not synced after MarkSynced")
	}

	err = repo.MarkSynced(ctx, "no-such-session")
	if err == nil || !strings.Contains(err.Error(), "not found") {
		t.Errorf("Expected not-found error, got %v", err)
	}
}

func TestSQLite_UnsyncedRecordsOldestFirst(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	base := time.Now().Add(-3 * time.Hour)
	// Insert out of chronological order.
	for _, rec := range []*domain.SessionRecord{
		testRecord("sess-b", base.Add(time.Hour)),
		testRecord("sess-c", base.Add(2*time.Hour)),
		testRecord("sess-a", base),
	} {
		if err := repo.Append(ctx, rec); err != nil {
			t.Fatalf("Append %s failed: %v", rec.SessionID, err)
		}
	}
	if err := repo.MarkSynced(ctx, "sess-c"); err != nil {
		t.Fatalf("MarkSynced failed: %v", err)
	}

	unsynced, err := repo.UnsyncedRecords(ctx)
	if err != nil {
		t.Fatalf("UnsyncedRecords failed: %v", err)
	}
	if len(unsynced) != 2 {
		t.Fatalf("Expected 2 unsynced records, got %d", len(unsynced))
	}
	if unsynced[0].SessionID != "sess-a" || unsynced[1].SessionID != "sess-b" {
		t.Errorf("Expected oldest-first order [sess-a sess-b], got [%s %s]",
			unsynced[0].SessionID, unsynced[1].SessionID)
	}
}

func TestSQLite_PruneSyncedKeepsUnsynced(t *testing.T) {
	repo := newTestStore(t)
	ctx := context.Background()

	old := time.Now().Add(-30 * 24 * time.Hour)
	if err := repo.Append(ctx, testRecord("old-synced", old)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := repo.Append(ctx, testRecord("old-unsynced", old)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := repo.Append(ctx, testRecord("recent-synced", time.Now().Add(-time.Hour))); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	for _, id := range []string{"old-synced", "recent-synced"} {
		if err := repo.MarkSynced(ctx, id); err != nil {
			t.Fatalf("MarkSynced %s failed: %v", id, err)
		}
	}

	deleted, err := repo.PruneSynced(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("PruneSynced failed: %v", err)
	}
	if deleted != 1 {
		t.Errorf("Expected 1 record pruned, got %d", deleted)
	}

	// Unsynced records survive any retention window.
	if got, _ := repo.Get(ctx, "old-unsynced"); got == nil {
		t.Error("Unsynced record was pruned")
	}
	if got, _ := repo.Get(ctx, "recent-synced"); got == nil {
		t.Error("Record inside retention window was pruned")
	}
	if got, _ := repo.Get(ctx, "old-synced"); got != nil {
		t.Error("Expired synced record survived pruning")
	}
}
