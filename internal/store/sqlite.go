package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/poiselabs/poise/internal/domain"
)

// SQLiteStore implements Repository using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite creates a new SQLite-backed repository.
func NewSQLite(dbPath string) (Repository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Open database with WAL mode for better concurrency.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS session_records (
		session_id TEXT PRIMARY KEY,
		started_at INTEGER NOT NULL,
		ended_at INTEGER NOT NULL,
		duration_ns INTEGER NOT NULL,
		emotions_json TEXT NOT NULL,
		transcription_json TEXT NOT NULL,
		vision_json TEXT NOT NULL,
		aggregate_json TEXT NOT NULL,
		synced INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_records_unsynced ON session_records(started_at) WHERE synced = 0;
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Append stores a finalized session record.
func (s *SQLiteStore) Append(ctx context.Context, rec *domain.SessionRecord) error {
	emotions, err := json.Marshal(rec.EmotionsSeries)
	if err != nil {
		return fmt.Errorf("marshal emotions series: %w", err)
	}
	transcription, err := json.Marshal(rec.TranscriptionSeries)
	if err != nil {
		return fmt.Errorf("marshal transcription series: %w", err)
	}
	vision, err := json.Marshal(rec.VisionSeries)
	if err != nil {
		return fmt.Errorf("marshal vision series: %w", err)
	}
	aggregate, err := json.Marshal(rec.Aggregate)
	if err != nil {
		return fmt.Errorf("marshal aggregate scores: %w", err)
	}

	query := `
	INSERT INTO session_records
		(session_id, started_at, ended_at, duration_ns,
		 emotions_json, transcription_json, vision_json, aggregate_json,
		 synced, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().Unix()
	synced := 0
	if rec.Synced {
		synced = 1
	}
	_, err = s.db.ExecContext(ctx, query,
		rec.SessionID,
		rec.StartedAt.UnixNano(), rec.EndedAt.UnixNano(), int64(rec.Duration),
		string(emotions), string(transcription), string(vision), string(aggregate),
		synced, now, now,
	)
	if err != nil {
		return fmt.Errorf("append session record: %w", err)
	}
	return nil
}

const recordColumns = `session_id, started_at, ended_at, duration_ns,
	emotions_json, transcription_json, vision_json, aggregate_json, synced`

// Get retrieves a record by session id.
func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*domain.SessionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM session_records WHERE session_id = ?`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, query, sessionID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan session record: %w", err)
	}
	return rec, nil
}

// MarkSynced flips the synced flag for a record.
func (s *SQLiteStore) MarkSynced(ctx context.Context, sessionID string) error {
	query := `UPDATE session_records SET synced = 1, updated_at = ? WHERE session_id = ?`
	result, err := s.db.ExecContext(ctx, query, time.Now().Unix(), sessionID)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("mark synced: session %s not found", sessionID)
	}
	return nil
}

// UnsyncedRecords returns all unsynced records, oldest first.
func (s *SQLiteStore) UnsyncedRecords(ctx context.Context) ([]*domain.SessionRecord, error) {
	query := `SELECT ` + recordColumns + ` FROM session_records WHERE synced = 0 ORDER BY started_at ASC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query unsynced records: %w", err)
	}
	defer rows.Close()

	var records []*domain.SessionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan unsynced record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate unsynced records: %w", err)
	}
	return records, nil
}

// PruneSynced deletes synced records older than the retention window.
func (s *SQLiteStore) PruneSynced(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixNano()
	query := `DELETE FROM session_records WHERE synced = 1 AND ended_at < ?`
	result, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune synced records: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return deleted, nil
}

// rowScanner covers *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*domain.SessionRecord, error) {
	var rec domain.SessionRecord
	var startedAt, endedAt, durationNS int64
	var emotions, transcription, vision, aggregate string
	var synced int

	err := row.Scan(
		&rec.SessionID, &startedAt, &endedAt, &durationNS,
		&emotions, &transcription, &vision, &aggregate, &synced,
	)
	if err != nil {
		return nil, err
	}

	rec.StartedAt = time.Unix(0, startedAt)
	rec.EndedAt = time.Unix(0, endedAt)
	rec.Duration = time.Duration(durationNS)
	rec.Synced = synced != 0

	if err := json.Unmarshal([]byte(emotions), &rec.EmotionsSeries); err != nil {
		return nil, fmt.Errorf("unmarshal emotions series: %w", err)
	}
	if err := json.Unmarshal([]byte(transcription), &rec.TranscriptionSeries); err != nil {
		return nil, fmt.Errorf("unmarshal transcription series: %w", err)
	}
	if err := json.Unmarshal([]byte(vision), &rec.VisionSeries); err != nil {
		return nil, fmt.Errorf("unmarshal vision series: %w", err)
	}
	if err := json.Unmarshal([]byte(aggregate), &rec.Aggregate); err != nil {
		return nil, fmt.Errorf("unmarshal aggregate scores: %w", err)
	}
	return &rec, nil
}
