package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vincentbai/browsetrace-recorder/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

type Database struct {
	db              *sql.DB
	validEventKinds map[models.EventKind]bool
}

func NewDatabase(databasePath string) (*Database, error) {
	// WAL + busy timeout to avoid "database is locked"
	db, err := sql.Open("sqlite", databasePath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	valid := make(map[models.EventKind]bool, len(models.EventKinds))
	for _, kind := range models.EventKinds {
		valid[kind] = true
	}
	return &Database{db: db, validEventKinds: valid}, nil
}

func createTables(db *sql.DB) error {
	kinds := make([]string, len(models.EventKinds))
	for i, kind := range models.EventKinds {
		kinds[i] = "'" + string(kind) + "'"
	}

	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS session_snapshot(
	  id                  INTEGER PRIMARY KEY CHECK (id = 1),
	  is_recording        INTEGER NOT NULL,
	  session_id          TEXT    NOT NULL,
	  mode                TEXT    NOT NULL,
	  start_time          INTEGER NOT NULL,
	  recorded_context_id TEXT    NOT NULL DEFAULT '',
	  control_context_id  TEXT    NOT NULL DEFAULT '',
	  origin_context_id   TEXT    NOT NULL DEFAULT '',
	  updated_at          INTEGER NOT NULL
	);
	CREATE TABLE IF NOT EXISTS events(
	  id         INTEGER PRIMARY KEY,
	  session_id TEXT    NOT NULL,
	  ts_ms      INTEGER NOT NULL,
	  kind       TEXT    NOT NULL CHECK (kind IN (` + strings.Join(kinds, ",") + `)),
	  data_json  TEXT    NOT NULL CHECK (json_valid(data_json))
	);
	CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, ts_ms);
	CREATE INDEX IF NOT EXISTS idx_events_kind    ON events(kind);
	CREATE TABLE IF NOT EXISTS recordings(
	  session_id   TEXT    PRIMARY KEY,
	  mode         TEXT    NOT NULL,
	  artifact_ref TEXT    NOT NULL,
	  started_at   INTEGER NOT NULL,
	  stopped_at   INTEGER NOT NULL,
	  event_count  INTEGER NOT NULL
	);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// LoadSnapshot returns the persisted session snapshot, or nil when none has
// been saved.
func (d *Database) LoadSnapshot(ctx context.Context) (*models.Snapshot, error) {
	var s models.Snapshot
	var recording int
	err := d.db.QueryRowContext(ctx, `
		SELECT is_recording, session_id, mode, start_time,
		       recorded_context_id, control_context_id, origin_context_id
		FROM session_snapshot WHERE id = 1`).
		Scan(&recording, &s.SessionID, &s.Mode, &s.StartTime,
			&s.RecordedContextID, &s.ControlContextID, &s.OriginContextID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	s.IsRecording = recording != 0
	return &s, nil
}

// SaveSnapshot replaces the persisted snapshot.
func (d *Database) SaveSnapshot(ctx context.Context, s models.Snapshot) error {
	recording := 0
	if s.IsRecording {
		recording = 1
	}
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO session_snapshot(id, is_recording, session_id, mode, start_time,
		  recorded_context_id, control_context_id, origin_context_id, updated_at)
		VALUES(1, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  is_recording = excluded.is_recording,
		  session_id = excluded.session_id,
		  mode = excluded.mode,
		  start_time = excluded.start_time,
		  recorded_context_id = excluded.recorded_context_id,
		  control_context_id = excluded.control_context_id,
		  origin_context_id = excluded.origin_context_id,
		  updated_at = excluded.updated_at`,
		recording, s.SessionID, string(s.Mode), s.StartTime,
		s.RecordedContextID, s.ControlContextID, s.OriginContextID, time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save snapshot: %w", err)
	}
	return nil
}

// ClearSnapshot removes the persisted snapshot.
func (d *Database) ClearSnapshot(ctx context.Context) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM session_snapshot`); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}
	return nil
}

func (d *Database) ValidateEvent(event models.InteractionEvent) error {
	if event.Kind == "" {
		return fmt.Errorf("kind cannot be empty")
	}
	if !d.validEventKinds[event.Kind] {
		return fmt.Errorf("invalid event kind: %s", event.Kind)
	}
	if event.Time < 0 {
		return fmt.Errorf("time must not be negative")
	}
	if event.EndTime != 0 && event.EndTime < event.Time {
		return fmt.Errorf("end time %d precedes time %d", event.EndTime, event.Time)
	}
	switch event.Kind {
	case models.KindMousePosition, models.KindClick:
		if event.Pos == nil {
			return fmt.Errorf("%s requires pos", event.Kind)
		}
	case models.KindDrag:
		if event.StartPos == nil {
			return fmt.Errorf("drag requires startPos")
		}
	case models.KindScroll, models.KindTyping, models.KindHoveredCard:
		if event.TargetRect == nil {
			return fmt.Errorf("%s requires targetRect", event.Kind)
		}
	case models.KindKeyDown:
		if event.Key == "" {
			return fmt.Errorf("keydown requires key")
		}
	case models.KindURLChange:
		if event.URL == "" {
			return fmt.Errorf("URL cannot be empty")
		}
	}
	return nil
}

// InsertEvents appends events to the session's interaction log. The batch is
// stored atomically: one invalid event rejects all of them.
func (d *Database) InsertEvents(ctx context.Context, sessionID string, events []models.InteractionEvent) error {
	if sessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx, `INSERT INTO events(session_id, ts_ms, kind, data_json) VALUES(?,?,?,json(?))`)
	if err != nil {
		_ = transaction.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	for _, event := range events {
		if err := d.ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("invalid event: %w", err)
		}

		jsonData, err := json.Marshal(event)
		if err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to marshal event data: %w", err)
		}
		if _, err := statement.ExecContext(ctx, sessionID, event.Time, string(event.Kind), string(jsonData)); err != nil {
			_ = transaction.Rollback()
			return fmt.Errorf("failed to execute statement: %w", err)
		}
	}
	if err := transaction.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Events returns the session's logged events ordered by time.
func (d *Database) Events(ctx context.Context, sessionID string) ([]models.InteractionEvent, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT data_json FROM events WHERE session_id = ? ORDER BY ts_ms, id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []models.InteractionEvent
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var event models.InteractionEvent
		if err := json.Unmarshal([]byte(raw), &event); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

// CountEvents returns how many events the session logged.
func (d *Database) CountEvents(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return n, nil
}

// SaveRecording stores the completion metadata of a stopped session. The
// event count is taken from the session's log.
func (d *Database) SaveRecording(ctx context.Context, rec models.Recording) error {
	if rec.SessionID == "" {
		return fmt.Errorf("session id cannot be empty")
	}
	count, err := d.CountEvents(ctx, rec.SessionID)
	if err != nil {
		return err
	}
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO recordings(session_id, mode, artifact_ref, started_at, stopped_at, event_count)
		VALUES(?,?,?,?,?,?)
		ON CONFLICT(session_id) DO UPDATE SET
		  artifact_ref = excluded.artifact_ref,
		  stopped_at = excluded.stopped_at,
		  event_count = excluded.event_count`,
		rec.SessionID, string(rec.Mode), rec.ArtifactRef,
		rec.StartedAt.UnixMilli(), rec.StoppedAt.UnixMilli(), count)
	if err != nil {
		return fmt.Errorf("failed to save recording: %w", err)
	}
	return nil
}

// Recording returns the completion metadata of a session.
func (d *Database) Recording(ctx context.Context, sessionID string) (*models.Recording, error) {
	var rec models.Recording
	var started, stopped int64
	err := d.db.QueryRowContext(ctx, `
		SELECT session_id, mode, artifact_ref, started_at, stopped_at, event_count
		FROM recordings WHERE session_id = ?`, sessionID).
		Scan(&rec.SessionID, &rec.Mode, &rec.ArtifactRef, &started, &stopped, &rec.EventCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load recording: %w", err)
	}
	rec.StartedAt = time.UnixMilli(started)
	rec.StoppedAt = time.UnixMilli(stopped)
	return &rec, nil
}
