// Package telemetry records one structured event per session command
// (event, duration, status, session id, correlation id) to a SQLite
// sink: modernc.org/sqlite in WAL mode, with an embedded schema and
// recreate-on-mismatch recovery at open time.
package telemetry

import (
	_ "embed"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Event is one recorded action outcome plus a server-assigned
// recorded-at timestamp.
type Event struct {
	Event         string
	SessionID     string
	CorrelationID string
	Status        string
	DurationUs    int64
	RecordedAt    time.Time
}

// Sink records TelemetryEvents to a SQLite database. A nil *Sink is valid
// and silently discards every Record call, so callers that construct the
// engine without a telemetry path pay no cost.
type Sink struct {
	db *sql.DB
}

// Open opens or creates a SQLite telemetry database at dbPath, recreating
// it if the existing schema is incompatible.
func Open(dbPath string) (*Sink, error) {
	sink, err := open(dbPath)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") || strings.Contains(err.Error(), "no such column") {
			if removeErr := os.Remove(dbPath); removeErr != nil && !os.IsNotExist(removeErr) {
				return nil, fmt.Errorf("remove incompatible telemetry db: %w", removeErr)
			}
			os.Remove(dbPath + "-wal")
			os.Remove(dbPath + "-shm")
			return open(dbPath)
		}
		return nil, err
	}
	return sink, nil
}

func open(dbPath string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create telemetry directory: %w", err)
	}

	escaped := strings.ReplaceAll(dbPath, " ", "%20")
	db, err := sql.Open("sqlite", "file:"+escaped+"?_time_format=sqlite")
	if err != nil {
		return nil, fmt.Errorf("open telemetry db: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize telemetry schema: %w", err)
	}

	return &Sink{db: db}, nil
}

// Close closes the underlying database connection.
func (s *Sink) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record inserts one telemetry event. A nil Sink is a no-op, so sessions
// can call Record unconditionally regardless of whether telemetry is
// configured.
func (s *Sink) Record(e Event) error {
	if s == nil || s.db == nil {
		return nil
	}
	if e.RecordedAt.IsZero() {
		e.RecordedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(
		`INSERT INTO telemetry_events (event, session_id, correlation_id, status, duration_us, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.Event, e.SessionID, e.CorrelationID, e.Status, e.DurationUs, e.RecordedAt.Format(time.RFC3339Nano),
	)
	return err
}

// RecentBySession returns the most recent limit events for sessionID, most
// recent first, used by diagnostic tooling rather than the engine itself.
func (s *Sink) RecentBySession(sessionID string, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	rows, err := s.db.Query(
		`SELECT event, session_id, correlation_id, status, duration_us, recorded_at
		 FROM telemetry_events WHERE session_id = ? ORDER BY id DESC LIMIT ?`,
		sessionID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var correlationID sql.NullString
		var recordedAt string
		if err := rows.Scan(&e.Event, &e.SessionID, &correlationID, &e.Status, &e.DurationUs, &recordedAt); err != nil {
			return nil, err
		}
		e.CorrelationID = correlationID.String
		if parsed, perr := time.Parse(time.RFC3339Nano, recordedAt); perr == nil {
			e.RecordedAt = parsed
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
