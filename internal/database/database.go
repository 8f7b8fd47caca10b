package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/vincentbai/webtics/internal/models"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// ErrInvalidEvent is wrapped by every validation failure.
var ErrInvalidEvent = errors.New("invalid event")

type Database struct {
	db *sql.DB
}

// StoredEvent is an event as persisted by the collector.
type StoredEvent struct {
	ID      string
	TSISO   string
	Event   models.Event
	Created time.Time
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

	return &Database{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS events(
	  id         INTEGER PRIMARY KEY,
	  event_id   TEXT    NOT NULL UNIQUE,
	  event      TEXT    NOT NULL,
	  ts_ms      INTEGER NOT NULL,
	  ts_iso     TEXT    NOT NULL,
	  url        TEXT    NOT NULL DEFAULT '',
	  ref        TEXT    NOT NULL DEFAULT '',
	  props_json TEXT    NOT NULL CHECK (json_valid(props_json)),
	  created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_events_ts    ON events(ts_ms);
	CREATE INDEX IF NOT EXISTS idx_events_event ON events(event);
	`)
	if err != nil {
		return fmt.Errorf("failed to create database tables: %w", err)
	}
	return nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// ValidateEvent checks the fields the collector cannot fill in itself.
func ValidateEvent(event models.Event) error {
	if event.Event == "" {
		return fmt.Errorf("%w: event name cannot be empty", ErrInvalidEvent)
	}
	if event.TS < 0 {
		return fmt.Errorf("%w: timestamp cannot be negative", ErrInvalidEvent)
	}
	return nil
}

// InsertEvent stores a single event and returns its generated id.
func (d *Database) InsertEvent(ctx context.Context, event models.Event) (string, error) {
	ids, err := d.InsertEvents(ctx, []models.Event{event})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// InsertEvents stores events in one transaction. Either all are stored or none.
func (d *Database) InsertEvents(ctx context.Context, events []models.Event) ([]string, error) {
	transaction, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	statement, err := transaction.PrepareContext(ctx, `INSERT INTO events(event_id, event, ts_ms, ts_iso, url, ref, props_json, created_at) VALUES(?,?,?,?,?,?,json(?),?)`)
	if err != nil {
		_ = transaction.Rollback()
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer statement.Close()

	ids := make([]string, 0, len(events))
	now := time.Now().UTC().UnixMilli()
	for _, event := range events {
		if err := ValidateEvent(event); err != nil {
			_ = transaction.Rollback()
			return nil, err
		}

		props := event.Props
		if props == nil {
			props = map[string]any{}
		}
		jsonData, err := json.Marshal(props)
		if err != nil {
			_ = transaction.Rollback()
			return nil, fmt.Errorf("failed to marshal event props: %w", err)
		}

		id, err := uuid.NewV7()
		if err != nil {
			_ = transaction.Rollback()
			return nil, fmt.Errorf("failed to generate event id: %w", err)
		}
		tsISO := event.Time().Format(time.RFC3339Nano)
		if _, err := statement.ExecContext(ctx, id.String(), event.Event, event.TS, tsISO, event.URL, event.Ref, string(jsonData), now); err != nil {
			_ = transaction.Rollback()
			return nil, fmt.Errorf("failed to execute statement: %w", err)
		}
		ids = append(ids, id.String())
	}
	if err := transaction.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return ids, nil
}

// CountEvents returns the number of stored events.
func (d *Database) CountEvents(ctx context.Context) (int64, error) {
	var count int64
	if err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

// ListEvents returns up to limit events, most recent capture time first.
func (d *Database) ListEvents(ctx context.Context, limit int) ([]StoredEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, `SELECT event_id, event, ts_ms, ts_iso, url, ref, props_json, created_at FROM events ORDER BY ts_ms DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []StoredEvent
	for rows.Next() {
		var (
			stored    StoredEvent
			propsJSON string
			createdMs int64
		)
		if err := rows.Scan(&stored.ID, &stored.Event.Event, &stored.Event.TS, &stored.TSISO, &stored.Event.URL, &stored.Event.Ref, &propsJSON, &createdMs); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(propsJSON), &stored.Event.Props); err != nil {
			return nil, fmt.Errorf("failed to decode props for %s: %w", stored.ID, err)
		}
		stored.Created = time.UnixMilli(createdMs).UTC()
		events = append(events, stored)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}
	return events, nil
}
