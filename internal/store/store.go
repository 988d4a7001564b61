// Package store persists extracted event records and answers duplicate
// queries against them.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/mailcal/internal/event"
)

// MatchMode selects the duplicate-detection semantics.
type MatchMode string

const (
	// MatchStrict compares the derived (name, first start) key against
	// the parsed payloads of stored rows.
	MatchStrict MatchMode = "strict"
	// MatchLegacy reproduces the historical behavior: a substring test
	// of name and start over the serialized payload text. Vulnerable to
	// false positives when one event's name or timestamp is a substring
	// of another's.
	MatchLegacy MatchMode = "legacy"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS events (
	unique_id TEXT PRIMARY KEY,
	email_address TEXT,
	event_name TEXT,
	timestamp TIMESTAMP,
	event_data TEXT
)`

// StoredEvent is one persisted row. UniqueID is assigned exactly once,
// at insert.
type StoredEvent struct {
	UniqueID     string
	EmailAddress string
	EventName    string
	Timestamp    time.Time
	EventData    string
}

// Store is the event store over a SQL database. It is written for
// sequential, non-overlapping access; the pipeline never runs two
// messages concurrently.
type Store struct {
	db      *sql.DB
	dialect string
	mode    MatchMode

	schemaOnce sync.Once
	schemaErr  error
}

// New creates a store on the given handle. dialect is the sql driver
// name ("postgres" or "sqlite3") and controls placeholder binding.
func New(db *sql.DB, dialect string, mode MatchMode) *Store {
	if mode == "" {
		mode = MatchStrict
	}
	return &Store{db: db, dialect: dialect, mode: mode}
}

// bind rewrites ? placeholders to $N for postgres.
func (s *Store) bind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// ensureSchema creates the events table on first use.
func (s *Store) ensureSchema(ctx context.Context) error {
	s.schemaOnce.Do(func() {
		if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
			s.schemaErr = fmt.Errorf("create events table: %w", err)
		}
	})
	return s.schemaErr
}

// IsDuplicate reports whether an event with the same dedup key has
// already been persisted. With no occurrences (and no legacy date field)
// the check degenerates to a name-only match.
func (s *Store) IsDuplicate(ctx context.Context, rec event.Record) (bool, error) {
	if err := s.ensureSchema(ctx); err != nil {
		return false, err
	}
	start, hasStart := rec.DedupStart()

	if s.mode == MatchLegacy {
		return s.isDuplicateLegacy(ctx, rec.Name, start, hasStart)
	}

	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT event_data FROM events WHERE event_name = ?`), rec.Name)
	if err != nil {
		return false, fmt.Errorf("query events by name: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return false, fmt.Errorf("scan event row: %w", err)
		}
		if !hasStart {
			return true, nil
		}
		var stored event.Record
		if err := json.Unmarshal([]byte(data), &stored); err != nil {
			// Unreadable payloads cannot match a derived key.
			continue
		}
		if storedStart, ok := stored.DedupStart(); ok && storedStart == start {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate event rows: %w", err)
	}
	return false, nil
}

// isDuplicateLegacy runs the substring test over every stored payload.
func (s *Store) isDuplicateLegacy(ctx context.Context, name, start string, hasStart bool) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT event_data FROM events`)
	if err != nil {
		return false, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return false, fmt.Errorf("scan event row: %w", err)
		}
		if !strings.Contains(data, name) {
			continue
		}
		if !hasStart || strings.Contains(data, start) {
			return true, nil
		}
	}
	if err := rows.Err(); err != nil {
		return false, fmt.Errorf("iterate event rows: %w", err)
	}
	return false, nil
}

// Persist stores the record for the given mailbox address. It returns
// (nil, nil) when the record is a duplicate: skipped, not an error. An
// insert failure propagates to the caller and is not retried.
func (s *Store) Persist(ctx context.Context, mailboxAddress string, rec event.Record) (*StoredEvent, error) {
	dup, err := s.IsDuplicate(ctx, rec)
	if err != nil {
		return nil, err
	}
	if dup {
		return nil, nil
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("serialize event record: %w", err)
	}

	se := &StoredEvent{
		UniqueID:     uuid.New().String(),
		EmailAddress: mailboxAddress,
		EventName:    rec.Name,
		Timestamp:    time.Now().UTC(),
		EventData:    string(payload),
	}

	_, err = s.db.ExecContext(ctx, s.bind(`
		INSERT INTO events (unique_id, email_address, event_name, timestamp, event_data)
		VALUES (?, ?, ?, ?, ?)
	`), se.UniqueID, se.EmailAddress, se.EventName, se.Timestamp, se.EventData)
	if err != nil {
		return nil, fmt.Errorf("insert event: %w", err)
	}
	return se, nil
}
