package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/mailcal/internal/event"
)

func setupTestDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	return db, mock, func() { db.Close() }
}

func payload(t *testing.T, rec event.Record) string {
	t.Helper()
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatalf("marshal record: %v", err)
	}
	return string(data)
}

func expectSchema(mock sqlmock.Sqlmock) {
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS events").WillReturnResult(sqlmock.NewResult(0, 0))
}

func TestPersistNewEvent(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30", DurationMinutes: 60}},
	}

	expectSchema(mock)
	mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
		WithArgs("Team Sync").
		WillReturnRows(sqlmock.NewRows([]string{"event_data"}))
	mock.ExpectExec("INSERT INTO events").
		WithArgs(sqlmock.AnyArg(), "box@example.com", "Team Sync", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	s := New(db, "sqlite3", MatchStrict)
	stored, err := s.Persist(context.Background(), "box@example.com", rec)
	if err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	if stored == nil {
		t.Fatal("Persist() returned nil for a new event")
	}
	if stored.UniqueID == "" {
		t.Error("UniqueID should be assigned at insert")
	}
	if stored.EventName != "Team Sync" {
		t.Errorf("EventName = %q", stored.EventName)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestPersistDuplicateSkipsInsert(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30", DurationMinutes: 60}},
	}

	expectSchema(mock)
	mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
		WithArgs("Team Sync").
		WillReturnRows(sqlmock.NewRows([]string{"event_data"}).AddRow(payload(t, rec)))
	// No INSERT expected.

	s := New(db, "sqlite3", MatchStrict)
	stored, err := s.Persist(context.Background(), "box@example.com", rec)
	if err != nil {
		t.Fatalf("Persist() error: %v", err)
	}
	if stored != nil {
		t.Errorf("Persist() = %+v, want nil for duplicate", stored)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStrictModeDistinguishesStartTimes(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	stored := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30"}},
	}
	incoming := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-02-08 14:30"}},
	}

	expectSchema(mock)
	mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
		WithArgs("Team Sync").
		WillReturnRows(sqlmock.NewRows([]string{"event_data"}).AddRow(payload(t, stored)))

	s := New(db, "sqlite3", MatchStrict)
	dup, err := s.IsDuplicate(context.Background(), incoming)
	if err != nil {
		t.Fatalf("IsDuplicate() error: %v", err)
	}
	if dup {
		t.Error("same name at a different start time should not be a duplicate")
	}
}

func TestStrictModeNameOnlyWithoutOccurrences(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	stored := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30"}},
	}

	expectSchema(mock)
	mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
		WithArgs("Team Sync").
		WillReturnRows(sqlmock.NewRows([]string{"event_data"}).AddRow(payload(t, stored)))

	s := New(db, "sqlite3", MatchStrict)
	dup, err := s.IsDuplicate(context.Background(), event.Record{Name: "Team Sync"})
	if err != nil {
		t.Fatalf("IsDuplicate() error: %v", err)
	}
	if !dup {
		t.Error("a record without occurrences should match on name alone")
	}
}

func TestStrictModeMatchesLegacyDateField(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	// Older rows carry a single date_time field instead of occurrences.
	stored := event.Record{Name: "Team Sync", DateTime: "2025-01-25 14:30"}
	incoming := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30"}},
	}

	expectSchema(mock)
	mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
		WithArgs("Team Sync").
		WillReturnRows(sqlmock.NewRows([]string{"event_data"}).AddRow(payload(t, stored)))

	s := New(db, "sqlite3", MatchStrict)
	dup, err := s.IsDuplicate(context.Background(), incoming)
	if err != nil {
		t.Fatalf("IsDuplicate() error: %v", err)
	}
	if !dup {
		t.Error("legacy single-date rows should still match the derived key")
	}
}

// The legacy substring test reports a false positive when one event's
// name is a substring of another's payload; strict mode does not. Both
// behaviors are intentional.
func TestLegacyVersusStrictFalsePositive(t *testing.T) {
	storedRec := event.Record{
		Name:        "Team Sync Planning",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30"}},
	}
	incoming := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30"}},
	}

	t.Run("legacy", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()

		expectSchema(mock)
		mock.ExpectQuery("SELECT event_data FROM events").
			WillReturnRows(sqlmock.NewRows([]string{"event_data"}).AddRow(payload(t, storedRec)))

		s := New(db, "sqlite3", MatchLegacy)
		dup, err := s.IsDuplicate(context.Background(), incoming)
		if err != nil {
			t.Fatalf("IsDuplicate() error: %v", err)
		}
		if !dup {
			t.Error("legacy substring match should report a (false positive) duplicate")
		}
	})

	t.Run("strict", func(t *testing.T) {
		db, mock, cleanup := setupTestDB(t)
		defer cleanup()

		expectSchema(mock)
		mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
			WithArgs("Team Sync").
			WillReturnRows(sqlmock.NewRows([]string{"event_data"}))

		s := New(db, "sqlite3", MatchStrict)
		dup, err := s.IsDuplicate(context.Background(), incoming)
		if err != nil {
			t.Fatalf("IsDuplicate() error: %v", err)
		}
		if dup {
			t.Error("strict mode should not report a duplicate for a different name")
		}
	})
}

func TestPersistInsertFailurePropagates(t *testing.T) {
	db, mock, cleanup := setupTestDB(t)
	defer cleanup()

	rec := event.Record{
		Name:        "Team Sync",
		Occurrences: []event.Occurrence{{DateTime: "2025-01-25 14:30"}},
	}

	expectSchema(mock)
	mock.ExpectQuery("SELECT event_data FROM events WHERE event_name").
		WithArgs("Team Sync").
		WillReturnRows(sqlmock.NewRows([]string{"event_data"}))
	mock.ExpectExec("INSERT INTO events").
		WillReturnError(errors.New("disk I/O error"))

	s := New(db, "sqlite3", MatchStrict)
	if _, err := s.Persist(context.Background(), "box@example.com", rec); err == nil {
		t.Fatal("Persist() should propagate insert failures")
	}
}

func TestBindRewritesPlaceholdersForPostgres(t *testing.T) {
	s := New(nil, "postgres", MatchStrict)
	got := s.bind("INSERT INTO events VALUES (?, ?, ?)")
	want := "INSERT INTO events VALUES ($1, $2, $3)"
	if got != want {
		t.Errorf("bind() = %q, want %q", got, want)
	}

	s = New(nil, "sqlite3", MatchStrict)
	if got := s.bind("SELECT 1 WHERE a = ?"); got != "SELECT 1 WHERE a = ?" {
		t.Errorf("sqlite bind() = %q, want unchanged", got)
	}
}
