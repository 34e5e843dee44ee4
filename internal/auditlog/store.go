// Package auditlog is a queryable SQLite mirror of the dispatch log and
// event stream. The authoritative dispatch log lives capped at 500 entries
// inside each team's config.json; this package gives operators a queryable
// history that isn't bounded by that cap or scoped to a single team file,
// grounded on events/store.go SQLite persistence layer.
package auditlog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/opencode-teams/core/internal/types"
)

// Store is the audit-log handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// its schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS dispatch_log (
		id TEXT PRIMARY KEY,
		team TEXT NOT NULL,
		rule_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		success INTEGER NOT NULL,
		details TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_dispatch_log_team ON dispatch_log(team, created_at);

	CREATE TABLE IF NOT EXISTS event_log (
		id TEXT PRIMARY KEY,
		team TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_event_log_team ON event_log(team, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("auditlog: init schema: %w", err)
	}
	return nil
}

// RecordDispatch mirrors one DispatchLogEntry for team into the queryable
// log, independent of that team's in-config 500-entry cap.
func (s *Store) RecordDispatch(team string, entry types.DispatchLogEntry) error {
	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO dispatch_log (id, team, rule_id, event_type, success, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, team, entry.RuleID, string(entry.EventType), boolToInt(entry.Success), entry.Details, entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("auditlog: record dispatch entry %s: %w", entry.ID, err)
	}
	return nil
}

// RecordEvent mirrors one bus Event for later querying.
func (s *Store) RecordEvent(evt types.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("auditlog: marshal event payload %s: %w", evt.ID, err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO event_log (id, team, event_type, payload, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		evt.ID, evt.TeamName, string(evt.Type), string(payload), evt.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("auditlog: record event %s: %w", evt.ID, err)
	}
	return nil
}

// RecentDispatch returns up to limit dispatch-log rows for team, newest
// first.
func (s *Store) RecentDispatch(team string, limit int) ([]types.DispatchLogEntry, error) {
	rows, err := s.db.Query(
		`SELECT id, rule_id, event_type, success, details, created_at
		 FROM dispatch_log WHERE team = ? ORDER BY created_at DESC LIMIT ?`,
		team, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query dispatch log for %s: %w", team, err)
	}
	defer rows.Close()

	var out []types.DispatchLogEntry
	for rows.Next() {
		var e types.DispatchLogEntry
		var successInt int
		var eventType string
		var createdAt time.Time
		if err := rows.Scan(&e.ID, &e.RuleID, &eventType, &successInt, &e.Details, &createdAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan dispatch row: %w", err)
		}
		e.EventType = types.EventType(eventType)
		e.Success = successInt != 0
		e.Timestamp = createdAt
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: iterate dispatch rows: %w", err)
	}
	return out, nil
}

// RecentEvents returns up to limit event-log rows for team, newest first.
func (s *Store) RecentEvents(team string, limit int) ([]types.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, event_type, payload, created_at
		 FROM event_log WHERE team = ? ORDER BY created_at DESC LIMIT ?`,
		team, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("auditlog: query event log for %s: %w", team, err)
	}
	defer rows.Close()

	var out []types.Event
	for rows.Next() {
		var evt types.Event
		var eventType, payloadJSON string
		var createdAt time.Time
		if err := rows.Scan(&evt.ID, &eventType, &payloadJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("auditlog: scan event row: %w", err)
		}
		evt.Type = types.EventType(eventType)
		evt.TeamName = team
		evt.Timestamp = createdAt
		if err := json.Unmarshal([]byte(payloadJSON), &evt.Payload); err != nil {
			return nil, fmt.Errorf("auditlog: unmarshal event payload: %w", err)
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: iterate event rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
