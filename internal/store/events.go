package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nvandessel/epistate/internal/events"
)

// EventSink returns an events.Sink that buffers events of runID until
// Flush. Only one run can be recorded at a time per store.
func (s *SQLiteStore) EventSink(runID string) events.Sink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runID = runID
	return sqliteSink{s}
}

type sqliteSink struct{ s *SQLiteStore }

func (k sqliteSink) Report(e events.Event) {
	k.s.mu.Lock()
	k.s.buffer = append(k.s.buffer, e)
	k.s.mu.Unlock()
}

// Flush writes buffered events in one transaction.
func (s *SQLiteStore) Flush(ctx context.Context) error {
	s.mu.Lock()
	buf, runID := s.buffer, s.runID
	s.buffer = nil
	s.mu.Unlock()
	if len(buf) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO events (run_id, day, kind, person_id, data) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, e := range buf {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal event: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, runID, e.Day, string(e.Kind), e.PersonID, string(data)); err != nil {
			return fmt.Errorf("failed to insert event: %w", err)
		}
	}
	return tx.Commit()
}

// EventFilter selects stored events. Zero fields match everything.
type EventFilter struct {
	RunID    string
	Kinds    []events.Kind
	PersonID string
	FromDay  int
	ToDay    int // inclusive; zero means no upper bound
	Limit    int
}

// Events returns stored events in insertion order.
func (s *SQLiteStore) Events(ctx context.Context, f EventFilter) ([]events.Event, error) {
	var (
		where []string
		args  []any
	)
	if f.RunID != "" {
		where = append(where, "run_id = ?")
		args = append(args, f.RunID)
	}
	if f.PersonID != "" {
		where = append(where, "person_id = ?")
		args = append(args, f.PersonID)
	}
	if f.FromDay > 0 {
		where = append(where, "day >= ?")
		args = append(args, f.FromDay)
	}
	if f.ToDay > 0 {
		where = append(where, "day <= ?")
		args = append(args, f.ToDay)
	}
	if len(f.Kinds) > 0 {
		marks := make([]string, len(f.Kinds))
		for i, k := range f.Kinds {
			marks[i] = "?"
			args = append(args, string(k))
		}
		where = append(where, "kind IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT data FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var out []events.Event
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		var e events.Event
		if err := json.Unmarshal([]byte(data), &e); err != nil {
			return nil, fmt.Errorf("failed to decode event: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
