package store

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/snapshot"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// Run describes one simulation run.
type Run struct {
	ID        string
	Seed      uint64
	Scenario  string
	Config    json.RawMessage
	CreatedAt time.Time
}

// SnapshotInfo describes a stored snapshot without its payload.
type SnapshotInfo struct {
	RunID       string
	Day         int
	PersonCount int
	Checksum    string
	CreatedAt   time.Time
}

// SQLiteStore persists runs, snapshots and events. Methods are safe for
// concurrent use.
type SQLiteStore struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	buffer []events.Event
	runID  string
}

// Open opens or creates the database at path.
func Open(ctx context.Context, path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite works best with single writer

	if err := InitSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string { return s.path }

// Close flushes buffered events and closes the database.
func (s *SQLiteStore) Close() error {
	flushErr := s.Flush(context.Background())
	if err := s.db.Close(); err != nil {
		return err
	}
	return flushErr
}

// SaveRun records a run. Saving an existing run is a no-op.
func (s *SQLiteStore) SaveRun(ctx context.Context, r Run) error {
	if r.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}
	var config any
	if len(r.Config) > 0 {
		config = string(r.Config)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO runs (id, seed, scenario, config, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.ID, int64(r.Seed), r.Scenario, config, r.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", r.ID, err)
	}
	return nil
}

// GetRun returns the run with id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	var (
		r        Run
		seed     int64
		scenario sql.NullString
		config   sql.NullString
		created  string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, seed, scenario, config, created_at FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &seed, &scenario, &config, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load run %s: %w", id, err)
	}
	r.Seed = uint64(seed)
	r.Scenario = scenario.String
	if config.Valid {
		r.Config = json.RawMessage(config.String)
	}
	r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
	return &r, nil
}

// Runs lists all runs, newest first.
func (s *SQLiteStore) Runs(ctx context.Context) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, seed, created_at FROM runs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var (
			r       Run
			seed    int64
			created string
		)
		if err := rows.Scan(&r.ID, &seed, &created); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Seed = uint64(seed)
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, r)
	}
	return out, rows.Err()
}

// SaveSnapshot stores st in the snapshot file encoding, replacing an
// earlier snapshot of the same run and day. The run must exist.
func (s *SQLiteStore) SaveSnapshot(ctx context.Context, st *snapshot.State) error {
	payload, err := snapshot.Encode(st)
	if err != nil {
		return err
	}
	header, err := snapshot.HeaderOf(payload)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO snapshots (run_id, day, person_count, checksum, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		st.RunID, st.Day, header.PersonCount, header.Checksum, payload, st.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to save snapshot of run %s day %d: %w", st.RunID, st.Day, err)
	}
	return nil
}

// LoadSnapshot returns the snapshot of runID taken before day.
func (s *SQLiteStore) LoadSnapshot(ctx context.Context, runID string, day int) (*snapshot.State, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM snapshots WHERE run_id = ? AND day = ?`, runID, day).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshot of run %s day %d: %w", runID, day, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	return snapshot.Decode(bytes.NewReader(payload))
}

// LatestSnapshot returns the snapshot of runID with the highest day.
func (s *SQLiteStore) LatestSnapshot(ctx context.Context, runID string) (*snapshot.State, error) {
	var day int
	err := s.db.QueryRowContext(ctx,
		`SELECT day FROM snapshots WHERE run_id = ? ORDER BY day DESC LIMIT 1`, runID).Scan(&day)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("snapshots of run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest snapshot: %w", err)
	}
	return s.LoadSnapshot(ctx, runID, day)
}

// Snapshots lists the snapshots of runID by day.
func (s *SQLiteStore) Snapshots(ctx context.Context, runID string) ([]SnapshotInfo, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, day, person_count, checksum, created_at FROM snapshots WHERE run_id = ? ORDER BY day`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	defer rows.Close()

	var out []SnapshotInfo
	for rows.Next() {
		var (
			info    SnapshotInfo
			created string
		)
		if err := rows.Scan(&info.RunID, &info.Day, &info.PersonCount, &info.Checksum, &created); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot: %w", err)
		}
		info.CreatedAt, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, info)
	}
	return out, rows.Err()
}

// PruneSnapshots keeps the newest keep snapshots of runID and returns the
// number deleted.
func (s *SQLiteStore) PruneSnapshots(ctx context.Context, runID string, keep int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM snapshots WHERE run_id = ? AND day NOT IN (
		     SELECT day FROM snapshots WHERE run_id = ? ORDER BY day DESC LIMIT ?)`,
		runID, runID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
