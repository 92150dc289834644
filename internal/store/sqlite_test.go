package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/snapshot"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "data", DBFile))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testState(runID string, day int) *snapshot.State {
	return &snapshot.State{
		Version: snapshot.StateVersion,
		RunID:   runID,
		Day:     day,
		Seed:    9,
		RNG:     []byte{9, 9},
		Persons: []models.PersonSnapshot{{
			ID: "a", Age: 40, Status: models.StatusRecovered,
			StatusChanges:  map[models.DiseaseStatus]int{models.StatusRecovered: day},
			Quarantine:     models.QuarantineNo,
			TestStatus:     models.TestUntested,
			Susceptibility: 1,
			Contacts:       map[string]int{},
		}},
		CreatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

func TestOpen_CreatesDatabase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", DBFile)
	s, err := Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("database file was not created: %v", err)
	}
	s.Close()

	// reopening an existing database validates and keeps the schema
	s, err = Open(context.Background(), path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	version, err := schemaVersion(context.Background(), s.db)
	if err != nil || version != SchemaVersion {
		t.Errorf("schema version = %d, %v", version, err)
	}
}

func TestInitSchema_RejectsNewerVersion(t *testing.T) {
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()
	if err := InitSchema(ctx, db); err != nil {
		t.Fatal(err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO schema_version (version, applied_at) VALUES (99, datetime('now'))`); err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(ctx, db); err == nil {
		t.Error("InitSchema() should reject a newer schema")
	}
}

func TestRuns(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := json.RawMessage(`{"seed":4711}`)
	if err := s.SaveRun(ctx, Run{ID: "r1", Seed: 4711, Scenario: "town.yaml", Config: cfg}); err != nil {
		t.Fatal(err)
	}
	if err := s.SaveRun(ctx, Run{ID: "r1", Seed: 1}); err != nil {
		t.Fatalf("saving an existing run should be a no-op: %v", err)
	}
	if err := s.SaveRun(ctx, Run{}); err == nil {
		t.Error("SaveRun() without ID should fail")
	}

	got, err := s.GetRun(ctx, "r1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Seed != 4711 || got.Scenario != "town.yaml" || string(got.Config) != string(cfg) {
		t.Errorf("GetRun() = %+v", got)
	}
	if _, err := s.GetRun(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetRun(missing) error = %v, want ErrNotFound", err)
	}
	runs, err := s.Runs(ctx)
	if err != nil || len(runs) != 1 {
		t.Errorf("Runs() = %v, %v", runs, err)
	}
}

func TestSnapshots_RoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, Run{ID: "r1"}); err != nil {
		t.Fatal(err)
	}

	for _, day := range []int{5, 10, 15} {
		if err := s.SaveSnapshot(ctx, testState("r1", day)); err != nil {
			t.Fatalf("SaveSnapshot(%d) error = %v", day, err)
		}
	}

	want := testState("r1", 10)
	got, err := s.LoadSnapshot(ctx, "r1", 10)
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("LoadSnapshot() = %+v, want %+v", got, want)
	}

	latest, err := s.LatestSnapshot(ctx, "r1")
	if err != nil || latest.Day != 15 {
		t.Errorf("LatestSnapshot() = %v, %v", latest, err)
	}
	if _, err := s.LoadSnapshot(ctx, "r1", 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadSnapshot(7) error = %v, want ErrNotFound", err)
	}
	if _, err := s.LatestSnapshot(ctx, "r2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("LatestSnapshot(r2) error = %v, want ErrNotFound", err)
	}

	infos, err := s.Snapshots(ctx, "r1")
	if err != nil || len(infos) != 3 || infos[0].Day != 5 || infos[0].PersonCount != 1 {
		t.Errorf("Snapshots() = %+v, %v", infos, err)
	}

	n, err := s.PruneSnapshots(ctx, "r1", 1)
	if err != nil || n != 2 {
		t.Errorf("PruneSnapshots() = %d, %v", n, err)
	}
	infos, _ = s.Snapshots(ctx, "r1")
	if len(infos) != 1 || infos[0].Day != 15 {
		t.Errorf("after prune = %+v", infos)
	}
}

func TestSnapshots_RequireRun(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSnapshot(context.Background(), testState("nope", 1)); err == nil {
		t.Error("SaveSnapshot() for an unknown run should fail")
	}
}

func TestEvents(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	if err := s.SaveRun(ctx, Run{ID: "r1"}); err != nil {
		t.Fatal(err)
	}

	sink := s.EventSink("r1")
	sink.Report(events.Event{Kind: events.KindInfection, Day: 1, PersonID: "a", InfectorID: "b"})
	sink.Report(events.Event{Kind: events.KindStatusChange, Day: 1, PersonID: "a", Status: "infectedButNotContagious"})
	sink.Report(events.Event{Kind: events.KindQuarantine, Day: 3, PersonID: "c", Status: "atHome"})

	if got, _ := s.Events(ctx, EventFilter{RunID: "r1"}); len(got) != 0 {
		t.Errorf("events visible before Flush: %d", len(got))
	}
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	tests := []struct {
		name   string
		filter EventFilter
		want   int
	}{
		{"all", EventFilter{RunID: "r1"}, 3},
		{"kind", EventFilter{RunID: "r1", Kinds: []events.Kind{events.KindInfection, events.KindQuarantine}}, 2},
		{"person", EventFilter{RunID: "r1", PersonID: "a"}, 2},
		{"days", EventFilter{RunID: "r1", FromDay: 2, ToDay: 3}, 1},
		{"limit", EventFilter{RunID: "r1", Limit: 1}, 1},
		{"other run", EventFilter{RunID: "r2"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Events(ctx, tt.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(got) != tt.want {
				t.Errorf("Events() = %d events, want %d", len(got), tt.want)
			}
		})
	}

	got, _ := s.Events(ctx, EventFilter{RunID: "r1", Limit: 1})
	if got[0].InfectorID != "b" {
		t.Errorf("first event = %+v", got[0])
	}
}
