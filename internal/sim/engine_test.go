package sim

import (
	"bytes"
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"testing"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/infection"
	"github.com/nvandessel/epistate/internal/metrics"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/population"
	"github.com/nvandessel/epistate/internal/progression"
	"github.com/nvandessel/epistate/internal/snapshot"
	"github.com/nvandessel/epistate/internal/tracing"
)

func testWorld(t *testing.T, persons int, sink events.Sink) *population.World {
	t.Helper()
	g := population.DefaultGenerateParams()
	g.Persons = persons
	s, err := population.Generate(g, rand.New(rand.NewPCG(7, 7)))
	if err != nil {
		t.Fatal(err)
	}
	w, err := s.Build(sink)
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func testOptions(t *testing.T, workers int) Options {
	t.Helper()
	table := immunity.DefaultTable()
	table.SetNaturalWithOmicron(nil, 10)
	imm, err := immunity.New(table)
	if err != nil {
		t.Fatal(err)
	}

	inf := infection.Params{
		Calibration:       2e-5,
		Beta:              immunity.DefaultBeta,
		AgeSusceptibility: curves.Constant(1),
		AgeInfectivity:    curves.Constant(1),
		SterilizingDays:   infection.DefaultSterilizingDays,
	}
	for i := range inf.Infectiousness {
		inf.Infectiousness[i] = 1
	}

	tr := tracing.DefaultParams()
	tr.Enabled = true
	tr.DelayDays = 1

	opts := Options{
		Seed:        42,
		Workers:     workers,
		RunID:       "test-run",
		Infection:   inf,
		Immunity:    imm,
		Progression: progression.DefaultParams(),
		Tracing:     tr,
		Sink:        events.Discard,
	}
	opts.Seeding.PerDay = map[models.VirusStrain]map[int]int{models.StrainDelta: {0: 5, 1: 0}}
	opts.Seeding.Total = 5
	opts.Seeding.MinAge, opts.Seeding.MaxAge = -1, -1
	return opts
}

func runDays(t *testing.T, e *Engine, days int) {
	t.Helper()
	if err := e.Run(context.Background(), days, nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func mustSnapshot(t *testing.T, e *Engine) *snapshot.State {
	t.Helper()
	s, err := e.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	return s
}

func sameState(t *testing.T, got, want *snapshot.State) {
	t.Helper()
	if got.Day != want.Day || got.SeedingLeft != want.SeedingLeft {
		t.Errorf("day/seeding = %d/%d, want %d/%d", got.Day, got.SeedingLeft, want.Day, want.SeedingLeft)
	}
	if !bytes.Equal(got.RNG, want.RNG) {
		t.Error("generator states differ")
	}
	if !reflect.DeepEqual(got.Slots, want.Slots) {
		t.Error("scheduled transitions differ")
	}
	if len(got.Persons) != len(want.Persons) {
		t.Fatalf("persons = %d, want %d", len(got.Persons), len(want.Persons))
	}
	for i := range got.Persons {
		if !reflect.DeepEqual(got.Persons[i], want.Persons[i]) {
			t.Errorf("person %s differs:\n got %+v\nwant %+v", got.Persons[i].ID, got.Persons[i], want.Persons[i])
			return
		}
	}
}

func TestEngine_Spreads(t *testing.T) {
	rec := &events.Recorder{}
	opts := testOptions(t, 4)
	opts.Sink = rec
	opts.Metrics = metrics.New()
	e, err := New(testWorld(t, 300, rec), opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	var infections, seeded int
	err = e.Run(context.Background(), 30, func(r Report) error {
		infections += r.Infections
		seeded += r.Seeded
		total := 0
		for _, n := range r.Counts {
			total += n
		}
		if total != 300 {
			t.Errorf("day %d: counted %d persons, want 300", r.Day, total)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if seeded != 5 {
		t.Errorf("seeded = %d, want 5", seeded)
	}
	if infections == 0 {
		t.Error("no transmission in 30 days")
	}
	if got := len(rec.OfKind(events.KindInfection)); got != infections {
		t.Errorf("infection events = %d, want %d", got, infections)
	}
	if got := len(rec.OfKind(events.KindInitialInfection)); got != 5 {
		t.Errorf("initial infection events = %d, want 5", got)
	}
	if e.Day() != 30 {
		t.Errorf("Day() = %d, want 30", e.Day())
	}
}

func TestEngine_IndependentOfWorkers(t *testing.T) {
	var states []*snapshot.State
	for _, workers := range []int{1, 8} {
		e, err := New(testWorld(t, 200, nil), testOptions(t, workers))
		if err != nil {
			t.Fatal(err)
		}
		runDays(t, e, 20)
		states = append(states, mustSnapshot(t, e))
	}
	sameState(t, states[1], states[0])
}

func TestEngine_SnapshotRestoreContinues(t *testing.T) {
	straight, err := New(testWorld(t, 200, nil), testOptions(t, 4))
	if err != nil {
		t.Fatal(err)
	}
	runDays(t, straight, 20)

	first, err := New(testWorld(t, 200, nil), testOptions(t, 4))
	if err != nil {
		t.Fatal(err)
	}
	runDays(t, first, 10)
	data, err := snapshot.Encode(mustSnapshot(t, first))
	if err != nil {
		t.Fatal(err)
	}
	state, err := snapshot.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}

	opts := testOptions(t, 2)
	opts.Seed = 0 // taken from the snapshot
	resumed, err := Restore(testWorld(t, 200, nil), opts, state)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if resumed.Day() != 10 || resumed.RunID() != "test-run" {
		t.Errorf("resumed at day %d run %s", resumed.Day(), resumed.RunID())
	}
	runDays(t, resumed, 10)

	sameState(t, mustSnapshot(t, resumed), mustSnapshot(t, straight))
}

func TestEngine_RunCanceled(t *testing.T) {
	e, err := New(testWorld(t, 50, nil), testOptions(t, 1))
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := e.Run(ctx, 5, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
	if e.Day() != 0 {
		t.Errorf("Day() = %d, want 0", e.Day())
	}
}

func TestParticipates(t *testing.T) {
	pop := models.NewPopulation(nil)
	p, err := pop.New(models.PersonOptions{Age: 40})
	if err != nil {
		t.Fatal(err)
	}

	if !participates(p, "work") {
		t.Error("healthy person should participate")
	}
	p.SetQuarantineStatus(models.QuarantineAtHome, 1)
	if participates(p, "work") || !participates(p, population.ActivityHome) {
		t.Error("home quarantine allows home only")
	}
	p.SetQuarantineStatus(models.QuarantineFull, 2)
	if participates(p, population.ActivityHome) {
		t.Error("full quarantine allows nothing")
	}
	p.SetQuarantineStatus(models.QuarantineNo, 3)

	p.SetDiseaseStatus(3, models.StatusInfectedButNotContagious)
	p.SetDiseaseStatus(4, models.StatusContagious)
	p.SetDiseaseStatus(5, models.StatusShowingSymptoms)
	if !participates(p, "work") {
		t.Error("symptomatic person without quarantine still participates")
	}
	p.SetDiseaseStatus(6, models.StatusSeriouslySick)
	if participates(p, population.ActivityHome) {
		t.Error("hospitalized person should not participate")
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil, testOptions(t, 1)); err == nil {
		t.Error("New() without world should fail")
	}
	opts := testOptions(t, 1)
	opts.Immunity = nil
	if _, err := New(testWorld(t, 10, nil), opts); err == nil {
		t.Error("New() without antibody model should fail")
	}
	opts = testOptions(t, 1)
	opts.Seeding.Total = -1
	if _, err := New(testWorld(t, 10, nil), opts); err == nil {
		t.Error("New() with invalid seeding should fail")
	}
}
