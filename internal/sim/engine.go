// Package sim runs the daily simulation loop: seeding, the parallel contact
// phase, infection commit, disease progression with tracing, vaccination
// and testing.
package sim

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/infection"
	"github.com/nvandessel/epistate/internal/metrics"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/policy"
	"github.com/nvandessel/epistate/internal/population"
	"github.com/nvandessel/epistate/internal/progression"
	"github.com/nvandessel/epistate/internal/screening"
	"github.com/nvandessel/epistate/internal/seeding"
	"github.com/nvandessel/epistate/internal/snapshot"
	"github.com/nvandessel/epistate/internal/tracing"
	"github.com/nvandessel/epistate/internal/vaccination"
)

// sequentialStream selects the PCG stream of the sequential phase so it
// never collides with a container stream.
const sequentialStream = 1<<63 - 1

// Options configure an Engine.
type Options struct {
	Seed uint64
	// Workers bounds the parallel contact phase. Zero uses GOMAXPROCS.
	Workers int
	// RunID names the run in snapshots and events. Empty generates one.
	RunID string

	Infection   infection.Params
	Immunity    *immunity.Model
	Progression progression.Params
	Tracing     tracing.Params
	Seeding     seeding.Params
	Vaccination vaccination.Params
	Screening   screening.Params
	Policy      *policy.Table

	Sink    events.Sink
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Engine owns the simulation state. It is not safe for concurrent use.
type Engine struct {
	opts   Options
	world  *population.World
	sink   events.Sink
	logger *slog.Logger

	pcg *rand.PCG
	rnd *rand.Rand

	infection   *infection.Model
	progression *progression.Model
	tracer      *tracing.Engine
	seeder      *seeding.Seeder
	vaccination *vaccination.Model
	screening   *screening.Model

	day int
}

// New returns an engine positioned before day 0.
func New(world *population.World, opts Options) (*Engine, error) {
	if world == nil {
		return nil, fmt.Errorf("engine needs a population")
	}
	if opts.Immunity == nil {
		return nil, fmt.Errorf("engine needs an antibody model")
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.GOMAXPROCS(0)
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	sink := events.OrDiscard(opts.Sink)
	logger := opts.Logger.With("run", opts.RunID)

	pcg := rand.NewPCG(opts.Seed, sequentialStream)
	rnd := rand.New(pcg)

	e := &Engine{opts: opts, world: world, sink: sink, logger: logger, pcg: pcg, rnd: rnd}

	var err error
	if e.tracer, err = tracing.New(opts.Tracing, rnd, sink, logger); err != nil {
		return nil, err
	}
	if e.progression, err = progression.New(opts.Progression, rnd, e.tracer, logger); err != nil {
		return nil, err
	}
	if e.infection, err = infection.New(opts.Infection, opts.Immunity, e.progression); err != nil {
		return nil, err
	}
	if e.seeder, err = seeding.New(opts.Seeding, rnd, sink, logger); err != nil {
		return nil, err
	}
	if e.vaccination, err = vaccination.New(opts.Vaccination, rnd, logger); err != nil {
		return nil, err
	}
	if e.screening, err = screening.New(opts.Screening, rnd, logger); err != nil {
		return nil, err
	}
	return e, nil
}

// Day returns the next day to simulate.
func (e *Engine) Day() int { return e.day }

// RunID returns the run identifier.
func (e *Engine) RunID() string { return e.opts.RunID }

// World returns the simulated population.
func (e *Engine) World() *population.World { return e.world }

// Infection returns the infection model.
func (e *Engine) Infection() *infection.Model { return e.infection }

// Report summarizes one simulated day.
type Report struct {
	Day         int
	Seeded      int
	Infections  int
	Traced      int
	Vaccination vaccination.Result
	Screening   screening.Result
	Counts      map[models.DiseaseStatus]int
	Duration    time.Duration
}

// RunDay simulates the next day.
func (e *Engine) RunDay(ctx context.Context) (Report, error) {
	start := time.Now()
	day := e.day
	rep := Report{Day: day}

	e.infection.SetDay(day)
	persons := e.world.Persons()

	rep.Seeded = e.seeder.Seed(day, persons)

	tested, err := e.contactPhase(ctx, day)
	if err != nil {
		return rep, fmt.Errorf("contact phase of day %d: %w", day, err)
	}

	byStrain := make(map[models.VirusStrain]int)
	for _, p := range persons {
		if ev := p.CheckInfection(); ev != nil {
			rep.Infections++
			byStrain[ev.Strain]++
		}
	}

	e.progression.Step(day, persons)
	rep.Traced = e.tracer.UsedOn(day)

	if rep.Vaccination, err = e.vaccination.Step(day, persons); err != nil {
		return rep, fmt.Errorf("vaccination on day %d: %w", day, err)
	}
	rep.Screening = e.screening.Step(day, tested)

	rep.Counts = countStatuses(persons)
	for _, p := range persons {
		p.ResetDay()
	}
	e.day++
	rep.Duration = time.Since(start)

	e.observe(rep, byStrain, persons)
	e.logger.Info("day complete",
		"day", day,
		"infections", rep.Infections,
		"seeded", rep.Seeded,
		"traced", rep.Traced,
		"duration", rep.Duration)
	return rep, nil
}

// Run simulates days more days. It stops early when ctx is canceled.
func (e *Engine) Run(ctx context.Context, days int, onDay func(Report) error) error {
	for range days {
		if err := ctx.Err(); err != nil {
			return err
		}
		rep, err := e.RunDay(ctx)
		if err != nil {
			return err
		}
		if onDay != nil {
			if err := onDay(rep); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Engine) observe(rep Report, byStrain map[models.VirusStrain]int, persons []*models.Person) {
	m := e.opts.Metrics
	if m == nil {
		return
	}
	m.ObserveDay(rep.Day, rep.Duration)
	for s, n := range byStrain {
		m.AddInfections(s.String(), "contact", n)
	}
	m.AddInfections("all", "seeding", rep.Seeded)
	statuses := make(map[string]int, len(models.DiseaseStatuses))
	for _, s := range models.DiseaseStatuses {
		statuses[string(s)] = rep.Counts[s]
	}
	m.SetPersons(statuses)
	quarantine := map[string]int{
		string(models.QuarantineNo):     0,
		string(models.QuarantineAtHome): 0,
		string(models.QuarantineFull):   0,
	}
	for _, p := range persons {
		quarantine[string(p.QuarantineStatus())]++
	}
	m.SetQuarantined(quarantine)
	m.AddTraced(rep.Traced)
	m.AddVaccinations(rep.Vaccination.FirstDoses, rep.Vaccination.Boosters)
	m.AddTests(rep.Screening.Tests, rep.Screening.Positives)
}

func countStatuses(persons []*models.Person) map[models.DiseaseStatus]int {
	out := make(map[models.DiseaseStatus]int, len(models.DiseaseStatuses))
	for _, p := range persons {
		out[p.DiseaseStatus()]++
	}
	return out
}

// Snapshot captures the state between two days.
func (e *Engine) Snapshot() (*snapshot.State, error) {
	rng, err := e.pcg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshaling generator: %w", err)
	}
	persons := e.world.Persons()
	snaps := make([]models.PersonSnapshot, len(persons))
	for i, p := range persons {
		snaps[i] = p.Snapshot()
	}
	return &snapshot.State{
		Version:     snapshot.StateVersion,
		RunID:       e.opts.RunID,
		Day:         e.day,
		Seed:        e.opts.Seed,
		RNG:         rng,
		SeedingLeft: e.seeder.Left(),
		Persons:     snaps,
		Slots:       e.progression.Slots(),
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// Restore returns an engine continuing the run captured in state. world
// must be built from the same scenario; its persons are replaced.
func Restore(world *population.World, opts Options, state *snapshot.State) (*Engine, error) {
	if err := state.Check(); err != nil {
		return nil, err
	}
	opts.Seed = state.Seed
	opts.RunID = state.RunID
	e, err := New(world, opts)
	if err != nil {
		return nil, err
	}

	persons, err := models.RestorePopulation(state.Persons, world.Population.Sink)
	if err != nil {
		return nil, fmt.Errorf("restoring persons: %w", err)
	}
	if err := world.Replace(persons); err != nil {
		return nil, fmt.Errorf("restoring persons: %w", err)
	}
	if err := e.pcg.UnmarshalBinary(state.RNG); err != nil {
		return nil, fmt.Errorf("restoring generator: %w", err)
	}
	if err := e.progression.RestoreSlots(state.Slots); err != nil {
		return nil, err
	}
	e.seeder.SetLeft(state.SeedingLeft)
	e.day = state.Day
	e.logger.Info("restored", "day", e.day, "persons", len(persons))
	return e, nil
}

// contactPhase evaluates every open container concurrently and returns the
// persons eligible for testing, ordered by id.
func (e *Engine) contactPhase(ctx context.Context, day int) ([]*models.Person, error) {
	containers := e.world.ContainersOn(day)
	tested := make([][]*models.Person, len(containers))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Workers)
	for i, c := range containers {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			tested[i] = e.simulateContainer(day, c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out []*models.Person
	seen := make(map[*models.Person]bool)
	for _, ps := range tested {
		for _, p := range ps {
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	models.SortByID(out)
	return out, nil
}

// containerRand returns the stream of one container on one day. It only
// depends on the seed, the day and the container index.
func (e *Engine) containerRand(day, index int) *rand.Rand {
	return rand.New(rand.NewPCG(e.opts.Seed+uint64(day)*0x9e3779b97f4a7c15, uint64(index)))
}

type participant struct {
	population.Presence
	activity infection.Activity
	mask     infection.Mask
}

func (e *Engine) simulateContainer(day int, c *population.Container) []*models.Person {
	rnd := e.containerRand(day, c.Index)

	present := make([]participant, 0, len(c.Visits))
	var tested []*models.Person
	for _, v := range c.Visits {
		if !participates(v.Person, v.Activity) {
			continue
		}
		r := e.opts.Policy.At(day, v.Activity)
		if r.RemainingFraction < 1 && rnd.Float64() >= r.RemainingFraction {
			continue
		}
		present = append(present, participant{
			Presence: v,
			activity: infection.Activity{
				Name:         v.Activity,
				CiCorrection: r.CiCorrection,
				Seasonal:     e.world.Activities[v.Activity].Seasonal,
			},
			mask: r.Masks.Draw(rnd),
		})
		if e.screening.Covers(v.Activity) {
			tested = append(tested, v.Person)
		}
	}

	for i := range present {
		for j := i + 1; j < len(present); j++ {
			a, b := &present[i], &present[j]
			if a.Person == b.Person {
				continue
			}
			start, end := max(a.Start, b.Start), min(a.End, b.End)
			if end <= start {
				continue
			}
			joint := end - start
			if e.tracer.Records(joint) {
				a.Person.AddTraceableContact(b.Person, day)
				b.Person.AddTraceableContact(a.Person, day)
			}
			e.infect(rnd, day, c, a, b, start, joint)
			e.infect(rnd, day, c, b, a, start, joint)
		}
	}
	return tested
}

// participates applies disease and quarantine restrictions.
func participates(p *models.Person, activity string) bool {
	switch p.DiseaseStatus() {
	case models.StatusSeriouslySick, models.StatusCritical, models.StatusSeriouslySickAfterCritical:
		return false
	}
	switch p.QuarantineStatus() {
	case models.QuarantineFull:
		return false
	case models.QuarantineAtHome:
		return activity == population.ActivityHome
	}
	return true
}

func isInfectious(s models.DiseaseStatus) bool {
	return s == models.StatusContagious || s == models.StatusShowingSymptoms
}

func (e *Engine) infect(rnd *rand.Rand, day int, c *population.Container, infector, target *participant, start, joint float64) {
	if !isInfectious(infector.Person.DiseaseStatus()) || target.Person.DiseaseStatus() != models.StatusSusceptible {
		return
	}
	intensity := max(e.world.Activities[infector.Activity].ContactIntensity, e.world.Activities[target.Activity].ContactIntensity)
	res := e.infection.Probability(infection.Contact{
		Target:           target.Person,
		Infector:         infector.Person,
		TargetActivity:   target.activity,
		InfectorActivity: infector.activity,
		ContactIntensity: intensity,
		JointTime:        joint,
		TargetMask:       target.mask,
		InfectorMask:     infector.mask,
		IndoorOutdoor:    e.infection.IndoorOutdoorFactor(rnd, infector.activity, target.activity),
	})
	if res.Probability <= 0 || rnd.Float64() >= res.Probability {
		return
	}
	target.Person.PossibleInfection(&models.InfectionEvent{
		Time:         float64(day)*models.SecondsPerDay + start,
		InfectorID:   infector.Person.ID(),
		Container:    c.ID,
		Activity:     target.Activity,
		Strain:       infector.Person.VirusStrain(),
		Probability:  res.Probability,
		Unvaccinated: res.Unvaccinated,
	})
}

// Counts returns the current number of persons per disease status.
func (e *Engine) Counts() map[models.DiseaseStatus]int {
	return countStatuses(e.world.Persons())
}

// SortedStatuses returns the statuses with at least one person, in state
// machine order.
func SortedStatuses(counts map[models.DiseaseStatus]int) []models.DiseaseStatus {
	return slices.DeleteFunc(slices.Clone(models.DiseaseStatuses), func(s models.DiseaseStatus) bool {
		return counts[s] == 0
	})
}
