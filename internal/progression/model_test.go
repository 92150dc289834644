package progression

import (
	"math"
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/tracing"
)

// testTransitions is the fixed dwell table the progression tests run on.
func testTransitions() Transitions {
	return Transitions{
		{models.StatusInfectedButNotContagious, models.StatusContagious}:  Fixed(4),
		{models.StatusContagious, models.StatusShowingSymptoms}:           Fixed(2),
		{models.StatusContagious, models.StatusRecovered}:                 Fixed(12),
		{models.StatusShowingSymptoms, models.StatusSeriouslySick}:        Fixed(4),
		{models.StatusShowingSymptoms, models.StatusRecovered}:            Fixed(10),
		{models.StatusSeriouslySick, models.StatusCritical}:               Fixed(1),
		{models.StatusSeriouslySick, models.StatusRecovered}:              Fixed(13),
		{models.StatusCritical, models.StatusSeriouslySickAfterCritical}:  Fixed(9),
		{models.StatusSeriouslySickAfterCritical, models.StatusRecovered}: Fixed(1),
	}
}

func testParams() Params {
	p := DefaultParams()
	p.Transitions = testTransitions()
	p.SelfQuarantine = false
	return p
}

type fixture struct {
	pop    *models.Population
	model  *Model
	tracer *tracing.Engine
	rec    *events.Recorder
}

func newFixture(t *testing.T, params Params, tp *tracing.Params) *fixture {
	t.Helper()
	rnd := rand.New(rand.NewPCG(1, 2))
	rec := &events.Recorder{}
	f := &fixture{pop: models.NewPopulation(rec), rec: rec}

	if tp != nil {
		tr, err := tracing.New(*tp, rnd, rec, nil)
		if err != nil {
			t.Fatalf("tracing.New() error = %v", err)
		}
		f.tracer = tr
	}
	m, err := New(params, rnd, f.tracer, nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	f.model = m
	return f
}

func (f *fixture) person(t *testing.T, opts models.PersonOptions) *models.Person {
	t.Helper()
	opts.Traceable = true
	if opts.Age == 0 {
		opts.Age = 30
	}
	p, err := f.pop.New(opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return p
}

func (f *fixture) infected(t *testing.T) *models.Person {
	t.Helper()
	p := f.person(t, models.PersonOptions{})
	p.SetInitialInfection(0, models.StrainSARSCoV2)
	return p
}

func tracingParams() *tracing.Params {
	p := tracing.DefaultParams()
	p.Enabled = true
	p.StartDay = 0
	p.Probability = 1
	return &p
}

func TestTransitions_Validate(t *testing.T) {
	if err := testTransitions().Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if err := DefaultTransitions().Validate(); err != nil {
		t.Fatalf("DefaultTransitions().Validate() error = %v", err)
	}

	missing := testTransitions()
	delete(missing, Edge{models.StatusCritical, models.StatusSeriouslySickAfterCritical})
	if err := missing.Validate(); err == nil {
		t.Error("Validate() error = nil for missing edge")
	}

	extra := testTransitions()
	extra[Edge{models.StatusContagious, models.StatusCritical}] = Fixed(1)
	if err := extra.Validate(); err == nil {
		t.Error("Validate() error = nil for edge outside the state machine")
	}

	ext := testTransitions()
	ext[Edge{models.StatusSusceptible, models.StatusInfectedButNotContagious}] = Fixed(1)
	if err := ext.Validate(); err == nil {
		t.Error("Validate() error = nil for externally triggered edge")
	}
}

func TestModel_FixedDwellDayBoundaries(t *testing.T) {
	params := testParams()
	params.SymptomaticProbability = 1
	params.SeriouslySick = curves.Constant(0)
	f := newFixture(t, params, nil)
	p := f.infected(t)

	want := map[int]models.DiseaseStatus{
		0:  models.StatusInfectedButNotContagious,
		3:  models.StatusInfectedButNotContagious,
		4:  models.StatusContagious,
		5:  models.StatusContagious,
		6:  models.StatusShowingSymptoms,
		15: models.StatusShowingSymptoms,
		16: models.StatusRecovered,
		40: models.StatusRecovered,
	}
	for day := 0; day <= 40; day++ {
		f.model.UpdateState(p, day)
		if w, ok := want[day]; ok && p.DiseaseStatus() != w {
			t.Errorf("day %d: status = %s, want %s", day, p.DiseaseStatus(), w)
		}
	}
}

func TestModel_ShowingSymptomsFraction(t *testing.T) {
	f := newFixture(t, testParams(), nil)

	const trials = 10_000
	showing := 0
	for range trials {
		p := f.infected(t)
		for day := 0; day <= 6; day++ {
			f.model.UpdateState(p, day)
		}
		if p.DiseaseStatus() == models.StatusShowingSymptoms {
			showing++
		}
	}

	frac := float64(showing) / trials
	if math.Abs(frac-0.8) > 0.01 {
		t.Errorf("fraction showing symptoms = %v, want 0.8 +- 0.01", frac)
	}
}

func TestModel_ZeroDayChainsAndMeanRecovery(t *testing.T) {
	ln, err := LogNormalWithMeanAndStd(10, 5)
	if err != nil {
		t.Fatal(err)
	}
	params := testParams()
	params.Transitions = Transitions{
		{models.StatusInfectedButNotContagious, models.StatusContagious}:  Fixed(4),
		{models.StatusContagious, models.StatusShowingSymptoms}:           ln,
		{models.StatusContagious, models.StatusRecovered}:                 ln,
		{models.StatusShowingSymptoms, models.StatusSeriouslySick}:        Fixed(0),
		{models.StatusShowingSymptoms, models.StatusRecovered}:            Fixed(0),
		{models.StatusSeriouslySick, models.StatusCritical}:               Fixed(0),
		{models.StatusSeriouslySick, models.StatusRecovered}:              Fixed(0),
		{models.StatusCritical, models.StatusSeriouslySickAfterCritical}:  Fixed(0),
		{models.StatusSeriouslySickAfterCritical, models.StatusRecovered}: Fixed(0),
	}
	params.SeriouslySick = curves.Constant(0.5)
	params.Critical = curves.Constant(0.5)
	f := newFixture(t, params, nil)

	const toDay = 60
	sum, n := 0.0, 0
	for range 10_000 {
		p := f.infected(t)
		for day := 0; day <= toDay; day++ {
			f.model.UpdateState(p, day)
		}
		if p.DiseaseStatus() != models.StatusRecovered {
			continue
		}
		d, _ := p.StatusDay(models.StatusRecovered)
		sum += float64(d)
		n++

		if p.HadStatus(models.StatusCritical) {
			crit, _ := p.StatusDay(models.StatusCritical)
			sick, _ := p.StatusDay(models.StatusSeriouslySick)
			sym, _ := p.StatusDay(models.StatusShowingSymptoms)
			if crit != sick || sick != sym || crit != d {
				t.Fatalf("zero-day chain spread over days: symptoms %d, sick %d, critical %d, recovered %d", sym, sick, crit, d)
			}
		}
	}
	if n < 9_900 {
		t.Fatalf("only %d of 10000 persons recovered by day %d", n, toDay)
	}
	if mean := sum / float64(n); math.Abs(mean-14)/14 > 0.02 {
		t.Errorf("mean recovery day = %v, want about 14", mean)
	}
}

func TestModel_NextTransition(t *testing.T) {
	params := testParams()
	params.SymptomaticProbability = 0
	f := newFixture(t, params, nil)
	p := f.infected(t)

	if _, _, ok := f.model.NextTransition(p); ok {
		t.Error("NextTransition() ok before first update")
	}
	for day := 0; day <= 4; day++ {
		f.model.UpdateState(p, day)
	}
	next, days, ok := f.model.NextTransition(p)
	if !ok || next != models.StatusRecovered || days != 12 {
		t.Errorf("NextTransition() = %s, %d, %v; want recovered, 12, true", next, days, ok)
	}
}

func TestModel_ImmunityWaning(t *testing.T) {
	params := testParams()
	params.SymptomaticProbability = 0
	params.ImmunityDays = 30
	f := newFixture(t, params, nil)
	p := f.infected(t)

	for day := 0; day <= 16+29; day++ {
		f.model.UpdateState(p, day)
	}
	if p.DiseaseStatus() != models.StatusRecovered {
		t.Fatalf("status = %s, want recovered", p.DiseaseStatus())
	}
	f.model.UpdateState(p, 16+30)
	if p.DiseaseStatus() != models.StatusSusceptible {
		t.Errorf("status = %s, want susceptible after immunity days", p.DiseaseStatus())
	}
	if !p.HadStatus(models.StatusRecovered) || p.HadStatus(models.StatusContagious) {
		t.Error("status log not reset on return to susceptible")
	}
}

func TestModel_ImmunityWaning_Reinfection(t *testing.T) {
	params := testParams()
	params.SymptomaticProbability = 0
	params.ImmunityDays = 30
	f := newFixture(t, params, nil)
	p := f.infected(t)

	// runEpisode steps until p recovers and then becomes susceptible
	// again, returning both days.
	runEpisode := func(from int) (recovered, susceptible int) {
		t.Helper()
		recovered = -1
		for day := from; day < from+200; day++ {
			f.model.UpdateState(p, day)
			switch p.DiseaseStatus() {
			case models.StatusRecovered:
				if recovered < 0 {
					recovered = day
				}
			case models.StatusSusceptible:
				if recovered >= 0 {
					return recovered, day
				}
			}
		}
		t.Fatalf("episode starting day %d did not finish", from)
		return 0, 0
	}

	rec1, sus1 := runEpisode(0)
	if got := sus1 - rec1; got != params.ImmunityDays {
		t.Fatalf("first episode immunity = %d days, want %d", got, params.ImmunityDays)
	}

	p.SetInitialInfection(sus1+1, models.StrainDelta)
	rec2, sus2 := runEpisode(sus1 + 1)
	if got := sus2 - rec2; got != params.ImmunityDays {
		t.Errorf("second episode immunity = %d days (recovered day %d), want %d", got, rec2, params.ImmunityDays)
	}
	if first, _ := p.StatusDay(models.StatusRecovered); first != rec1 {
		t.Errorf("StatusDay(recovered) = %d, want first recovery day %d", first, rec1)
	}
}

func TestModel_QuarantineRelease(t *testing.T) {
	params := testParams()
	params.QuarantineDays = 10
	f := newFixture(t, params, nil)
	p := f.person(t, models.PersonOptions{})

	p.SetQuarantineStatus(models.QuarantineAtHome, 3)
	f.model.UpdateState(p, 12)
	if p.QuarantineStatus() != models.QuarantineAtHome {
		t.Fatalf("quarantine released early")
	}
	f.model.UpdateState(p, 13)
	if p.QuarantineStatus() != models.QuarantineNo {
		t.Errorf("quarantine = %s, want no after %d days", p.QuarantineStatus(), params.QuarantineDays)
	}
}

func TestModel_SelfQuarantine(t *testing.T) {
	params := testParams()
	params.SymptomaticProbability = 1
	params.SelfQuarantine = true
	f := newFixture(t, params, nil)
	p := f.infected(t)
	for day := 0; day <= 6; day++ {
		f.model.UpdateState(p, day)
	}
	if p.QuarantineStatus() != models.QuarantineAtHome {
		t.Errorf("quarantine = %s, want atHome at symptom onset", p.QuarantineStatus())
	}
}

func TestModel_SlotsRoundTrip(t *testing.T) {
	f := newFixture(t, testParams(), nil)
	p := f.infected(t)
	f.model.UpdateState(p, 0)

	slots := f.model.Slots()
	g := newFixture(t, testParams(), nil)
	if err := g.model.RestoreSlots(slots); err != nil {
		t.Fatalf("RestoreSlots() error = %v", err)
	}
	a1, b1, c1 := f.model.NextTransition(p)
	a2, b2, c2 := g.model.NextTransition(p)
	if a1 != a2 || b1 != b2 || c1 != c2 {
		t.Errorf("restored slot differs: %v %v %v vs %v %v %v", a1, b1, c1, a2, b2, c2)
	}

	bad := map[string]Slot{"x": {From: models.StatusCritical, Next: models.StatusRecovered}}
	if err := g.model.RestoreSlots(bad); err == nil {
		t.Error("RestoreSlots() error = nil for unknown transition")
	}
}
