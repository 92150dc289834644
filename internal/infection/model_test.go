package infection

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/models"
)

type fixedRand float64

func (r fixedRand) Float64() float64 { return float64(r) }

// stubSchedule returns the same next transition for every person.
type stubSchedule struct {
	next models.DiseaseStatus
	days int
}

func (s stubSchedule) NextTransition(*models.Person) (models.DiseaseStatus, int, bool) {
	return s.next, s.days, s.next != ""
}

func testParams() Params {
	p := Params{
		Calibration:       1e-5,
		Beta:              immunity.DefaultBeta,
		AgeSusceptibility: curves.Constant(1),
		AgeInfectivity:    curves.Constant(1),
		SterilizingDays:   DefaultSterilizingDays,
	}
	for i := range p.Infectiousness {
		p.Infectiousness[i] = 1
	}
	return p
}

func newTestModel(t *testing.T, params Params, sched TransitionSchedule) *Model {
	t.Helper()
	table := immunity.DefaultTable()
	table.SetNaturalWithOmicron(nil, 10)
	imm, err := immunity.New(table)
	if err != nil {
		t.Fatalf("immunity.New() error = %v", err)
	}
	m, err := New(params, imm, sched)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

type pair struct {
	pop      *models.Population
	target   *models.Person
	infector *models.Person
}

// newPair returns a susceptible target and an infector that turned
// symptomatic on day symptomDay.
func newPair(t *testing.T, strain models.VirusStrain, symptomDay int) pair {
	t.Helper()
	pop := models.NewPopulation(nil)
	target, err := pop.New(models.PersonOptions{Age: 30})
	if err != nil {
		t.Fatal(err)
	}
	infector, err := pop.New(models.PersonOptions{Age: 40})
	if err != nil {
		t.Fatal(err)
	}
	infector.SetInitialInfection(symptomDay-6, strain)
	infector.SetDiseaseStatus(symptomDay-2, models.StatusContagious)
	infector.SetDiseaseStatus(symptomDay, models.StatusShowingSymptoms)
	return pair{pop: pop, target: target, infector: infector}
}

func (p pair) contact() Contact {
	act := Activity{Name: "work", CiCorrection: 1}
	return Contact{
		Target:           p.target,
		Infector:         p.infector,
		TargetActivity:   act,
		InfectorActivity: act,
		ContactIntensity: 1,
		JointTime:        3600,
		IndoorOutdoor:    1,
	}
}

func TestProbability_DoseResponse(t *testing.T) {
	m := newTestModel(t, testParams(), stubSchedule{})
	p := newPair(t, models.StrainDelta, 10)
	m.SetDay(10)

	got := m.Probability(p.contact())

	n := distuv.Normal{Mu: 0.5, Sigma: 2.6}
	phase := n.Prob(0) / n.Prob(0.5)
	want := 1 - math.Exp(-1e-5*3600*phase)
	if math.Abs(got.Probability-want) > 1e-12 {
		t.Errorf("Probability = %v, want %v", got.Probability, want)
	}
	if got.ImmunityFactor != 1 {
		t.Errorf("ImmunityFactor = %v, want 1", got.ImmunityFactor)
	}
	if got.Unvaccinated != got.Probability {
		t.Errorf("Unvaccinated = %v, want %v for unvaccinated target", got.Unvaccinated, got.Probability)
	}
}

func TestProbability_SameStrainSterilizing(t *testing.T) {
	m := newTestModel(t, testParams(), stubSchedule{})

	tests := []struct {
		name        string
		priorStrain models.VirusStrain
		priorDay    int
		wantZero    bool
	}{
		{"same strain within 90 days", models.StrainDelta, 10 - 90, true},
		{"same strain after 90 days", models.StrainDelta, 10 - 91, false},
		{"other strain", models.StrainAlpha, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPair(t, models.StrainDelta, 10)
			p.target.SetInitialInfection(tt.priorDay, tt.priorStrain)
			p.target.SetDiseaseStatus(tt.priorDay+5, models.StatusRecovered)
			p.target.SetDiseaseStatus(tt.priorDay+6, models.StatusSusceptible)
			_ = p.target.SetSusceptibility(1)
			m.SetDay(10)

			got := m.Probability(p.contact())
			if tt.wantZero && got.Probability != 0 {
				t.Errorf("Probability = %v, want exactly 0", got.Probability)
			}
			if !tt.wantZero && got.Probability == 0 {
				t.Error("Probability = 0, want > 0")
			}
		})
	}
}

func TestProbability_SterilizingDisabled(t *testing.T) {
	params := testParams()
	params.SterilizingDays = 0
	m := newTestModel(t, params, stubSchedule{})

	p := newPair(t, models.StrainDelta, 10)
	p.target.SetInitialInfection(8, models.StrainDelta)
	p.target.SetDiseaseStatus(9, models.StatusRecovered)
	p.target.SetDiseaseStatus(10, models.StatusSusceptible)
	m.SetDay(10)

	if got := m.Probability(p.contact()); got.Probability == 0 {
		t.Error("Probability = 0 with the sterilizing window switched off")
	}
}

func TestNew_NegativeSterilizingDays(t *testing.T) {
	params := testParams()
	params.SterilizingDays = -1
	table := immunity.DefaultTable()
	table.SetNaturalWithOmicron(nil, 10)
	imm, err := immunity.New(table)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(params, imm, stubSchedule{}); err == nil {
		t.Error("New() accepted negative sterilizing days")
	}
}

func TestProbability_VaccinationReducesRisk(t *testing.T) {
	m := newTestModel(t, testParams(), stubSchedule{})
	p := newPair(t, models.StrainDelta, 10)
	if err := p.target.SetVaccinationStatus(models.VaccinationYes, models.VaccineMRNA, 0); err != nil {
		t.Fatal(err)
	}
	m.SetDay(10)

	got := m.Probability(p.contact())
	if !(got.Probability < got.Unvaccinated) {
		t.Errorf("Probability = %v, want less than unvaccinated %v", got.Probability, got.Unvaccinated)
	}
	if !(got.ImmunityFactor < 1) {
		t.Errorf("ImmunityFactor = %v, want < 1", got.ImmunityFactor)
	}
}

func TestProbability_Masks(t *testing.T) {
	m := newTestModel(t, testParams(), stubSchedule{})
	p := newPair(t, models.StrainDelta, 10)
	m.SetDay(10)

	bare := m.Probability(p.contact())
	c := p.contact()
	c.TargetMask = MaskN95
	c.InfectorMask = MaskSurgical
	masked := m.Probability(c)

	wantHazard := -math.Log(1-bare.Probability) * 0.3 * 0.025
	if got := -math.Log(1 - masked.Probability); math.Abs(got-wantHazard) > 1e-9 {
		t.Errorf("masked hazard = %v, want %v", got, wantHazard)
	}
}

func TestPhaseInfectivity_Contagious(t *testing.T) {
	n := distuv.Normal{Mu: 0.5, Sigma: 2.6}
	scale := 1 / n.Prob(0.5)

	tests := []struct {
		name  string
		sched stubSchedule
		want  float64
	}{
		{"heading to symptoms", stubSchedule{models.StatusShowingSymptoms, 2}, n.Prob(2-1) * scale},
		{"heading to recovery", stubSchedule{models.StatusRecovered, 12}, n.Prob(1-6) * scale},
		{"no schedule", stubSchedule{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newTestModel(t, testParams(), tt.sched)
			pop := models.NewPopulation(nil)
			p, _ := pop.New(models.PersonOptions{Age: 20})
			p.SetInitialInfection(0, models.StrainAlpha)
			p.SetDiseaseStatus(4, models.StatusContagious)
			m.SetDay(5)
			if got := m.PhaseInfectivity(p); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("PhaseInfectivity() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPhaseInfectivity_NotInfectious(t *testing.T) {
	m := newTestModel(t, testParams(), stubSchedule{models.StatusShowingSymptoms, 2})
	pop := models.NewPopulation(nil)
	p, _ := pop.New(models.PersonOptions{Age: 20})
	p.SetInitialInfection(0, models.StrainAlpha)
	m.SetDay(1)
	if got := m.PhaseInfectivity(p); got != 0 {
		t.Errorf("PhaseInfectivity() = %v, want 0 before contagious", got)
	}
}

func TestIndoorOutdoorFactor(t *testing.T) {
	params := testParams()
	var err error
	params.OutdoorFraction, err = curves.NewCurve(map[int]float64{0: 0.6})
	if err != nil {
		t.Fatal(err)
	}
	m := newTestModel(t, params, stubSchedule{})
	m.SetDay(3)

	indoor := Activity{Name: "work"}
	seasonal := Activity{Name: "leisure", Seasonal: true}

	if got := m.IndoorOutdoorFactor(fixedRand(0), indoor, indoor); got != 1 {
		t.Errorf("non-seasonal factor = %v, want 1", got)
	}
	if got := m.IndoorOutdoorFactor(fixedRand(0.5), indoor, seasonal); got != 1.0/20 {
		t.Errorf("outdoor factor = %v, want 1/20", got)
	}
	if got := m.IndoorOutdoorFactor(fixedRand(0.7), seasonal, indoor); got != 1 {
		t.Errorf("indoor draw factor = %v, want 1", got)
	}
}

func TestMaskDistribution_Draw(t *testing.T) {
	d := MaskDistribution{Cloth: 0.2, Surgical: 0.3, N95: 0.1}
	if err := d.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	tests := []struct {
		u    float64
		want Mask
	}{
		{0.1, MaskCloth},
		{0.2, MaskSurgical},
		{0.55, MaskN95},
		{0.6, MaskNone},
	}
	for _, tt := range tests {
		if got := d.Draw(fixedRand(tt.u)); got != tt.want {
			t.Errorf("Draw(%v) = %v, want %v", tt.u, got, tt.want)
		}
	}
	if err := (MaskDistribution{Cloth: 0.7, N95: 0.5}).Validate(); err == nil {
		t.Error("Validate() error = nil for fractions above 1")
	}
}
