// Package infection computes the transmission probability of a single
// contact between an infectious person and a target.
package infection

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/immunity"
	"github.com/nvandessel/epistate/internal/models"
)

const (
	// DefaultSterilizingDays is how long an infection fully protects against
	// the same strain. Params.SterilizingDays of zero disables the window.
	DefaultSterilizingDays = 90

	// outdoorFactor scales hazard for contacts that happen outdoors.
	outdoorFactor = 1.0 / 20

	// infectorReduction is the largest infectivity reduction antibodies give
	// an infector.
	infectorReduction = 0.25
)

// Rand is the random source the model draws from.
type Rand interface {
	Float64() float64
}

// TransitionSchedule reports the scheduled next disease status of a person
// and the days it is reached after entering the current status.
type TransitionSchedule interface {
	NextTransition(p *models.Person) (next models.DiseaseStatus, days int, ok bool)
}

// Params are the calibration parameters of the infection model.
type Params struct {
	Calibration       float64
	Beta              float64
	AgeSusceptibility curves.AgeTable
	AgeInfectivity    curves.AgeTable
	Infectiousness    [models.NumStrains]float64
	// OutdoorFraction is the share of seasonal contacts held outdoors by
	// day. Nil means always indoors.
	OutdoorFraction *curves.Curve
	SterilizingDays int
}

// Activity is one side of a contact: the activity a person performs and the
// restriction in force for it that day.
type Activity struct {
	Name         string
	CiCorrection float64
	Seasonal     bool
}

// Contact is a single contact event evaluated by Probability.
type Contact struct {
	Target   *models.Person
	Infector *models.Person

	TargetActivity   Activity
	InfectorActivity Activity

	ContactIntensity float64
	JointTime        float64 // seconds

	TargetMask    Mask
	InfectorMask  Mask
	IndoorOutdoor float64
}

// Result is the outcome of one probability calculation.
type Result struct {
	Probability float64
	// Unvaccinated is the probability the target would have had without
	// any vaccination.
	Unvaccinated   float64
	ImmunityFactor float64
}

// Model evaluates contacts. SetDay must be called before each day's contact
// phase; Probability is then safe for concurrent use.
type Model struct {
	params   Params
	immunity *immunity.Model
	schedule TransitionSchedule

	curve distuv.Normal
	scale float64

	day     int
	outdoor float64
}

// New returns a model. schedule supplies next transitions for the phase
// dependent infectivity of contagious persons.
func New(params Params, imm *immunity.Model, schedule TransitionSchedule) (*Model, error) {
	if imm == nil || schedule == nil {
		return nil, fmt.Errorf("infection model needs an antibody model and a transition schedule")
	}
	if !(params.Calibration >= 0) {
		return nil, fmt.Errorf("calibration parameter must be non-negative, got %v", params.Calibration)
	}
	if !(params.Beta > 0) {
		return nil, fmt.Errorf("beta must be positive, got %v", params.Beta)
	}
	for s, v := range params.Infectiousness {
		if math.IsNaN(v) || v < 0 {
			return nil, fmt.Errorf("infectiousness of %s must be non-negative, got %v", models.VirusStrain(s), v)
		}
	}
	if params.SterilizingDays < 0 {
		return nil, fmt.Errorf("sterilizing days must not be negative, got %d", params.SterilizingDays)
	}

	curve := distuv.Normal{Mu: 0.5, Sigma: 2.6}
	return &Model{
		params:   params,
		immunity: imm,
		schedule: schedule,
		curve:    curve,
		scale:    1 / curve.Prob(curve.Mean()),
	}, nil
}

// SetDay prepares the model for day.
func (m *Model) SetDay(day int) {
	m.day = day
	m.outdoor = 0
	if m.params.OutdoorFraction != nil {
		m.outdoor = min(max(m.params.OutdoorFraction.At(day), 0), 1)
	}
}

// Day returns the day set by SetDay.
func (m *Model) Day() int { return m.day }

// OutdoorFraction returns the outdoor fraction of the current day.
func (m *Model) OutdoorFraction() float64 { return m.outdoor }

// IndoorOutdoorFactor draws whether a contact is held outdoors. Only
// contacts where either activity is seasonal can be outdoors.
func (m *Model) IndoorOutdoorFactor(rnd Rand, a, b Activity) float64 {
	if !a.Seasonal && !b.Seasonal {
		return 1
	}
	if rnd.Float64() < m.outdoor {
		return outdoorFactor
	}
	return 1
}

// Probability returns the transmission probability of c.
func (m *Model) Probability(c Contact) Result {
	target, infector := c.Target, c.Infector
	strain := infector.VirusStrain()
	beta := m.params.Beta

	susceptibility := m.params.AgeSusceptibility.At(target.Age())
	infectivity := m.params.AgeInfectivity.At(infector.Age())

	// the infector's current infection gives no protection yet
	infectorInfections := infector.Infections()
	if n := len(infectorInfections); n > 0 {
		infectorInfections = infectorInfections[:n-1]
	}
	infectorLevel := m.immunity.RelativeLevel(infectorInfections, infector.Vaccinations(), m.day, strain)
	infectivity *= 1 - infectorReduction*(1-immunity.Factor(infectorLevel, beta))

	if m.sterilized(target, strain) {
		susceptibility = 0
	}

	hazard := m.params.Calibration *
		susceptibility *
		infectivity *
		c.ContactIntensity *
		c.JointTime *
		min(c.TargetActivity.CiCorrection, c.InfectorActivity.CiCorrection) *
		target.Susceptibility() *
		m.phaseInfectivity(infector) *
		m.params.Infectiousness[strain] *
		c.InfectorMask.Shedding() *
		c.TargetMask.Intake() *
		c.IndoorOutdoor

	unvacLevel := m.immunity.RelativeLevel(target.Infections(), nil, m.day, strain)
	level := m.immunity.RelativeLevel(target.Infections(), target.Vaccinations(), m.day, strain)
	factor := immunity.Factor(level, beta)

	return Result{
		Probability:    1 - math.Exp(-hazard*factor),
		Unvaccinated:   1 - math.Exp(-hazard*immunity.Factor(unvacLevel, beta)),
		ImmunityFactor: factor,
	}
}

func (m *Model) sterilized(target *models.Person, strain models.VirusStrain) bool {
	if m.params.SterilizingDays == 0 {
		return false
	}
	for _, inf := range target.Infections() {
		if inf.Strain == strain && m.day-inf.Day <= m.params.SterilizingDays {
			return true
		}
	}
	return false
}

// phaseInfectivity is the infectivity of p relative to its peak around
// symptom onset.
func (m *Model) phaseInfectivity(p *models.Person) float64 {
	switch p.DiseaseStatus() {
	case models.StatusShowingSymptoms:
		return m.density(float64(mustDaysSince(p, models.StatusShowingSymptoms, m.day)))

	case models.StatusContagious:
		next, days, ok := m.schedule.NextTransition(p)
		if !ok {
			return 0
		}
		since := mustDaysSince(p, models.StatusContagious, m.day)
		switch next {
		case models.StatusShowingSymptoms:
			return m.density(float64(days - since))
		case models.StatusRecovered:
			// asymptomatic courses peak halfway through
			return m.density(float64(since) - float64(days)/2)
		}
	}
	return 0
}

// PhaseInfectivity returns the phase dependent infectivity of p on the
// current day, 1 at the peak.
func (m *Model) PhaseInfectivity(p *models.Person) float64 {
	return m.phaseInfectivity(p)
}

func (m *Model) density(x float64) float64 {
	return m.curve.Prob(x) * m.scale
}

// mustDaysSince panics when the status was never reached: infectious
// persons always passed through their current status.
func mustDaysSince(p *models.Person, s models.DiseaseStatus, day int) int {
	d, err := p.DaysSince(s, day)
	if err != nil {
		panic(err)
	}
	return d
}
