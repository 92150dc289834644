package progression

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/models"
)

// DefaultSymptomaticProbability is the share of contagious persons who
// develop symptoms.
const DefaultSymptomaticProbability = 0.8

// Edge is a transition of the disease state machine.
type Edge struct {
	From models.DiseaseStatus
	To   models.DiseaseStatus
}

func (e Edge) String() string { return string(e.From) + "->" + string(e.To) }

// Transitions maps every progression edge to its dwell distribution.
type Transitions map[Edge]Dwell

// external edges are triggered outside the progression model.
var external = map[Edge]bool{
	{models.StatusSusceptible, models.StatusInfectedButNotContagious}: true,
	{models.StatusRecovered, models.StatusSusceptible}:                true,
}

// ProgressionEdges lists the edges that need a dwell distribution.
func ProgressionEdges() []Edge {
	var out []Edge
	for _, from := range models.DiseaseStatuses {
		for _, to := range models.NextStatuses(from) {
			e := Edge{from, to}
			if !external[e] {
				out = append(out, e)
			}
		}
	}
	return out
}

// Validate checks that the configured edges are exactly the progression
// edges of the state machine.
func (t Transitions) Validate() error {
	var errs []error
	for e, d := range t {
		if !models.CanTransition(e.From, e.To) || external[e] {
			errs = append(errs, fmt.Errorf("transition %s is not a progression edge", e))
		}
		if d == nil {
			errs = append(errs, fmt.Errorf("transition %s has no dwell distribution", e))
		}
	}
	for _, e := range ProgressionEdges() {
		if _, ok := t[e]; !ok {
			errs = append(errs, fmt.Errorf("transition %s is not configured", e))
		}
	}
	return errors.Join(errs...)
}

// StrainFactors scale the age dependent severity per strain.
type StrainFactors struct {
	SeriouslySick           float64
	SeriouslySickVaccinated float64
	Critical                float64
}

// Params configure the progression model.
type Params struct {
	Transitions Transitions

	SymptomaticProbability float64
	// SeriouslySick and Critical are the age dependent branch probabilities
	// from showingSymptoms and seriouslySick.
	SeriouslySick curves.AgeTable
	Critical      curves.AgeTable
	Strains       [models.NumStrains]StrainFactors

	// ImmunityDays after recovery a person becomes susceptible again.
	// Zero keeps recovered persons immune for good.
	ImmunityDays int
	// QuarantineDays after which a quarantine is lifted. Zero never lifts.
	QuarantineDays int
	// SelfQuarantine puts persons into home quarantine at symptom onset.
	SelfQuarantine bool
}

// DefaultTransitions returns the standard dwell distributions.
func DefaultTransitions() Transitions {
	ln := func(mean, std float64) Dwell {
		d, err := LogNormalWithMeanAndStd(mean, std)
		if err != nil {
			panic(err)
		}
		return d
	}
	return Transitions{
		{models.StatusInfectedButNotContagious, models.StatusContagious}:  ln(4, 4),
		{models.StatusContagious, models.StatusShowingSymptoms}:           ln(2, 2),
		{models.StatusContagious, models.StatusRecovered}:                 ln(8, 8),
		{models.StatusShowingSymptoms, models.StatusSeriouslySick}:        ln(4, 4),
		{models.StatusShowingSymptoms, models.StatusRecovered}:            ln(8, 8),
		{models.StatusSeriouslySick, models.StatusCritical}:               ln(1, 1),
		{models.StatusSeriouslySick, models.StatusRecovered}:              ln(14, 14),
		{models.StatusCritical, models.StatusSeriouslySickAfterCritical}:  ln(9, 9),
		{models.StatusSeriouslySickAfterCritical, models.StatusRecovered}: ln(14, 14),
	}
}

// DefaultParams returns the standard progression parameters.
func DefaultParams() Params {
	p := Params{
		Transitions:            DefaultTransitions(),
		SymptomaticProbability: DefaultSymptomaticProbability,
		QuarantineDays:         14,
		SelfQuarantine:         true,
	}
	var err error
	p.SeriouslySick, err = curves.NewAgeTable(map[int]float64{
		0: 0.0006, 10: 0.0019, 20: 0.0081, 30: 0.019, 40: 0.027,
		50: 0.068, 60: 0.144, 70: 0.231, 80: 0.355,
	})
	if err != nil {
		panic(err)
	}
	p.Critical, err = curves.NewAgeTable(map[int]float64{
		0: 0.05, 40: 0.063, 50: 0.122, 60: 0.274, 70: 0.432, 80: 0.709,
	})
	if err != nil {
		panic(err)
	}
	for i := range p.Strains {
		p.Strains[i] = StrainFactors{SeriouslySick: 1, SeriouslySickVaccinated: 1, Critical: 1}
	}
	return p
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	var errs []error
	if err := p.Transitions.Validate(); err != nil {
		errs = append(errs, err)
	}
	if !isProbability(p.SymptomaticProbability) {
		errs = append(errs, fmt.Errorf("symptomatic probability %v outside [0,1]", p.SymptomaticProbability))
	}
	for s, f := range p.Strains {
		for _, v := range []float64{f.SeriouslySick, f.SeriouslySickVaccinated, f.Critical} {
			if math.IsNaN(v) || v < 0 {
				errs = append(errs, fmt.Errorf("severity factor of %s must be non-negative, got %v", models.VirusStrain(s), v))
			}
		}
	}
	if p.ImmunityDays < 0 {
		errs = append(errs, fmt.Errorf("immunity days must not be negative, got %d", p.ImmunityDays))
	}
	if p.QuarantineDays < 0 {
		errs = append(errs, fmt.Errorf("quarantine days must not be negative, got %d", p.QuarantineDays))
	}
	return errors.Join(errs...)
}

func isProbability(v float64) bool {
	return v >= 0 && v <= 1
}
