// Package vaccination administers first doses and boosters within a daily
// capacity.
package vaccination

import (
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/models"
)

// Rand is the random source of the vaccination campaign.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// Params configure the vaccination campaign.
type Params struct {
	// Capacity and BoosterCapacity map a day to the doses per day from then on.
	Capacity        map[int]int
	BoosterCapacity map[int]int
	// Compliance is the probability by age that a person accepts a dose.
	// Persons who refuse are never asked again.
	Compliance curves.AgeTable
	// Share is the fraction of first doses per vaccine type.
	Share map[models.VaccinationType]float64
	// BoosterShare is the fraction of boosters per vaccine type.
	BoosterShare     map[models.VaccinationType]float64
	BoosterAfterDays int
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	var errs []error
	for _, caps := range []map[int]int{p.Capacity, p.BoosterCapacity} {
		for d, c := range caps {
			if c < 0 {
				errs = append(errs, fmt.Errorf("vaccination capacity on day %d must not be negative, got %d", d, c))
			}
		}
	}
	for name, share := range map[string]map[models.VaccinationType]float64{"vaccine": p.Share, "booster": p.BoosterShare} {
		if err := validateShare(share); err != nil {
			errs = append(errs, fmt.Errorf("%s share: %w", name, err))
		}
	}
	for age := range curves.NumAges {
		if c := p.Compliance[age]; c < 0 || c > 1 {
			errs = append(errs, fmt.Errorf("compliance %v at age %d outside [0,1]", c, age))
			break
		}
	}
	if p.BoosterAfterDays < 0 {
		errs = append(errs, fmt.Errorf("booster delay must not be negative, got %d", p.BoosterAfterDays))
	}
	return errors.Join(errs...)
}

func validateShare(share map[models.VaccinationType]float64) error {
	if len(share) == 0 {
		return nil
	}
	sum := 0.0
	for v, f := range share {
		if v.IsNatural() || int(v) >= models.NumVaccinationTypes {
			return fmt.Errorf("%s is not a vaccine", v)
		}
		if math.IsNaN(f) || f < 0 {
			return fmt.Errorf("share of %s must be non-negative", v)
		}
		sum += f
	}
	if math.Abs(sum-1) > 1e-6 {
		return fmt.Errorf("shares sum to %v, want 1", sum)
	}
	return nil
}

// Model runs the daily campaign from the sequential phase.
type Model struct {
	params   Params
	capacity *curves.Schedule[int]
	boosters *curves.Schedule[int]
	rnd      Rand
	logger   *slog.Logger
}

// New returns a campaign.
func New(params Params, rnd Rand, logger *slog.Logger) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vaccination parameters: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Model{
		params:   params,
		capacity: curves.NewSchedule(params.Capacity),
		boosters: curves.NewSchedule(params.BoosterCapacity),
		rnd:      rnd,
		logger:   logger,
	}, nil
}

// Result counts the doses given on one day.
type Result struct {
	FirstDoses int
	Boosters   int
}

// Step vaccinates for day. persons must be in id order.
func (m *Model) Step(day int, persons []*models.Person) (Result, error) {
	var res Result
	var err error

	if n, _ := m.capacity.At(day); n > 0 {
		res.FirstDoses, err = m.firstDoses(day, persons, n)
		if err != nil {
			return res, err
		}
	}
	if n, _ := m.boosters.At(day); n > 0 {
		res.Boosters, err = m.boost(day, persons, n)
		if err != nil {
			return res, err
		}
	}
	if res.FirstDoses > 0 || res.Boosters > 0 {
		m.logger.Debug("vaccinated", "day", day, "first", res.FirstDoses, "boosters", res.Boosters)
	}
	return res, nil
}

func (m *Model) firstDoses(day int, persons []*models.Person, capacity int) (int, error) {
	var candidates []*models.Person
	for _, p := range persons {
		if p.IsVaccinable() && p.VaccinationStatus() == models.VaccinationNo &&
			p.DiseaseStatus() == models.StatusSusceptible {
			candidates = append(candidates, p)
		}
	}

	given := 0
	for i := 0; i < len(candidates) && given < capacity; i++ {
		j := i + m.rnd.IntN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
		p := candidates[i]

		if m.rnd.Float64() >= m.params.Compliance.At(p.Age()) {
			p.MarkNotVaccinable()
			continue
		}
		if err := p.SetVaccinationStatus(models.VaccinationYes, m.draw(m.params.Share), day); err != nil {
			return given, err
		}
		given++
	}
	return given, nil
}

func (m *Model) boost(day int, persons []*models.Person, capacity int) (int, error) {
	given := 0
	for _, p := range persons {
		if given >= capacity {
			break
		}
		if p.VaccinationStatus() != models.VaccinationYes || p.ReVaccinationStatus() == models.VaccinationYes {
			continue
		}
		if p.DiseaseStatus().IsInfected() {
			continue
		}
		since, err := p.DaysSinceVaccination(day)
		if err != nil {
			return given, err
		}
		if since < m.params.BoosterAfterDays {
			continue
		}
		if err := p.SetReVaccinationStatus(models.VaccinationYes, m.draw(m.params.BoosterShare), day); err != nil {
			return given, err
		}
		given++
	}
	return given, nil
}

// draw picks a vaccine type by share. Without shares every dose is generic.
func (m *Model) draw(share map[models.VaccinationType]float64) models.VaccinationType {
	if len(share) == 0 {
		return models.VaccineGeneric
	}
	u := m.rnd.Float64()
	acc := 0.0
	last := models.VaccineGeneric
	for _, v := range models.VaccinationTypes() {
		f, ok := share[v]
		if !ok {
			continue
		}
		acc += f
		last = v
		if u < acc {
			return v
		}
	}
	return last
}
