package immunity

import (
	"fmt"
	"math"
	"slices"

	"github.com/nvandessel/epistate/internal/models"
)

// Model computes antibody levels from immunization histories. It is
// read-only after construction and safe for concurrent use.
type Model struct {
	table   *Table
	natural [models.NumStrains]models.VaccinationType
	decay   float64
}

// Option configures a Model.
type Option func(*Model)

// WithNaturalImmunization sets the immunization type an infection with
// strain counts as. The default is natural for every strain.
func WithNaturalImmunization(strain models.VirusStrain, v models.VaccinationType) Option {
	return func(m *Model) { m.natural[strain] = v }
}

// New validates t and returns a model over it.
func New(t *Table, opts ...Option) (*Model, error) {
	if t == nil {
		return nil, fmt.Errorf("antibody table is nil")
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid antibody table: %w", err)
	}
	m := &Model{
		table: t,
		decay: math.Pow(0.5, 1/t.HalfLifeDays),
	}
	for i := range m.natural {
		m.natural[i] = models.ImmunizationNatural
	}
	for _, opt := range opts {
		opt(m)
	}
	for s, v := range m.natural {
		if !v.IsNatural() {
			return nil, fmt.Errorf("infection with %s mapped to non-natural immunization %s", models.VirusStrain(s), v)
		}
	}
	return m, nil
}

// Table returns the model's tables.
func (m *Model) Table() *Table { return m.table }

// Levels replays the history from the first immunization up to and
// including day and returns the level against every strain. Infections and
// vaccinations on the same day count once, as the vaccination.
func (m *Model) Levels(infections []models.Infection, vaccinations []models.Vaccination, day int) Levels {
	var levels Levels
	if len(infections) == 0 && len(vaccinations) == 0 {
		return levels
	}

	events := make(map[int]models.VaccinationType, len(infections)+len(vaccinations))
	for _, inf := range infections {
		events[inf.Day] = m.natural[inf.Strain]
	}
	for _, v := range vaccinations {
		events[v.Day] = v.Type
	}

	days := make([]int, 0, len(events))
	for d := range events {
		if d <= day {
			days = append(days, d)
		}
	}
	if len(days) == 0 {
		return levels
	}
	slices.Sort(days)

	levels = m.table.Initial(events[days[0]])
	prev := days[0]
	for _, d := range days[1:] {
		m.decayBy(&levels, d-prev-1)
		m.boost(&levels, events[d])
		prev = d
	}
	m.decayBy(&levels, day-prev)
	return levels
}

// RelativeLevel returns the level against strain on day.
func (m *Model) RelativeLevel(infections []models.Infection, vaccinations []models.Vaccination, day int, strain models.VirusStrain) float64 {
	l := m.Levels(infections, vaccinations, day)
	return l[strain]
}

// PersonLevel returns p's level against strain on day.
func (m *Model) PersonLevel(p *models.Person, day int, strain models.VirusStrain) float64 {
	return m.RelativeLevel(p.Infections(), p.Vaccinations(), day, strain)
}

func (m *Model) decayBy(l *Levels, days int) {
	if days <= 0 {
		return
	}
	f := math.Pow(m.decay, float64(days))
	for i := range l {
		l[i] *= f
	}
}

func (m *Model) boost(l *Levels, v models.VaccinationType) {
	f := m.table.Boost[v]
	for i := range l {
		l[i] = min(l[i]*f, m.table.Ceiling)
	}
}

// Factor converts an antibody level into the multiplicative protection
// factor 1/(1+level^beta).
func Factor(level, beta float64) float64 {
	return 1 / (1 + math.Pow(level, beta))
}
