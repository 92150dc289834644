// Package progression advances persons through the disease state machine
// with stochastic dwell times and triggers contact tracing.
package progression

import (
	"fmt"
	"log/slog"
	"maps"

	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/tracing"
)

// Slot is the transition a person is scheduled for: after Days in From the
// person moves to Next.
type Slot struct {
	From models.DiseaseStatus `json:"from"`
	Next models.DiseaseStatus `json:"next"`
	Days int                  `json:"days"`
}

// Model is the daily disease progression. It is not safe for concurrent
// use, except NextTransition which may be called concurrently while no
// update runs.
type Model struct {
	params Params
	rnd    Rand
	tracer *tracing.Engine
	logger *slog.Logger

	slots map[string]Slot
}

// New returns a model. tracer may be nil to disable tracing.
func New(params Params, rnd Rand, tracer *tracing.Engine, logger *slog.Logger) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid progression parameters: %w", err)
	}
	if rnd == nil {
		return nil, fmt.Errorf("progression needs a random source")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Model{
		params: params,
		rnd:    rnd,
		tracer: tracer,
		logger: logger,
		slots:  make(map[string]Slot),
	}, nil
}

// Tracer returns the tracing engine, or nil.
func (m *Model) Tracer() *tracing.Engine { return m.tracer }

// NextTransition returns the scheduled transition out of p's current status.
func (m *Model) NextTransition(p *models.Person) (models.DiseaseStatus, int, bool) {
	s, ok := m.slots[p.ID()]
	if !ok || s.From != p.DiseaseStatus() {
		return "", 0, false
	}
	return s.Next, s.Days, true
}

// Step updates every person for day, in person id order.
func (m *Model) Step(day int, persons []*models.Person) {
	sorted := make([]*models.Person, len(persons))
	copy(sorted, persons)
	models.SortByID(sorted)
	for _, p := range sorted {
		m.UpdateState(p, day)
	}
}

// UpdateState advances p to day.
func (m *Model) UpdateState(p *models.Person, day int) {
	m.releaseQuarantine(p, day)

	switch st := p.DiseaseStatus(); st {
	case models.StatusSusceptible:
		delete(m.slots, p.ID())
	case models.StatusRecovered:
		delete(m.slots, p.ID())
		if m.params.ImmunityDays > 0 && mustDaysSinceRecovery(p, day) >= m.params.ImmunityDays {
			p.SetDiseaseStatus(day, models.StatusSusceptible)
		}
	default:
		m.advance(p, day)
	}

	m.checkTracing(p, day)

	if m.tracer != nil {
		p.PurgeContacts(day - m.tracer.RetentionDays())
	}
}

// advance commits every transition whose dwell time elapsed. Zero-day
// dwell times chain within the same day.
func (m *Model) advance(p *models.Person, day int) {
	for range len(models.DiseaseStatuses) {
		st := p.DiseaseStatus()
		if !st.IsInfected() {
			return
		}
		s, ok := m.slots[p.ID()]
		if !ok || s.From != st {
			s = m.decide(p, st)
			m.slots[p.ID()] = s
		}
		if mustDaysSince(p, st, day) < s.Days {
			return
		}
		p.SetDiseaseStatus(day, s.Next)
		if s.Next == models.StatusShowingSymptoms && m.params.SelfQuarantine &&
			p.QuarantineStatus() == models.QuarantineNo {
			p.SetQuarantineStatus(models.QuarantineAtHome, day)
		}
	}
}

// decide draws the next status and the dwell time for a person that just
// entered from.
func (m *Model) decide(p *models.Person, from models.DiseaseStatus) Slot {
	next := m.nextStatus(p, from)
	dwell := m.params.Transitions[Edge{from, next}]
	days := dwell.Days(m.rnd)
	if days < 0 {
		days = 0
	}
	return Slot{From: from, Next: next, Days: days}
}

func (m *Model) nextStatus(p *models.Person, from models.DiseaseStatus) models.DiseaseStatus {
	strain := m.params.Strains[p.VirusStrain()]
	switch from {
	case models.StatusInfectedButNotContagious:
		return models.StatusContagious

	case models.StatusContagious:
		if m.rnd.Float64() < m.params.SymptomaticProbability {
			return models.StatusShowingSymptoms
		}
		return models.StatusRecovered

	case models.StatusShowingSymptoms:
		factor := strain.SeriouslySick
		if p.VaccinationStatus() == models.VaccinationYes {
			factor = strain.SeriouslySickVaccinated
		}
		if m.rnd.Float64() < m.params.SeriouslySick.At(p.Age())*factor {
			return models.StatusSeriouslySick
		}
		return models.StatusRecovered

	case models.StatusSeriouslySick:
		if m.rnd.Float64() < m.params.Critical.At(p.Age())*strain.Critical {
			return models.StatusCritical
		}
		return models.StatusRecovered

	case models.StatusCritical:
		return models.StatusSeriouslySickAfterCritical

	case models.StatusSeriouslySickAfterCritical:
		return models.StatusRecovered
	}
	panic(fmt.Sprintf("no progression out of status %s", from))
}

// checkTracing traces p's contacts on the day the tracing delay after
// symptom onset or a positive test has passed.
func (m *Model) checkTracing(p *models.Person, day int) {
	if !m.tracer.Active(day) {
		return
	}
	delay := m.tracer.Delay()

	if d, err := p.DaysSince(models.StatusShowingSymptoms, day); err == nil && d == delay {
		m.tracer.Trace(p, day-d, day)
		return
	}
	if p.TestStatus() == models.TestPositive && p.DaysSinceTest(day) == delay {
		m.tracer.Trace(p, day-delay, day)
	}
}

func (m *Model) releaseQuarantine(p *models.Person, day int) {
	if m.params.QuarantineDays == 0 || p.QuarantineStatus() == models.QuarantineNo {
		return
	}
	if d, err := p.DaysSinceQuarantine(day); err == nil && d >= m.params.QuarantineDays {
		p.SetQuarantineStatus(models.QuarantineNo, day)
	}
}

// Slots returns a copy of the scheduled transitions keyed by person id.
func (m *Model) Slots() map[string]Slot {
	return maps.Clone(m.slots)
}

// RestoreSlots replaces the scheduled transitions.
func (m *Model) RestoreSlots(slots map[string]Slot) error {
	for id, s := range slots {
		if _, ok := m.params.Transitions[Edge{s.From, s.Next}]; !ok {
			return fmt.Errorf("slot of person %s: unknown transition %s->%s", id, s.From, s.Next)
		}
	}
	m.slots = maps.Clone(slots)
	if m.slots == nil {
		m.slots = make(map[string]Slot)
	}
	return nil
}

func mustDaysSince(p *models.Person, s models.DiseaseStatus, day int) int {
	d, err := p.DaysSince(s, day)
	if err != nil {
		panic(err)
	}
	return d
}

func mustDaysSinceRecovery(p *models.Person, day int) int {
	d, err := p.DaysSinceRecovery(day)
	if err != nil {
		panic(err)
	}
	return d
}
