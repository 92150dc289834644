// Package seeding introduces initial infections that do not come from a
// contact.
package seeding

import (
	"fmt"
	"log/slog"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
)

// Rand is the random source candidates are drawn with.
type Rand interface {
	IntN(n int) int
}

// Params configure initial infections.
type Params struct {
	// PerDay maps a strain to a day -> count schedule. A count stays in
	// force until the next entry.
	PerDay map[models.VirusStrain]map[int]int
	// Total caps the number of initial infections over the whole run.
	Total int
	// MinAge and MaxAge restrict candidates; -1 disables a bound.
	MinAge int
	MaxAge int
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	if p.Total < 0 {
		return fmt.Errorf("total initial infections must not be negative, got %d", p.Total)
	}
	if p.MinAge != -1 && p.MaxAge != -1 && p.MinAge > p.MaxAge {
		return fmt.Errorf("min age %d above max age %d", p.MinAge, p.MaxAge)
	}
	for s, sched := range p.PerDay {
		if int(s) >= models.NumStrains {
			return fmt.Errorf("initial infections for unknown strain %d", s)
		}
		for d, n := range sched {
			if n < 0 {
				return fmt.Errorf("initial infections of %s on day %d must not be negative", s, d)
			}
		}
	}
	return nil
}

// Seeder draws initial infections from the susceptible population.
type Seeder struct {
	params    Params
	schedules [models.NumStrains]*curves.Schedule[int]
	left      int
	rnd       Rand
	sink      events.Sink
	logger    *slog.Logger
}

// New returns a seeder with Total infections left.
func New(params Params, rnd Rand, sink events.Sink, logger *slog.Logger) (*Seeder, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid seeding parameters: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	s := &Seeder{
		params: params,
		left:   params.Total,
		rnd:    rnd,
		sink:   events.OrDiscard(sink),
		logger: logger,
	}
	for strain, sched := range params.PerDay {
		s.schedules[strain] = curves.NewSchedule(sched)
	}
	return s, nil
}

// Left returns the number of initial infections not yet used.
func (s *Seeder) Left() int { return s.left }

// SetLeft restores the remaining budget.
func (s *Seeder) SetLeft(n int) { s.left = n }

// Seed infects the scheduled number of persons per strain on day and
// returns how many were infected. persons must be in a deterministic order.
// When too few persons match the age filter, the whole population is used
// and a warning is reported.
func (s *Seeder) Seed(day int, persons []*models.Person) int {
	infected := 0
	for _, strain := range models.Strains() {
		want, ok := s.schedules[strain].At(day)
		if !ok || want <= 0 || s.left <= 0 {
			continue
		}
		want = min(want, s.left)

		candidates := s.candidates(persons, true)
		if len(candidates) < want {
			msg := fmt.Sprintf("only %d of %d persons match the initial infection filter, using whole population", len(candidates), want)
			s.logger.Warn("not enough seeding candidates", "day", day, "strain", strain.String(), "matching", len(candidates), "wanted", want)
			s.sink.Report(events.Event{Kind: events.KindWarning, Day: day, Strain: strain.String(), Message: msg})
			candidates = s.candidates(persons, false)
		}

		n := s.infect(day, strain, candidates, want)
		s.left -= n
		infected += n
	}
	return infected
}

func (s *Seeder) candidates(persons []*models.Person, filter bool) []*models.Person {
	var out []*models.Person
	for _, p := range persons {
		if p.DiseaseStatus() != models.StatusSusceptible {
			continue
		}
		if filter {
			if s.params.MinAge != -1 && p.Age() < s.params.MinAge {
				continue
			}
			if s.params.MaxAge != -1 && p.Age() > s.params.MaxAge {
				continue
			}
		}
		out = append(out, p)
	}
	return out
}

// infect picks up to want persons by partial Fisher-Yates shuffle.
func (s *Seeder) infect(day int, strain models.VirusStrain, candidates []*models.Person, want int) int {
	n := min(want, len(candidates))
	for i := range n {
		j := i + s.rnd.IntN(len(candidates)-i)
		candidates[i], candidates[j] = candidates[j], candidates[i]
		candidates[i].SetInitialInfection(day, strain)
		s.logger.Debug("initial infection", "day", day, "person", candidates[i].ID(), "strain", strain.String())
	}
	return n
}
