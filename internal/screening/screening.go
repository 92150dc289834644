// Package screening tests persons within a daily capacity and isolates
// positive results.
package screening

import (
	"fmt"
	"log/slog"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/models"
)

// Strategy selects who is tested.
type Strategy string

const (
	// StrategyNone disables testing.
	StrategyNone Strategy = "none"
	// StrategyActivities tests persons who performed one of the listed
	// activities that day.
	StrategyActivities Strategy = "activities"
)

// Rand is the random source of test outcomes.
type Rand interface {
	Float64() float64
}

// Params configure testing.
type Params struct {
	Strategy   Strategy
	Activities []string
	// Capacity maps a day to the tests per day from then on.
	Capacity          map[int]int
	FalsePositiveRate float64
	FalseNegativeRate float64
	// RetestAfterDays is the minimum gap between two tests of a person.
	RetestAfterDays int
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	switch p.Strategy {
	case StrategyNone, StrategyActivities, "":
	default:
		return fmt.Errorf("unknown testing strategy %q", p.Strategy)
	}
	for _, r := range []float64{p.FalsePositiveRate, p.FalseNegativeRate} {
		if r < 0 || r > 1 {
			return fmt.Errorf("testing error rate %v outside [0,1]", r)
		}
	}
	for d, c := range p.Capacity {
		if c < 0 {
			return fmt.Errorf("testing capacity on day %d must not be negative, got %d", d, c)
		}
	}
	if p.RetestAfterDays < 0 {
		return fmt.Errorf("retest delay must not be negative, got %d", p.RetestAfterDays)
	}
	return nil
}

// Model performs the daily tests.
type Model struct {
	params     Params
	activities map[string]bool
	capacity   *curves.Schedule[int]
	rnd        Rand
	logger     *slog.Logger
}

// New returns a testing model.
func New(params Params, rnd Rand, logger *slog.Logger) (*Model, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid testing parameters: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	acts := make(map[string]bool, len(params.Activities))
	for _, a := range params.Activities {
		acts[a] = true
	}
	return &Model{
		params:     params,
		activities: acts,
		capacity:   curves.NewSchedule(params.Capacity),
		rnd:        rnd,
		logger:     logger,
	}, nil
}

// Enabled reports whether any testing happens.
func (m *Model) Enabled() bool {
	return m != nil && m.params.Strategy == StrategyActivities
}

// Covers reports whether performing activity makes a person eligible.
func (m *Model) Covers(activity string) bool {
	return m.Enabled() && m.activities[activity]
}

// Result counts the day's tests.
type Result struct {
	Tests     int
	Positives int
}

// Step tests eligible persons on day, in the given order, until the day's
// capacity is used. Persons that cannot be tested today are skipped.
func (m *Model) Step(day int, eligible []*models.Person) Result {
	var res Result
	if !m.Enabled() {
		return res
	}
	capacity, ok := m.capacity.At(day)
	if !ok {
		return res
	}
	for _, p := range eligible {
		if res.Tests >= capacity {
			break
		}
		if p.QuarantineStatus() != models.QuarantineNo || p.DaysSinceTest(day) < m.params.RetestAfterDays {
			continue
		}
		res.Tests++
		if m.test(p, day) {
			res.Positives++
		}
	}
	if res.Tests > 0 {
		m.logger.Debug("tested", "day", day, "tests", res.Tests, "positive", res.Positives)
	}
	return res
}

func (m *Model) test(p *models.Person, day int) bool {
	infected := isDetectable(p.DiseaseStatus())
	positive := infected
	if infected {
		positive = m.rnd.Float64() >= m.params.FalseNegativeRate
	} else if m.params.FalsePositiveRate > 0 {
		positive = m.rnd.Float64() < m.params.FalsePositiveRate
	}

	if positive {
		p.SetTestStatus(models.TestPositive, day)
		p.SetQuarantineStatus(models.QuarantineAtHome, day)
	} else {
		p.SetTestStatus(models.TestNegative, day)
	}
	return positive
}

func isDetectable(s models.DiseaseStatus) bool {
	switch s {
	case models.StatusInfectedButNotContagious, models.StatusContagious, models.StatusShowingSymptoms:
		return true
	}
	return false
}
