// Package tracing propagates quarantine from an index person to the
// contacts recorded during the tracing period, subject to a daily capacity.
package tracing

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
)

// Unlimited disables the daily capacity.
const Unlimited = -1

// Rand is the random source tracing success is drawn from.
type Rand interface {
	Float64() float64
}

// Params configure contact tracing.
type Params struct {
	Enabled bool
	// StartDay is the first day tracing puts contacts into quarantine.
	StartDay int
	// Probability that a single contact is traced successfully.
	Probability float64
	// DelayDays between the trigger and the quarantine of contacts.
	DelayDays int
	// PeriodDays before the trigger in which contacts are eligible.
	PeriodDays int
	// Capacity maps a day to the number of index persons that can be
	// traced per day from then on. Unlimited means no limit; days before
	// the first entry are unlimited.
	Capacity map[int]int
	// QuarantineHouseholdMembers traces household contacts regardless of
	// Probability.
	QuarantineHouseholdMembers bool
	// Status is the quarantine traced contacts are put into.
	Status models.QuarantineStatus
	// MinContactDurationSec is the shortest contact that gets recorded.
	MinContactDurationSec float64
}

// DefaultParams returns tracing parameters with tracing disabled.
func DefaultParams() Params {
	return Params{
		Probability: 1,
		PeriodDays:  4,
		Status:      models.QuarantineAtHome,
	}
}

// Validate checks the parameters.
func (p *Params) Validate() error {
	var errs []error
	if p.Probability < 0 || p.Probability > 1 {
		errs = append(errs, fmt.Errorf("tracing probability %v outside [0,1]", p.Probability))
	}
	if p.DelayDays < 0 {
		errs = append(errs, fmt.Errorf("tracing delay must not be negative, got %d", p.DelayDays))
	}
	if p.PeriodDays < 0 {
		errs = append(errs, fmt.Errorf("tracing period must not be negative, got %d", p.PeriodDays))
	}
	if p.Status != models.QuarantineAtHome && p.Status != models.QuarantineFull {
		errs = append(errs, fmt.Errorf("tracing quarantine status must be atHome or full, got %q", p.Status))
	}
	for day, c := range p.Capacity {
		if c < Unlimited {
			errs = append(errs, fmt.Errorf("tracing capacity on day %d must be >= -1, got %d", day, c))
		}
	}
	if p.MinContactDurationSec < 0 {
		errs = append(errs, fmt.Errorf("minimum contact duration must not be negative, got %v", p.MinContactDurationSec))
	}
	return errors.Join(errs...)
}

// Engine executes tracing. It is used from the sequential phase only. A nil
// *Engine never traces.
type Engine struct {
	params   Params
	capacity *curves.Schedule[int]
	rnd      Rand
	sink     events.Sink
	logger   *slog.Logger

	day  int
	used int
}

// New returns an engine drawing from rnd.
func New(params Params, rnd Rand, sink events.Sink, logger *slog.Logger) (*Engine, error) {
	if err := params.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tracing parameters: %w", err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	e := &Engine{
		rnd:    rnd,
		sink:   events.OrDiscard(sink),
		logger: logger,
		day:    -1,
	}
	e.setParams(params)
	return e, nil
}

// SetParams replaces the parameters, e.g. when a policy changes them.
func (e *Engine) SetParams(params Params) error {
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid tracing parameters: %w", err)
	}
	e.setParams(params)
	return nil
}

func (e *Engine) setParams(params Params) {
	params.Capacity = maps.Clone(params.Capacity)
	e.params = params
	e.capacity = curves.NewSchedule(params.Capacity)
}

// Params returns the current parameters.
func (e *Engine) Params() Params {
	if e == nil {
		return Params{}
	}
	return e.params
}

// Active reports whether tracing acts on day.
func (e *Engine) Active(day int) bool {
	return e != nil && e.params.Enabled && day >= e.params.StartDay
}

// Delay returns the tracing delay in days.
func (e *Engine) Delay() int {
	if e == nil {
		return 0
	}
	return e.params.DelayDays
}

// RetentionDays is how long contacts must be kept to be traced.
func (e *Engine) RetentionDays() int {
	if e == nil {
		return 0
	}
	return e.params.DelayDays + e.params.PeriodDays
}

// Records reports whether a contact of duration seconds is recorded.
func (e *Engine) Records(duration float64) bool {
	return e != nil && e.params.Enabled && duration >= e.params.MinContactDurationSec
}

// CapacityAt returns the capacity in force on day.
func (e *Engine) CapacityAt(day int) int {
	c, ok := e.capacity.At(day)
	if !ok {
		return Unlimited
	}
	return c
}

// Used returns the number of index persons traced on the current day.
func (e *Engine) Used() int { return e.used }

// UsedOn returns the number of index persons traced on day.
func (e *Engine) UsedOn(day int) int {
	if e == nil || e.day != day {
		return 0
	}
	return e.used
}

// Trace quarantines the contacts index had within the tracing period
// before trigger. It returns false when tracing is inactive, the index is
// not traceable, or the day's capacity is used up; in that case the
// opportunity is lost.
func (e *Engine) Trace(index *models.Person, trigger, day int) bool {
	if !e.Active(day) || !index.IsTraceable() {
		return false
	}
	if day != e.day {
		e.day = day
		e.used = 0
	}
	if c := e.CapacityAt(day); c != Unlimited && e.used >= c {
		e.logger.Debug("tracing capacity exhausted", "day", day, "person", index.ID(), "capacity", c)
		return false
	}
	e.used++

	prob := e.params.Probability
	for _, c := range index.TraceableContacts(trigger - e.params.PeriodDays) {
		household := e.params.QuarantineHouseholdMembers && index.SameHousehold(c)
		if !household {
			// no draw when the outcome is certain
			if prob == 0 || (prob < 1 && e.rnd.Float64() >= prob) {
				continue
			}
		}
		e.quarantine(index, c, day)
	}
	return true
}

func (e *Engine) quarantine(index, contact *models.Person, day int) {
	if contact.QuarantineStatus() != models.QuarantineNo {
		return
	}
	contact.SetQuarantineStatus(e.params.Status, day)
	e.sink.Report(events.Event{
		Kind:      events.KindTracing,
		Day:       day,
		PersonID:  index.ID(),
		ContactID: contact.ID(),
		Status:    string(e.params.Status),
	})
}
