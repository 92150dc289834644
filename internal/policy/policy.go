// Package policy holds the daily restriction table: per activity the
// participation, contact intensity correction and mask usage in force.
package policy

import (
	"errors"
	"fmt"
	"maps"
	"slices"

	"github.com/nvandessel/epistate/internal/infection"
)

// Restriction is the state of one activity on one day.
type Restriction struct {
	// RemainingFraction is the probability a person still performs the
	// activity.
	RemainingFraction float64                    `json:"remaining_fraction"`
	CiCorrection      float64                    `json:"ci_correction"`
	Masks             infection.MaskDistribution `json:"masks"`
}

// None is the unrestricted state.
var None = Restriction{RemainingFraction: 1, CiCorrection: 1}

// Change updates some fields of a restriction from a given day on. Nil
// fields keep their previous value.
type Change struct {
	Day               int
	Activity          string
	RemainingFraction *float64
	CiCorrection      *float64
	Masks             *infection.MaskDistribution
}

// Table resolves restrictions by day and activity. Changes carry forward
// until the next change of the same field.
type Table struct {
	days     map[string][]int
	states   map[string][]Restriction
	exempted map[string]bool
}

// NewTable builds a table from changes. Activities in exempt, e.g. home,
// are never restricted.
func NewTable(changes []Change, exempt ...string) (*Table, error) {
	t := &Table{
		days:     make(map[string][]int),
		states:   make(map[string][]Restriction),
		exempted: make(map[string]bool, len(exempt)),
	}
	for _, a := range exempt {
		t.exempted[a] = true
	}

	byActivity := make(map[string][]Change)
	var errs []error
	for _, c := range changes {
		if c.Activity == "" {
			errs = append(errs, fmt.Errorf("restriction on day %d has no activity", c.Day))
			continue
		}
		if t.exempted[c.Activity] {
			errs = append(errs, fmt.Errorf("activity %s cannot be restricted", c.Activity))
			continue
		}
		if err := c.validate(); err != nil {
			errs = append(errs, fmt.Errorf("restriction of %s on day %d: %w", c.Activity, c.Day, err))
			continue
		}
		byActivity[c.Activity] = append(byActivity[c.Activity], c)
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for act, cs := range byActivity {
		slices.SortStableFunc(cs, func(a, b Change) int { return a.Day - b.Day })
		cur := None
		for _, c := range cs {
			c.apply(&cur)
			days := t.days[act]
			if n := len(days); n > 0 && days[n-1] == c.Day {
				t.states[act][n-1] = cur
				continue
			}
			t.days[act] = append(days, c.Day)
			t.states[act] = append(t.states[act], cur)
		}
	}
	return t, nil
}

func (c Change) validate() error {
	if c.RemainingFraction != nil && (*c.RemainingFraction < 0 || *c.RemainingFraction > 1) {
		return fmt.Errorf("remaining fraction %v outside [0,1]", *c.RemainingFraction)
	}
	if c.CiCorrection != nil && !(*c.CiCorrection >= 0) {
		return fmt.Errorf("ci correction must be non-negative, got %v", *c.CiCorrection)
	}
	if c.Masks != nil {
		return c.Masks.Validate()
	}
	return nil
}

func (c Change) apply(r *Restriction) {
	if c.RemainingFraction != nil {
		r.RemainingFraction = *c.RemainingFraction
	}
	if c.CiCorrection != nil {
		r.CiCorrection = *c.CiCorrection
	}
	if c.Masks != nil {
		r.Masks = *c.Masks
	}
}

// At returns the restriction of activity on day.
func (t *Table) At(day int, activity string) Restriction {
	if t == nil || t.exempted[activity] {
		return None
	}
	days := t.days[activity]
	i, found := slices.BinarySearch(days, day)
	if found {
		return t.states[activity][i]
	}
	if i == 0 {
		return None
	}
	return t.states[activity][i-1]
}

// Day returns the restrictions of every restricted activity on day.
func (t *Table) Day(day int) map[string]Restriction {
	out := make(map[string]Restriction)
	if t == nil {
		return out
	}
	for act := range t.days {
		out[act] = t.At(day, act)
	}
	return out
}

// Activities returns the restricted activities in sorted order.
func (t *Table) Activities() []string {
	if t == nil {
		return nil
	}
	return slices.Sorted(maps.Keys(t.days))
}
