// Package curves builds piecewise-linear lookup tables from configured
// breakpoints: age curves for susceptibility, infectivity and severity, and
// day curves for seasonal parameters.
package curves

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// NumAges is the number of modeled ages, 0 through 127.
const NumAges = 128

// ErrNoBreakpoints is returned when a curve is built from an empty set.
var ErrNoBreakpoints = errors.New("curve needs at least one breakpoint")

// AgeTable maps every age to a value.
type AgeTable [NumAges]float64

// At returns the value for age, clamped to the modeled range.
func (t *AgeTable) At(age int) float64 {
	return t[min(max(age, 0), NumAges-1)]
}

// Constant returns a table with v at every age.
func Constant(v float64) AgeTable {
	var t AgeTable
	for i := range t {
		t[i] = v
	}
	return t
}

// NewAgeTable interpolates breakpoints (age -> value) linearly. Ages below
// the first or above the last breakpoint take the nearest breakpoint's value.
func NewAgeTable(points map[int]float64) (AgeTable, error) {
	var t AgeTable
	if len(points) == 0 {
		return t, ErrNoBreakpoints
	}
	for age, v := range points {
		if age < 0 || age >= NumAges {
			return t, fmt.Errorf("breakpoint age %d outside 0..%d", age, NumAges-1)
		}
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
			return t, fmt.Errorf("breakpoint value %v at age %d must be finite and non-negative", v, age)
		}
	}
	c := newCurve(points)
	for age := range t {
		t[age] = c.at(age)
	}
	return t, nil
}

// Curve is a day-indexed piecewise-linear function.
type Curve struct {
	xs []int
	ys []float64
}

// NewCurve builds a curve from day -> value breakpoints.
func NewCurve(points map[int]float64) (*Curve, error) {
	if len(points) == 0 {
		return nil, ErrNoBreakpoints
	}
	for d, v := range points {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("breakpoint value at day %d is not finite", d)
		}
	}
	c := newCurve(points)
	return &c, nil
}

// At returns the interpolated value for day.
func (c *Curve) At(day int) float64 {
	return c.at(day)
}

func newCurve(points map[int]float64) Curve {
	xs := make([]int, 0, len(points))
	for x := range points {
		xs = append(xs, x)
	}
	slices.Sort(xs)
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = points[x]
	}
	return Curve{xs: xs, ys: ys}
}

func (c *Curve) at(x int) float64 {
	i, found := slices.BinarySearch(c.xs, x)
	switch {
	case found:
		return c.ys[i]
	case i == 0:
		return c.ys[0]
	case i == len(c.xs):
		return c.ys[len(c.ys)-1]
	}
	x0, x1 := c.xs[i-1], c.xs[i]
	y0, y1 := c.ys[i-1], c.ys[i]
	return y0 + (y1-y0)*float64(x-x0)/float64(x1-x0)
}

// Schedule is a step function: the value set on the latest day <= query
// day applies. Used for capacities and restrictions that stay in force
// until changed.
type Schedule[T any] struct {
	days   []int
	values []T
}

// NewSchedule builds a schedule from day -> value entries.
func NewSchedule[T any](entries map[int]T) *Schedule[T] {
	days := make([]int, 0, len(entries))
	for d := range entries {
		days = append(days, d)
	}
	slices.Sort(days)
	values := make([]T, len(days))
	for i, d := range days {
		values[i] = entries[d]
	}
	return &Schedule[T]{days: days, values: values}
}

// At returns the value in force on day. ok is false before the first entry.
func (s *Schedule[T]) At(day int) (v T, ok bool) {
	if s == nil {
		return v, false
	}
	i, found := slices.BinarySearch(s.days, day)
	if found {
		return s.values[i], true
	}
	if i == 0 {
		return v, false
	}
	return s.values[i-1], true
}

// Len returns the number of entries.
func (s *Schedule[T]) Len() int {
	if s == nil {
		return 0
	}
	return len(s.days)
}
