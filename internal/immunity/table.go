// Package immunity replays a person's infection and vaccination history into
// relative antibody levels against every virus strain.
package immunity

import (
	"errors"
	"fmt"
	"math"

	"github.com/nvandessel/epistate/internal/models"
)

// ErrUnknownImmunization is returned when an immunization type has no entry
// in the initialization or boost table.
var ErrUnknownImmunization = errors.New("no antibody table entry for immunization type")

// Default model constants.
const (
	DefaultHalfLifeDays = 80.0
	DefaultCeiling      = 20.0
	DefaultBeta         = 1.2
)

// Levels holds one antibody level per strain.
type Levels [models.NumStrains]float64

// Table is the validated set of lookup tables the replay runs on.
type Table struct {
	// AK50 normalizes a base factor into a level for each strain.
	AK50 [models.NumStrains]float64

	// Base is the first-immunization factor per type. The initial level
	// against a strain is Base/AK50 unless Override supplies a value.
	Base [models.NumVaccinationTypes]float64

	// Override holds absolute initial levels replacing Base/AK50 for single
	// strains, e.g. variant-adapted vaccines against their target variant.
	Override [models.NumVaccinationTypes]map[models.VirusStrain]float64

	// Boost multiplies every level on a subsequent immunization.
	Boost [models.NumVaccinationTypes]float64

	// Defined marks the immunization types present in the tables.
	Defined [models.NumVaccinationTypes]bool

	HalfLifeDays float64
	Ceiling      float64
}

// DefaultTable returns the standard tables. naturalWithOmicron has no
// agreed initialization and is left undefined; callers supply it with
// SetNaturalWithOmicron before validating.
func DefaultTable() *Table {
	t := &Table{
		AK50: [models.NumStrains]float64{
			models.StrainSARSCoV2:   0.2,
			models.StrainAlpha:      0.2,
			models.StrainDelta:      0.5,
			models.StrainOmicronBA1: 2.5,
			models.StrainOmicronBA2: 2.5 * 1.4,
			models.StrainA:          2.5 * 1.4,
		},
		HalfLifeDays: DefaultHalfLifeDays,
		Ceiling:      DefaultCeiling,
	}
	t.set(models.VaccineGeneric, 1, 1, nil)
	t.set(models.VaccineMRNA, 2, 20, nil)
	t.set(models.VaccineVector, 0.5, 5, nil)
	t.set(models.VaccineOmicronUpdate, 2, 20, map[models.VirusStrain]float64{
		models.StrainOmicronBA1: 2.0 / 0.2,
		models.StrainOmicronBA2: 2.0 / 0.2,
	})
	t.set(models.ImmunizationNatural, 1, 10, nil)
	return t
}

func (t *Table) set(v models.VaccinationType, base, boost float64, override map[models.VirusStrain]float64) {
	t.Base[v] = base
	t.Boost[v] = boost
	t.Override[v] = override
	t.Defined[v] = true
}

// SetNaturalWithOmicron defines the naturalWithOmicron immunization: the
// initial level per strain and the boost factor.
func (t *Table) SetNaturalWithOmicron(initial map[models.VirusStrain]float64, boost float64) {
	t.set(models.ImmunizationNaturalWithOmicron, 0, boost, initial)
}

// Validate checks that every strain and immunization type resolves to a
// finite, non-negative entry.
func (t *Table) Validate() error {
	var errs []error
	if !(t.HalfLifeDays > 0) {
		errs = append(errs, fmt.Errorf("half-life must be positive, got %v", t.HalfLifeDays))
	}
	if !(t.Ceiling > 0) {
		errs = append(errs, fmt.Errorf("ceiling must be positive, got %v", t.Ceiling))
	}
	for _, s := range models.Strains() {
		if a := t.AK50[s]; !(a > 0) || math.IsInf(a, 0) {
			errs = append(errs, fmt.Errorf("ak50 for %s must be positive and finite, got %v", s, a))
		}
	}
	for _, v := range models.VaccinationTypes() {
		if !t.Defined[v] {
			errs = append(errs, fmt.Errorf("%w %s", ErrUnknownImmunization, v))
			continue
		}
		if !finiteNonNeg(t.Base[v]) {
			errs = append(errs, fmt.Errorf("base factor for %s must be finite and non-negative, got %v", v, t.Base[v]))
		}
		if !finiteNonNeg(t.Boost[v]) {
			errs = append(errs, fmt.Errorf("boost factor for %s must be finite and non-negative, got %v", v, t.Boost[v]))
		}
		for s, lvl := range t.Override[v] {
			if int(s) >= models.NumStrains {
				errs = append(errs, fmt.Errorf("override for %s references unknown strain %d", v, s))
			}
			if !finiteNonNeg(lvl) {
				errs = append(errs, fmt.Errorf("initial level of %s against %s must be finite and non-negative, got %v", v, s, lvl))
			}
		}
	}
	return errors.Join(errs...)
}

// Initial returns the first-immunization levels for type v.
func (t *Table) Initial(v models.VaccinationType) Levels {
	var l Levels
	for _, s := range models.Strains() {
		if lvl, ok := t.Override[v][s]; ok {
			l[s] = lvl
		} else {
			l[s] = t.Base[v] / t.AK50[s]
		}
		l[s] = min(l[s], t.Ceiling)
	}
	return l
}

func finiteNonNeg(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}
