package infection

import (
	"fmt"
	"math"
)

// Mask is the face mask a person wears during a contact.
type Mask uint8

const (
	MaskNone Mask = iota
	MaskCloth
	MaskSurgical
	MaskN95

	numMasks = int(MaskN95) + 1
)

var maskNames = [numMasks]string{"NONE", "CLOTH", "SURGICAL", "N95"}

// shedding and intake factors per mask, indexed by Mask.
var (
	maskShedding = [numMasks]float64{1, 0.6, 0.3, 0.15}
	maskIntake   = [numMasks]float64{1, 0.5, 0.2, 0.025}
)

func (m Mask) String() string {
	if int(m) < numMasks {
		return maskNames[m]
	}
	return fmt.Sprintf("Mask(%d)", uint8(m))
}

// Shedding is the factor applied when the infector wears m.
func (m Mask) Shedding() float64 { return maskShedding[m] }

// Intake is the factor applied when the target wears m.
func (m Mask) Intake() float64 { return maskIntake[m] }

// ParseMask converts a name into a Mask.
func ParseMask(name string) (Mask, error) {
	for i, n := range maskNames {
		if n == name {
			return Mask(i), nil
		}
	}
	return 0, fmt.Errorf("unknown mask %q", name)
}

// MaskDistribution holds the fraction of persons wearing each mask type.
// Whatever remains up to 1 wears no mask.
type MaskDistribution struct {
	Cloth    float64 `yaml:"cloth" json:"cloth,omitempty"`
	Surgical float64 `yaml:"surgical" json:"surgical,omitempty"`
	N95      float64 `yaml:"n95" json:"n95,omitempty"`
}

// Validate checks that fractions are in [0,1] and sum to at most 1.
func (d MaskDistribution) Validate() error {
	sum := 0.0
	for _, f := range []float64{d.Cloth, d.Surgical, d.N95} {
		if math.IsNaN(f) || f < 0 || f > 1 {
			return fmt.Errorf("mask fraction %v outside [0,1]", f)
		}
		sum += f
	}
	if sum > 1+1e-9 {
		return fmt.Errorf("mask fractions sum to %v, more than 1", sum)
	}
	return nil
}

// IsZero reports whether nobody wears a mask.
func (d MaskDistribution) IsZero() bool {
	return d.Cloth == 0 && d.Surgical == 0 && d.N95 == 0
}

// Draw picks a mask using one uniform draw from rnd. No draw is consumed
// when nobody wears a mask.
func (d MaskDistribution) Draw(rnd Rand) Mask {
	if d.IsZero() {
		return MaskNone
	}
	u := rnd.Float64()
	switch {
	case u < d.Cloth:
		return MaskCloth
	case u < d.Cloth+d.Surgical:
		return MaskSurgical
	case u < d.Cloth+d.Surgical+d.N95:
		return MaskN95
	}
	return MaskNone
}
