package models

import (
	"fmt"
)

// VirusStrain identifies a modeled viral variant. The set is closed so that
// per-strain parameter tables can be plain arrays indexed by strain.
type VirusStrain uint8

const (
	StrainSARSCoV2 VirusStrain = iota
	StrainAlpha
	StrainDelta
	StrainOmicronBA1
	StrainOmicronBA2
	StrainA

	// NumStrains is the number of modeled strains.
	NumStrains = int(StrainA) + 1
)

var strainNames = [NumStrains]string{
	StrainSARSCoV2:   "SARS_CoV_2",
	StrainAlpha:      "ALPHA",
	StrainDelta:      "DELTA",
	StrainOmicronBA1: "OMICRON_BA1",
	StrainOmicronBA2: "OMICRON_BA2",
	StrainA:          "STRAIN_A",
}

// Strains returns every modeled strain in declaration order.
func Strains() []VirusStrain {
	out := make([]VirusStrain, NumStrains)
	for i := range out {
		out[i] = VirusStrain(i)
	}
	return out
}

func (s VirusStrain) String() string {
	if int(s) < NumStrains {
		return strainNames[s]
	}
	return fmt.Sprintf("VirusStrain(%d)", uint8(s))
}

// ParseVirusStrain converts a strain name into a VirusStrain.
func ParseVirusStrain(name string) (VirusStrain, error) {
	for i, n := range strainNames {
		if n == name {
			return VirusStrain(i), nil
		}
	}
	return 0, fmt.Errorf("unknown virus strain %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (s VirusStrain) MarshalText() ([]byte, error) {
	if int(s) >= NumStrains {
		return nil, fmt.Errorf("invalid virus strain %d", uint8(s))
	}
	return []byte(strainNames[s]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *VirusStrain) UnmarshalText(b []byte) error {
	v, err := ParseVirusStrain(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// VaccinationType identifies how a person was immunized. Infections count as
// immunizations too (natural, naturalWithOmicron).
type VaccinationType uint8

const (
	VaccineGeneric VaccinationType = iota
	VaccineMRNA
	VaccineVector
	VaccineOmicronUpdate
	ImmunizationNatural
	ImmunizationNaturalWithOmicron

	// NumVaccinationTypes is the number of immunization types.
	NumVaccinationTypes = int(ImmunizationNaturalWithOmicron) + 1
)

var vaccinationNames = [NumVaccinationTypes]string{
	VaccineGeneric:                 "generic",
	VaccineMRNA:                    "mRNA",
	VaccineVector:                  "vector",
	VaccineOmicronUpdate:           "omicronUpdate",
	ImmunizationNatural:            "natural",
	ImmunizationNaturalWithOmicron: "naturalWithOmicron",
}

// VaccinationTypes returns every immunization type in declaration order.
func VaccinationTypes() []VaccinationType {
	out := make([]VaccinationType, NumVaccinationTypes)
	for i := range out {
		out[i] = VaccinationType(i)
	}
	return out
}

func (v VaccinationType) String() string {
	if int(v) < NumVaccinationTypes {
		return vaccinationNames[v]
	}
	return fmt.Sprintf("VaccinationType(%d)", uint8(v))
}

// IsNatural reports whether the immunization came from an infection.
func (v VaccinationType) IsNatural() bool {
	return v == ImmunizationNatural || v == ImmunizationNaturalWithOmicron
}

// ParseVaccinationType converts a name into a VaccinationType.
func ParseVaccinationType(name string) (VaccinationType, error) {
	for i, n := range vaccinationNames {
		if n == name {
			return VaccinationType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown vaccination type %q", name)
}

// MarshalText implements encoding.TextMarshaler.
func (v VaccinationType) MarshalText() ([]byte, error) {
	if int(v) >= NumVaccinationTypes {
		return nil, fmt.Errorf("invalid vaccination type %d", uint8(v))
	}
	return []byte(vaccinationNames[v]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *VaccinationType) UnmarshalText(b []byte) error {
	t, err := ParseVaccinationType(string(b))
	if err != nil {
		return err
	}
	*v = t
	return nil
}
