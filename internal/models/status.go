// Package models defines the per-person epidemic state shared by every engine
// component: disease, quarantine, test and vaccination status plus the
// infection and vaccination histories that drive immunity.
package models

import "fmt"

// DiseaseStatus is the current stage of a person's disease progression.
type DiseaseStatus string

const (
	StatusSusceptible                DiseaseStatus = "susceptible"
	StatusInfectedButNotContagious   DiseaseStatus = "infectedButNotContagious"
	StatusContagious                 DiseaseStatus = "contagious"
	StatusShowingSymptoms            DiseaseStatus = "showingSymptoms"
	StatusSeriouslySick              DiseaseStatus = "seriouslySick"
	StatusCritical                   DiseaseStatus = "critical"
	StatusSeriouslySickAfterCritical DiseaseStatus = "seriouslySickAfterCritical"
	StatusRecovered                  DiseaseStatus = "recovered"
)

// DiseaseStatuses lists every status in progression order.
var DiseaseStatuses = []DiseaseStatus{
	StatusSusceptible,
	StatusInfectedButNotContagious,
	StatusContagious,
	StatusShowingSymptoms,
	StatusSeriouslySick,
	StatusCritical,
	StatusSeriouslySickAfterCritical,
	StatusRecovered,
}

// transitions is the disease state machine. Every status change a person goes
// through must follow one of these edges.
var transitions = map[DiseaseStatus][]DiseaseStatus{
	StatusSusceptible:                {StatusInfectedButNotContagious},
	StatusInfectedButNotContagious:   {StatusContagious},
	StatusContagious:                 {StatusShowingSymptoms, StatusRecovered},
	StatusShowingSymptoms:            {StatusSeriouslySick, StatusRecovered},
	StatusSeriouslySick:              {StatusCritical, StatusRecovered},
	StatusCritical:                   {StatusSeriouslySickAfterCritical},
	StatusSeriouslySickAfterCritical: {StatusRecovered},
	StatusRecovered:                  {StatusSusceptible},
}

// NextStatuses returns the statuses reachable from s in one step.
func NextStatuses(s DiseaseStatus) []DiseaseStatus {
	return transitions[s]
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to DiseaseStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Valid reports whether s is a known disease status.
func (s DiseaseStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// ParseDiseaseStatus converts a string into a DiseaseStatus.
func ParseDiseaseStatus(s string) (DiseaseStatus, error) {
	st := DiseaseStatus(s)
	if !st.Valid() {
		return "", fmt.Errorf("unknown disease status %q", s)
	}
	return st, nil
}

// IsInfected reports whether the status belongs to an ongoing infection episode.
func (s DiseaseStatus) IsInfected() bool {
	return s != StatusSusceptible && s != StatusRecovered
}

// QuarantineStatus describes whether and how a person is isolated.
type QuarantineStatus string

const (
	QuarantineFull   QuarantineStatus = "full"
	QuarantineAtHome QuarantineStatus = "atHome"
	QuarantineNo     QuarantineStatus = "no"
)

// ParseQuarantineStatus converts a string into a QuarantineStatus.
func ParseQuarantineStatus(s string) (QuarantineStatus, error) {
	switch q := QuarantineStatus(s); q {
	case QuarantineFull, QuarantineAtHome, QuarantineNo:
		return q, nil
	}
	return "", fmt.Errorf("unknown quarantine status %q", s)
}

// TestStatus is the result of a person's latest test.
type TestStatus string

const (
	TestUntested TestStatus = "untested"
	TestPositive TestStatus = "positive"
	TestNegative TestStatus = "negative"
)

// VaccinationStatus is whether a vaccination was administered.
type VaccinationStatus string

const (
	VaccinationYes VaccinationStatus = "yes"
	VaccinationNo  VaccinationStatus = "no"
)
