package models

import "errors"

// Programming errors: callers violated an invariant of the person state.
var (
	// ErrStatusNeverReached is returned when querying days since a disease
	// status the person never had. Callers must check HadStatus first.
	ErrStatusNeverReached = errors.New("person never reached status")

	// ErrNeverQuarantined is returned by DaysSinceQuarantine for persons that
	// were never put into quarantine.
	ErrNeverQuarantined = errors.New("person was never quarantined")

	// ErrNotVaccinated is returned when a re-vaccination is recorded before a
	// first vaccination, or when vaccination days are queried for an
	// unvaccinated person.
	ErrNotVaccinated = errors.New("first vaccination must already be present")

	// ErrInvalidVaccinationStatus is returned when a vaccination status is set
	// to anything but VaccinationYes.
	ErrInvalidVaccinationStatus = errors.New("vaccination status can only be set to yes")

	// ErrInvalidAge is returned when a person is constructed with an age
	// outside the modeled range.
	ErrInvalidAge = errors.New("age outside of modeled range")
)
