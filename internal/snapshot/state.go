// Package snapshot persists the complete simulation state between days.
package snapshot

import (
	"errors"
	"fmt"
	"time"

	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/progression"
)

// StateVersion is the version of the State layout.
const StateVersion = 1

// ErrIncompatible is returned for snapshots written by a different layout.
var ErrIncompatible = errors.New("incompatible snapshot")

// State is everything needed to continue a run on the next day.
type State struct {
	Version int    `json:"version"`
	RunID   string `json:"run_id"`
	// Day is the next day to simulate.
	Day  int    `json:"day"`
	Seed uint64 `json:"seed"`
	// RNG is the marshaled generator of the sequential phase.
	RNG         []byte `json:"rng"`
	SeedingLeft int    `json:"seeding_left"`

	Persons []models.PersonSnapshot     `json:"persons"`
	Slots   map[string]progression.Slot `json:"slots,omitempty"`

	CreatedAt time.Time         `json:"created_at"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Check validates the layout version and basic consistency.
func (s *State) Check() error {
	if s.Version != StateVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrIncompatible, s.Version, StateVersion)
	}
	if s.Day < 0 {
		return fmt.Errorf("%w: negative day %d", ErrIncompatible, s.Day)
	}
	if len(s.RNG) == 0 {
		return fmt.Errorf("%w: missing generator state", ErrIncompatible)
	}
	return nil
}

// Counts returns the number of persons per disease status.
func (s *State) Counts() map[models.DiseaseStatus]int {
	out := make(map[models.DiseaseStatus]int, len(models.DiseaseStatuses))
	for _, p := range s.Persons {
		out[p.Status]++
	}
	return out
}

// Person returns the snapshot of the person with id.
func (s *State) Person(id string) (models.PersonSnapshot, bool) {
	for _, p := range s.Persons {
		if p.ID == id {
			return p, true
		}
	}
	return models.PersonSnapshot{}, false
}
