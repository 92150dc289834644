package models

import (
	"fmt"
	"maps"
	"slices"

	"github.com/nvandessel/epistate/internal/events"
)

// PersonSnapshot is the complete mutable state of a person. Contacts are
// keyed by person id so a snapshot can be restored without pointer identity.
type PersonSnapshot struct {
	ID          string `json:"id"`
	Age         int    `json:"age"`
	HouseholdID string `json:"household_id,omitempty"`

	Status        DiseaseStatus         `json:"status"`
	StatusChanges map[DiseaseStatus]int `json:"status_changes"`
	LastRecovery  *int                  `json:"last_recovery,omitempty"`

	Infections   []Infection   `json:"infections,omitempty"`
	Vaccinations []Vaccination `json:"vaccinations,omitempty"`

	Quarantine    QuarantineStatus `json:"quarantine"`
	QuarantineDay int              `json:"quarantine_day"`
	TestStatus    TestStatus       `json:"test_status"`
	TestDay       int              `json:"test_day"`

	Susceptibility float64 `json:"susceptibility"`
	Traceable      bool    `json:"traceable"`
	Vaccinable     bool    `json:"vaccinable"`

	Contacts map[string]int  `json:"contacts"`
	Pending  *InfectionEvent `json:"pending,omitempty"`
}

// Snapshot captures the person's state. Concurrently recorded contacts are
// merged first, so it must not run during the contact phase.
func (p *Person) Snapshot() PersonSnapshot {
	p.MergeContacts()

	contacts := make(map[string]int, len(p.contacts))
	for c, d := range p.contacts {
		contacts[c.id] = d
	}

	var pending *InfectionEvent
	if ev := p.pending.Load(); ev != nil {
		cp := *ev
		pending = &cp
	}

	var lastRecovery *int
	if p.lastRecovery >= 0 {
		d := p.lastRecovery
		lastRecovery = &d
	}

	return PersonSnapshot{
		ID:             p.id,
		Age:            p.age,
		HouseholdID:    p.householdID,
		Status:         p.status,
		StatusChanges:  maps.Clone(p.statusChanges),
		LastRecovery:   lastRecovery,
		Infections:     slices.Clone(p.infections),
		Vaccinations:   slices.Clone(p.vaccinations),
		Quarantine:     p.quarantine,
		QuarantineDay:  p.quarantineDay,
		TestStatus:     p.testStatus,
		TestDay:        p.testDay,
		Susceptibility: p.susceptibility,
		Traceable:      p.traceable,
		Vaccinable:     p.vaccinable,
		Contacts:       contacts,
		Pending:        pending,
	}
}

// FromSnapshot rebuilds a person without its contacts. Contacts reference
// other persons and are restored in a second pass with RestoreContacts.
func FromSnapshot(s PersonSnapshot, sink events.Sink) (*Person, error) {
	p, err := NewPerson(s.ID, PersonOptions{
		Age:         s.Age,
		HouseholdID: s.HouseholdID,
		Traceable:   s.Traceable,
		Sink:        sink,
	})
	if err != nil {
		return nil, err
	}
	if !s.Status.Valid() {
		return nil, fmt.Errorf("person %s: unknown disease status %q", s.ID, s.Status)
	}
	if _, err := ParseQuarantineStatus(string(s.Quarantine)); err != nil {
		return nil, fmt.Errorf("person %s: %w", s.ID, err)
	}
	for st := range s.StatusChanges {
		if !st.Valid() {
			return nil, fmt.Errorf("person %s: unknown status in change log %q", s.ID, st)
		}
	}

	p.status = s.Status
	if s.StatusChanges != nil {
		p.statusChanges = maps.Clone(s.StatusChanges)
	}
	switch {
	case s.LastRecovery != nil:
		p.lastRecovery = *s.LastRecovery
	case p.status == StatusRecovered:
		if d, ok := p.statusChanges[StatusRecovered]; ok {
			p.lastRecovery = d
		}
	}
	p.infections = slices.Clone(s.Infections)
	p.vaccinations = slices.Clone(s.Vaccinations)
	p.quarantine = s.Quarantine
	p.quarantineDay = s.QuarantineDay
	p.testStatus = s.TestStatus
	p.testDay = s.TestDay
	p.susceptibility = s.Susceptibility
	p.vaccinable = s.Vaccinable
	if s.Pending != nil {
		ev := *s.Pending
		p.pending.Store(&ev)
	}
	return p, nil
}

// RestoreContacts replaces the contact map. lookup resolves person ids.
func (p *Person) RestoreContacts(contacts map[string]int, lookup func(id string) *Person) error {
	p.contactLog.Store(nil)
	p.contacts = make(map[*Person]int, len(contacts))
	for id, day := range contacts {
		c := lookup(id)
		if c == nil {
			return fmt.Errorf("person %s: unknown contact %s", p.id, id)
		}
		p.contacts[c] = day
	}
	return nil
}

// RestorePopulation rebuilds all persons from snapshots, resolving contacts
// among them. The result is ordered by person id.
func RestorePopulation(snaps []PersonSnapshot, sink events.Sink) ([]*Person, error) {
	byID := make(map[string]*Person, len(snaps))
	persons := make([]*Person, 0, len(snaps))
	for _, s := range snaps {
		if _, dup := byID[s.ID]; dup {
			return nil, fmt.Errorf("duplicate person id %s in snapshot", s.ID)
		}
		p, err := FromSnapshot(s, sink)
		if err != nil {
			return nil, err
		}
		byID[s.ID] = p
		persons = append(persons, p)
	}

	lookup := func(id string) *Person { return byID[id] }
	for i, s := range snaps {
		if err := persons[i].RestoreContacts(s.Contacts, lookup); err != nil {
			return nil, err
		}
	}

	SortByID(persons)
	return persons, nil
}
