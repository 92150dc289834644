package models

import (
	"cmp"
	"fmt"
	"math"
	"slices"
	"sync/atomic"

	"github.com/nvandessel/epistate/internal/events"
)

const (
	// MaxAge is the highest modeled age. Age lookup tables have MaxAge+1 entries.
	MaxAge = 127

	// SecondsPerDay converts simulation time to days.
	SecondsPerDay = 86400.0

	// RecentRecoveryDays is the window in which a susceptible person with a
	// past infection still counts as recently recovered.
	RecentRecoveryDays = 180
)

// Infection is one entry of a person's infection history.
type Infection struct {
	Day        int         `json:"day"`
	Strain     VirusStrain `json:"strain"`
	Container  string      `json:"container,omitempty"`
	Activity   string      `json:"activity,omitempty"`
	InfectorID string      `json:"infector_id,omitempty"`
}

// Vaccination is one administered dose.
type Vaccination struct {
	Day     int             `json:"day"`
	Type    VaccinationType `json:"type"`
	Booster bool            `json:"booster,omitempty"`
}

// InfectionEvent is a candidate infection recorded during the contact phase.
// Only the earliest candidate per person and day is committed.
type InfectionEvent struct {
	Time         float64     `json:"time"` // seconds since simulation start
	InfectorID   string      `json:"infector_id"`
	Container    string      `json:"container"`
	Activity     string      `json:"activity,omitempty"`
	Strain       VirusStrain `json:"strain"`
	Probability  float64     `json:"probability,omitempty"`
	Unvaccinated float64     `json:"unvaccinated,omitempty"`
}

// Day returns the simulation day the event happened on.
func (e *InfectionEvent) Day() int {
	return int(math.Floor(e.Time / SecondsPerDay))
}

// Before orders events by time, breaking ties by infector id and container
// so that the earliest candidate does not depend on evaluation order.
func (e *InfectionEvent) Before(o *InfectionEvent) bool {
	if e.Time != o.Time {
		return e.Time < o.Time
	}
	if c := cmp.Compare(e.InfectorID, o.InfectorID); c != 0 {
		return c < 0
	}
	return e.Container < o.Container
}

// contactNode is an entry of the lock-free contact log.
type contactNode struct {
	person *Person
	day    int
	next   *contactNode
}

// Person is the mutable epidemic state of one individual.
//
// During the parallel contact phase other goroutines only read a person's
// status and histories and write through PossibleInfection and
// AddTraceableContact, which are safe for concurrent use. All other mutators
// must only be called from the sequential commit phase.
type Person struct {
	id          string
	age         int
	householdID string
	sink        events.Sink

	status        DiseaseStatus
	statusChanges map[DiseaseStatus]int
	lastRecovery  int

	infections   []Infection
	vaccinations []Vaccination

	quarantine    QuarantineStatus
	quarantineDay int

	testStatus TestStatus
	testDay    int

	susceptibility float64
	traceable      bool
	vaccinable     bool

	contacts   map[*Person]int
	contactLog atomic.Pointer[contactNode]
	pending    atomic.Pointer[InfectionEvent]
}

// PersonOptions are the population attributes a person is created with.
type PersonOptions struct {
	Age         int
	HouseholdID string
	Traceable   bool
	Sink        events.Sink
}

// NewPerson creates a susceptible person.
func NewPerson(id string, opts PersonOptions) (*Person, error) {
	if opts.Age < 0 || opts.Age > MaxAge {
		return nil, fmt.Errorf("person %s: %w: %d", id, ErrInvalidAge, opts.Age)
	}
	return &Person{
		id:             id,
		age:            opts.Age,
		householdID:    opts.HouseholdID,
		sink:           events.OrDiscard(opts.Sink),
		status:         StatusSusceptible,
		statusChanges:  make(map[DiseaseStatus]int, 4),
		lastRecovery:   -1,
		quarantine:     QuarantineNo,
		quarantineDay:  -1,
		testStatus:     TestUntested,
		testDay:        -1,
		susceptibility: 1,
		traceable:      opts.Traceable,
		vaccinable:     true,
		contacts:       make(map[*Person]int, 4),
	}, nil
}

// ID returns the person id.
func (p *Person) ID() string { return p.id }

// Age returns the age in years.
func (p *Person) Age() int { return p.age }

// HouseholdID returns the id of the person's household, or "".
func (p *Person) HouseholdID() string { return p.householdID }

// SameHousehold reports whether both persons share a known household.
func (p *Person) SameHousehold(o *Person) bool {
	return p.householdID != "" && p.householdID == o.householdID
}

// DiseaseStatus returns the current disease status.
func (p *Person) DiseaseStatus() DiseaseStatus { return p.status }

// SetDiseaseStatus moves the person into status on day. Returning to
// susceptible clears every logged status except recovered.
func (p *Person) SetDiseaseStatus(day int, status DiseaseStatus) {
	p.status = status

	if status == StatusSusceptible {
		for s := range p.statusChanges {
			if s != StatusRecovered {
				delete(p.statusChanges, s)
			}
		}
	}

	if _, ok := p.statusChanges[status]; !ok {
		p.statusChanges[status] = day
	}
	if status == StatusRecovered {
		p.lastRecovery = day
	}

	p.sink.Report(events.Event{
		Kind:     events.KindStatusChange,
		Day:      day,
		PersonID: p.id,
		Status:   string(status),
	})
}

// SetInitialInfection seeds an infection with strain that did not come from
// a contact.
func (p *Person) SetInitialInfection(day int, strain VirusStrain) {
	p.sink.Report(events.Event{
		Kind:     events.KindInitialInfection,
		Day:      day,
		Time:     float64(day) * SecondsPerDay,
		PersonID: p.id,
		Strain:   strain.String(),
	})
	p.infections = append(p.infections, Infection{Day: day, Strain: strain})
	p.SetDiseaseStatus(day, StatusInfectedButNotContagious)
}

// HadStatus reports whether the person had, or currently has, status.
func (p *Person) HadStatus(status DiseaseStatus) bool {
	_, ok := p.statusChanges[status]
	return ok
}

// StatusDay returns the day status was first entered.
func (p *Person) StatusDay(status DiseaseStatus) (int, error) {
	d, ok := p.statusChanges[status]
	if !ok {
		return 0, fmt.Errorf("person %s: %w %s", p.id, ErrStatusNeverReached, status)
	}
	return d, nil
}

// DaysSinceRecovery returns the days elapsed since the most recent
// recovery. Unlike DaysSince it restarts with every infection episode.
func (p *Person) DaysSinceRecovery(day int) (int, error) {
	if p.lastRecovery < 0 {
		return 0, fmt.Errorf("person %s: %w %s", p.id, ErrStatusNeverReached, StatusRecovered)
	}
	return day - p.lastRecovery, nil
}

// DaysSince returns the days elapsed since status was first entered.
func (p *Person) DaysSince(status DiseaseStatus, day int) (int, error) {
	d, err := p.StatusDay(status)
	if err != nil {
		return 0, err
	}
	return day - d, nil
}

// PossibleInfection offers a candidate infection. The candidate replaces the
// stored one only if it happened earlier. Safe for concurrent use.
func (p *Person) PossibleInfection(ev *InfectionEvent) bool {
	for {
		cur := p.pending.Load()
		if cur != nil && !ev.Before(cur) {
			return false
		}
		if p.pending.CompareAndSwap(cur, ev) {
			return true
		}
	}
}

// PendingInfection returns the current earliest candidate, or nil.
func (p *Person) PendingInfection() *InfectionEvent {
	return p.pending.Load()
}

// CheckInfection commits the pending infection, if any, and returns it.
func (p *Person) CheckInfection() *InfectionEvent {
	ev := p.pending.Swap(nil)
	if ev == nil {
		return nil
	}

	day := ev.Day()
	p.infections = append(p.infections, Infection{
		Day:        day,
		Strain:     ev.Strain,
		Container:  ev.Container,
		Activity:   ev.Activity,
		InfectorID: ev.InfectorID,
	})
	p.sink.Report(events.Event{
		Kind:         events.KindInfection,
		Day:          day,
		Time:         ev.Time,
		PersonID:     p.id,
		InfectorID:   ev.InfectorID,
		Container:    ev.Container,
		Activity:     ev.Activity,
		Strain:       ev.Strain.String(),
		Probability:  ev.Probability,
		Unvaccinated: ev.Unvaccinated,
	})
	p.SetDiseaseStatus(day, StatusInfectedButNotContagious)
	return ev
}

// ResetDay clears the per-day scratch state.
func (p *Person) ResetDay() {
	p.pending.Store(nil)
}

// NumInfections returns how many infections the person went through.
func (p *Person) NumInfections() int { return len(p.infections) }

// Infections returns the infection history. The slice must not be modified.
func (p *Person) Infections() []Infection { return p.infections }

// VirusStrain returns the strain of the latest infection. Persons that were
// never infected report the wild type.
func (p *Person) VirusStrain() VirusStrain {
	if len(p.infections) == 0 {
		return StrainSARSCoV2
	}
	return p.infections[len(p.infections)-1].Strain
}

// DaysSinceInfection returns the days since the i-th infection.
func (p *Person) DaysSinceInfection(i, day int) int {
	return day - p.infections[i].Day
}

// Vaccinations returns the vaccination history. The slice must not be modified.
func (p *Person) Vaccinations() []Vaccination { return p.vaccinations }

// NumVaccinations returns the number of administered doses.
func (p *Person) NumVaccinations() int { return len(p.vaccinations) }

// VaccinationStatus reports whether a first dose was administered.
func (p *Person) VaccinationStatus() VaccinationStatus {
	if len(p.vaccinations) > 0 {
		return VaccinationYes
	}
	return VaccinationNo
}

// ReVaccinationStatus reports whether a booster was administered.
func (p *Person) ReVaccinationStatus() VaccinationStatus {
	for _, v := range p.vaccinations {
		if v.Booster {
			return VaccinationYes
		}
	}
	return VaccinationNo
}

// VaccinationType returns the type of the first dose. Unvaccinated persons
// report generic.
func (p *Person) VaccinationType() VaccinationType {
	if len(p.vaccinations) == 0 {
		return VaccineGeneric
	}
	return p.vaccinations[0].Type
}

// HadVaccinationType reports whether any dose was of type t.
func (p *Person) HadVaccinationType(t VaccinationType) bool {
	for _, v := range p.vaccinations {
		if v.Type == t {
			return true
		}
	}
	return false
}

// SetVaccinationStatus records the first dose.
func (p *Person) SetVaccinationStatus(status VaccinationStatus, t VaccinationType, day int) error {
	if status != VaccinationYes {
		return fmt.Errorf("person %s: %w", p.id, ErrInvalidVaccinationStatus)
	}
	p.vaccinations = append(p.vaccinations, Vaccination{Day: day, Type: t})
	p.sink.Report(events.Event{
		Kind:     events.KindVaccination,
		Day:      day,
		PersonID: p.id,
		Vaccine:  t.String(),
	})
	return nil
}

// SetReVaccinationStatus records a booster dose of type t. A first dose must
// already be present.
func (p *Person) SetReVaccinationStatus(status VaccinationStatus, t VaccinationType, day int) error {
	if len(p.vaccinations) == 0 {
		return fmt.Errorf("person %s: %w", p.id, ErrNotVaccinated)
	}
	if status != VaccinationYes {
		return fmt.Errorf("person %s: %w", p.id, ErrInvalidVaccinationStatus)
	}
	p.vaccinations = append(p.vaccinations, Vaccination{Day: day, Type: t, Booster: true})
	p.sink.Report(events.Event{
		Kind:     events.KindVaccination,
		Day:      day,
		PersonID: p.id,
		Vaccine:  t.String(),
		Booster:  true,
	})
	return nil
}

// DaysSinceVaccination returns the days since the latest dose.
func (p *Person) DaysSinceVaccination(day int) (int, error) {
	if len(p.vaccinations) == 0 {
		return 0, fmt.Errorf("person %s: %w", p.id, ErrNotVaccinated)
	}
	return day - p.vaccinations[len(p.vaccinations)-1].Day, nil
}

// IsVaccinable reports whether the person may be vaccinated.
func (p *Person) IsVaccinable() bool { return p.vaccinable }

// MarkNotVaccinable flags the person as not vaccinable. The flag is never
// lifted again.
func (p *Person) MarkNotVaccinable() { p.vaccinable = false }

// QuarantineStatus returns the current quarantine status.
func (p *Person) QuarantineStatus() QuarantineStatus { return p.quarantine }

// SetQuarantineStatus changes the quarantine status on day.
func (p *Person) SetQuarantineStatus(status QuarantineStatus, day int) {
	p.quarantine = status
	p.quarantineDay = day
	p.sink.Report(events.Event{
		Kind:     events.KindQuarantine,
		Day:      day,
		PersonID: p.id,
		Status:   string(status),
	})
}

// DaysSinceQuarantine returns the days since the quarantine status was last set.
func (p *Person) DaysSinceQuarantine(day int) (int, error) {
	if p.quarantineDay < 0 {
		return 0, fmt.Errorf("person %s: %w", p.id, ErrNeverQuarantined)
	}
	return day - p.quarantineDay, nil
}

// TestStatus returns the result of the latest test.
func (p *Person) TestStatus() TestStatus { return p.testStatus }

// SetTestStatus records a test result on day.
func (p *Person) SetTestStatus(status TestStatus, day int) {
	p.testStatus = status
	p.testDay = day
	p.sink.Report(events.Event{
		Kind:     events.KindTest,
		Day:      day,
		PersonID: p.id,
		Status:   string(status),
	})
}

// DaysSinceTest returns the days since the last test, or math.MaxInt if the
// person was never tested.
func (p *Person) DaysSinceTest(day int) int {
	if p.testDay < 0 {
		return math.MaxInt
	}
	return day - p.testDay
}

// Susceptibility returns the individual susceptibility multiplier.
func (p *Person) Susceptibility() float64 { return p.susceptibility }

// SetSusceptibility sets the individual susceptibility, clamped to [0,1].
func (p *Person) SetSusceptibility(s float64) error {
	if math.IsNaN(s) {
		return fmt.Errorf("person %s: susceptibility is NaN", p.id)
	}
	p.susceptibility = min(max(s, 0), 1)
	return nil
}

// IsTraceable reports whether the person's contacts can be traced.
func (p *Person) IsTraceable() bool { return p.traceable }

// SetTraceable changes the traceability flag.
func (p *Person) SetTraceable(t bool) { p.traceable = t }

// IsRecentlyRecovered reports whether the person is recovered, or susceptible
// again after a recovery within RecentRecoveryDays.
func (p *Person) IsRecentlyRecovered(day int) bool {
	if p.status == StatusRecovered {
		return true
	}
	if p.status != StatusSusceptible || len(p.infections) == 0 {
		return false
	}
	d, err := p.DaysSince(StatusRecovered, day)
	return err == nil && d <= RecentRecoveryDays
}

// AddTraceableContact records a contact with other on day when both persons
// are traceable. Safe for concurrent use; contacts become visible to
// TraceableContacts after MergeContacts.
func (p *Person) AddTraceableContact(other *Person, day int) {
	if !p.traceable || !other.traceable {
		return
	}
	n := &contactNode{person: other, day: day}
	for {
		head := p.contactLog.Load()
		n.next = head
		if p.contactLog.CompareAndSwap(head, n) {
			return
		}
	}
}

// MergeContacts folds the concurrently recorded contacts into the contact
// map, keeping the latest day per contact.
func (p *Person) MergeContacts() {
	for n := p.contactLog.Swap(nil); n != nil; n = n.next {
		if d, ok := p.contacts[n.person]; !ok || n.day > d {
			p.contacts[n.person] = n.day
		}
	}
}

// TraceableContacts returns the contacts seen on or after day after, ordered
// by person id.
func (p *Person) TraceableContacts(after int) []*Person {
	p.MergeContacts()
	out := make([]*Person, 0, len(p.contacts))
	for c, d := range p.contacts {
		if d >= after {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b *Person) int { return cmp.Compare(a.id, b.id) })
	return out
}

// PurgeContacts removes contacts last seen before day before.
func (p *Person) PurgeContacts(before int) {
	p.MergeContacts()
	for c, d := range p.contacts {
		if d < before {
			delete(p.contacts, c)
		}
	}
}

func (p *Person) String() string {
	return "Person{" + p.id + "}"
}

// SortByID sorts persons by id in place.
func SortByID(persons []*Person) {
	slices.SortFunc(persons, func(a, b *Person) int { return cmp.Compare(a.id, b.id) })
}
