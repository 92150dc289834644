// Package events defines the state-change events emitted by the epidemic
// engine and the sinks that consume them.
package events

import (
	"slices"
	"sync"
)

// Kind identifies the type of a state-change event.
type Kind string

const (
	KindStatusChange     Kind = "status_change"
	KindInfection        Kind = "infection"
	KindInitialInfection Kind = "initial_infection"
	KindQuarantine       Kind = "quarantine"
	KindTracing          Kind = "tracing"
	KindVaccination      Kind = "vaccination"
	KindTest             Kind = "test"
	KindWarning          Kind = "warning"
)

// Event is a single state change. Fields that do not apply to a kind are left empty.
type Event struct {
	Kind     Kind    `json:"kind"`
	Day      int     `json:"day"`
	Time     float64 `json:"time,omitempty"` // seconds since simulation start
	PersonID string  `json:"person_id,omitempty"`

	// Status holds the new disease, quarantine or test status.
	Status string `json:"status,omitempty"`

	// Infection details.
	InfectorID string `json:"infector_id,omitempty"`
	Container  string `json:"container,omitempty"`
	Activity   string `json:"activity,omitempty"`
	Strain     string `json:"strain,omitempty"`

	// ContactID is the traced contact for tracing events.
	ContactID string `json:"contact_id,omitempty"`

	// Vaccine is the vaccine type for vaccination events.
	Vaccine string `json:"vaccine,omitempty"`
	Booster bool   `json:"booster,omitempty"`

	// Probability is the transmission probability for infection events, and
	// Unvaccinated the same probability without vaccination history.
	Probability  float64 `json:"probability,omitempty"`
	Unvaccinated float64 `json:"unvaccinated,omitempty"`

	Message string `json:"message,omitempty"`
}

// Sink receives events. Implementations must be safe for concurrent use.
type Sink interface {
	Report(e Event)
}

// Discard is a Sink that drops every event.
var Discard Sink = discard{}

type discard struct{}

func (discard) Report(Event) {}

// Recorder keeps every reported event in memory. Useful for tests and for
// short runs where the caller inspects events afterwards.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report appends e.
func (r *Recorder) Report(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// OfKind returns the recorded events of the given kind.
func (r *Recorder) OfKind(k Kind) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, e := range r.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several sinks.
type Multi []Sink

// Report forwards e to every sink.
func (m Multi) Report(e Event) {
	for _, s := range m {
		if s != nil {
			s.Report(e)
		}
	}
}

// OrDiscard returns s, or Discard if s is nil.
func OrDiscard(s Sink) Sink {
	if s == nil {
		return Discard
	}
	return s
}

// Filter forwards only the listed kinds to Sink. An empty Kinds forwards
// everything.
type Filter struct {
	Sink  Sink
	Kinds []Kind
}

// Report forwards e when its kind is selected.
func (f Filter) Report(e Event) {
	if f.Sink == nil {
		return
	}
	if len(f.Kinds) > 0 && !slices.Contains(f.Kinds, e.Kind) {
		return
	}
	f.Sink.Report(e)
}
