package models

import (
	"fmt"

	"github.com/nvandessel/epistate/internal/events"
)

// Population is an id-indexed set of persons. Tests build one per test case
// instead of sharing a registry.
type Population struct {
	Sink events.Sink

	persons []*Person
	byID    map[string]*Person
	next    int
}

// NewPopulation returns an empty population whose persons report to sink.
func NewPopulation(sink events.Sink) *Population {
	return &Population{Sink: events.OrDiscard(sink), byID: make(map[string]*Person)}
}

// Add registers p. Ids must be unique.
func (pop *Population) Add(p *Person) error {
	if _, ok := pop.byID[p.id]; ok {
		return fmt.Errorf("duplicate person id %s", p.id)
	}
	pop.byID[p.id] = p
	pop.persons = append(pop.persons, p)
	return nil
}

// New creates and registers a person with a generated, zero-padded id so
// that id order matches creation order.
func (pop *Population) New(opts PersonOptions) (*Person, error) {
	pop.next++
	if opts.Sink == nil {
		opts.Sink = pop.Sink
	}
	p, err := NewPerson(fmt.Sprintf("p%06d", pop.next), opts)
	if err != nil {
		return nil, err
	}
	return p, pop.Add(p)
}

// Get returns the person with id, or nil.
func (pop *Population) Get(id string) *Person { return pop.byID[id] }

// Persons returns all persons in insertion order.
func (pop *Population) Persons() []*Person { return pop.persons }

// Len returns the population size.
func (pop *Population) Len() int { return len(pop.persons) }
