package population

import (
	"fmt"
	"slices"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
)

// Presence is a resolved visit.
type Presence struct {
	Person   *models.Person
	Activity string
	Start    float64
	End      float64
}

// Container is a resolved container. Its index is its position in
// World.Containers and is stable across runs of the same scenario.
type Container struct {
	ID       string
	Index    int
	Weekdays []int
	Visits   []Presence
}

// OpenOn reports whether the container is used on day.
func (c *Container) OpenOn(day int) bool {
	return len(c.Weekdays) == 0 || slices.Contains(c.Weekdays, day%7)
}

// World is a built population with its containers.
type World struct {
	Population *models.Population
	Containers []*Container
	Activities map[string]Activity
}

// Build creates persons and resolves visits. Persons report to sink.
func (s *Scenario) Build(sink events.Sink) (*World, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	pop := models.NewPopulation(sink)
	for _, spec := range s.Persons {
		traceable := spec.Traceable == nil || *spec.Traceable
		p, err := models.NewPerson(spec.ID, models.PersonOptions{
			Age:         spec.Age,
			HouseholdID: spec.Household,
			Traceable:   traceable,
			Sink:        pop.Sink,
		})
		if err != nil {
			return nil, err
		}
		if spec.Vaccinable != nil && !*spec.Vaccinable {
			p.MarkNotVaccinable()
		}
		if spec.Susceptibility != nil {
			if err := p.SetSusceptibility(*spec.Susceptibility); err != nil {
				return nil, fmt.Errorf("person %s: %w", spec.ID, err)
			}
		}
		if err := pop.Add(p); err != nil {
			return nil, err
		}
	}

	acts := DefaultActivities()
	for name, a := range s.Activities {
		acts[name] = a
	}

	w := &World{Population: pop, Activities: acts}
	for i, spec := range s.Containers {
		c := &Container{ID: spec.ID, Index: i, Weekdays: spec.Weekdays}
		for _, v := range spec.Visits {
			c.Visits = append(c.Visits, Presence{
				Person:   pop.Get(v.Person),
				Activity: v.Activity,
				Start:    v.Start,
				End:      v.End,
			})
		}
		w.Containers = append(w.Containers, c)
	}
	return w, nil
}

// ContainersOn returns the containers open on day in index order.
func (w *World) ContainersOn(day int) []*Container {
	var out []*Container
	for _, c := range w.Containers {
		if c.OpenOn(day) {
			out = append(out, c)
		}
	}
	return out
}

// Persons returns the persons sorted by id.
func (w *World) Persons() []*models.Person {
	ps := slices.Clone(w.Population.Persons())
	models.SortByID(ps)
	return ps
}

// Replace swaps the persons of the world for restored ones with the same
// ids and rebinds every visit.
func (w *World) Replace(persons []*models.Person) error {
	pop := models.NewPopulation(w.Population.Sink)
	for _, p := range persons {
		if err := pop.Add(p); err != nil {
			return err
		}
	}
	if pop.Len() != w.Population.Len() {
		return fmt.Errorf("restored %d persons, scenario has %d", pop.Len(), w.Population.Len())
	}
	for _, c := range w.Containers {
		for i := range c.Visits {
			id := c.Visits[i].Person.ID()
			p := pop.Get(id)
			if p == nil {
				return fmt.Errorf("container %s: person %s missing from restored state", c.ID, id)
			}
			c.Visits[i].Person = p
		}
	}
	w.Population = pop
	return nil
}
