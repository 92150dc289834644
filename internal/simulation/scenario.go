package simulation

import (
	"github.com/nvandessel/epistate/internal/config"
	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
	"github.com/nvandessel/epistate/internal/sim"
	"github.com/nvandessel/epistate/internal/store"
)

// Scenario defines a complete simulation experiment.
type Scenario struct {
	Name string
	Days int
	// Persons sizes the generated town; 0 keeps the configured size.
	Persons int
	// Workers overrides the contact phase parallelism.
	Workers int

	// Configure, when non-nil, adjusts the default configuration before
	// the engine is built.
	Configure func(c *config.Config)

	// SnapshotEvery stores a snapshot in the run store every n days.
	SnapshotEvery int

	// BeforeDay, when non-nil, is called before each day executes. Use it
	// to manipulate persons between days.
	BeforeDay func(day int, e *sim.Engine)
}

// DayResult captures the outcome of a single simulated day.
type DayResult struct {
	Report sim.Report
	// Quarantined counts persons per quarantine status at the end of the day.
	Quarantined map[models.QuarantineStatus]int
}

// SimulationResult captures all days and the final engine and store state.
type SimulationResult struct {
	Name    string
	RunID   string
	Persons int
	Days    []DayResult
	Events  []events.Event
	Engine  *sim.Engine
	Store   *store.SQLiteStore
	Config  *config.Config
}

// OfKind returns the recorded events of kind k in emission order.
func (r SimulationResult) OfKind(k events.Kind) []events.Event {
	var out []events.Event
	for _, e := range r.Events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

// TotalInfections returns seeded plus contact infections over all days.
func (r SimulationResult) TotalInfections() int {
	n := 0
	for _, d := range r.Days {
		n += d.Report.Seeded + d.Report.Infections
	}
	return n
}
