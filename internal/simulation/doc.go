// Package simulation provides a multi-day test harness for validating the
// emergent behavior of the epidemic engine.
//
// The harness exercises the real sim.Engine, configuration conversion and
// SQLite run store. No mocks. Scenarios start from the default configuration,
// adjust it, and run a number of days while the runner records every
// state-change event and a per-day report for property-based assertions.
//
// Each test gets an isolated SQLite database via t.TempDir() and a sandboxed
// HOME to prevent touching user data.
//
// Usage:
//
//	func TestLockdown(t *testing.T) {
//	    r := simulation.NewRunner(t)
//	    result := r.Run(simulation.Scenario{
//	        Name:    "lockdown",
//	        Days:    40,
//	        Persons: 300,
//	        Configure: func(c *config.Config) { ... },
//	    })
//	    simulation.AssertTransitionsAlongEdges(t, result)
//	}
package simulation
