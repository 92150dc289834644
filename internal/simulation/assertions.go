package simulation

import (
	"testing"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
)

// AssertTransitionsAlongEdges asserts that every recorded status change of
// every person follows an edge of the disease state machine, starting from
// susceptible.
func AssertTransitionsAlongEdges(t *testing.T, result SimulationResult) {
	t.Helper()
	current := make(map[string]models.DiseaseStatus)
	for _, e := range result.OfKind(events.KindStatusChange) {
		from, ok := current[e.PersonID]
		if !ok {
			from = models.StatusSusceptible
		}
		to := models.DiseaseStatus(e.Status)
		if !models.CanTransition(from, to) {
			t.Errorf("AssertTransitionsAlongEdges: day %d: person %s moved %s -> %s", e.Day, e.PersonID, from, to)
		}
		current[e.PersonID] = to
	}
}

// AssertPopulationConserved asserts that the status counts of every day add
// up to the population size.
func AssertPopulationConserved(t *testing.T, result SimulationResult) {
	t.Helper()
	for _, d := range result.Days {
		total := 0
		for _, n := range d.Report.Counts {
			total += n
		}
		if total != result.Persons {
			t.Errorf("AssertPopulationConserved: day %d: %d persons counted, want %d", d.Report.Day, total, result.Persons)
		}
	}
}

// AssertEventsChronological asserts that events are emitted in
// non-decreasing day order.
func AssertEventsChronological(t *testing.T, result SimulationResult) {
	t.Helper()
	last := 0
	for i, e := range result.Events {
		if e.Day < last {
			t.Errorf("AssertEventsChronological: event %d (%s) on day %d after day %d", i, e.Kind, e.Day, last)
			return
		}
		last = e.Day
	}
}

// AssertInfectionsMatchHistory asserts that reported infections equal both
// the infection events and the infection histories of the final state.
func AssertInfectionsMatchHistory(t *testing.T, result SimulationResult) {
	t.Helper()
	reported := result.TotalInfections()
	emitted := len(result.OfKind(events.KindInfection)) + len(result.OfKind(events.KindInitialInfection))
	history := 0
	for _, p := range result.Engine.World().Persons() {
		history += p.NumInfections()
	}
	if reported != emitted || reported != history {
		t.Errorf("AssertInfectionsMatchHistory: reported %d, events %d, histories %d", reported, emitted, history)
	}
}

// AssertNoInfectionsAfter asserts that no contact infection happens in an
// activity other than allowed from day on.
func AssertNoInfectionsAfter(t *testing.T, result SimulationResult, day int, allowed ...string) {
	t.Helper()
	ok := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		ok[a] = true
	}
	for _, e := range result.OfKind(events.KindInfection) {
		if e.Day >= day && !ok[e.Activity] {
			t.Errorf("AssertNoInfectionsAfter: day %d: %s infected by %s during %s in %s", e.Day, e.PersonID, e.InfectorID, e.Activity, e.Container)
		}
	}
}

// AssertSomeInfections asserts that the epidemic spread beyond the seeds.
func AssertSomeInfections(t *testing.T, result SimulationResult, min int) {
	t.Helper()
	n := len(result.OfKind(events.KindInfection))
	if n < min {
		t.Errorf("AssertSomeInfections: %d contact infections, want at least %d", n, min)
	}
}

// AssertSameOutcome asserts that two runs produced identical day reports
// and infection events.
func AssertSameOutcome(t *testing.T, a, b SimulationResult) {
	t.Helper()
	if len(a.Days) != len(b.Days) {
		t.Fatalf("AssertSameOutcome: %d days vs %d days", len(a.Days), len(b.Days))
	}
	for i := range a.Days {
		ra, rb := a.Days[i].Report, b.Days[i].Report
		if ra.Infections != rb.Infections || ra.Seeded != rb.Seeded || ra.Traced != rb.Traced {
			t.Errorf("AssertSameOutcome: day %d: %+v vs %+v", i, ra, rb)
		}
		for _, s := range models.DiseaseStatuses {
			if ra.Counts[s] != rb.Counts[s] {
				t.Errorf("AssertSameOutcome: day %d: %s %d vs %d", i, s, ra.Counts[s], rb.Counts[s])
			}
		}
	}
	ia, ib := a.OfKind(events.KindInfection), b.OfKind(events.KindInfection)
	if len(ia) != len(ib) {
		t.Fatalf("AssertSameOutcome: %d vs %d infection events", len(ia), len(ib))
	}
	for i := range ia {
		if ia[i].PersonID != ib[i].PersonID || ia[i].InfectorID != ib[i].InfectorID || ia[i].Time != ib[i].Time {
			t.Errorf("AssertSameOutcome: infection %d differs: %+v vs %+v", i, ia[i], ib[i])
		}
	}
}
