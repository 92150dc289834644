package seeding

import (
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/epistate/internal/events"
	"github.com/nvandessel/epistate/internal/models"
)

func population(t *testing.T, ages ...int) []*models.Person {
	t.Helper()
	pop := models.NewPopulation(nil)
	for _, a := range ages {
		if _, err := pop.New(models.PersonOptions{Age: a}); err != nil {
			t.Fatal(err)
		}
	}
	return pop.Persons()
}

func count(persons []*models.Person) int {
	n := 0
	for _, p := range persons {
		if p.DiseaseStatus() == models.StatusInfectedButNotContagious {
			n++
		}
	}
	return n
}

func TestSeeder_Schedule(t *testing.T) {
	persons := population(t, 10, 20, 30, 40, 50, 60, 70, 80)
	s, err := New(Params{
		PerDay: map[models.VirusStrain]map[int]int{models.StrainDelta: {0: 2, 2: 0}},
		Total:  10,
		MinAge: -1,
		MaxAge: -1,
	}, rand.New(rand.NewPCG(1, 1)), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if got := s.Seed(0, persons); got != 2 {
		t.Errorf("Seed(0) = %d, want 2", got)
	}
	if got := s.Seed(1, persons); got != 2 {
		t.Errorf("Seed(1) = %d, want 2 (carried forward)", got)
	}
	if got := s.Seed(2, persons); got != 0 {
		t.Errorf("Seed(2) = %d, want 0", got)
	}
	if got := count(persons); got != 4 {
		t.Errorf("infected = %d, want 4", got)
	}
	if s.Left() != 6 {
		t.Errorf("Left() = %d, want 6", s.Left())
	}
	for _, p := range persons {
		if p.NumInfections() == 1 && p.VirusStrain() != models.StrainDelta {
			t.Errorf("person %s infected with %s", p.ID(), p.VirusStrain())
		}
	}
}

func TestSeeder_TotalCap(t *testing.T) {
	persons := population(t, 1, 2, 3, 4, 5)
	s, _ := New(Params{
		PerDay: map[models.VirusStrain]map[int]int{models.StrainAlpha: {0: 3}},
		Total:  4,
		MinAge: -1,
		MaxAge: -1,
	}, rand.New(rand.NewPCG(1, 1)), nil, nil)
	s.Seed(0, persons)
	s.Seed(1, persons)
	if got := count(persons); got != 4 {
		t.Errorf("infected = %d, want total cap 4", got)
	}
}

func TestSeeder_AgeFilterFallback(t *testing.T) {
	persons := population(t, 10, 20, 70, 80)
	rec := &events.Recorder{}
	s, _ := New(Params{
		PerDay: map[models.VirusStrain]map[int]int{models.StrainSARSCoV2: {0: 1}},
		Total:  10,
		MinAge: 60,
		MaxAge: -1,
	}, rand.New(rand.NewPCG(3, 3)), rec, nil)

	s.Seed(0, persons)
	for _, p := range persons[:2] {
		if p.NumInfections() != 0 {
			t.Errorf("person aged %d infected despite age filter", p.Age())
		}
	}
	if len(rec.OfKind(events.KindWarning)) != 0 {
		t.Error("warning reported although enough candidates matched")
	}

	s2, _ := New(Params{
		PerDay: map[models.VirusStrain]map[int]int{models.StrainSARSCoV2: {0: 3}},
		Total:  10,
		MinAge: 60,
		MaxAge: -1,
	}, rand.New(rand.NewPCG(3, 3)), rec, nil)
	fresh := population(t, 10, 20, 70, 80)
	if got := s2.Seed(0, fresh); got != 3 {
		t.Errorf("Seed() = %d, want 3 from whole population", got)
	}
	if got := len(rec.OfKind(events.KindWarning)); got != 1 {
		t.Errorf("warnings = %d, want 1", got)
	}
}

func TestParams_Validate(t *testing.T) {
	p := Params{MinAge: 50, MaxAge: 10}
	if err := p.Validate(); err == nil {
		t.Error("Validate() error = nil for inverted age bounds")
	}
	p = Params{MinAge: -1, MaxAge: -1, PerDay: map[models.VirusStrain]map[int]int{models.StrainA: {0: -1}}}
	if err := p.Validate(); err == nil {
		t.Error("Validate() error = nil for negative count")
	}
}
