package vaccination

import (
	"math/rand/v2"
	"testing"

	"github.com/nvandessel/epistate/internal/curves"
	"github.com/nvandessel/epistate/internal/models"
)

func newPersons(t *testing.T, n, age int) []*models.Person {
	t.Helper()
	pop := models.NewPopulation(nil)
	for range n {
		if _, err := pop.New(models.PersonOptions{Age: age}); err != nil {
			t.Fatal(err)
		}
	}
	return pop.Persons()
}

func newModel(t *testing.T, p Params) *Model {
	t.Helper()
	m, err := New(p, rand.New(rand.NewPCG(5, 5)), nil)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

func TestModel_Capacity(t *testing.T) {
	persons := newPersons(t, 100, 50)
	m := newModel(t, Params{
		Capacity:   map[int]int{0: 10, 3: 0},
		Compliance: curves.Constant(1),
		Share:      map[models.VaccinationType]float64{models.VaccineMRNA: 0.5, models.VaccineVector: 0.5},
	})

	for day := range 5 {
		if _, err := m.Step(day, persons); err != nil {
			t.Fatalf("Step(%d) error = %v", day, err)
		}
	}
	vaccinated := 0
	for _, p := range persons {
		if p.VaccinationStatus() == models.VaccinationYes {
			vaccinated++
			if v := p.VaccinationType(); v != models.VaccineMRNA && v != models.VaccineVector {
				t.Errorf("unexpected vaccine %s", v)
			}
		}
	}
	if vaccinated != 30 {
		t.Errorf("vaccinated = %d, want 30", vaccinated)
	}
}

func TestModel_NonCompliantNeverVaccinated(t *testing.T) {
	persons := newPersons(t, 20, 3)
	compliance, err := curves.NewAgeTable(map[int]float64{4: 0, 5: 1})
	if err != nil {
		t.Fatal(err)
	}
	m := newModel(t, Params{Capacity: map[int]int{0: 100}, Compliance: compliance})

	res, err := m.Step(0, persons)
	if err != nil {
		t.Fatal(err)
	}
	if res.FirstDoses != 0 {
		t.Errorf("FirstDoses = %d, want 0", res.FirstDoses)
	}
	for _, p := range persons {
		if p.IsVaccinable() {
			t.Fatalf("person %s still vaccinable after refusing", p.ID())
		}
	}
}

func TestModel_Boosters(t *testing.T) {
	persons := newPersons(t, 5, 70)
	m := newModel(t, Params{
		Capacity:         map[int]int{0: 5},
		BoosterCapacity:  map[int]int{0: 2},
		Compliance:       curves.Constant(1),
		BoosterAfterDays: 90,
	})

	if _, err := m.Step(0, persons); err != nil {
		t.Fatal(err)
	}
	res, err := m.Step(89, persons)
	if err != nil {
		t.Fatal(err)
	}
	if res.Boosters != 0 {
		t.Errorf("boosters before delay = %d, want 0", res.Boosters)
	}
	res, err = m.Step(90, persons)
	if err != nil {
		t.Fatal(err)
	}
	if res.Boosters != 2 {
		t.Errorf("boosters = %d, want capacity 2", res.Boosters)
	}
	for i, p := range persons {
		want := models.VaccinationNo
		if i < 2 {
			want = models.VaccinationYes
		}
		if got := p.ReVaccinationStatus(); got != want {
			t.Errorf("person %d booster status = %s, want %s", i, got, want)
		}
	}
}

func TestParams_ValidateShare(t *testing.T) {
	p := Params{Share: map[models.VaccinationType]float64{models.ImmunizationNatural: 1}}
	if err := p.Validate(); err == nil {
		t.Error("Validate() error = nil for natural share")
	}
	p = Params{Share: map[models.VaccinationType]float64{models.VaccineMRNA: 0.4}}
	if err := p.Validate(); err == nil {
		t.Error("Validate() error = nil for shares not summing to 1")
	}
}
