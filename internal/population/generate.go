package population

import (
	"fmt"
	"math"
)

// Rand is the random source Generate draws from.
type Rand interface {
	Float64() float64
	IntN(n int) int
}

// GenerateParams describe a synthetic population.
type GenerateParams struct {
	Persons       int `yaml:"persons" json:"persons"`
	HouseholdSize int `yaml:"household_size" json:"household_size"`
	WorkplaceSize int `yaml:"workplace_size" json:"workplace_size"`
	LeisureSize   int `yaml:"leisure_size" json:"leisure_size"`
	// LeisureShare is the fraction of persons who go out on a given
	// weekday.
	LeisureShare float64 `yaml:"leisure_share" json:"leisure_share"`
}

// DefaultGenerateParams returns a small town.
func DefaultGenerateParams() GenerateParams {
	return GenerateParams{
		Persons:       1000,
		HouseholdSize: 3,
		WorkplaceSize: 20,
		LeisureSize:   15,
		LeisureShare:  0.3,
	}
}

// Validate checks the sizes.
func (g GenerateParams) Validate() error {
	if g.Persons <= 0 || g.HouseholdSize <= 0 || g.WorkplaceSize <= 0 || g.LeisureSize <= 0 {
		return fmt.Errorf("population sizes must be positive: %+v", g)
	}
	if g.LeisureShare < 0 || g.LeisureShare > 1 {
		return fmt.Errorf("leisure share %v outside [0,1]", g.LeisureShare)
	}
	return nil
}

const (
	hour     = 3600.0
	endOfDay = 24 * hour
)

// Generate builds a scenario with households, weekday workplaces and
// schools, and evening leisure venues.
func Generate(g GenerateParams, rnd Rand) (*Scenario, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	s := &Scenario{Activities: DefaultActivities()}

	nHouseholds := int(math.Ceil(float64(g.Persons) / float64(g.HouseholdSize)))
	homes := make([]ContainerSpec, nHouseholds)
	for h := range homes {
		homes[h].ID = fmt.Sprintf("home%05d", h)
	}

	var workers, pupils []string
	for i := range g.Persons {
		id := fmt.Sprintf("p%06d", i+1)
		h := i / g.HouseholdSize
		age := rnd.IntN(90)
		s.Persons = append(s.Persons, PersonSpec{ID: id, Age: age, Household: homes[h].ID})
		homes[h].Visits = append(homes[h].Visits, Visit{Person: id, Activity: ActivityHome, Start: 0, End: 8 * hour})
		homes[h].Visits = append(homes[h].Visits, Visit{Person: id, Activity: ActivityHome, Start: 18 * hour, End: endOfDay})
		switch {
		case age >= 6 && age < 18:
			pupils = append(pupils, id)
		case age >= 18 && age < 67:
			workers = append(workers, id)
		}
	}
	s.Containers = append(s.Containers, homes...)

	weekdays := []int{0, 1, 2, 3, 4}
	s.Containers = append(s.Containers, group("work", "work", workers, g.WorkplaceSize, weekdays, 8*hour, 17*hour)...)
	s.Containers = append(s.Containers, group("school", "education", pupils, 25, weekdays, 8*hour, 14*hour)...)

	for d := range 7 {
		var out []string
		for _, p := range s.Persons {
			if rnd.Float64() < g.LeisureShare {
				out = append(out, p.ID)
			}
		}
		venues := group(fmt.Sprintf("leisure%d-", d), "leisure", out, g.LeisureSize, []int{d}, 19*hour, 22*hour)
		s.Containers = append(s.Containers, venues...)
	}
	return s, nil
}

func group(prefix, activity string, ids []string, size int, weekdays []int, start, end float64) []ContainerSpec {
	var out []ContainerSpec
	for i := 0; i < len(ids); i += size {
		c := ContainerSpec{ID: fmt.Sprintf("%s%05d", prefix, i/size), Weekdays: weekdays}
		for _, id := range ids[i:min(i+size, len(ids))] {
			c.Visits = append(c.Visits, Visit{Person: id, Activity: activity, Start: start, End: end})
		}
		out = append(out, c)
	}
	return out
}
