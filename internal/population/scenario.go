// Package population loads the persons and containers a simulation runs on.
package population

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nvandessel/epistate/internal/models"
)

// ActivityHome is the activity performed in household containers. Persons
// in home quarantine still take part in it.
const ActivityHome = "home"

// Activity describes how contacts during an activity behave.
type Activity struct {
	ContactIntensity float64 `yaml:"contact_intensity" json:"contact_intensity"`
	// Seasonal activities may take place outdoors.
	Seasonal bool `yaml:"seasonal" json:"seasonal"`
}

// PersonSpec is a person as written in a scenario file.
type PersonSpec struct {
	ID             string   `yaml:"id"`
	Age            int      `yaml:"age"`
	Household      string   `yaml:"household,omitempty"`
	Traceable      *bool    `yaml:"traceable,omitempty"`
	Vaccinable     *bool    `yaml:"vaccinable,omitempty"`
	Susceptibility *float64 `yaml:"susceptibility,omitempty"`
}

// Visit is the presence of a person in a container, in seconds of the day.
type Visit struct {
	Person   string  `yaml:"person"`
	Activity string  `yaml:"activity"`
	Start    float64 `yaml:"start"`
	End      float64 `yaml:"end"`
}

// ContainerSpec is a facility or vehicle as written in a scenario file.
type ContainerSpec struct {
	ID string `yaml:"id"`
	// Weekdays restricts the container to days with day%7 in the list.
	// Empty means every day.
	Weekdays []int   `yaml:"weekdays,omitempty"`
	Visits   []Visit `yaml:"visits"`
}

// Scenario is the static input of a run.
type Scenario struct {
	Activities map[string]Activity `yaml:"activities"`
	Persons    []PersonSpec        `yaml:"persons"`
	Containers []ContainerSpec     `yaml:"containers"`
}

// DefaultActivities returns intensities for the common activity names.
func DefaultActivities() map[string]Activity {
	return map[string]Activity{
		ActivityHome: {ContactIntensity: 1},
		"work":       {ContactIntensity: 1.47},
		"education":  {ContactIntensity: 11},
		"leisure":    {ContactIntensity: 9.24, Seasonal: true},
		"shop":       {ContactIntensity: 0.88},
		"pt":         {ContactIntensity: 10},
	}
}

// Load reads a scenario from a YAML file.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario: %w", err)
	}
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse scenario %s: %w", path, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scenario %s: %w", path, err)
	}
	return &s, nil
}

// Validate checks references and time windows.
func (s *Scenario) Validate() error {
	var errs []error
	persons := make(map[string]bool, len(s.Persons))
	for _, p := range s.Persons {
		switch {
		case p.ID == "":
			errs = append(errs, errors.New("person without id"))
		case persons[p.ID]:
			errs = append(errs, fmt.Errorf("duplicate person id %s", p.ID))
		}
		persons[p.ID] = true
		if p.Age < 0 || p.Age > models.MaxAge {
			errs = append(errs, fmt.Errorf("person %s: %w: %d", p.ID, models.ErrInvalidAge, p.Age))
		}
	}
	for name, a := range s.Activities {
		if !(a.ContactIntensity >= 0) {
			errs = append(errs, fmt.Errorf("activity %s: negative contact intensity", name))
		}
	}

	containers := make(map[string]bool, len(s.Containers))
	for _, c := range s.Containers {
		if c.ID == "" {
			errs = append(errs, errors.New("container without id"))
		} else if containers[c.ID] {
			errs = append(errs, fmt.Errorf("duplicate container id %s", c.ID))
		}
		containers[c.ID] = true
		for _, d := range c.Weekdays {
			if d < 0 || d > 6 {
				errs = append(errs, fmt.Errorf("container %s: weekday %d outside 0..6", c.ID, d))
			}
		}
		for i, v := range c.Visits {
			if !persons[v.Person] {
				errs = append(errs, fmt.Errorf("container %s visit %d: unknown person %q", c.ID, i, v.Person))
			}
			if _, ok := s.activity(v.Activity); !ok {
				errs = append(errs, fmt.Errorf("container %s visit %d: unknown activity %q", c.ID, i, v.Activity))
			}
			if v.Start < 0 || v.End > models.SecondsPerDay || v.Start >= v.End {
				errs = append(errs, fmt.Errorf("container %s visit %d: bad time window [%v,%v)", c.ID, i, v.Start, v.End))
			}
		}
	}
	return errors.Join(errs...)
}

func (s *Scenario) activity(name string) (Activity, bool) {
	if a, ok := s.Activities[name]; ok {
		return a, true
	}
	a, ok := DefaultActivities()[name]
	return a, ok
}
