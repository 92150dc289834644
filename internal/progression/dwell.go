package progression

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"
)

// Rand is the random source progression draws from.
type Rand interface {
	Float64() float64
}

// Dwell is the distribution of days spent in a status before a transition.
type Dwell interface {
	// Days draws a dwell time. Implementations consume at most one value
	// from rnd.
	Days(rnd Rand) int
	String() string
}

// Fixed always returns the same number of days.
type Fixed int

// Days returns d.
func (d Fixed) Days(Rand) int { return int(d) }

func (d Fixed) String() string { return fmt.Sprintf("fixed(%d)", int(d)) }

// LogNormal is a log-normal dwell time given by its mean and standard
// deviation in days.
type LogNormal struct {
	Mean float64
	Std  float64

	dist distuv.LogNormal
}

// LogNormalWithMeanAndStd returns a log-normal dwell distribution.
func LogNormalWithMeanAndStd(mean, std float64) (*LogNormal, error) {
	if !(mean > 0) || !(std > 0) {
		return nil, fmt.Errorf("log-normal dwell needs positive mean and std, got %v/%v", mean, std)
	}
	v := 1 + (std*std)/(mean*mean)
	return &LogNormal{
		Mean: mean,
		Std:  std,
		dist: distuv.LogNormal{
			Mu:    math.Log(mean / math.Sqrt(v)),
			Sigma: math.Sqrt(math.Log(v)),
		},
	}, nil
}

// Days draws a dwell time rounded to whole days.
func (d *LogNormal) Days(rnd Rand) int {
	u := rnd.Float64()
	if u <= 0 {
		u = math.SmallestNonzeroFloat64
	}
	return int(math.Round(d.dist.Quantile(u)))
}

func (d *LogNormal) String() string {
	return fmt.Sprintf("lognormal(%g,%g)", d.Mean, d.Std)
}
