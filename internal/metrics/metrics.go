// Package metrics exposes simulation progress to Prometheus. A nil *Metrics
// records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the simulation collectors.
type Metrics struct {
	registry *prometheus.Registry

	Day          prometheus.Gauge
	DayDuration  prometheus.Histogram
	Infections   *prometheus.CounterVec
	Persons      *prometheus.GaugeVec
	Quarantined  *prometheus.GaugeVec
	Traced       prometheus.Counter
	Vaccinations *prometheus.CounterVec
	Tests        *prometheus.CounterVec
}

// New registers the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Day: f.NewGauge(prometheus.GaugeOpts{
			Name: "epistate_day",
			Help: "Last completed simulation day",
		}),
		DayDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "epistate_day_duration_seconds",
			Help:    "Wall time of one simulation day",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),
		Infections: f.NewCounterVec(prometheus.CounterOpts{
			Name: "epistate_infections_total",
			Help: "Infections by strain and source",
		}, []string{"strain", "source"}), // source: "contact", "seeding"
		Persons: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "epistate_persons",
			Help: "Persons by disease status",
		}, []string{"status"}),
		Quarantined: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "epistate_quarantined_persons",
			Help: "Persons by quarantine status",
		}, []string{"quarantine"}),
		Traced: f.NewCounter(prometheus.CounterOpts{
			Name: "epistate_traced_index_persons_total",
			Help: "Index persons whose contacts were traced",
		}),
		Vaccinations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "epistate_vaccinations_total",
			Help: "Administered doses",
		}, []string{"dose"}), // dose: "first", "booster"
		Tests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "epistate_tests_total",
			Help: "Screening tests by result",
		}, []string{"result"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveDay records the completion of day.
func (m *Metrics) ObserveDay(day int, d time.Duration) {
	if m != nil {
		m.Day.Set(float64(day))
		m.DayDuration.Observe(d.Seconds())
	}
}

// AddInfections counts n infections of strain.
func (m *Metrics) AddInfections(strain, source string, n int) {
	if m != nil && n > 0 {
		m.Infections.WithLabelValues(strain, source).Add(float64(n))
	}
}

// SetPersons replaces the per-status gauges.
func (m *Metrics) SetPersons(byStatus map[string]int) {
	if m != nil {
		for s, n := range byStatus {
			m.Persons.WithLabelValues(s).Set(float64(n))
		}
	}
}

// SetQuarantined replaces the per-quarantine gauges.
func (m *Metrics) SetQuarantined(byStatus map[string]int) {
	if m != nil {
		for s, n := range byStatus {
			m.Quarantined.WithLabelValues(s).Set(float64(n))
		}
	}
}

// AddTraced counts traced index persons.
func (m *Metrics) AddTraced(n int) {
	if m != nil && n > 0 {
		m.Traced.Add(float64(n))
	}
}

// AddVaccinations counts doses.
func (m *Metrics) AddVaccinations(first, boosters int) {
	if m != nil {
		m.Vaccinations.WithLabelValues("first").Add(float64(first))
		m.Vaccinations.WithLabelValues("booster").Add(float64(boosters))
	}
}

// AddTests counts screening tests.
func (m *Metrics) AddTests(tests, positives int) {
	if m != nil {
		m.Tests.WithLabelValues("positive").Add(float64(positives))
		m.Tests.WithLabelValues("negative").Add(float64(tests - positives))
	}
}

// Handler serves /metrics and /healthz.
func (m *Metrics) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	if m != nil {
		r.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}
	return r
}
