// Package metrics exposes search and partition progress as Prometheus
// collectors. A nil *Metrics is valid and records nothing.
package metrics

import (
	"math"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ChicagoDave/parcelgen/pkg/partition"
)

const namespace = "parcelgen"

// Metrics holds every collector the service records into.
type Metrics struct {
	Generations   prometheus.Counter
	Population    prometheus.Gauge
	BestFitness   prometheus.Gauge
	Partitions    *prometheus.CounterVec
	CacheRequests *prometheus.CounterVec
	HTTPRequests  *prometheus.CounterVec
	HTTPDuration  *prometheus.HistogramVec
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Generations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "MAP-Elites generations completed",
		}),
		Population: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_population",
			Help:      "Individuals held by the archive after the last generation",
		}),
		BestFitness: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "archive_best_fitness",
			Help:      "Lowest normalized density error in the archive",
		}),
		Partitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_outcomes_total",
			Help:      "Parcel split attempts by outcome",
		}, []string{"outcome"}),
		CacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_requests_total",
			Help:      "Intermediate-result cache lookups by result",
		}, []string{"result"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	reg.MustRegister(
		m.Generations,
		m.Population,
		m.BestFitness,
		m.Partitions,
		m.CacheRequests,
		m.HTTPRequests,
		m.HTTPDuration,
	)
	return m
}

// ObserveGeneration records one completed generation.
func (m *Metrics) ObserveGeneration(population int, best float64) {
	if m == nil {
		return
	}
	m.Generations.Inc()
	m.Population.Set(float64(population))
	if !math.IsNaN(best) {
		m.BestFitness.Set(best)
	}
}

// ObservePartition records one split attempt.
func (m *Metrics) ObservePartition(o partition.Outcome) {
	if m == nil {
		return
	}
	m.Partitions.WithLabelValues(o.String()).Inc()
}

// ObserveCache records a cache lookup.
func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheRequests.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(method, route string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.HTTPDuration.WithLabelValues(method, route).Observe(seconds)
}
