package observability

import (
	"fmt"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "steploop"

// RunMetrics holds the collectors for one harness run on a private
// registry, so a run's metrics never mix with another's.
type RunMetrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	events          *prometheus.CounterVec
	stops           prometheus.Counter
	duplicateStops  prometheus.Counter
	steps           prometheus.Gauge
	adapterRSS      prometheus.Gauge
	phases          *prometheus.CounterVec
	httpRequests    *prometheus.CounterVec
	httpDuration    *prometheus.HistogramVec
}

func NewRunMetrics(runID string) *RunMetrics {
	labels := prometheus.Labels{"run_id": runID}
	m := &RunMetrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "dap",
				Name:        "requests_total",
				Help:        "Debug adapter requests by command and outcome.",
				ConstLabels: labels,
			},
			[]string{"command", "success"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "dap",
				Name:        "request_duration_seconds",
				Help:        "Request to response latency in seconds.",
				Buckets:     []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
				ConstLabels: labels,
			},
			[]string{"command"},
		),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "dap",
				Name:        "events_total",
				Help:        "Debug adapter events consumed by the harness.",
				ConstLabels: labels,
			},
			[]string{"event"},
		),
		stops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "stops_total",
			Help:        "Step stops observed.",
			ConstLabels: labels,
		}),
		duplicateStops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "duplicate_stops_total",
			Help:        "Stops identical to the stop before them.",
			ConstLabels: labels,
		}),
		steps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "steps_completed",
			Help:        "Steps completed so far.",
			ConstLabels: labels,
		}),
		adapterRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Subsystem:   "adapter",
			Name:        "rss_kb",
			Help:        "Last sampled adapter resident set size in KiB.",
			ConstLabels: labels,
		}),
		phases: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Name:        "phase_entries_total",
				Help:        "Session phase entries.",
				ConstLabels: labels,
			},
			[]string{"phase"},
		),
		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "requests_total",
				Help:        "Total status server HTTP requests.",
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace:   namespace,
				Subsystem:   "http",
				Name:        "request_duration_seconds",
				Help:        "Status server HTTP request duration in seconds.",
				Buckets:     prometheus.DefBuckets,
				ConstLabels: labels,
			},
			[]string{"method", "path", "status"},
		),
	}
	m.registry.MustRegister(
		m.requests, m.requestDuration, m.events, m.stops, m.duplicateStops,
		m.steps, m.adapterRSS, m.phases, m.httpRequests, m.httpDuration,
	)
	return m
}

// Registry exposes the run registry for /metrics.
func (m *RunMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *RunMetrics) ObserveRequest(command string, elapsed time.Duration, success bool) {
	m.requests.WithLabelValues(command, strconv.FormatBool(success)).Inc()
	m.requestDuration.WithLabelValues(command).Observe(elapsed.Seconds())
}

func (m *RunMetrics) ObserveEvent(name string) {
	m.events.WithLabelValues(name).Inc()
}

func (m *RunMetrics) ObserveStop(duplicate bool) {
	m.stops.Inc()
	if duplicate {
		m.duplicateStops.Inc()
	}
}

func (m *RunMetrics) ObserveStep(step int, rssKB int64) {
	m.steps.Set(float64(step))
	if rssKB >= 0 {
		m.adapterRSS.Set(float64(rssKB))
	}
}

func (m *RunMetrics) ObservePhase(phase string) {
	m.phases.WithLabelValues(phase).Inc()
}

func (m *RunMetrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	statusLabel := strconv.Itoa(status)
	m.httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	m.httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}

// WriteTextfile dumps the registry in the node exporter textfile format.
func (m *RunMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics textfile %s: %w", path, err)
	}
	return nil
}
