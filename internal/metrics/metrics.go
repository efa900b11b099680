package metrics

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics exposes Prometheus collectors that report pipeline activity.
// All methods are safe on a nil receiver.
type Metrics struct {
	stageDuration    *prometheus.HistogramVec
	artifactOutcomes *prometheus.CounterVec
	deliveries       *prometheus.CounterVec
	cleanups         *prometheus.CounterVec
	requestsActive   prometheus.Gauge
}

var (
	defaultOnce sync.Once
	shared      *Metrics
)

// Default returns the instance registered with the global Prometheus
// registry. Collectors are created once so repeated wiring in tests does not
// panic on duplicate registration.
func Default() *Metrics {
	defaultOnce.Do(func() {
		shared = MustNewMetrics(prometheus.DefaultRegisterer)
	})
	return shared
}

// MustNewMetrics constructs a Metrics instance using the provided registerer.
// Registration errors other than AlreadyRegistered panic.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mediadrop",
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 180},
		}, []string{"artifact", "stage", "status"}),
		artifactOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediadrop",
			Subsystem: "pipeline",
			Name:      "artifact_outcomes_total",
			Help:      "Generated artifacts by kind and result.",
		}, []string{"artifact", "result"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediadrop",
			Subsystem: "delivery",
			Name:      "messages_total",
			Help:      "Messaging gateway sends by artifact and result.",
		}, []string{"artifact", "result"}),
		cleanups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mediadrop",
			Subsystem: "storage",
			Name:      "cleanups_total",
			Help:      "Blob deletions by phase (scheduled, deleted, failed).",
		}, []string{"phase"}),
		requestsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mediadrop",
			Subsystem: "pipeline",
			Name:      "requests_active",
			Help:      "Generation requests currently in flight.",
		}),
	}

	m.stageDuration = register(reg, m.stageDuration)
	m.artifactOutcomes = register(reg, m.artifactOutcomes)
	m.deliveries = register(reg, m.deliveries)
	m.cleanups = register(reg, m.cleanups)
	m.requestsActive = register(reg, m.requestsActive)
	return m
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

// ObserveStage records the time spent in a stage.
func (m *Metrics) ObserveStage(artifact, stage string, err error, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDuration.WithLabelValues(artifact, stage, status(err)).Observe(d.Seconds())
}

// IncArtifact counts a finished artifact pipeline.
func (m *Metrics) IncArtifact(artifact string, success bool) {
	if m == nil {
		return
	}
	m.artifactOutcomes.WithLabelValues(artifact, result(success)).Inc()
}

// IncDelivery counts a messaging send.
func (m *Metrics) IncDelivery(artifact string, success bool) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(artifact, result(success)).Inc()
}

// IncCleanup counts a cleanup phase.
func (m *Metrics) IncCleanup(phase string) {
	if m == nil {
		return
	}
	m.cleanups.WithLabelValues(phase).Inc()
}

// TrackRequest marks a request in flight; call the returned func when done.
func (m *Metrics) TrackRequest() func() {
	if m == nil {
		return func() {}
	}
	m.requestsActive.Inc()
	return m.requestsActive.Dec
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
