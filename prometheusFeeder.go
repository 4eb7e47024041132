package main

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricsNamespace = "upp"
	metricsSubsystem = "availability_gate"
)

// gateMetrics is safe to use through a nil pointer, which disables metrics.
type gateMetrics struct {
	environment   string
	serviceStatus *prometheus.GaugeVec
	probes        *prometheus.CounterVec
	rejections    *prometheus.CounterVec
	integrations  *prometheus.CounterVec
	pilotLight    *prometheus.GaugeVec
}

func newGateMetrics(environment string, registerer prometheus.Registerer) (*gateMetrics, error) {
	m := &gateMetrics{
		environment: environment,
		serviceStatus: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "servicestatus",
				Help:      "Cached status of the service: 0 - available; 1 - unavailable",
			},
			[]string{"environment", "service"}),
		probes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "probes_total",
				Help:      "Health probes performed, by outcome",
			},
			[]string{"environment", "service", "outcome"}),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "rejected_requests_total",
				Help:      "Inbound requests rejected because a service was cached as unavailable",
			},
			[]string{"environment", "service"}),
		integrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "integration_calls_total",
				Help:      "Outbound integration calls, by outcome",
			},
			[]string{"environment", "service", "outcome"}),
		pilotLight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: metricsSubsystem,
				Name:      "pilotlight",
				Help:      "Pilot light for the availability gate",
			},
			[]string{"environment"}),
	}

	for _, c := range []prometheus.Collector{m.serviceStatus, m.probes, m.rejections, m.integrations, m.pilotLight} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	m.pilotLight.With(prometheus.Labels{"environment": environment}).Set(1)
	return m, nil
}

func (m *gateMetrics) observeStatus(service string, available bool) {
	if m == nil {
		return
	}
	m.serviceStatus.With(prometheus.Labels{
		"environment": m.environment,
		"service":     service,
	}).Set(inverseBoolToFloat64(available))
}

func (m *gateMetrics) observeProbe(result probeResult) {
	if m == nil {
		return
	}
	m.probes.With(prometheus.Labels{
		"environment": m.environment,
		"service":     result.service,
		"outcome":     result.outcome.String(),
	}).Inc()
}

func (m *gateMetrics) observeRejection(service string) {
	if m == nil {
		return
	}
	m.rejections.With(prometheus.Labels{
		"environment": m.environment,
		"service":     service,
	}).Inc()
}

func (m *gateMetrics) observeIntegration(service string, outcome integrationOutcome) {
	if m == nil {
		return
	}
	m.integrations.With(prometheus.Labels{
		"environment": m.environment,
		"service":     service,
		"outcome":     string(outcome),
	}).Inc()
}

// prometheusFeeder republishes the whole cache on every tick so services that
// were never checked still show up in the status gauge.
type prometheusFeeder struct {
	ticker  *time.Ticker
	cache   *healthCache
	metrics *gateMetrics
}

func newPrometheusFeeder(period time.Duration, cache *healthCache, metrics *gateMetrics) *prometheusFeeder {
	return &prometheusFeeder{
		ticker:  time.NewTicker(period),
		cache:   cache,
		metrics: metrics,
	}
}

func (f *prometheusFeeder) feed() {
	f.publish()
	for range f.ticker.C {
		f.publish()
	}
}

func (f *prometheusFeeder) publish() {
	for name, available := range f.cache.snapshot() {
		f.metrics.observeStatus(name, available)
	}
}

func inverseBoolToFloat64(b bool) float64 {
	if b {
		return 0
	}
	return 1
}
