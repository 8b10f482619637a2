// Package metrics exposes scanner counters and histograms for Prometheus.
// Collectors live in a private registry so importing the package never
// touches prometheus.DefaultRegisterer.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vulnscan/vulnscan/pkg/defaults"
	"github.com/vulnscan/vulnscan/pkg/fetcher"
	"github.com/vulnscan/vulnscan/pkg/finding"
)

// Scan outcomes.
const (
	ScanCompleted     = "completed"
	ScanAllFailed     = "all_failed"
	ScanCanceled      = "canceled"
	ScanInvalidTarget = "invalid_target"
	ScanError         = "error"
)

// Check outcomes. A failed check is labelled with its diagnostic kind
// (timeout, panic, canceled, error or a fetch error kind).
const (
	CheckOK = "ok"
)

var namespace = defaults.ToolName

// Metrics holds the scanner collectors.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal    *prometheus.CounterVec
	scanDuration  prometheus.Histogram
	checksTotal   *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	findingsTotal *prometheus.CounterVec
	fetchDuration prometheus.Histogram
	fetchErrors   *prometheus.CounterVec
}

var _ fetcher.Observer = (*Metrics)(nil)

// New creates the collectors and registers them, plus the Go runtime and
// process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "scans_total",
				Help:      "Scans by outcome",
			},
			[]string{"outcome"},
		),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scan_duration_seconds",
			Help:      "Wall time of a scan from validation to report",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}),
		checksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "checks_total",
				Help:      "Check runs by check ID and outcome",
			},
			[]string{"check", "outcome"},
		),
		checkDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "check_duration_seconds",
				Help:      "Wall time of a single check",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15},
			},
			[]string{"check"},
		),
		findingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "findings_total",
				Help:      "Reported findings by severity, after deduplication",
			},
			[]string{"severity"},
		),
		fetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Probe latency including retries",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		}),
		fetchErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Failed probes by error kind",
			},
			[]string{"kind"},
		),
	}

	m.registry.MustRegister(
		m.scansTotal,
		m.scanDuration,
		m.checksTotal,
		m.checkDuration,
		m.findingsTotal,
		m.fetchDuration,
		m.fetchErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveFetch implements fetcher.Observer.
func (m *Metrics) ObserveFetch(d time.Duration, kind fetcher.Kind) {
	if m == nil {
		return
	}
	m.fetchDuration.Observe(d.Seconds())
	if kind != "" {
		m.fetchErrors.WithLabelValues(string(kind)).Inc()
	}
}

// ObserveScan records one finished scan.
func (m *Metrics) ObserveScan(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.WithLabelValues(outcome).Inc()
	m.scanDuration.Observe(d.Seconds())
}

// ObserveCheck records one check run.
func (m *Metrics) ObserveCheck(checkID, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.checksTotal.WithLabelValues(checkID, outcome).Inc()
	m.checkDuration.WithLabelValues(checkID).Observe(d.Seconds())
}

// ObserveFindings counts findings by severity.
func (m *Metrics) ObserveFindings(findings []finding.Finding) {
	if m == nil {
		return
	}
	for _, f := range findings {
		m.findingsTotal.WithLabelValues(f.Severity.String()).Inc()
	}
}

// RegisterSessionGauge exposes the session store size. It fails if a
// gauge was already registered.
func (m *Metrics) RegisterSessionGauge(size func() int) error {
	if m == nil {
		return nil
	}
	g := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions",
		Help:      "Reports held in the session store",
	}, func() float64 { return float64(size()) })
	if err := m.registry.Register(g); err != nil {
		return fmt.Errorf("register session gauge: %w", err)
	}
	return nil
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
