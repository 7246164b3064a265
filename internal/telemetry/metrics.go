package telemetry

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the per-process build counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PagesWritten   *prometheus.CounterVec
	PagesSkipped   *prometheus.CounterVec
	OrphansRemoved prometheus.Counter
	PassDuration   prometheus.Gauge
	LastSuccess    prometheus.Gauge
	PassesFailed   prometheus.Counter
}

// NewMetrics creates and registers the build metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		PagesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoview_pages_written_total",
			Help: "Pages rendered and written, by kind.",
		}, []string{"kind"}),
		PagesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repoview_pages_skipped_total",
			Help: "Pages left untouched because their fingerprint matched, by kind.",
		}, []string{"kind"}),
		OrphansRemoved: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoview_orphans_removed_total",
			Help: "Previously generated pages removed because no pass produced them.",
		}),
		PassDuration: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repoview_pass_duration_seconds",
			Help: "Wall time of the most recent pass.",
		}),
		LastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "repoview_last_success_timestamp_seconds",
			Help: "Unix time the last pass committed.",
		}),
		PassesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repoview_passes_failed_total",
			Help: "Passes that ended without committing.",
		}),
	}
	m.registry.MustRegister(m.PagesWritten, m.PagesSkipped, m.OrphansRemoved,
		m.PassDuration, m.LastSuccess, m.PassesFailed)
	return m
}

// Registry exposes the private registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObservePass records the outcome of one pass.
func (m *Metrics) ObservePass(took time.Duration, committed bool, now time.Time) {
	m.PassDuration.Set(took.Seconds())
	if committed {
		m.LastSuccess.Set(float64(now.Unix()))
	} else {
		m.PassesFailed.Inc()
	}
}

// WriteFile writes the registry in the text exposition format, atomically,
// for the node_exporter textfile collector.
func (m *Metrics) WriteFile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}
