// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/pdiddy/dblp-coauthors/pkg/types"
)

// Metrics records pipeline runs in a Prometheus registry.
type Metrics struct {
	registry *prometheus.Registry

	runs     *prometheus.CounterVec
	duration prometheus.Histogram
	progress *prometheus.GaugeVec
}

// NewMetrics registers the pipeline collectors in a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		runs: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dblp_pipeline_runs_total",
			Help: "Finished pipeline runs by terminal status",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dblp_pipeline_run_duration_seconds",
			Help:    "Wall time of finished pipeline runs",
			Buckets: prometheus.ExponentialBuckets(1, 2, 16), // 1s to ~9h
		}),
		progress: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dblp_pipeline_progress",
			Help: "Last reported progress counter per phase",
		}, []string{"phase", "counter"}),
	}
}

func (m *Metrics) observeProgress(phase string, payload types.Progress) {
	for counter, v := range payload {
		m.progress.WithLabelValues(phase, counter).Set(v)
	}
}

func (m *Metrics) observeRun(status types.RunStatus, elapsed time.Duration) {
	m.runs.WithLabelValues(string(status)).Inc()
	m.duration.Observe(elapsed.Seconds())
}

func (m *Metrics) resetProgress() {
	m.progress.Reset()
}

// WriteTextfile writes the current metrics in the node-exporter textfile
// format.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("writing metrics textfile %s: %w", path, err)
	}
	return nil
}
