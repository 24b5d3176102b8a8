// Package metrics collects per-run download counters and writes them in the
// Prometheus text format, for node_exporter's textfile collector.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/snapetech/vodgrab/internal/download"
)

// Outcome labels for ItemsTotal.
const (
	OutcomeDownloaded = "downloaded"
	OutcomeSkipped    = "skipped"
	OutcomeFailed     = "failed"
	OutcomeRejected   = "rejected"
)

// Metrics holds the collectors for one run on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ItemsTotal       *prometheus.CounterVec
	AttemptsTotal    *prometheus.CounterVec
	BytesTotal       prometheus.Counter
	MetadataErrors   prometheus.Counter
	DownloadDuration prometheus.Histogram
	LastRunTimestamp prometheus.Gauge
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		ItemsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vodgrab_items_total",
				Help: "Playlist media items by outcome",
			},
			[]string{"outcome"},
		),
		AttemptsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "vodgrab_download_attempts_total",
				Help: "Download attempts by result",
			},
			[]string{"result"},
		),
		BytesTotal: f.NewCounter(prometheus.CounterOpts{
			Name: "vodgrab_downloaded_bytes_total",
			Help: "Bytes written to completed files",
		}),
		MetadataErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "vodgrab_metadata_errors_total",
			Help: "EXTINF lines skipped because attributes could not be extracted",
		}),
		DownloadDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "vodgrab_download_duration_seconds",
			Help:    "Wall time of completed downloads",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),
		LastRunTimestamp: f.NewGauge(prometheus.GaugeOpts{
			Name: "vodgrab_last_run_timestamp_seconds",
			Help: "Unix time the last run finished",
		}),
	}
}

// Observe counts attempt outcomes from the downloader's state machine.
func (m *Metrics) Observe(_ string, tr download.Transition) {
	if tr.From != download.Attempting {
		return
	}
	switch tr.To {
	case download.Succeeded:
		m.AttemptsTotal.WithLabelValues("ok").Inc()
	case download.Canceled:
		m.AttemptsTotal.WithLabelValues("canceled").Inc()
	default:
		m.AttemptsTotal.WithLabelValues("error").Inc()
	}
}

// Item records the outcome of one media item.
func (m *Metrics) Item(outcome string, bytes int64, took time.Duration) {
	m.ItemsTotal.WithLabelValues(outcome).Inc()
	if outcome == OutcomeDownloaded {
		m.BytesTotal.Add(float64(bytes))
		m.DownloadDuration.Observe(took.Seconds())
	}
}

// WriteTextfile stamps the run end time and writes every collector to path atomically.
func (m *Metrics) WriteTextfile(path string, now time.Time) error {
	m.LastRunTimestamp.Set(float64(now.Unix()))
	return prometheus.WriteToTextfile(path, m.Registry)
}
