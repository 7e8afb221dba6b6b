// Package metrics counts Drive and audio operations on a private Prometheus
// registry. Batch runs dump it in the node-exporter textfile format.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values
const (
	ResultOK       = "ok"
	ResultSkipped  = "skipped"
	ResultNotFound = "not_found"
	ResultError    = "error"
)

// Metrics contains all Prometheus metrics for stemprep. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	Registry *prometheus.Registry

	// Drive metrics
	Searches        *prometheus.CounterVec
	Downloads       *prometheus.CounterVec
	DownloadedBytes prometheus.Counter

	// Audio metrics
	AudioOps        *prometheus.CounterVec
	AudioOpDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		Searches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stemprep_drive_searches_total",
			Help: "Drive name searches by result",
		}, []string{"result"}),
		Downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stemprep_drive_downloads_total",
			Help: "Drive downloads by result",
		}, []string{"result"}),
		DownloadedBytes: factory.NewCounter(prometheus.CounterOpts{
			Name: "stemprep_drive_downloaded_bytes_total",
			Help: "Bytes written by Drive downloads",
		}),

		AudioOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stemprep_audio_operations_total",
			Help: "Audio operations by operation and result",
		}, []string{"op", "result"}),
		AudioOpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stemprep_audio_operation_duration_seconds",
			Help:    "Wall time of audio operations",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"op"}),
	}
}

// ObserveSearch records one search outcome.
func (m *Metrics) ObserveSearch(result string) {
	if m == nil {
		return
	}
	m.Searches.WithLabelValues(result).Inc()
}

// ObserveDownload records one download outcome and its size.
func (m *Metrics) ObserveDownload(result string, bytes int64) {
	if m == nil {
		return
	}
	m.Downloads.WithLabelValues(result).Inc()
	if bytes > 0 {
		m.DownloadedBytes.Add(float64(bytes))
	}
}

// ObserveAudio records an audio operation that started at start.
func (m *Metrics) ObserveAudio(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.AudioOps.WithLabelValues(op, result).Inc()
	m.AudioOpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// WriteTextfile atomically writes the registry to path in the text
// exposition format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.Registry)
}
