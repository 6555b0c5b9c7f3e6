package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gitlab.com/transcodeuz/media-engine/tools/transcoder"
)

// Job metrics
var (
	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_engine_jobs_total",
			Help: "Total number of finished transcode jobs by mode and final state",
		},
		[]string{"mode", "state"},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_engine_job_duration_seconds",
			Help:    "Wall time of a transcode job from spawn to terminal state",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
		[]string{"mode"},
	)

	JobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_engine_jobs_in_flight",
			Help: "Number of transcoder processes currently supervised",
		},
	)
)

// Capability metrics
var (
	AcceleratorSupported = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_engine_accelerator_supported",
			Help: "1 when the hardware accelerator was reported by the last detection",
		},
		[]string{"id"},
	)

	EncoderSupported = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_engine_encoder_supported",
			Help: "1 when the hardware encoder was reported by the last detection",
		},
		[]string{"id"},
	)
)

// Probe, decrypt and upload metrics
var (
	ProbeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_engine_probe_failures_total",
			Help: "Total number of media probes that failed",
		},
	)

	DecryptTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_engine_ncm_decrypt_total",
			Help: "Total number of ncm containers processed by result",
		},
		[]string{"result"}, // "ok", "fallback", "error"
	)

	UploadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_engine_upload_duration_seconds",
			Help:    "Upload duration of finished outputs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"storage"},
	)
)

// ObserveJob records a finished job
func ObserveJob(mode string, state transcoder.JobState, elapsed time.Duration) {
	JobsTotal.WithLabelValues(mode, state.String()).Inc()
	JobDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// RecordProfile publishes the detected capabilities
func RecordProfile(profile transcoder.HardwareProfile) {
	for _, c := range profile.Accelerators() {
		AcceleratorSupported.WithLabelValues(c.ID).Set(boolValue(c.Supported))
	}
	for _, c := range profile.Encoders() {
		EncoderSupported.WithLabelValues(c.ID).Set(boolValue(c.Supported))
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
