// Package metrics holds the Prometheus collectors for the transcoding
// pipeline and playback resolution.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal counts finished pipeline runs by kind and terminal status.
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsvault_jobs_total",
		Help: "Finished transcoding jobs by kind and final status",
	}, []string{"kind", "status"})

	// JobDuration tracks wall time from transcode start to the status write.
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hlsvault_job_duration_seconds",
		Help:    "Time taken by one transcoding job",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
	}, []string{"kind"})

	// JobsInFlight is the number of scheduled jobs that have not finished.
	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hlsvault_jobs_in_flight",
		Help: "Transcoding jobs currently running or waiting for a slot",
	})

	// ObjectsUploaded counts package files written to the object store.
	ObjectsUploaded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsvault_objects_uploaded_total",
		Help: "Package files uploaded to the object store by kind",
	}, []string{"kind"})

	// PlaybackResolutions counts playback link requests by result.
	PlaybackResolutions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlsvault_playback_resolutions_total",
		Help: "Playback resolutions by result (ok, fallback, missing, error)",
	}, []string{"result"})
)

// ObserveJob records the outcome and duration of one job.
func ObserveJob(kind, status string, d time.Duration) {
	JobsTotal.WithLabelValues(kind, status).Inc()
	JobDuration.WithLabelValues(kind).Observe(d.Seconds())
}

// AddUploaded records n uploaded package files.
func AddUploaded(kind string, n int) {
	ObjectsUploaded.WithLabelValues(kind).Add(float64(n))
}

// IncPlayback records one playback resolution outcome.
func IncPlayback(result string) {
	PlaybackResolutions.WithLabelValues(result).Inc()
}
