package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "transcriber_pipeline"

const (
	segmentStatusTranscribed = "transcribed"
	segmentStatusSkipped     = "skipped"
	segmentStatusFailed      = "failed"

	runStatusSucceeded = "succeeded"
	runStatusFailed    = "failed"
	runStatusCancelled = "cancelled"
)

type Metrics struct {
	StageDuration *prometheus.HistogramVec
	Segments      *prometheus.CounterVec
	Attempts      prometheus.Counter
	Runs          *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StageDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each pipeline stage",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}, []string{"stage"}),
		Segments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "segments_total",
			Help:      "Total number of processed segments",
		}, []string{"status"}),
		Attempts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "transcribe_attempts_total",
			Help:      "Total number of transcription engine calls",
		}),
		Runs: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		}, []string{"status"}),
	}
}
