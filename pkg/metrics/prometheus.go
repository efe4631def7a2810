package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements the engine's Metrics interface on Prometheus.
type Recorder struct {
	patterns         *prometheus.CounterVec
	detectorFailures *prometheus.CounterVec
	detectorSkipped  *prometheus.CounterVec
	memoryDegraded   prometheus.Counter
	signals          *prometheus.CounterVec
	suppressed       *prometheus.CounterVec
	errorsTotal      *prometheus.CounterVec
	latency          *prometheus.HistogramVec
}

// New registers every collector on reg. Pass prometheus.DefaultRegisterer in production
// and a fresh registry in tests.
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		patterns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patmem", Name: "patterns_detected_total",
			Help: "Pattern events detected",
		}, []string{"pattern", "timeframe"}),
		detectorFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patmem", Name: "detector_failures_total",
			Help: "Detector runs that returned an error or panicked",
		}, []string{"pattern"}),
		detectorSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patmem", Name: "detector_skipped_total",
			Help: "Detector runs skipped for insufficient data",
		}, []string{"pattern"}),
		memoryDegraded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "patmem", Name: "memory_degraded_total",
			Help: "Memory lookups or writes that timed out or failed",
		}),
		signals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patmem", Name: "signals_emitted_total",
			Help: "Signals handed to sinks",
		}, []string{"symbol", "direction"}),
		suppressed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patmem", Name: "signals_suppressed_total",
			Help: "Signals dropped as duplicates within the emission window",
		}, []string{"symbol"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "patmem", Name: "errors_total",
			Help: "Errors by kind",
		}, []string{"type"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "patmem", Name: "operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}, []string{"operation"}),
	}
	if reg != nil {
		reg.MustRegister(r.patterns, r.detectorFailures, r.detectorSkipped, r.memoryDegraded,
			r.signals, r.suppressed, r.errorsTotal, r.latency)
	}
	return r
}

func (r *Recorder) RecordPattern(patternType, timeframe string) {
	r.patterns.WithLabelValues(patternType, timeframe).Inc()
}

func (r *Recorder) RecordDetectorFailure(patternType string) {
	r.detectorFailures.WithLabelValues(patternType).Inc()
}

func (r *Recorder) RecordDetectorSkipped(patternType string) {
	r.detectorSkipped.WithLabelValues(patternType).Inc()
}

func (r *Recorder) RecordMemoryDegraded() { r.memoryDegraded.Inc() }

func (r *Recorder) RecordSignal(symbol, direction string) {
	r.signals.WithLabelValues(symbol, direction).Inc()
}

func (r *Recorder) RecordSignalSuppressed(symbol string) {
	r.suppressed.WithLabelValues(symbol).Inc()
}

func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
