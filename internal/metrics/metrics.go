// Package metrics exposes Prometheus collectors for the browser session and the
// capture paths. A nil *Recorder is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome label for successful operations. Failures use their error category.
const OutcomeSuccess = "success"

// Recorder groups every collector this module publishes.
type Recorder struct {
	launchAttempts  *prometheus.CounterVec
	sessionState    *prometheus.GaugeVec
	openPages       prometheus.Gauge
	captures        *prometheus.CounterVec
	captureDuration *prometheus.HistogramVec
	consoleReads    *prometheus.CounterVec
	consoleEntries  *prometheus.CounterVec
}

// New registers all collectors on reg under namespace.
func New(reg prometheus.Registerer, namespace string) *Recorder {
	factory := promauto.With(reg)
	return &Recorder{
		launchAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "browser_launch_attempts_total",
			Help:      "Browser launch attempts by outcome.",
		}, []string{"outcome"}),
		sessionState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_session_state",
			Help:      "Current browser session state (active state=1, others 0).",
		}, []string{"state"}),
		openPages: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "browser_open_pages",
			Help:      "Isolated pages currently open on the shared browser.",
		}),
		captures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "captures_total",
			Help:      "Screenshot captures by mode and outcome.",
		}, []string{"mode", "outcome"}),
		captureDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "End-to-end screenshot capture latency.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		}, []string{"mode"}),
		consoleReads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_reads_total",
			Help:      "Console capture requests by outcome.",
		}, []string{"outcome"}),
		consoleEntries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "console_entries_total",
			Help:      "Console entries observed, by what happened to them (kept, dropped, filtered).",
		}, []string{"disposition"}),
	}
}

// SessionStates lists every value SetSessionState accepts, in lifecycle order.
var SessionStates = []string{"uninitialized", "initializing", "ready", "busy", "failed", "closed"}

// SetSessionState marks state as the active session state.
func (r *Recorder) SetSessionState(state string) {
	if r == nil {
		return
	}
	for _, s := range SessionStates {
		value := 0.0
		if s == state {
			value = 1.0
		}
		r.sessionState.WithLabelValues(s).Set(value)
	}
}

// RecordLaunchAttempt counts one launch attempt.
func (r *Recorder) RecordLaunchAttempt(outcome string) {
	if r == nil {
		return
	}
	r.launchAttempts.WithLabelValues(outcome).Inc()
}

// PageOpened and PageClosed track the open page gauge.
func (r *Recorder) PageOpened() {
	if r == nil {
		return
	}
	r.openPages.Inc()
}

func (r *Recorder) PageClosed() {
	if r == nil {
		return
	}
	r.openPages.Dec()
}

// ObserveCapture records one finished capture.
func (r *Recorder) ObserveCapture(mode, outcome string, elapsed time.Duration) {
	if r == nil {
		return
	}
	r.captures.WithLabelValues(mode, outcome).Inc()
	r.captureDuration.WithLabelValues(mode).Observe(elapsed.Seconds())
}

// ObserveConsoleRead records one finished console capture and its entry counts.
func (r *Recorder) ObserveConsoleRead(outcome string, kept, dropped, filtered int) {
	if r == nil {
		return
	}
	r.consoleReads.WithLabelValues(outcome).Inc()
	r.consoleEntries.WithLabelValues("kept").Add(float64(kept))
	r.consoleEntries.WithLabelValues("dropped").Add(float64(dropped))
	r.consoleEntries.WithLabelValues("filtered").Add(float64(filtered))
}
