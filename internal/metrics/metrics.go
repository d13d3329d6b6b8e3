// Package metrics provides Prometheus metrics for the Poise session engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "poise"

var (
	ticksProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "ticks_processed_total",
		Help:      "Analysis ticks that produced an observation.",
	})

	framesSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "frames_skipped_total",
		Help:      "Frames dropped by the throttle frame-skip factor.",
	})

	analyzerOmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pipeline",
		Name:      "analyzer_omissions_total",
		Help:      "Per-feature analyzer failures treated as omitted data.",
	}, []string{"feature"})

	observationsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "aggregator",
		Name:      "observations_ingested_total",
		Help:      "Observations ingested into the confidence window.",
	})

	throttleMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "throttle",
		Name:      "mode",
		Help:      "Active throttle mode (1 for the current mode, 0 otherwise).",
	}, []string{"mode"})

	transportState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "state",
		Help:      "Current transport state (1 for the current state, 0 otherwise).",
	}, []string{"state"})

	transportDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "transport",
		Name:      "messages_dropped_total",
		Help:      "Outbound messages dropped by send-queue backpressure.",
	})

	cuesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "cues_dropped_total",
		Help:      "Coaching cues evicted from the bounded cue queue.",
	})

	recordsPendingSync = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "store",
		Name:      "records_pending_sync",
		Help:      "Session records persisted locally but not yet synced.",
	})

	sessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "started_total",
		Help:      "Sessions successfully started.",
	})

	sessionsEnded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "ended_total",
		Help:      "Sessions ended, labeled by end reason.",
	}, []string{"reason"})
)

// IncTicksProcessed records one completed analysis tick.
func IncTicksProcessed() { ticksProcessed.Inc() }

// IncFramesSkipped records one frame dropped by throttling.
func IncFramesSkipped() { framesSkipped.Inc() }

// IncAnalyzerOmission records a per-feature analyzer failure.
func IncAnalyzerOmission(feature string) { analyzerOmissions.WithLabelValues(feature).Inc() }

// IncObservationsIngested records one observation entering the window.
func IncObservationsIngested() { observationsIngested.Inc() }

// SetThrottleMode marks the active throttle mode gauge.
func SetThrottleMode(mode string) {
	for _, m := range []string{"normal", "batteryOptimized", "thermalReduced"} {
		v := 0.0
		if m == mode {
			v = 1.0
		}
		throttleMode.WithLabelValues(m).Set(v)
	}
}

// SetTransportState marks the active transport state gauge.
func SetTransportState(state string) {
	states := []string{"disconnected", "connecting", "authenticating", "ready", "active", "ending"}
	for _, s := range states {
		v := 0.0
		if s == state {
			v = 1.0
		}
		transportState.WithLabelValues(s).Set(v)
	}
}

// IncTransportDropped records one message dropped by backpressure.
func IncTransportDropped() { transportDropped.Inc() }

// IncCuesDropped records one cue evicted from the queue.
func IncCuesDropped() { cuesDropped.Inc() }

// SetRecordsPendingSync updates the unsynced-record gauge.
func SetRecordsPendingSync(n int) { recordsPendingSync.Set(float64(n)) }

// IncSessionsStarted records one session start.
func IncSessionsStarted() { sessionsStarted.Inc() }

// IncSessionsEnded records one session end with its reason.
func IncSessionsEnded(reason string) { sessionsEnded.WithLabelValues(reason).Inc() }
