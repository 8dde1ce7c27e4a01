// Package metrics exports ledger activity as Prometheus metrics.
//
// Metrics implements ledger.Observer, so it is attached with
// ledger.WithObserver and fed by every append, conflict, snapshot and
// rebuild. Each Metrics owns its registry; Handler serves it.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/resident-ledger/ledger"
)

const namespace = "ledger"

// Metrics holds the ledger collectors and their registry.
type Metrics struct {
	registry *prometheus.Registry

	EventsAppended   *prometheus.CounterVec
	AppendAttempts   prometheus.Histogram
	AppendConflicts  prometheus.Counter
	AppendsExhausted prometheus.Counter
	SnapshotsWritten prometheus.Counter
	SnapshotFailures prometheus.Counter
	RebuildDuration  prometheus.Histogram
	RebuildReplayed  prometheus.Histogram
	LateFeesAssessed prometheus.Counter
	SweepRuns        *prometheus.CounterVec
}

// ─── Construction ───────────────────────────────────────────────────────────

// New registers the ledger collectors, plus the Go and process collectors,
// on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsAppended: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "append",
			Name:      "events_total",
			Help:      "Events appended, by event type.",
		}, []string{"event_type"}),

		AppendAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "append",
			Name:      "attempts",
			Help:      "Attempts needed per successful append.",
			Buckets:   []float64{1, 2, 3, 4, 5, 8, 13},
		}),

		AppendConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "append",
			Name:      "conflicts_total",
			Help:      "Conditional writes that lost a version race.",
		}),

		AppendsExhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "append",
			Name:      "exhausted_total",
			Help:      "Appends that ran out of attempts.",
		}),

		SnapshotsWritten: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "written_total",
			Help:      "Snapshots written.",
		}),

		SnapshotFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "snapshot",
			Name:      "failures_total",
			Help:      "Snapshot writes that failed after a successful append.",
		}),

		RebuildDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "duration_seconds",
			Help:      "Time to rebuild an account's state.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		}),

		RebuildReplayed: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rebuild",
			Name:      "replayed_events",
			Help:      "Events replayed on top of the baseline per rebuild.",
			Buckets:   []float64{0, 1, 2, 5, 10, 20, 50, 100},
		}),

		LateFeesAssessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "late_fees_total",
			Help:      "Late fees appended by the sweep.",
		}),

		SweepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sweep",
			Name:      "runs_total",
			Help:      "Late-fee sweep runs, by outcome.",
		}, []string{"outcome"}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ─── ledger.Observer ────────────────────────────────────────────────────────

var _ ledger.Observer = (*Metrics)(nil)

func (m *Metrics) EventAppended(_ context.Context, rec ledger.Record, attempts int) {
	m.EventsAppended.WithLabelValues(string(rec.EventType)).Inc()
	m.AppendAttempts.Observe(float64(attempts))
}

func (m *Metrics) AppendConflict(context.Context, ledger.AccountID, ledger.Version) {
	m.AppendConflicts.Inc()
}

func (m *Metrics) AppendExhausted(context.Context, ledger.AccountID, int) {
	m.AppendsExhausted.Inc()
}

func (m *Metrics) SnapshotWritten(context.Context, ledger.AccountID, ledger.Version) {
	m.SnapshotsWritten.Inc()
}

func (m *Metrics) SnapshotFailed(context.Context, ledger.AccountID, ledger.Version, error) {
	m.SnapshotFailures.Inc()
}

func (m *Metrics) StateRebuilt(_ context.Context, _ ledger.AccountID, replayed int, took time.Duration) {
	m.RebuildReplayed.Observe(float64(replayed))
	m.RebuildDuration.Observe(took.Seconds())
}

// ─── Sweep ──────────────────────────────────────────────────────────────────

// SweepFinished records one sweep run and the fees it assessed.
func (m *Metrics) SweepFinished(assessed int, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.SweepRuns.WithLabelValues(outcome).Inc()
	m.LateFeesAssessed.Add(float64(assessed))
}
