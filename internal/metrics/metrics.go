// Package metrics provides the ingestion engine's Prometheus collectors
// and the EMA-smoothed throughput/ETA tracker consulted by the
// orchestrator's progress log.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/eugener/eventsync/internal/ingest"
)

// emaAlpha is the smoothing factor for the global throughput EMA.
const emaAlpha = 0.2

// target is the fixed event count ETA is computed against.
const target = 3_000_000

// Metrics holds the ingestion engine's Prometheus collectors. Per-worker
// fetched/inserted counts are exposed as gauges rather than counters: the
// orchestrator reports cumulative totals read back from checkpoints, not
// increments, and a restart can resume a worker from a nonzero count.
type Metrics struct {
	FetchedTotal  *prometheus.GaugeVec // labels: worker
	InsertedTotal *prometheus.GaugeVec // labels: worker
	WorkerStatus  *prometheus.GaugeVec // labels: worker
	QueueDepth    prometheus.Gauge
	ThroughputEPS prometheus.Gauge
	ETASeconds    prometheus.Gauge
}

// New creates and registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		FetchedTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "fetched_events",
			Help:      "Cumulative events fetched per worker.",
		}, []string{"worker"}),

		InsertedTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "inserted_events",
			Help:      "Cumulative events inserted per worker (post-conflict).",
		}, []string{"worker"}),

		WorkerStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "worker_status",
			Help:      "Worker lifecycle status (0=running, 1=completed, 2=failed).",
		}, []string{"worker"}),

		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "write_queue_pending",
			Help:      "Pending write-queue tasks.",
		}),

		ThroughputEPS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "throughput_events_per_second",
			Help:      "EMA-smoothed global insert throughput.",
		}),

		ETASeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "eventsync",
			Name:      "eta_seconds",
			Help:      "Estimated seconds remaining to reach the target insert count.",
		}),
	}

	reg.MustRegister(
		m.FetchedTotal,
		m.InsertedTotal,
		m.WorkerStatus,
		m.QueueDepth,
		m.ThroughputEPS,
		m.ETASeconds,
	)
	return m
}

func statusValue(s ingest.Status) float64 {
	switch s {
	case ingest.StatusCompleted:
		return 1
	case ingest.StatusFailed:
		return 2
	default:
		return 0
	}
}

// Observe updates the per-worker collectors from a checkpoint snapshot.
func (m *Metrics) Observe(workerID int, cp ingest.WorkerCheckpoint) {
	label := prometheus.Labels{"worker": strconv.Itoa(workerID)}
	m.FetchedTotal.With(label).Set(float64(cp.FetchedCount))
	m.InsertedTotal.With(label).Set(float64(cp.InsertedCount))
	m.WorkerStatus.With(label).Set(statusValue(cp.Status))
}

// Throughput tracks an EMA of global insert throughput and derives an ETA
// against the fixed target, recomputed on each Snapshot call against
// wall-clock delta since the previous call.
type Throughput struct {
	mu          sync.Mutex
	lastInserts int64
	lastAt      time.Time
	emaEPS      float64
	clock       ingest.Clock
}

// NewThroughput creates a Throughput tracker. If clock is nil, time.Now is used.
func NewThroughput(clock ingest.Clock) *Throughput {
	if clock == nil {
		clock = ingest.SystemClock{}
	}
	return &Throughput{clock: clock}
}

// Snapshot reports totalInserted events inserted so far and returns the
// current EMA throughput (events/sec) plus the ETA to target, when
// throughput is positive.
func (t *Throughput) Snapshot(totalInserted int64) (throughputEPS float64, eta time.Duration, etaKnown bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.clock.Now()
	if t.lastAt.IsZero() {
		t.lastAt = now
		t.lastInserts = totalInserted
		return t.emaEPS, 0, false
	}

	delta := now.Sub(t.lastAt).Seconds()
	if delta > 0 {
		instant := float64(totalInserted-t.lastInserts) / delta
		t.emaEPS = emaAlpha*instant + (1-emaAlpha)*t.emaEPS
	}
	t.lastAt = now
	t.lastInserts = totalInserted

	if t.emaEPS <= 0 {
		return t.emaEPS, 0, false
	}
	remaining := float64(target - totalInserted)
	if remaining <= 0 {
		return t.emaEPS, 0, true
	}
	return t.emaEPS, time.Duration(remaining/t.emaEPS) * time.Second, true
}

// Peek returns the current EMA throughput without advancing the tracker's
// wall-clock baseline, for read-only observers (e.g. the health endpoint)
// that must not perturb the progress logger's own Snapshot cadence.
func (t *Throughput) Peek() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.emaEPS
}
