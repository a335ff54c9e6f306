package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Turn execution metrics
	TurnsExecutedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_turns_executed_total",
			Help: "Total number of turns executed, by scheduling cause",
		},
		[]string{"cause"},
	)

	TurnsFailedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_turns_failed_total",
			Help: "Total number of turns that failed and were discarded in full",
		},
	)

	TurnExecutionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_turn_execution_duration_seconds",
			Help:    "Wall-clock time to execute one turn",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Journal metrics
	JournalAppendDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_journal_append_duration_seconds",
			Help:    "Time to append and fsync one turn record to the journal",
			Buckets: prometheus.DefBuckets,
		},
	)

	JournalSegmentRotationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_journal_segment_rotations_total",
			Help: "Total number of journal segment rotations",
		},
	)

	JournalBytesTruncatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_journal_bytes_truncated_total",
			Help: "Total bytes discarded from corrupt journal tails during recovery",
		},
	)

	// Snapshot metrics
	SnapshotDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "loom_snapshot_duration_seconds",
			Help:    "Time to serialize and write one snapshot",
			Buckets: prometheus.DefBuckets,
		},
	)

	SnapshotsWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_snapshots_written_total",
			Help: "Total number of snapshots written, by branch",
		},
		[]string{"branch"},
	)

	// Scheduler metrics
	SchedulerQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_scheduler_queue_depth",
			Help: "Number of turns currently queued in the scheduler",
		},
	)

	SchedulerBlockedActorsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "loom_scheduler_blocked_actors",
			Help: "Number of actors currently at or above their flow-control credit limit",
		},
	)

	// Branch/time-travel metrics
	BranchForksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_branch_forks_total",
			Help: "Total number of branch forks performed",
		},
	)

	TimeTravelStepsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "loom_time_travel_steps_total",
			Help: "Total number of back/goto time-travel operations, by kind",
		},
		[]string{"kind"},
	)

	// Reaction metrics
	ReactionsFiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "loom_reactions_fired_total",
			Help: "Total number of standing reactions that fired",
		},
	)
)

func init() {
	prometheus.MustRegister(TurnsExecutedTotal)
	prometheus.MustRegister(TurnsFailedTotal)
	prometheus.MustRegister(TurnExecutionDuration)

	prometheus.MustRegister(JournalAppendDuration)
	prometheus.MustRegister(JournalSegmentRotationsTotal)
	prometheus.MustRegister(JournalBytesTruncatedTotal)

	prometheus.MustRegister(SnapshotDuration)
	prometheus.MustRegister(SnapshotsWrittenTotal)

	prometheus.MustRegister(SchedulerQueueDepth)
	prometheus.MustRegister(SchedulerBlockedActorsTotal)

	prometheus.MustRegister(BranchForksTotal)
	prometheus.MustRegister(TimeTravelStepsTotal)

	prometheus.MustRegister(ReactionsFiredTotal)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
