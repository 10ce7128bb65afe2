package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcilerMetrics captures expiration-job health signals.
type ReconcilerMetrics struct {
	runs         prometheus.Counter
	runDuration  prometheus.Observer
	usersExpired prometheus.Counter
	usersSkipped prometheus.Counter
	runErrors    prometheus.Counter
	overlapSkips prometheus.Counter
}

var (
	reconcilerOnce     sync.Once
	reconcilerInstance *ReconcilerMetrics
)

// Reconciler returns the process-wide reconciler metrics, registering
// them on the default prometheus registry on first use.
func Reconciler() *ReconcilerMetrics {
	reconcilerOnce.Do(func() {
		runs := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playpoints_reconciler_runs_total",
			Help: "Expiration reconciler runs started.",
		})
		runDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "playpoints_reconciler_run_duration_seconds",
			Help:    "Expiration reconciler run duration.",
			Buckets: prometheus.DefBuckets,
		})
		usersExpired := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playpoints_reconciler_users_expired_total",
			Help: "Users whose expired entries were retracted.",
		})
		usersSkipped := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playpoints_reconciler_users_skipped_total",
			Help: "Users skipped because the balance was below the expiring sum.",
		})
		runErrors := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playpoints_reconciler_errors_total",
			Help: "Expiration reconciler per-user failures.",
		})
		overlapSkips := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "playpoints_reconciler_overlap_skips_total",
			Help: "Runs skipped because another run held the guard.",
		})

		for _, c := range []prometheus.Collector{runs, runDuration, usersExpired, usersSkipped, runErrors, overlapSkips} {
			if err := prometheus.Register(c); err != nil {
				if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
					panic(err)
				}
			}
		}

		reconcilerInstance = &ReconcilerMetrics{
			runs:         runs,
			runDuration:  runDuration,
			usersExpired: usersExpired,
			usersSkipped: usersSkipped,
			runErrors:    runErrors,
			overlapSkips: overlapSkips,
		}
	})
	return reconcilerInstance
}

func (m *ReconcilerMetrics) IncRun() {
	if m == nil {
		return
	}
	m.runs.Inc()
}

func (m *ReconcilerMetrics) ObserveRunDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.runDuration.Observe(d.Seconds())
}

func (m *ReconcilerMetrics) IncUsersExpired() {
	if m == nil {
		return
	}
	m.usersExpired.Inc()
}

func (m *ReconcilerMetrics) IncUsersSkipped() {
	if m == nil {
		return
	}
	m.usersSkipped.Inc()
}

func (m *ReconcilerMetrics) IncError() {
	if m == nil {
		return
	}
	m.runErrors.Inc()
}

func (m *ReconcilerMetrics) IncOverlapSkip() {
	if m == nil {
		return
	}
	m.overlapSkips.Inc()
}
