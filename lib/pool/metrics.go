package pool

import "github.com/connkeeper/connkeeper/lib/metrics"

// Pool utilization metric families, one series per pool.
var (
	poolMaxSize = metrics.NewGaugeVec(
		"connkeeper_pool_max_size",
		"Configured maximum number of workers in the pool",
		"pool",
	)
	poolIdle = metrics.NewGaugeVec(
		"connkeeper_pool_idle",
		"Number of idle workers in the pool",
		"pool",
	)
	poolBusy = metrics.NewGaugeVec(
		"connkeeper_pool_busy",
		"Number of checked-out workers",
		"pool",
	)
	poolStarting = metrics.NewGaugeVec(
		"connkeeper_pool_starting",
		"Number of workers currently connecting",
		"pool",
	)
	poolWaiting = metrics.NewGaugeVec(
		"connkeeper_pool_waiting",
		"Number of queued checkouts",
		"pool",
	)
	poolCheckouts = metrics.NewCounterVec(
		"connkeeper_pool_checkouts_total",
		"Total number of successful checkouts",
		"pool",
	)
	poolCheckoutFailures = metrics.NewCounterVec(
		"connkeeper_pool_checkout_failures_total",
		"Total number of failed checkouts",
		"pool",
	)
	poolCheckins = metrics.NewCounterVec(
		"connkeeper_pool_checkins_total",
		"Total number of checkins",
		"pool",
	)
	poolTimeouts = metrics.NewCounterVec(
		"connkeeper_pool_timeouts_total",
		"Total number of checkout timeouts",
		"pool",
	)
	poolResetFailures = metrics.NewCounterVec(
		"connkeeper_pool_reset_failures_total",
		"Total number of failed on-return hooks",
		"pool",
	)
	poolConnectFailures = metrics.NewCounterVec(
		"connkeeper_pool_connect_failures_total",
		"Total number of failed connection attempts",
		"pool",
	)
	poolCheckoutLatency = metrics.NewHistogramVec(
		"connkeeper_pool_checkout_duration_seconds",
		"Time spent checking a worker out of the pool",
		"pool",
		metrics.DefaultLatencyBuckets,
	)
)

// poolMetrics holds one pool's series handles.
type poolMetrics struct {
	maxSize          *metrics.Gauge
	idle             *metrics.Gauge
	busy             *metrics.Gauge
	starting         *metrics.Gauge
	waiting          *metrics.Gauge
	checkouts        *metrics.Counter
	checkoutFailures *metrics.Counter
	checkins         *metrics.Counter
	timeouts         *metrics.Counter
	resetFailures    *metrics.Counter
	connectFailures  *metrics.Counter
	checkoutLatency  *metrics.Histogram
}

// removePoolSeries drops every series labeled with the pool's name so a
// torn-down pool stops appearing on /metrics. Handles already held by the
// pool keep working; they are just no longer exposed.
func removePoolSeries(name string) {
	poolMaxSize.Remove(name)
	poolIdle.Remove(name)
	poolBusy.Remove(name)
	poolStarting.Remove(name)
	poolWaiting.Remove(name)
	poolCheckouts.Remove(name)
	poolCheckoutFailures.Remove(name)
	poolCheckins.Remove(name)
	poolTimeouts.Remove(name)
	poolResetFailures.Remove(name)
	poolConnectFailures.Remove(name)
	poolCheckoutLatency.Remove(name)
}

func newPoolMetrics(name string) *poolMetrics {
	return &poolMetrics{
		maxSize:          poolMaxSize.With(name),
		idle:             poolIdle.With(name),
		busy:             poolBusy.With(name),
		starting:         poolStarting.With(name),
		waiting:          poolWaiting.With(name),
		checkouts:        poolCheckouts.With(name),
		checkoutFailures: poolCheckoutFailures.With(name),
		checkins:         poolCheckins.With(name),
		timeouts:         poolTimeouts.With(name),
		resetFailures:    poolResetFailures.With(name),
		connectFailures:  poolConnectFailures.With(name),
		checkoutLatency:  poolCheckoutLatency.With(name),
	}
}
