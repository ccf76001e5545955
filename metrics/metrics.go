// Package metrics exports Prometheus gauges, counters, and histograms for
// the memory subsystem's components, adapted from the teacher's
// metrics/prometheus package shape. All metrics are no-ops unless
// Register is called with a real prometheus.Registerer.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "agentmem"

var (
	heapPressureRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "heap_pressure_ratio",
		Help:      "Current heap-used / heap-ceiling ratio observed by the memory monitor.",
	})

	alertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_alerts_total",
		Help:      "Total alerts emitted by the memory monitor, by level and metric.",
	}, []string{"level", "metric"})

	alertsDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "monitor_alerts_dropped_total",
		Help:      "Alerts dropped due to listener dispatch queue overflow.",
	})

	cacheUtilization = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "document_cache_utilization_ratio",
		Help:      "Bounded document cache bytes-used / MaxCacheBytes.",
	})

	cacheEntryCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "document_cache_entries",
		Help:      "Number of entries currently held in the bounded document cache.",
	})

	reducerDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "message_reducer_dropped_total",
		Help:      "Messages dropped by the streaming message reducer during pruning.",
	})

	contextAdaptDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "context_adapt_duration_seconds",
		Help:      "Duration of context manager adapt() calls.",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"provider"})

	blobBytesWrittenTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "blobstore_bytes_written_total",
		Help:      "Total bytes written to the content-addressed blob store.",
	})

	allCollectors = []prometheus.Collector{
		heapPressureRatio, alertsTotal, alertsDroppedTotal,
		cacheUtilization, cacheEntryCount, reducerDroppedTotal,
		contextAdaptDuration, blobBytesWrittenTotal,
	}

	registered bool
)

// Register attaches every collector to reg. Calling Register more than
// once, or never, is safe — metrics simply accumulate unread until a
// registerer is attached.
func Register(reg prometheus.Registerer) error {
	if registered {
		return nil
	}
	for _, c := range allCollectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	registered = true
	return nil
}

// ObserveHeapPressure records the current heap-used/heap-ceiling ratio.
func ObserveHeapPressure(rho float64) {
	heapPressureRatio.Set(rho)
}

// ObserveAlert increments the alert counter for (level, metric).
func ObserveAlert(level, metric string) {
	alertsTotal.WithLabelValues(level, metric).Inc()
}

// ObserveAlertDropped increments the dropped-alert counter.
func ObserveAlertDropped() {
	alertsDroppedTotal.Inc()
}

// ObserveCacheStats records document cache occupancy.
func ObserveCacheStats(utilization float64, entries int) {
	cacheUtilization.Set(utilization)
	cacheEntryCount.Set(float64(entries))
}

// ObserveReducerDropped increments the reducer's dropped-message counter
// by n.
func ObserveReducerDropped(n int) {
	reducerDroppedTotal.Add(float64(n))
}

// ObserveContextAdaptDuration records how long an adapt() call took for
// provider, in seconds.
func ObserveContextAdaptDuration(provider string, seconds float64) {
	contextAdaptDuration.WithLabelValues(provider).Observe(seconds)
}

// ObserveBlobBytesWritten adds n bytes to the cumulative blob-write counter.
func ObserveBlobBytesWritten(n int) {
	blobBytesWrittenTotal.Add(float64(n))
}
