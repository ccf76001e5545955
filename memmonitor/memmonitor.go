// Package memmonitor implements the memory monitor/watchdog (C2): a
// background sampler that tracks process memory against tiered thresholds
// derived from a configured heap ceiling, emits alerts, and can request a
// global reclaim.
package memmonitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/solstice-labs/agentmem/config"
	"github.com/solstice-labs/agentmem/internal/agentlog"
	"github.com/solstice-labs/agentmem/metrics"
)

// historyLen is the ring buffer capacity (spec §3: "ring buffer of length
// H", fixed at 100 per spec §4.1).
const historyLen = 100

// trendWindow is the number of most-recent samples used by Trend.
const trendWindow = 10

// maxAlerts bounds alert retention (spec §3).
const maxAlerts = 50

// maxConsecutiveFailures stops the sampler after repeated sampling errors.
const maxConsecutiveFailures = 10

// ErrAlreadyStarted is returned by Start on a monitor that is already
// running; Start is otherwise idempotent (logs a warning, no-ops).
var ErrAlreadyStarted = errors.New("memmonitor: already started")

// Metric identifies a sampled quantity that can cross a threshold.
type Metric string

const (
	MetricHeapUsed      Metric = "heap_used"
	MetricExternal      Metric = "external"
	MetricArrayBuffers  Metric = "array_buffers"
)

// Level is an alert severity.
type Level string

const (
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Sample is one point-in-time memory reading.
type Sample struct {
	RSS           int64
	HeapUsed      int64
	HeapTotal     int64
	External      int64
	ArrayBuffers  int64
	Timestamp     time.Time
}

// Alert is emitted when a metric crosses a tiered threshold.
type Alert struct {
	Level     Level
	Metric    Metric
	Value     int64
	Threshold int64
	Message   string
	Timestamp time.Time
}

// Listener receives alerts as they are generated.
type Listener func(Alert)

// Host abstracts the runtime's ability to produce a memory sample and,
// optionally, force a reclaim (GC). Production code supplies a real
// implementation backed by runtime.MemStats; tests supply a fake.
type Host interface {
	Sample() (Sample, error)
	ForceReclaim() bool
}

// thresholds holds the derived byte thresholds for one metric.
type thresholds struct {
	warning  int64
	critical int64
}

// Monitor samples process memory at a fixed interval and dispatches
// alerts to subscribed listeners. It is process-wide, single-instance in
// intended use, but nothing here enforces a singleton — construction is
// explicit per spec §9's "no implicit global singleton" design note.
type Monitor struct {
	host Host
	cfg  *config.ASMSConfig

	heapCeilingBytes       int64
	heapThresholds         thresholds
	externalThresholds     thresholds
	arrayBuffersThresholds thresholds

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	history   []Sample
	alerts    []Alert
	listeners map[int]Listener
	nextID    int

	limiter    *rate.Limiter
	dispatchWG sync.WaitGroup

	droppedAlerts int64
	consecutiveFailures int
}

// New builds a Monitor over host using cfg's thresholds. It does not start
// sampling; call Start for that.
func New(host Host, cfg *config.ASMSConfig) *Monitor {
	h := *cfg
	selfCorrect(&h)

	heapCeilingBytes := int64(h.HeapCeilingMB) * 1024 * 1024
	return &Monitor{
		host:             host,
		cfg:              &h,
		heapCeilingBytes: heapCeilingBytes,
		heapThresholds: thresholds{
			warning:  int64(float64(heapCeilingBytes) * h.WarningRatio),
			critical: int64(float64(heapCeilingBytes) * h.CriticalRatio),
		},
		externalThresholds: thresholds{
			warning:  int64(float64(heapCeilingBytes) * 0.30),
			critical: int64(float64(heapCeilingBytes) * 0.50),
		},
		arrayBuffersThresholds: thresholds{
			warning:  int64(float64(heapCeilingBytes) * 0.20),
			critical: int64(float64(heapCeilingBytes) * 0.30),
		},
		listeners: make(map[int]Listener),
		limiter:   rate.NewLimiter(rate.Limit(50), 50),
	}
}

// selfCorrect restores documented defaults when the configured ratios are
// inverted or the heap ceiling is non-positive (spec §4.1).
func selfCorrect(cfg *config.ASMSConfig) {
	d := config.Default()
	if cfg.HeapCeilingMB <= 0 {
		agentlog.Warn("memmonitor: invalid heap ceiling, using default", "configured", cfg.HeapCeilingMB)
		cfg.HeapCeilingMB = d.HeapCeilingMB
	}
	if cfg.WarningRatio <= 0 || cfg.CriticalRatio <= 0 || cfg.WarningRatio >= cfg.CriticalRatio {
		agentlog.Warn("memmonitor: warning ratio must be strictly less than critical, using defaults",
			"warning", cfg.WarningRatio, "critical", cfg.CriticalRatio)
		cfg.WarningRatio = d.WarningRatio
		cfg.CriticalRatio = d.CriticalRatio
	}
	if cfg.MonitorIntervalMs <= 0 {
		cfg.MonitorIntervalMs = d.MonitorIntervalMs
	}
}

// Start begins the background sampling goroutine. Idempotent: a second
// call while running logs a warning and returns ErrAlreadyStarted.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		agentlog.Warn("memmonitor: start called while already running")
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.consecutiveFailures = 0
	m.mu.Unlock()

	go m.run(runCtx)
	return nil
}

// Stop halts sampling. After Stop returns, no further alerts are emitted.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.dispatchWG.Wait()
}

func (m *Monitor) run(ctx context.Context) {
	interval := time.Duration(m.cfg.MonitorIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

// tick performs one sample-and-alert cycle. Sampling errors are logged
// and skipped rather than propagated; after maxConsecutiveFailures the
// monitor stops itself and raises one final critical alert.
func (m *Monitor) tick() {
	sample, err := m.host.Sample()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = time.Now()
	}
	if err != nil {
		m.mu.Lock()
		m.consecutiveFailures++
		failures := m.consecutiveFailures
		m.mu.Unlock()

		agentlog.Error("memmonitor: sample failed", "error", err, "consecutive_failures", failures)
		if failures >= maxConsecutiveFailures {
			m.emit(Alert{
				Level: LevelCritical, Metric: MetricHeapUsed, Message: "sampler failing repeatedly, stopping",
				Timestamp: time.Now(),
			})
			m.Stop()
		}
		return
	}

	m.mu.Lock()
	m.consecutiveFailures = 0
	m.history = append(m.history, sample)
	if len(m.history) > historyLen {
		m.history = m.history[len(m.history)-historyLen:]
	}
	m.mu.Unlock()

	m.evaluate(sample)
}

// evaluate checks sample against all three metric threshold ladders,
// emitting at most one alert per (level, metric) per tick and never a
// warning for a metric that is simultaneously critical.
func (m *Monitor) evaluate(s Sample) {
	if m.heapCeilingBytes > 0 {
		metrics.ObserveHeapPressure(float64(s.HeapUsed) / float64(m.heapCeilingBytes))
	}

	checks := []struct {
		metric Metric
		value  int64
		th     thresholds
	}{
		{MetricHeapUsed, s.HeapUsed, m.heapThresholds},
		{MetricExternal, s.External, m.externalThresholds},
		{MetricArrayBuffers, s.ArrayBuffers, m.arrayBuffersThresholds},
	}

	criticalFired := false
	for _, c := range checks {
		if c.value >= c.th.critical {
			m.emit(Alert{
				Level: LevelCritical, Metric: c.metric, Value: c.value, Threshold: c.th.critical,
				Message: fmt.Sprintf("%s at %d exceeds critical threshold %d", c.metric, c.value, c.th.critical),
				Timestamp: s.Timestamp,
			})
			criticalFired = true
		} else if c.value >= c.th.warning {
			m.emit(Alert{
				Level: LevelWarning, Metric: c.metric, Value: c.value, Threshold: c.th.warning,
				Message: fmt.Sprintf("%s at %d exceeds warning threshold %d", c.metric, c.value, c.th.warning),
				Timestamp: s.Timestamp,
			})
		}
	}

	if criticalFired && m.cfg.EnableForcedReclaim {
		m.host.ForceReclaim()
	}
}

// emit records the alert and dispatches it to listeners through a bounded,
// rate-limited fire-and-forget queue: a slow listener cannot block the
// sampler, and overflow is dropped and counted (spec §5).
func (m *Monitor) emit(a Alert) {
	metrics.ObserveAlert(string(a.Level), string(a.Metric))

	m.mu.Lock()
	m.alerts = append(m.alerts, a)
	if len(m.alerts) > maxAlerts {
		m.alerts = m.alerts[len(m.alerts)-maxAlerts:]
	}
	listeners := make([]Listener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, l := range listeners {
		if !m.limiter.Allow() {
			m.mu.Lock()
			m.droppedAlerts++
			m.mu.Unlock()
			metrics.ObserveAlertDropped()
			agentlog.Warn("memmonitor: alert dispatch queue overflow, dropping", "metric", a.Metric, "level", a.Level)
			continue
		}
		m.dispatchWG.Add(1)
		go func(listener Listener, alert Alert) {
			defer m.dispatchWG.Done()
			defer func() {
				if r := recover(); r != nil {
					agentlog.Error("memmonitor: listener panicked", "recovered", r)
				}
			}()
			listener(alert)
		}(l, a)
	}
}

// Current returns the most recent sample, or the zero Sample if none has
// been taken yet.
func (m *Monitor) Current() Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return Sample{}
	}
	return m.history[len(m.history)-1]
}

// History returns a copy of the ring buffer, oldest first.
func (m *Monitor) History() []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Sample, len(m.history))
	copy(out, m.history)
	return out
}

// Trend returns the signed byte delta for metric over the last window
// samples (capped at trendWindow), or 0 if insufficient history.
func (m *Monitor) Trend(metric Metric, window int) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if window > trendWindow {
		window = trendWindow
	}
	if len(m.history) < 2 || window < 2 {
		return 0
	}
	if window > len(m.history) {
		window = len(m.history)
	}

	recent := m.history[len(m.history)-window:]
	first := metricValue(recent[0], metric)
	last := metricValue(recent[len(recent)-1], metric)
	return last - first
}

func metricValue(s Sample, metric Metric) int64 {
	switch metric {
	case MetricHeapUsed:
		return s.HeapUsed
	case MetricExternal:
		return s.External
	case MetricArrayBuffers:
		return s.ArrayBuffers
	default:
		return 0
	}
}

// Subscribe registers a listener and returns a handle usable with
// Unsubscribe.
func (m *Monitor) Subscribe(l Listener) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = l
	return id
}

// Unsubscribe removes a previously registered listener.
func (m *Monitor) Unsubscribe(handle int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, handle)
}

// ForceReclaim asks the host to reclaim memory (e.g. runtime.GC), and
// reports whether the host actually exposed a working hook.
func (m *Monitor) ForceReclaim() bool {
	return m.host.ForceReclaim()
}

// DroppedAlerts reports how many alerts were dropped due to dispatch
// queue overflow since the monitor was constructed.
func (m *Monitor) DroppedAlerts() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.droppedAlerts
}

// Alerts returns a copy of retained alerts, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, len(m.alerts))
	copy(out, m.alerts)
	return out
}
