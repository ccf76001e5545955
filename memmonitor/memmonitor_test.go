package memmonitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/solstice-labs/agentmem/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeHost lets tests drive specific memory readings deterministically.
type fakeHost struct {
	mu       sync.Mutex
	samples  []Sample
	idx      int
	reclaims int
	failNext bool
}

func (f *fakeHost) Sample() (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		return Sample{}, assertErr
	}
	if f.idx >= len(f.samples) {
		return f.samples[len(f.samples)-1], nil
	}
	s := f.samples[f.idx]
	f.idx++
	return s, nil
}

func (f *fakeHost) ForceReclaim() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reclaims++
	return true
}

var assertErr = &sampleErr{"simulated sample failure"}

type sampleErr struct{ msg string }

func (e *sampleErr) Error() string { return e.msg }

func testCfg() *config.ASMSConfig {
	cfg := config.Default()
	cfg.HeapCeilingMB = 8192
	cfg.MonitorIntervalMs = 20
	cfg.WarningRatio = 0.70
	cfg.CriticalRatio = 0.85
	cfg.EnableForcedReclaim = true
	return cfg
}

// TestCriticalAlertAndReclaim mirrors seed scenario 5 from spec §8: heap
// used at 86% of an 8192 MB ceiling fires exactly one critical alert for
// heap-used, no warning in the same tick, and one forced reclaim.
func TestCriticalAlertAndReclaim(t *testing.T) {
	cfg := testCfg()
	heapCeilingBytes := int64(cfg.HeapCeilingMB) * 1024 * 1024
	heapUsed := int64(float64(heapCeilingBytes) * 0.86)

	host := &fakeHost{samples: []Sample{{HeapUsed: heapUsed, Timestamp: time.Now()}}}
	m := New(host, cfg)

	var mu sync.Mutex
	var alerts []Alert
	m.Subscribe(func(a Alert) {
		mu.Lock()
		defer mu.Unlock()
		alerts = append(alerts, a)
	})

	m.tick()
	time.Sleep(50 * time.Millisecond) // let fire-and-forget dispatch land

	mu.Lock()
	defer mu.Unlock()

	var criticalHeap, warningHeap int
	for _, a := range alerts {
		if a.Metric == MetricHeapUsed {
			if a.Level == LevelCritical {
				criticalHeap++
			}
			if a.Level == LevelWarning {
				warningHeap++
			}
		}
	}
	assert.Equal(t, 1, criticalHeap, "exactly one critical heap-used alert")
	assert.Equal(t, 0, warningHeap, "no warning for a metric already critical")
	assert.Equal(t, 1, host.reclaims)
}

func TestSelfCorrectsInvertedRatios(t *testing.T) {
	cfg := testCfg()
	cfg.WarningRatio = 0.90
	cfg.CriticalRatio = 0.50 // inverted

	m := New(&fakeHost{}, cfg)
	assert.Less(t, m.cfg.WarningRatio, m.cfg.CriticalRatio)
}

func TestSelfCorrectsZeroHeapCeiling(t *testing.T) {
	cfg := testCfg()
	cfg.HeapCeilingMB = 0
	m := New(&fakeHost{}, cfg)
	assert.Greater(t, m.cfg.HeapCeilingMB, 0)
}

func TestStartIsIdempotent(t *testing.T) {
	cfg := testCfg()
	m := New(&fakeHost{}, cfg)
	ctx := context.Background()

	require.NoError(t, m.Start(ctx))
	err := m.Start(ctx)
	assert.ErrorIs(t, err, ErrAlreadyStarted)
	m.Stop()
}

func TestStopHaltsFurtherAlerts(t *testing.T) {
	cfg := testCfg()
	host := &fakeHost{samples: []Sample{{HeapUsed: 100}}}
	m := New(host, cfg)
	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	m.Stop()

	var mu sync.Mutex
	count := 0
	m.Subscribe(func(Alert) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	time.Sleep(60 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestHistoryRingBufferBounded(t *testing.T) {
	cfg := testCfg()
	m := New(&fakeHost{}, cfg)
	for i := 0; i < historyLen+20; i++ {
		m.mu.Lock()
		m.history = append(m.history, Sample{HeapUsed: int64(i)})
		if len(m.history) > historyLen {
			m.history = m.history[len(m.history)-historyLen:]
		}
		m.mu.Unlock()
	}
	assert.Len(t, m.History(), historyLen)
}

func TestTrendComputesDeltaOverWindow(t *testing.T) {
	cfg := testCfg()
	m := New(&fakeHost{}, cfg)
	for i := int64(0); i < 10; i++ {
		m.history = append(m.history, Sample{HeapUsed: i * 100})
	}
	delta := m.Trend(MetricHeapUsed, 10)
	assert.Equal(t, int64(900), delta)
}

func TestTrendZeroWithInsufficientHistory(t *testing.T) {
	cfg := testCfg()
	m := New(&fakeHost{}, cfg)
	m.history = append(m.history, Sample{HeapUsed: 500})
	assert.Equal(t, int64(0), m.Trend(MetricHeapUsed, 10))
}

func TestSamplingErrorsDoNotBreakMonitor(t *testing.T) {
	cfg := testCfg()
	host := &fakeHost{failNext: true}
	m := New(host, cfg)
	require.NotPanics(t, func() { m.tick() })
}

func TestForceReclaimReportsHostCapability(t *testing.T) {
	cfg := testCfg()
	host := &fakeHost{}
	m := New(host, cfg)
	ok := m.ForceReclaim()
	assert.True(t, ok)
	assert.Equal(t, 1, host.reclaims)
}
