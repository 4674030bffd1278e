package agent

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyrecall/internal/config"
	"keyrecall/internal/masker"
	"keyrecall/internal/metrics"
	"keyrecall/internal/store"
	"keyrecall/internal/window"
)

type flusherFixture struct {
	queue   *eventQueue
	flusher *Flusher
	store   *store.Store
	pm      *metrics.PipelineMetrics
}

func newFlusherFixture(t *testing.T, bufferSize int, interval time.Duration) flusherFixture {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "flush.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := newEventQueue()
	pm := metrics.NewPipelineMetrics(metrics.NewRegistry("test"))
	filter := NewFilter(config.CaptureConfig{CaptureModifiers: true, CaptureFunctionKeys: true}, nil)
	f := NewFlusher(q, filter, masker.New(), s, bufferSize, interval, nil, pm)
	return flusherFixture{queue: q, flusher: f, store: s, pm: pm}
}

func pushKeys(q *eventQueue, base time.Time, symbols ...string) {
	for i, sym := range symbols {
		q.Push(CapturedEvent{
			Timestamp:  base.Add(time.Duration(i) * time.Millisecond),
			Symbol:     sym,
			Transition: "press",
		})
	}
}

func TestFlusherSizeTrigger(t *testing.T) {
	fx := newFlusherFixture(t, 3, time.Hour)
	fx.flusher.Start()
	defer fx.flusher.Stop()

	pushKeys(fx.queue, time.Now(), "a", "b", "c")

	require.Eventually(t, func() bool {
		n, err := fx.store.CountEvents()
		return err == nil && n == 3
	}, 3*time.Second, 10*time.Millisecond, "full buffer flushes without waiting on the interval")
}

func TestFlusherIntervalTrigger(t *testing.T) {
	fx := newFlusherFixture(t, 1000, 300*time.Millisecond)
	fx.flusher.Start()
	defer fx.flusher.Stop()

	pushKeys(fx.queue, time.Now(), "a")

	// Well below buffer size, so only the elapsed interval can flush.
	time.Sleep(100 * time.Millisecond)
	n, err := fx.store.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "no flush before the interval elapses")

	require.Eventually(t, func() bool {
		n, err := fx.store.CountEvents()
		return err == nil && n == 1
	}, 3*time.Second, 20*time.Millisecond, "single event flushes once the interval elapses")
}

func TestFlusherFinalFlushOnStop(t *testing.T) {
	fx := newFlusherFixture(t, 1000, time.Hour)
	fx.flusher.Start()

	pushKeys(fx.queue, time.Now(), "a", "b")
	time.Sleep(250 * time.Millisecond)

	fx.flusher.Stop()

	n, err := fx.store.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestFlusherDropsBatchOnStoreFailure(t *testing.T) {
	fx := newFlusherFixture(t, 2, time.Hour)

	// A closed store makes every commit fail.
	require.NoError(t, fx.store.Close())

	fx.flusher.Start()
	pushKeys(fx.queue, time.Now(), "a", "b")

	require.Eventually(t, func() bool {
		return fx.pm.FlushFailures.Value() >= 1
	}, 3*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, fx.pm.EventsDropped.Value(), uint64(2), "failed batch dropped, not retried")

	fx.flusher.Stop()
}

func TestFlusherAppliesFilterAndMasker(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "flush.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	q := newEventQueue()
	pm := metrics.NewPipelineMetrics(metrics.NewRegistry("test"))
	filter := NewFilter(config.CaptureConfig{
		CaptureModifiers:    false,
		CaptureFunctionKeys: true,
	}, nil)
	f := NewFlusher(q, filter, masker.New(), s, 2, time.Hour, nil, pm)
	f.Start()

	mod := CapturedEvent{Timestamp: time.Now(), Symbol: "left_shift", Transition: "press", IsModifier: true}
	q.Push(mod)
	q.Push(CapturedEvent{
		Timestamp:  time.Now(),
		Symbol:     "a",
		Transition: "press",
		Window:     windowInfo("CPF 123.456.789-01", "editor"),
	})
	q.Push(CapturedEvent{
		Timestamp:  time.Now().Add(time.Millisecond),
		Symbol:     "b",
		Transition: "press",
	})

	require.Eventually(t, func() bool {
		n, _ := s.CountEvents()
		return n == 2
	}, 3*time.Second, 10*time.Millisecond)
	f.Stop()

	assert.Equal(t, uint64(1), pm.EventsFiltered.Value())

	events, err := s.EventsByTimeRange(0, time.Now().UnixMilli()+1000, 10)
	require.NoError(t, err)
	for _, ev := range events {
		assert.NotEqual(t, "left_shift", ev.Symbol, "filtered event never stored")
		assert.NotContains(t, ev.WindowTitle, "123.456.789-01")
	}
}

func TestEventQueue(t *testing.T) {
	q := newEventQueue()

	assert.Nil(t, q.Drain(10*time.Millisecond), "empty queue returns after the bounded wait")

	pushKeys(q, time.Now(), "a", "b")
	assert.Equal(t, 2, q.Len())

	items := q.Drain(0)
	assert.Len(t, items, 2)
	assert.Equal(t, 0, q.Len())

	// A push during the wait wakes the consumer early.
	start := time.Now()
	go func() {
		time.Sleep(20 * time.Millisecond)
		pushKeys(q, time.Now(), "c")
	}()
	items = q.Drain(2 * time.Second)
	assert.Len(t, items, 1)
	assert.Less(t, time.Since(start), time.Second)
}

func windowInfo(title, app string) *window.Info {
	return &window.Info{Title: title, Application: app}
}
