package agent

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"keyrecall/internal/capture"
	"keyrecall/internal/config"
	"keyrecall/internal/masker"
	"keyrecall/internal/metrics"
	"keyrecall/internal/store"
	"keyrecall/internal/window"
)

func newAgentStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "agent.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Capture.BufferSize = 4
	cfg.Capture.FlushIntervalSecs = 60
	cfg.Capture.WindowPollMs = 20
	return cfg
}

type agentFixture struct {
	agent *Agent
	hook  *capture.SimulatedHook
	query *window.StaticQuery
	store *store.Store
	pm    *metrics.PipelineMetrics
}

func newTestAgent(t *testing.T, cfg *config.Config) agentFixture {
	t.Helper()
	s := newAgentStore(t)
	hook := capture.NewSimulated()
	query := window.NewStaticQuery("notes.md - Editor", "editor")
	pm := metrics.NewPipelineMetrics(metrics.NewRegistry("test"))
	a := New(cfg, s, masker.New(), hook, query, nil, pm)
	return agentFixture{agent: a, hook: hook, query: query, store: s, pm: pm}
}

func TestAgentStartStop(t *testing.T) {
	a := newTestAgent(t, testConfig()).agent

	require.False(t, a.IsRunning())
	require.NoError(t, a.Start(context.Background()))
	require.True(t, a.IsRunning())
	assert.NotEmpty(t, a.RunID())

	active, reason := a.CaptureStatus()
	assert.True(t, active)
	assert.Empty(t, reason)

	require.Error(t, a.Start(context.Background()), "double start rejected")
	require.NoError(t, a.Stop())
	require.False(t, a.IsRunning())
	require.NoError(t, a.Stop(), "idempotent stop")
}

func TestAgentImmediateStopTerminates(t *testing.T) {
	// Stop right after Start, before the pump has necessarily run.
	// Shutdown must still complete within a bounded interval.
	for i := 0; i < 20; i++ {
		a := newTestAgent(t, testConfig()).agent
		require.NoError(t, a.Start(context.Background()))

		done := make(chan error, 1)
		go func() { done <- a.Stop() }()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("Stop did not complete")
		}
	}
}

func TestAgentFlushOnBufferSize(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.BufferSize = 4
	fx := newTestAgent(t, cfg)

	require.NoError(t, fx.agent.Start(context.Background()))
	defer fx.agent.Stop()

	// Two presses and two releases of distinct keys fill the buffer.
	fx.hook.SimulatePress("h")
	fx.hook.SimulatePress("i")

	require.Eventually(t, func() bool {
		n, err := fx.store.CountEvents()
		return err == nil && n == 4
	}, 3*time.Second, 20*time.Millisecond, "buffer of 4 should flush without waiting for the interval")
}

func TestAgentFinalFlushOnStop(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.BufferSize = 1000
	cfg.Capture.FlushIntervalSecs = 3600
	fx := newTestAgent(t, cfg)

	require.NoError(t, fx.agent.Start(context.Background()))
	fx.hook.SimulatePress("a")
	fx.hook.SimulatePress("b")

	// Give the pump time to move events onto the queue.
	require.Eventually(t, func() bool {
		return fx.pm.EventsCaptured.Value() == 4
	}, 3*time.Second, 10*time.Millisecond)

	require.NoError(t, fx.agent.Stop())

	n, err := fx.store.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(4), n, "remaining buffer force-flushed on shutdown")
}

func TestAgentAttachesWindowContextAndMasks(t *testing.T) {
	cfg := testConfig()
	cfg.Capture.BufferSize = 2
	fx := newTestAgent(t, cfg)

	fx.query.Set("Meu CPF é 123.456.789-01", "editor")

	require.NoError(t, fx.agent.Start(context.Background()))
	defer fx.agent.Stop()

	fx.hook.SimulatePress("x")

	require.Eventually(t, func() bool {
		n, _ := fx.store.CountEvents()
		return n == 2
	}, 3*time.Second, 20*time.Millisecond)

	events, err := fx.store.EventsByTimeRange(0, time.Now().UnixMilli()+1000, 10)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, "editor", ev.Application)
		assert.Contains(t, ev.WindowTitle, "***.***.***-01")
		assert.NotContains(t, ev.WindowTitle, "123.456.789-01")
	}
}

func TestAgentDegradedWithoutHook(t *testing.T) {
	s := newAgentStore(t)
	hook := &unavailableHook{}
	pm := metrics.NewPipelineMetrics(metrics.NewRegistry("test"))
	a := New(testConfig(), s, masker.New(), hook, window.NewStaticQuery("", ""), nil, pm)

	require.NoError(t, a.Start(context.Background()), "missing hook degrades, never fails startup")
	defer a.Stop()

	active, reason := a.CaptureStatus()
	assert.False(t, active)
	assert.NotEmpty(t, reason)
}

func TestAgentUpdateConfig(t *testing.T) {
	a := newTestAgent(t, testConfig()).agent

	bad := testConfig()
	bad.Capture.BufferSize = 0
	require.Error(t, a.UpdateConfig(bad))

	good := testConfig()
	good.Capture.BufferSize = 7
	require.NoError(t, a.UpdateConfig(good))
	assert.Equal(t, 7, a.GetConfig().Capture.BufferSize)
}

func TestAgentCurrentWindow(t *testing.T) {
	fx := newTestAgent(t, testConfig())
	fx.query.Set("Dashboard", "browser")

	require.NoError(t, fx.agent.Start(context.Background()))
	defer fx.agent.Stop()

	require.Eventually(t, func() bool {
		return fx.agent.CurrentWindow().Title == "Dashboard"
	}, 3*time.Second, 10*time.Millisecond)
}

// unavailableHook simulates a platform without capture permissions.
type unavailableHook struct {
	capture.BaseHook
}

func (h *unavailableHook) Start(context.Context) error { return capture.ErrPermissionDenied }
func (h *unavailableHook) Stop() error                 { return nil }
func (h *unavailableHook) Available() (bool, string) {
	return false, "no read access to /dev/input"
}
