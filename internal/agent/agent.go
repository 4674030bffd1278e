// Package agent runs the capture pipeline: platform key hook, window
// tracking, filtering, masking, and batched commits to the store.
// Capture failures degrade the agent instead of crashing it; a machine
// without hook permissions still serves search over existing data.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"keyrecall/internal/capture"
	"keyrecall/internal/config"
	"keyrecall/internal/logging"
	"keyrecall/internal/masker"
	"keyrecall/internal/metrics"
	"keyrecall/internal/store"
	"keyrecall/internal/window"
)

// Agent owns the three pipeline loops and their shared state.
type Agent struct {
	mu      sync.RWMutex
	cfg     *config.Config
	running bool
	runID   string

	hook    capture.Hook
	tracker *window.Tracker
	masker  *masker.Masker
	filter  *Filter
	store   *store.Store
	queue   *eventQueue
	flusher *Flusher

	log     *logging.Logger
	metrics *metrics.PipelineMetrics

	captureActive bool
	captureReason string

	cancel   context.CancelFunc
	pumpDone chan struct{}
}

// New assembles an Agent. The hook and window query may be test
// doubles; nil selects the platform implementations.
func New(cfg *config.Config, s *store.Store, m *masker.Masker, hook capture.Hook, query window.Query, log *logging.Logger, pm *metrics.PipelineMetrics) *Agent {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if m == nil {
		m = masker.New()
	}
	if hook == nil {
		hook = capture.New()
	}
	if query == nil {
		query = window.NewQuery()
	}
	if log == nil {
		log = logging.Default()
	}
	if pm == nil {
		pm = metrics.NewPipelineMetrics(nil)
	}

	pollInterval := time.Duration(cfg.Capture.WindowPollMs) * time.Millisecond
	queue := newEventQueue()
	filter := NewFilter(cfg.Capture, log)
	flusher := NewFlusher(queue, filter, m, s,
		cfg.Capture.BufferSize,
		time.Duration(cfg.Capture.FlushIntervalSecs)*time.Second,
		log, pm)

	a := &Agent{
		cfg:     cfg,
		hook:    hook,
		tracker: window.NewTracker(query, pollInterval),
		masker:  m,
		filter:  filter,
		store:   s,
		queue:   queue,
		flusher: flusher,
		log:     log.WithComponent("agent"),
		metrics: pm,
	}
	a.tracker.OnChange(func(window.Info) {
		pm.WindowUpdates.Inc()
	})
	return a
}

// Start brings up the window poller, the flush loop, and the key hook.
// A hook that cannot install leaves the agent running in degraded mode
// with capture disabled; that is reported, not retried.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return fmt.Errorf("agent already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.runID = uuid.NewString()
	a.log.Info("starting capture agent", "run_id", a.runID)

	if err := a.tracker.Start(runCtx); err != nil {
		a.log.Warn("window tracking unavailable", "error", err)
	}
	a.flusher.Start()

	a.captureActive = false
	a.captureReason = ""
	if ok, reason := a.hook.Available(); !ok {
		a.captureReason = reason
		a.log.Warn("keyboard capture unavailable, running degraded",
			"reason", reason)
	} else if err := a.hook.Start(runCtx); err != nil {
		a.captureReason = err.Error()
		a.log.Warn("key hook failed to install, running degraded",
			"error", err,
			"hint", "check membership of the input group or udev rules for /dev/input")
	} else {
		a.captureActive = true
		a.pumpDone = make(chan struct{})
		go a.pump(a.hook.Events())
	}

	a.running = true
	return nil
}

// pump moves hook events onto the queue, classifying each and
// attaching the current window snapshot. It must never block on the
// consumer side. The channel is resolved by Start so the loop always
// drains the channel the hook was started with and exits on its close.
func (a *Agent) pump(events <-chan capture.Event) {
	defer close(a.pumpDone)
	for ev := range events {
		captured := CapturedEvent{
			Timestamp:     ev.Timestamp,
			Symbol:        ev.Symbol,
			Transition:    ev.Transition,
			IsModifier:    capture.IsModifier(ev.Symbol),
			IsFunctionKey: capture.IsFunctionKey(ev.Symbol),
		}
		// Contention on the window cache means no context for this
		// event, never a wait on the capture path.
		if info, ok := a.tracker.TrySnapshot(); ok && !info.Empty() {
			captured.Window = &info
		}
		a.queue.Push(captured)
		a.metrics.EventsCaptured.Inc()
		a.metrics.QueueDepth.Set(int64(a.queue.Len()))
	}
}

// Stop tears the pipeline down in dependency order and force-flushes
// whatever remains buffered.
func (a *Agent) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.log.Info("stopping capture agent", "run_id", a.runID)

	if a.captureActive {
		if err := a.hook.Stop(); err != nil {
			a.log.Warn("hook stop failed", "error", err)
		}
		<-a.pumpDone
		a.captureActive = false
	}
	if err := a.tracker.Stop(); err != nil {
		a.log.Warn("tracker stop failed", "error", err)
	}
	a.flusher.Stop()
	if a.cancel != nil {
		a.cancel()
	}

	a.running = false
	return nil
}

// IsRunning reports whether the agent has been started.
func (a *Agent) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.running
}

// CaptureStatus reports whether the key hook is live, and why not when
// it is not.
func (a *Agent) CaptureStatus() (bool, string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.captureActive, a.captureReason
}

// RunID identifies the current start/stop cycle.
func (a *Agent) RunID() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.runID
}

// GetConfig returns a copy of the active configuration.
func (a *Agent) GetConfig() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg.Clone()
}

// UpdateConfig validates and applies new configuration. Filter rules
// and flush limits take effect immediately; the window poll interval
// requires a restart.
func (a *Agent) UpdateConfig(cfg *config.Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("update config: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg.Clone()
	a.filter.Update(cfg.Capture)
	a.flusher.SetLimits(cfg.Capture.BufferSize,
		time.Duration(cfg.Capture.FlushIntervalSecs)*time.Second)
	a.log.Info("configuration updated")
	return nil
}

// CurrentWindow returns the cached active-window snapshot.
func (a *Agent) CurrentWindow() window.Info {
	return a.tracker.Current()
}

// Metrics returns a point-in-time snapshot of pipeline counters.
func (a *Agent) Metrics() map[string]interface{} {
	return a.metrics.Snapshot()
}

// Masker exposes the rule registry for administrative rule changes.
func (a *Agent) Masker() *masker.Masker {
	return a.masker
}
