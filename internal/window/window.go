// Package window tracks the active (focused) window so captured key
// events can be attributed to an application and title.
package window

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Info describes the focused window at a point in time.
type Info struct {
	Title       string
	Application string
	Timestamp   time.Time
}

// Empty reports whether no window information is present.
func (i Info) Empty() bool {
	return i.Title == "" && i.Application == ""
}

// Query reads the currently focused window from the platform.
type Query interface {
	// Active returns the focused window, or nil when none is known.
	Active() (*Info, error)

	// Available reports whether window queries work on this platform,
	// with a human-readable reason.
	Available() (bool, string)
}

// ErrNotAvailable is returned when window tracking isn't supported.
var ErrNotAvailable = errors.New("window tracking not available on this platform")

// ErrAlreadyRunning is returned when Start is called while already running.
var ErrAlreadyRunning = errors.New("tracker already running")

// NewQuery creates a Query for the current platform.
func NewQuery() Query {
	return newPlatformQuery()
}

// Tracker polls a Query and caches the latest window info. Readers on
// the capture path use TrySnapshot so a slow platform query can never
// stall event handling.
type Tracker struct {
	query    Query
	interval time.Duration

	mu       sync.RWMutex
	current  Info
	running  bool
	onChange []func(Info)

	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a Tracker polling at the given interval.
func NewTracker(query Query, interval time.Duration) *Tracker {
	if interval <= 0 {
		interval = time.Second
	}
	return &Tracker{
		query:    query,
		interval: interval,
	}
}

// OnChange registers a callback invoked when the focused window changes.
// Must be called before Start.
func (t *Tracker) OnChange(cb func(Info)) {
	t.onChange = append(t.onChange, cb)
}

// Start begins polling.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return ErrAlreadyRunning
	}
	t.running = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	t.mu.Unlock()

	// Prime the cache so early events carry window info.
	t.poll()

	go t.pollLoop(ctx)
	return nil
}

// Stop stops polling.
func (t *Tracker) Stop() error {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return nil
	}
	t.running = false
	cancel := t.cancel
	done := t.done
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return nil
}

func (t *Tracker) pollLoop(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.poll()
		}
	}
}

func (t *Tracker) poll() {
	info, err := t.query.Active()
	if err != nil || info == nil {
		return
	}

	t.mu.Lock()
	changed := info.Title != t.current.Title || info.Application != t.current.Application
	t.current = *info
	callbacks := t.onChange
	t.mu.Unlock()

	if changed {
		for _, cb := range callbacks {
			cb(*info)
		}
	}
}

// Current returns the cached window info, blocking on the lock.
func (t *Tracker) Current() Info {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// TrySnapshot returns the cached window info without blocking.
// The second result is false when the lock was contended; callers on
// the hot path should then proceed without window attribution.
func (t *Tracker) TrySnapshot() (Info, bool) {
	if !t.mu.TryRLock() {
		return Info{}, false
	}
	defer t.mu.RUnlock()
	return t.current, true
}

// StaticQuery is a Query double for tests. Set may be called at any
// time to change the reported window.
type StaticQuery struct {
	mu   sync.Mutex
	info Info
	err  error
}

// NewStaticQuery creates a StaticQuery reporting the given window.
func NewStaticQuery(title, application string) *StaticQuery {
	return &StaticQuery{
		info: Info{Title: title, Application: application, Timestamp: time.Now()},
	}
}

// Set changes the reported window.
func (s *StaticQuery) Set(title, application string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.info = Info{Title: title, Application: application, Timestamp: time.Now()}
}

// SetError makes Active return err.
func (s *StaticQuery) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Active returns the configured window.
func (s *StaticQuery) Active() (*Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	info := s.info
	return &info, nil
}

// Available always reports true.
func (s *StaticQuery) Available() (bool, string) {
	return true, "static query (for testing)"
}
