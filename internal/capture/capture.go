// Package capture provides keyboard event capture.
//
// Unlike a passive keystroke counter, this package reports which key
// changed state so the pipeline downstream can build a searchable,
// masked record. Raw events never leave the process unmasked.
//
// Platform support:
//   - Linux: reads /dev/input/event* (requires input group or root)
//   - other platforms: not yet implemented, use SimulatedHook
package capture

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Transition values for key events.
const (
	TransitionPress   = "press"
	TransitionRelease = "release"
)

// Event is a single key state change.
type Event struct {
	// Timestamp is when the key changed state.
	Timestamp time.Time

	// Symbol names the key ("a", "enter", "left_shift", ...).
	Symbol string

	// Transition is "press" or "release".
	Transition string
}

// IsPress reports whether the event is a key press.
func (e Event) IsPress() bool {
	return e.Transition == TransitionPress
}

// Hook delivers keyboard events from the platform input layer.
type Hook interface {
	// Start begins capturing. Events are delivered on Events()
	// until Stop is called or the context is canceled.
	Start(ctx context.Context) error

	// Stop stops capturing and closes the event channel.
	Stop() error

	// Events returns the event channel.
	Events() <-chan Event

	// Available reports whether capture works on this platform
	// with current permissions, with a human-readable reason.
	Available() (bool, string)
}

// ErrNotAvailable is returned when keyboard capture isn't available.
var ErrNotAvailable = errors.New("keyboard capture not available on this platform")

// ErrPermissionDenied is returned when permissions are insufficient.
var ErrPermissionDenied = errors.New("insufficient permissions for keyboard capture")

// ErrAlreadyRunning is returned when Start is called while already running.
var ErrAlreadyRunning = errors.New("hook already running")

// New creates a Hook for the current platform.
func New() Hook {
	return newPlatformHook()
}

// BaseHook provides common functionality for platform implementations.
// Emit never blocks: when the channel is full the event is dropped and
// counted, so a stalled consumer cannot back-pressure the input layer.
type BaseHook struct {
	mu      sync.RWMutex
	ch      chan Event
	closed  bool
	running bool
	dropped uint64
}

const eventChannelSize = 1024

// Events returns the event channel, allocating it on first use. After
// CloseEvents the same closed channel is returned, so a consumer that
// starts ranging late still observes the close.
func (b *BaseHook) Events() <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch == nil {
		b.ch = make(chan Event, eventChannelSize)
	}
	return b.ch
}

// Emit delivers an event without blocking. The send happens under the
// read lock so it cannot race a CloseEvents, which closes under the
// write lock.
func (b *BaseHook) Emit(ev Event) {
	b.mu.RLock()
	if !b.running || b.ch == nil || b.closed {
		b.mu.RUnlock()
		return
	}
	select {
	case b.ch <- ev:
		b.mu.RUnlock()
		return
	default:
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.dropped++
	b.mu.Unlock()
}

// Dropped returns the number of events lost to a full channel.
func (b *BaseHook) Dropped() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.dropped
}

// SetRunning sets the running state. Starting allocates a fresh
// channel when none exists or a previous run closed it.
func (b *BaseHook) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if running && (b.ch == nil || b.closed) {
		b.ch = make(chan Event, eventChannelSize)
		b.closed = false
	}
	b.running = running
}

// IsRunning returns the running state.
func (b *BaseHook) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}

// CloseEvents closes the event channel. The channel itself is kept so
// Events keeps handing out the closed channel; a consumer that only
// calls Events after Stop still terminates its range loop.
func (b *BaseHook) CloseEvents() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ch != nil && !b.closed {
		close(b.ch)
		b.closed = true
	}
}

// SimulatedHook is a hook for testing that doesn't touch the real keyboard.
type SimulatedHook struct {
	BaseHook
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSimulated creates a hook for testing.
func NewSimulated() *SimulatedHook {
	return &SimulatedHook{}
}

// Start begins the simulated hook.
func (s *SimulatedHook) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.SetRunning(true)
	return nil
}

// Stop stops the simulated hook.
func (s *SimulatedHook) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.SetRunning(false)
	s.CloseEvents()
	return nil
}

// Available returns true (simulated is always available).
func (s *SimulatedHook) Available() (bool, string) {
	return true, "simulated hook (for testing)"
}

// SimulateKey emits a single key event.
func (s *SimulatedHook) SimulateKey(symbol, transition string) {
	if s.IsRunning() {
		s.Emit(Event{
			Timestamp:  time.Now(),
			Symbol:     symbol,
			Transition: transition,
		})
	}
}

// SimulatePress emits a press and release pair for symbol.
func (s *SimulatedHook) SimulatePress(symbol string) {
	s.SimulateKey(symbol, TransitionPress)
	s.SimulateKey(symbol, TransitionRelease)
}

// SimulateText emits press/release pairs for each rune of text.
// Spaces map to the "space" symbol.
func (s *SimulatedHook) SimulateText(text string) {
	for _, r := range text {
		sym := string(r)
		if r == ' ' {
			sym = "space"
		}
		s.SimulatePress(sym)
	}
}
