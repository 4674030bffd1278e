package agent

import (
	"sync"
	"time"

	"keyrecall/internal/logging"
	"keyrecall/internal/masker"
	"keyrecall/internal/metrics"
	"keyrecall/internal/store"
)

// pollWait bounds how long the flush loop sleeps between shutdown
// checks when no events arrive.
const pollWait = 100 * time.Millisecond

// Flusher is the sole consumer of the capture queue. Each arrival is
// filtered, masked, and buffered; the buffer commits as one
// transaction when it reaches the configured size or age. A failed
// commit drops the batch rather than letting backlog grow on a broken
// disk.
type Flusher struct {
	queue   *eventQueue
	filter  *Filter
	masker  *masker.Masker
	store   *store.Store
	log     *logging.Logger
	metrics *metrics.PipelineMetrics

	mu         sync.Mutex
	bufferSize int
	interval   time.Duration

	stop chan struct{}
	done chan struct{}
}

// NewFlusher wires the flush loop. It does not start it.
func NewFlusher(q *eventQueue, f *Filter, m *masker.Masker, s *store.Store, bufferSize int, interval time.Duration, log *logging.Logger, pm *metrics.PipelineMetrics) *Flusher {
	if log == nil {
		log = logging.Default()
	}
	if pm == nil {
		pm = metrics.NewPipelineMetrics(nil)
	}
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Flusher{
		queue:      q,
		filter:     f,
		masker:     m,
		store:      s,
		log:        log.WithComponent("flusher"),
		metrics:    pm,
		bufferSize: bufferSize,
		interval:   interval,
	}
}

// SetLimits adjusts the flush triggers for subsequent batches.
func (f *Flusher) SetLimits(bufferSize int, interval time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if bufferSize > 0 {
		f.bufferSize = bufferSize
	}
	if interval > 0 {
		f.interval = interval
	}
}

func (f *Flusher) limits() (int, time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bufferSize, f.interval
}

// Start launches the flush loop.
func (f *Flusher) Start() {
	f.stop = make(chan struct{})
	f.done = make(chan struct{})
	go f.run()
}

// Stop signals the loop, waits for it to force-flush any remainder,
// and returns.
func (f *Flusher) Stop() {
	if f.stop == nil {
		return
	}
	close(f.stop)
	<-f.done
	f.stop = nil
}

func (f *Flusher) run() {
	defer close(f.done)

	var buffer []store.KeyEvent
	lastFlush := time.Now()

	for {
		select {
		case <-f.stop:
			f.absorb(&buffer, f.queue.Drain(0))
			if len(buffer) > 0 {
				f.flush(buffer)
			}
			return
		default:
		}

		f.absorb(&buffer, f.queue.Drain(pollWait))
		f.metrics.BufferFill.Set(int64(len(buffer)))

		size, interval := f.limits()
		if len(buffer) >= size || (len(buffer) > 0 && time.Since(lastFlush) >= interval) {
			f.flush(buffer)
			buffer = nil
			lastFlush = time.Now()
		} else if len(buffer) == 0 {
			// Nothing pending; age counts from the next arrival.
			lastFlush = time.Now()
		}
	}
}

func (f *Flusher) absorb(buffer *[]store.KeyEvent, arrivals []CapturedEvent) {
	for _, ev := range arrivals {
		if f.filter.ShouldDrop(ev) {
			f.metrics.EventsFiltered.Inc()
			continue
		}
		masked := f.masker.MaskEvent(toKeyEvent(ev))
		f.metrics.EventsMasked.Inc()
		*buffer = append(*buffer, masked)
	}
}

func (f *Flusher) flush(batch []store.KeyEvent) {
	timer := f.metrics.FlushDuration.Timer()
	inserted, err := f.store.StoreEvents(batch)
	timer.Stop()
	if err != nil {
		f.metrics.FlushFailures.Inc()
		f.metrics.EventsDropped.Add(uint64(len(batch)))
		f.log.Error("flush failed, batch dropped", "events", len(batch), "error", err)
		return
	}
	f.metrics.EventsStored.Add(uint64(inserted))
	f.metrics.StoredTotal.Add(int64(inserted))
	f.log.Debug("flushed batch", "events", len(batch), "inserted", inserted)
}

func toKeyEvent(ev CapturedEvent) store.KeyEvent {
	ke := store.KeyEvent{
		Timestamp:  ev.Timestamp.UnixMilli(),
		Symbol:     ev.Symbol,
		Transition: ev.Transition,
	}
	if ev.Window != nil {
		ke.WindowTitle = ev.Window.Title
		ke.Application = ev.Window.Application
	}
	return ke
}
