package metrics

import "time"

// PipelineMetrics bundles the metrics tracked across the capture pipeline.
type PipelineMetrics struct {
	registry *Registry

	// Counters
	EventsCaptured *Counter
	EventsFiltered *Counter
	EventsMasked   *Counter
	EventsStored   *Counter
	EventsDropped  *Counter
	FlushFailures  *Counter
	WindowUpdates  *Counter
	SearchesTotal  *Counter

	// Gauges
	QueueDepth  *Gauge
	BufferFill  *Gauge
	StoredTotal *Gauge

	// Histograms
	FlushDuration  *Histogram
	SearchDuration *Histogram

	startTime time.Time
}

// NewPipelineMetrics registers the pipeline metrics on the given registry.
func NewPipelineMetrics(r *Registry) *PipelineMetrics {
	if r == nil {
		r = Default()
	}

	return &PipelineMetrics{
		registry: r,

		EventsCaptured: r.RegisterCounter("events_captured_total",
			"Total key events received from the platform hook", nil),
		EventsFiltered: r.RegisterCounter("events_filtered_total",
			"Events dropped by capture filters before buffering", nil),
		EventsMasked: r.RegisterCounter("events_masked_total",
			"Events whose text was altered by masking rules", nil),
		EventsStored: r.RegisterCounter("events_stored_total",
			"Events successfully written to the store", nil),
		EventsDropped: r.RegisterCounter("events_dropped_total",
			"Events lost to flush failures", nil),
		FlushFailures: r.RegisterCounter("flush_failures_total",
			"Buffer flushes that returned an error", nil),
		WindowUpdates: r.RegisterCounter("window_updates_total",
			"Active window changes observed", nil),
		SearchesTotal: r.RegisterCounter("searches_total",
			"Search queries served", nil),

		QueueDepth: r.RegisterGauge("queue_depth",
			"Events waiting in the hand-off queue", nil),
		BufferFill: r.RegisterGauge("buffer_fill",
			"Events currently held in the flush buffer", nil),
		StoredTotal: r.RegisterGauge("stored_total",
			"Rows currently in the key_events table", nil),

		FlushDuration: r.RegisterHistogram("flush_duration_seconds",
			"Time spent writing a buffered batch", nil, DurationBuckets),
		SearchDuration: r.RegisterHistogram("search_duration_seconds",
			"Time spent serving a search query", nil, DurationBuckets),

		startTime: time.Now(),
	}
}

// Uptime returns how long the pipeline has been running.
func (m *PipelineMetrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Snapshot returns current values plus uptime.
func (m *PipelineMetrics) Snapshot() map[string]interface{} {
	snapshot := m.registry.Snapshot()
	snapshot["uptime_seconds"] = int64(m.Uptime().Seconds())
	return snapshot
}
