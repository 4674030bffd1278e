package store

import "time"

// KeyEvent is a masked key event ready for persistence.
type KeyEvent struct {
	// Timestamp is milliseconds since the Unix epoch.
	Timestamp int64 `json:"timestamp"`

	// Symbol names the key ("a", "enter", "left_shift", ...).
	// Always masked before it reaches the store.
	Symbol string `json:"symbol"`

	// Transition is "press" or "release".
	Transition string `json:"transition"`

	// WindowTitle is the masked title of the focused window, if known.
	WindowTitle string `json:"window_title,omitempty"`

	// Application is the masked focused application name, if known.
	Application string `json:"application,omitempty"`
}

// StoredEvent is a key event as persisted, with its row identity and
// derived text.
type StoredEvent struct {
	ID          int64     `json:"id"`
	Timestamp   int64     `json:"timestamp"`
	Symbol      string    `json:"symbol"`
	Transition  string    `json:"transition"`
	WindowTitle string    `json:"window_title,omitempty"`
	Application string    `json:"application,omitempty"`

	// TextContent is the single character this event contributed to
	// typed text, set only for printable key presses.
	TextContent string `json:"text_content,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Stats summarizes the contents of the store.
type Stats struct {
	TotalEvents    int64  `json:"total_events"`
	TotalSizeBytes int64  `json:"total_size_bytes"`
	OldestEvent    *int64 `json:"oldest_event,omitempty"`
	NewestEvent    *int64 `json:"newest_event,omitempty"`
	Embeddings     int64  `json:"embeddings"`
}

// TextHit is one lexical match from the full-text index.
type TextHit struct {
	ID        int64
	Content   string
	Timestamp int64
	// Score is the bm25 rank; lower is better.
	Score       float64
	Application string
	WindowTitle string
}

// IndexedText pairs an event with its searchable text, for building
// and scanning embeddings.
type IndexedText struct {
	ID        int64
	Text      string
	Timestamp int64
}
