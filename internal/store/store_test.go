package store

import (
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), Options{})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func pressAt(ts int64, symbol string) KeyEvent {
	return KeyEvent{
		Timestamp:  ts,
		Symbol:     symbol,
		Transition: "press",
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := openTestStore(t)

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalEvents != 0 {
		t.Errorf("TotalEvents = %d, want 0", stats.TotalEvents)
	}
	if stats.OldestEvent != nil || stats.NewestEvent != nil {
		t.Error("empty store should have no oldest/newest event")
	}
}

func TestStoreEventsAndStats(t *testing.T) {
	s := openTestStore(t)

	events := make([]KeyEvent, 1000)
	for i := range events {
		events[i] = pressAt(int64(1000+i), "a")
	}

	inserted, err := s.StoreEvents(events)
	if err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}
	if inserted != 1000 {
		t.Errorf("inserted = %d, want 1000", inserted)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalEvents != 1000 {
		t.Errorf("TotalEvents = %d, want 1000", stats.TotalEvents)
	}
	if stats.OldestEvent == nil || *stats.OldestEvent != 1000 {
		t.Errorf("OldestEvent = %v, want 1000", stats.OldestEvent)
	}
	if stats.NewestEvent == nil || *stats.NewestEvent != 1999 {
		t.Errorf("NewestEvent = %v, want 1999", stats.NewestEvent)
	}
	if stats.TotalSizeBytes <= 0 {
		t.Errorf("TotalSizeBytes = %d, want > 0", stats.TotalSizeBytes)
	}
}

func TestDuplicateEventsIgnored(t *testing.T) {
	s := openTestStore(t)

	ev := pressAt(1000, "a")

	if _, err := s.StoreEvents([]KeyEvent{ev}); err != nil {
		t.Fatalf("first store: %v", err)
	}
	inserted, err := s.StoreEvents([]KeyEvent{ev})
	if err != nil {
		t.Fatalf("second store: %v", err)
	}
	if inserted != 0 {
		t.Errorf("second insert = %d rows, want 0", inserted)
	}

	n, err := s.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents: %v", err)
	}
	if n != 1 {
		t.Errorf("CountEvents = %d, want 1", n)
	}
}

func TestSameTimestampDifferentSymbol(t *testing.T) {
	s := openTestStore(t)

	inserted, err := s.StoreEvents([]KeyEvent{
		pressAt(1000, "a"),
		pressAt(1000, "b"),
		{Timestamp: 1000, Symbol: "a", Transition: "release"},
	})
	if err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}
	if inserted != 3 {
		t.Errorf("inserted = %d, want 3", inserted)
	}
}

func TestEmptyBatch(t *testing.T) {
	s := openTestStore(t)
	inserted, err := s.StoreEvents(nil)
	if err != nil {
		t.Fatalf("StoreEvents(nil): %v", err)
	}
	if inserted != 0 {
		t.Errorf("inserted = %d, want 0", inserted)
	}
}

func TestTextContentDerivation(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{
		pressAt(1, "h"),
		{Timestamp: 2, Symbol: "h", Transition: "release"},
		pressAt(3, "space"),
		pressAt(4, "enter"),
		pressAt(5, "left_shift"),
	}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}

	events, err := s.EventsByTimeRange(0, 10, 100)
	if err != nil {
		t.Fatalf("EventsByTimeRange: %v", err)
	}

	byTS := make(map[int64]StoredEvent)
	for _, e := range events {
		byTS[e.Timestamp] = e
	}

	if byTS[1].TextContent != "h" {
		t.Errorf("press 'h' text = %q, want h", byTS[1].TextContent)
	}
	if byTS[2].TextContent != "" {
		t.Errorf("release text = %q, want empty", byTS[2].TextContent)
	}
	if byTS[3].TextContent != " " {
		t.Errorf("space text = %q, want single space", byTS[3].TextContent)
	}
	if byTS[4].TextContent != "" {
		t.Errorf("enter text = %q, want empty", byTS[4].TextContent)
	}
	if byTS[5].TextContent != "" {
		t.Errorf("modifier text = %q, want empty", byTS[5].TextContent)
	}
}

func TestEventsByTimeRange(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{
		pressAt(1000, "a"),
		pressAt(2000, "b"),
		pressAt(3000, "c"),
	}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}

	events, err := s.EventsByTimeRange(1500, 2500, 10)
	if err != nil {
		t.Fatalf("EventsByTimeRange: %v", err)
	}
	if len(events) != 1 || events[0].Symbol != "b" {
		t.Errorf("range query = %+v, want single 'b'", events)
	}

	events, err = s.EventsByTimeRange(0, 5000, 10)
	if err != nil {
		t.Fatalf("EventsByTimeRange: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("full range = %d events, want 3", len(events))
	}
	// Newest first.
	if events[0].Timestamp != 3000 {
		t.Errorf("first result timestamp = %d, want 3000", events[0].Timestamp)
	}
}

func TestEventByID(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{{
		Timestamp:   1000,
		Symbol:      "a",
		Transition:  "press",
		WindowTitle: "notes.md - Editor",
		Application: "editor",
	}}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}

	e, err := s.EventByID(1)
	if err != nil {
		t.Fatalf("EventByID: %v", err)
	}
	if e == nil {
		t.Fatal("EventByID(1) = nil")
	}
	if e.WindowTitle != "notes.md - Editor" || e.Application != "editor" {
		t.Errorf("event = %+v", e)
	}

	missing, err := s.EventByID(9999)
	if err != nil {
		t.Fatalf("EventByID(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing event = %+v, want nil", missing)
	}
}

func TestSearchText(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{
		{Timestamp: 1, Symbol: "h", Transition: "press", Application: "editor"},
		{Timestamp: 2, Symbol: "x", Transition: "press", Application: "terminal"},
	}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}

	hits, err := s.SearchText("h", 10)
	if err != nil {
		t.Fatalf("SearchText: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	if hits[0].Content != "h" || hits[0].Application != "editor" {
		t.Errorf("hit = %+v", hits[0])
	}

	hits, err = s.SearchText("zzz", 10)
	if err != nil {
		t.Fatalf("SearchText(no match): %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("no-match hits = %d, want 0", len(hits))
	}
}

func TestClearAll(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{pressAt(1000, "a")}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}
	if err := s.StoreEmbedding(1, []float32{0.1, 0.2}); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	if err := s.ClearAll(); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}

	stats, err := s.GetStats()
	if err != nil {
		t.Fatalf("GetStats: %v", err)
	}
	if stats.TotalEvents != 0 || stats.Embeddings != 0 {
		t.Errorf("after ClearAll: %+v", stats)
	}

	hits, err := s.SearchText("a", 10)
	if err != nil {
		t.Fatalf("SearchText after clear: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("text index not cleared: %d hits", len(hits))
	}

	// The rebuilt index must keep tracking the content table.
	if _, err := s.StoreEvents([]KeyEvent{pressAt(2000, "b")}); err != nil {
		t.Fatalf("StoreEvents after clear: %v", err)
	}
	hits, err = s.SearchText("b", 10)
	if err != nil {
		t.Fatalf("SearchText after reinsert: %v", err)
	}
	if len(hits) != 1 {
		t.Errorf("hits after reinsert = %d, want 1", len(hits))
	}
}

func TestEmbeddingRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{pressAt(1000, "a")}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}

	vec := []float32{0.1, 0.2, 0.3, 0.4, 0.5}
	if err := s.StoreEmbedding(1, vec); err != nil {
		t.Fatalf("StoreEmbedding: %v", err)
	}

	got, err := s.Embedding(1)
	if err != nil {
		t.Fatalf("Embedding: %v", err)
	}
	if len(got) != len(vec) {
		t.Fatalf("embedding length = %d, want %d", len(got), len(vec))
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("embedding[%d] = %f, want %f", i, got[i], vec[i])
		}
	}

	missing, err := s.Embedding(999)
	if err != nil {
		t.Fatalf("Embedding(missing): %v", err)
	}
	if missing != nil {
		t.Errorf("missing embedding = %v, want nil", missing)
	}
}

func TestAllEmbeddings(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{
		pressAt(1000, "a"),
		pressAt(2000, "b"),
	}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}
	s.StoreEmbedding(1, []float32{1, 0})
	s.StoreEmbedding(2, []float32{0, 1})

	vectors, err := s.AllEmbeddings()
	if err != nil {
		t.Fatalf("AllEmbeddings: %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors = %d, want 2", len(vectors))
	}
	if vectors[0].EventID != 1 || vectors[0].Text != "a" {
		t.Errorf("vector 0 = %+v", vectors[0])
	}
}

func TestEncodeDecodeEmbedding(t *testing.T) {
	vec := []float32{-1.5, 0, 3.25}
	got, err := DecodeEmbedding(EncodeEmbedding(vec))
	if err != nil {
		t.Fatalf("DecodeEmbedding: %v", err)
	}
	for i := range vec {
		if got[i] != vec[i] {
			t.Errorf("roundtrip[%d] = %f, want %f", i, got[i], vec[i])
		}
	}

	if _, err := DecodeEmbedding([]byte{1, 2, 3}); err == nil {
		t.Error("expected error for truncated blob")
	}
}

func TestVacuumAndOptimize(t *testing.T) {
	s := openTestStore(t)

	if _, err := s.StoreEvents([]KeyEvent{pressAt(1000, "a")}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}
	if err := s.Vacuum(); err != nil {
		t.Errorf("Vacuum: %v", err)
	}
	if err := s.Optimize(); err != nil {
		t.Errorf("Optimize: %v", err)
	}
}

func TestOpenWithPassphrase(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "enc.db")

	s, err := Open(path, Options{Passphrase: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("Open with passphrase: %v", err)
	}
	defer s.Close()

	if _, err := s.StoreEvents([]KeyEvent{pressAt(1, "a")}); err != nil {
		t.Fatalf("StoreEvents: %v", err)
	}

	s.Close()

	// The key salt must persist next to the database.
	s2, err := Open(path, Options{Passphrase: "correct horse battery staple"})
	if err != nil {
		t.Fatalf("reopen with passphrase: %v", err)
	}
	defer s2.Close()

	n, err := s2.CountEvents()
	if err != nil {
		t.Fatalf("CountEvents after reopen: %v", err)
	}
	if n != 1 {
		t.Errorf("CountEvents = %d, want 1", n)
	}
}
