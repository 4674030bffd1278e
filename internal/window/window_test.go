package window

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestStaticQuery(t *testing.T) {
	q := NewStaticQuery("notes.md - Editor", "editor")

	info, err := q.Active()
	if err != nil {
		t.Fatalf("Active: %v", err)
	}
	if info.Title != "notes.md - Editor" || info.Application != "editor" {
		t.Errorf("info = %+v", info)
	}

	q.SetError(errors.New("boom"))
	if _, err := q.Active(); err == nil {
		t.Error("expected error after SetError")
	}
}

func TestTrackerPrimesOnStart(t *testing.T) {
	q := NewStaticQuery("doc - app", "app")
	tr := NewTracker(q, time.Hour)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	// No tick has fired, but Start polls once.
	if got := tr.Current(); got.Application != "app" {
		t.Errorf("Current() = %+v", got)
	}
}

func TestTrackerPollsForChanges(t *testing.T) {
	q := NewStaticQuery("first", "app1")
	tr := NewTracker(q, 10*time.Millisecond)

	var changes atomic.Int64
	tr.OnChange(func(Info) { changes.Add(1) })

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	q.Set("second", "app2")

	deadline := time.After(time.Second)
	for tr.Current().Application != "app2" {
		select {
		case <-deadline:
			t.Fatal("tracker never observed the change")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// One change for the initial window, one for the switch.
	if changes.Load() < 2 {
		t.Errorf("changes = %d, want >= 2", changes.Load())
	}
}

func TestTrackerKeepsLastOnError(t *testing.T) {
	q := NewStaticQuery("stable", "app")
	tr := NewTracker(q, 10*time.Millisecond)

	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	q.SetError(errors.New("query failed"))
	time.Sleep(50 * time.Millisecond)

	if got := tr.Current(); got.Title != "stable" {
		t.Errorf("Current() after errors = %+v, want cached info", got)
	}
}

func TestTrackerStartTwice(t *testing.T) {
	tr := NewTracker(NewStaticQuery("t", "a"), time.Hour)
	if err := tr.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer tr.Stop()

	if err := tr.Start(context.Background()); err != ErrAlreadyRunning {
		t.Errorf("second Start = %v, want ErrAlreadyRunning", err)
	}
}

func TestTrySnapshot(t *testing.T) {
	tr := NewTracker(NewStaticQuery("t", "a"), time.Hour)
	tr.Start(context.Background())
	defer tr.Stop()

	info, ok := tr.TrySnapshot()
	if !ok {
		t.Fatal("TrySnapshot contended with no writers")
	}
	if info.Application != "a" {
		t.Errorf("snapshot = %+v", info)
	}
}

func TestInfoEmpty(t *testing.T) {
	if !(Info{}).Empty() {
		t.Error("zero Info should be empty")
	}
	if (Info{Title: "x"}).Empty() {
		t.Error("Info with title should not be empty")
	}
}
