package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock for dedupe tests.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestDedup(window time.Duration) (*Dedup, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	d := NewDedup(window, slog.Default())
	d.now = clock.now
	return d, clock
}

func TestDedup_MarkThenCheck(t *testing.T) {
	d, _ := newTestDedup(5 * time.Minute)

	if d.WasRecentlyProcessed("C1:1.0") {
		t.Fatal("expected unmarked key to be not recent")
	}
	d.MarkProcessed("C1:1.0")
	if !d.WasRecentlyProcessed("C1:1.0") {
		t.Fatal("expected key to be recent right after MarkProcessed")
	}
}

func TestDedup_ExpiresAfterWindow(t *testing.T) {
	d, clock := newTestDedup(5 * time.Minute)

	d.MarkProcessed("C1:1.0")
	clock.advance(4*time.Minute + 59*time.Second)
	if !d.WasRecentlyProcessed("C1:1.0") {
		t.Fatal("expected key to be recent inside the window")
	}

	clock.advance(time.Second)
	if d.WasRecentlyProcessed("C1:1.0") {
		t.Fatal("expected key to expire once the window elapsed")
	}
	if d.Len() != 0 {
		t.Errorf("expected expired key to be dropped on access, len=%d", d.Len())
	}
}

func TestDedup_RemarkExtendsWindow(t *testing.T) {
	d, clock := newTestDedup(time.Minute)

	d.MarkProcessed("k")
	clock.advance(50 * time.Second)
	d.MarkProcessed("k")
	clock.advance(50 * time.Second)
	if !d.WasRecentlyProcessed("k") {
		t.Fatal("expected re-marked key to be recent")
	}
}

func TestDedup_DifferentKeys(t *testing.T) {
	d, _ := newTestDedup(time.Minute)

	d.MarkProcessed(noteKey("C1", "1.0"))
	if d.WasRecentlyProcessed(noteKey("C1", "2.0")) {
		t.Fatal("different message should not be recent")
	}
	if d.WasRecentlyProcessed(noteKey("C2", "1.0")) {
		t.Fatal("same ts in another channel should not be recent")
	}
	if d.WasRecentlyProcessed(fileKey("C1", "1.0")) {
		t.Fatal("file keys must not collide with note keys")
	}
}

func TestDedup_Prune(t *testing.T) {
	d, clock := newTestDedup(time.Minute)

	d.MarkProcessed("old-1")
	d.MarkProcessed("old-2")
	clock.advance(2 * time.Minute)
	d.MarkProcessed("fresh")

	if n := d.Prune(); n != 2 {
		t.Errorf("expected 2 pruned, got %d", n)
	}
	if d.Len() != 1 {
		t.Errorf("expected 1 remaining, got %d", d.Len())
	}
}

func TestDedup_PrunesOnMark(t *testing.T) {
	d, clock := newTestDedup(time.Minute)

	for i := 0; i < pruneEvery-1; i++ {
		d.MarkProcessed(fmt.Sprintf("k-%d", i))
	}
	clock.advance(2 * time.Minute)
	d.MarkProcessed("trigger")

	if d.Len() != 1 {
		t.Errorf("expected access-triggered prune to leave 1 key, got %d", d.Len())
	}
}

func TestDedup_DefaultWindow(t *testing.T) {
	d := NewDedup(0, slog.Default())
	if d.window != DefaultDedupeWindow {
		t.Errorf("expected default window, got %v", d.window)
	}
}

func TestDedup_RunPrunerStops(t *testing.T) {
	d, _ := newTestDedup(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.RunPruner(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunPruner did not stop after cancel")
	}
}
