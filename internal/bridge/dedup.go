package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultDedupeWindow is how long a successful sync is remembered.
const DefaultDedupeWindow = 5 * time.Minute

// pruneEvery triggers a sweep of expired keys every N marks so the map does
// not grow without bound on a bot that is never restarted.
const pruneEvery = 256

// Dedup provides time-bounded deduplication of CRM writes. It remembers
// which (channel, message) pairs and files were already written to the CRM so
// a repeated reaction or a redelivered event inside the window does not
// produce a second note or file. It is in-memory only; after a restart the
// note relay falls back to scanning the deal's recent notes for the message
// permalink.
type Dedup struct {
	mu     sync.Mutex
	window time.Duration
	marked map[string]time.Time // key → time of last successful write
	marks  int

	now    func() time.Time
	logger *slog.Logger
}

// NewDedup creates a deduplicator that treats keys as recent for window.
func NewDedup(window time.Duration, logger *slog.Logger) *Dedup {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	return &Dedup{
		window: window,
		marked: make(map[string]time.Time),
		now:    time.Now,
		logger: logger,
	}
}

// WasRecentlyProcessed reports whether key was marked within the window.
// Expired keys are dropped on access.
func (d *Dedup) WasRecentlyProcessed(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	at, ok := d.marked[key]
	if !ok {
		return false
	}
	if d.now().Sub(at) < d.window {
		return true
	}
	delete(d.marked, key)
	return false
}

// MarkProcessed records a successful write for key.
func (d *Dedup) MarkProcessed(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marked[key] = d.now()
	d.marks++
	if d.marks%pruneEvery == 0 {
		d.pruneLocked()
	}
}

// Prune removes expired keys and returns how many were removed.
func (d *Dedup) Prune() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pruneLocked()
}

func (d *Dedup) pruneLocked() int {
	now := d.now()
	removed := 0
	for key, at := range d.marked {
		if now.Sub(at) >= d.window {
			delete(d.marked, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked keys, expired or not.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.marked)
}

// RunPruner prunes expired keys every interval until ctx is cancelled.
func (d *Dedup) RunPruner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = d.window
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := d.Prune(); n > 0 {
				d.logger.Debug("pruned dedupe keys", "removed", n, "remaining", d.Len())
			}
		}
	}
}

// noteKey identifies a message for note deduplication.
func noteKey(channelID, messageTS string) string {
	return channelID + ":" + messageTS
}

// fileKey identifies a file relay into a channel's deal.
func fileKey(channelID, fileID string) string {
	return "file:" + channelID + ":" + fileID
}
