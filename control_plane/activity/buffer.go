// Package activity implements the in-process activity buffer (spec §4.D
// stage 1-2): Proxy calls Record on every relayed request/frame, and a
// periodic flush consolidates the buffer into Redis so many proxy
// replicas converge on one last_access_at per workspace without hitting
// Postgres on every byte relayed.
package activity

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
)

// DefaultThrottleWindow absorbs a burst of frames from one active session:
// repeated Record calls for the same id within this window are no-ops.
const DefaultThrottleWindow = 1 * time.Second

// DefaultFlushInterval is how often the buffer drains to Redis.
const DefaultFlushInterval = 30 * time.Second

// Flusher is the Redis-backed sink the buffer drains into.
type Flusher interface {
	FlushActivity(ctx context.Context, accessed map[string]time.Time) error
}

// Buffer is one proxy process's activity accumulator.
type Buffer struct {
	flusher Flusher
	window  time.Duration

	mu      sync.Mutex
	lastAt  map[string]time.Time // throttle tracking: last Record accepted per id
	pending map[string]time.Time // accumulated writes awaiting the next flush
}

func NewBuffer(flusher Flusher, window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultThrottleWindow
	}
	return &Buffer{
		flusher: flusher,
		window:  window,
		lastAt:  make(map[string]time.Time),
		pending: make(map[string]time.Time),
	}
}

// Record marks workspaceID as accessed now. Non-blocking; throttled so a
// hot WebSocket connection doesn't take this lock on every frame.
func (b *Buffer) Record(workspaceID string) {
	now := time.Now()

	b.mu.Lock()
	defer b.mu.Unlock()

	if last, ok := b.lastAt[workspaceID]; ok && now.Sub(last) < b.window {
		return
	}
	b.lastAt[workspaceID] = now
	b.pending[workspaceID] = now
}

// Flush snapshots and clears the pending map, then writes it to Redis. On
// error, entries not superseded by a newer Record call during the flush
// are put back for the next attempt.
func (b *Buffer) Flush(ctx context.Context) error {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return nil
	}
	snapshot := b.pending
	b.pending = make(map[string]time.Time)
	b.mu.Unlock()

	err := b.flusher.FlushActivity(ctx, snapshot)
	if err != nil {
		observability.ActivityFlushErrors.Inc()
		b.mu.Lock()
		for id, ts := range snapshot {
			if existing, ok := b.pending[id]; !ok || existing.Before(ts) {
				b.pending[id] = ts
			}
		}
		b.mu.Unlock()
	}
	return err
}

// StartFlushLoop runs Flush on interval until ctx is cancelled.
func (b *Buffer) StartFlushLoop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Flush(ctx); err != nil {
				log.Printf("activity: flush error: %v", err)
			}
		}
	}
}
