package activity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeFlusher struct {
	mu       sync.Mutex
	calls    []map[string]time.Time
	failNext bool
}

func (f *fakeFlusher) FlushActivity(ctx context.Context, accessed map[string]time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return errors.New("redis unavailable")
	}
	cp := make(map[string]time.Time, len(accessed))
	for k, v := range accessed {
		cp[k] = v
	}
	f.calls = append(f.calls, cp)
	return nil
}

func TestRecordThrottlesWithinWindow(t *testing.T) {
	f := &fakeFlusher{}
	b := NewBuffer(f, time.Hour)

	b.Record("ws-1")
	b.Record("ws-1")
	b.Record("ws-1")

	require.NoError(t, b.Flush(context.Background()))
	require.Len(t, f.calls, 1)
	require.Contains(t, f.calls[0], "ws-1")
}

func TestFlushClearsBufferOnSuccess(t *testing.T) {
	f := &fakeFlusher{}
	b := NewBuffer(f, time.Millisecond)

	b.Record("ws-1")
	require.NoError(t, b.Flush(context.Background()))
	require.NoError(t, b.Flush(context.Background()))
	require.Len(t, f.calls, 1, "second flush with nothing pending should not call the flusher")
}

func TestFlushRetriesUnsupersededEntriesOnError(t *testing.T) {
	f := &fakeFlusher{failNext: true}
	b := NewBuffer(f, time.Millisecond)

	b.Record("ws-1")
	err := b.Flush(context.Background())
	require.Error(t, err)

	require.NoError(t, b.Flush(context.Background()))
	require.Len(t, f.calls, 1)
	require.Contains(t, f.calls[0], "ws-1")
}

func TestRecordAcceptsSecondCallAfterWindowElapses(t *testing.T) {
	f := &fakeFlusher{}
	b := NewBuffer(f, 5*time.Millisecond)

	b.Record("ws-1")
	time.Sleep(6 * time.Millisecond)
	b.Record("ws-1")

	b.mu.Lock()
	last := b.lastAt["ws-1"]
	b.mu.Unlock()

	require.NoError(t, b.Flush(context.Background()))
	require.Len(t, f.calls, 1)
	require.WithinDuration(t, last, f.calls[0]["ws-1"], time.Millisecond)
}

func TestFlushDoesNotOverwriteNewerRecordDuringFailure(t *testing.T) {
	f := &fakeFlusher{failNext: true}
	b := NewBuffer(f, time.Millisecond)

	b.Record("ws-1")
	require.Error(t, b.Flush(context.Background()))

	time.Sleep(2 * time.Millisecond)
	b.Record("ws-1") // newer record during the "failed flush window"

	b.mu.Lock()
	newer := b.pending["ws-1"]
	b.mu.Unlock()

	require.NoError(t, b.Flush(context.Background()))
	require.Len(t, f.calls, 1)
	require.WithinDuration(t, newer, f.calls[0]["ws-1"], time.Millisecond)
}
