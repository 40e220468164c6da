package idempotency

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	mu     sync.Mutex
	claims map[string]time.Time
	fail   bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{claims: make(map[string]time.Time)}
}

func (f *fakeBackend) ClaimWake(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if f.fail {
		return false, errors.New("redis unavailable")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if expiry, ok := f.claims[key]; ok && time.Now().Before(expiry) {
		return false, nil
	}
	f.claims[key] = time.Now().Add(ttl)
	return true, nil
}

func TestTryClaimAllowsOnlyFirstCallerUntilTTLExpires(t *testing.T) {
	d := NewWakeDedup(newFakeBackend(), 10*time.Millisecond)

	require.True(t, d.TryClaim(context.Background(), "ws-1"))
	require.False(t, d.TryClaim(context.Background(), "ws-1"))

	time.Sleep(15 * time.Millisecond)
	require.True(t, d.TryClaim(context.Background(), "ws-1"))
}

func TestTryClaimConcurrentCallersYieldExactlyOneWinner(t *testing.T) {
	d := NewWakeDedup(newFakeBackend(), time.Minute)

	const n = 50
	results := make([]bool, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			results[i] = d.TryClaim(context.Background(), "ws-racing")
		}()
	}
	wg.Wait()

	wins := 0
	for _, ok := range results {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)
}

func TestTryClaimFallsBackToLocalClaimOnBackendError(t *testing.T) {
	backend := newFakeBackend()
	backend.fail = true
	d := NewWakeDedup(backend, time.Minute)

	require.True(t, d.TryClaim(context.Background(), "ws-1"))
	require.False(t, d.TryClaim(context.Background(), "ws-1"))
}

func TestTryClaimDistinctWorkspacesClaimIndependently(t *testing.T) {
	d := NewWakeDedup(newFakeBackend(), time.Minute)

	require.True(t, d.TryClaim(context.Background(), "ws-1"))
	require.True(t, d.TryClaim(context.Background(), "ws-2"))
}
