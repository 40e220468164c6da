// Package idempotency collapses duplicate auto-wake writes (spec §4.F):
// when several requests hit the same STANDBY/ARCHIVED workspace at once,
// only one of them should issue the desired_state=RUNNING write — the
// rest should observe the claim and just wait for the workspace to come
// up. Repurposed from the teacher's HTTP-response idempotency cache,
// which solved the identical "only the first caller does the work"
// problem for a different kind of request.
package idempotency

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
)

// Backend is the minimal claim primitive this package needs: an atomic
// set-if-absent with a self-expiring TTL.
type Backend interface {
	ClaimWake(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// WakeDedup claims the right to issue one workspace's auto-wake write.
// Falls back to an in-process claim set if no shared backend is wired
// (single-instance deployments, or tests).
type WakeDedup struct {
	backend Backend
	ttl     time.Duration

	mu     sync.Mutex
	claims map[string]time.Time
}

func NewWakeDedup(backend Backend, ttl time.Duration) *WakeDedup {
	return &WakeDedup{
		backend: backend,
		ttl:     ttl,
		claims:  make(map[string]time.Time),
	}
}

// TryClaim returns true if the caller won the right to wake workspaceID.
func (d *WakeDedup) TryClaim(ctx context.Context, workspaceID string) bool {
	claimed := d.tryClaim(ctx, workspaceID)
	result := "rejected"
	if claimed {
		result = "claimed"
	}
	observability.WakeDedupClaims.WithLabelValues(result).Inc()
	return claimed
}

func (d *WakeDedup) tryClaim(ctx context.Context, workspaceID string) bool {
	if d.backend != nil {
		ok, err := d.backend.ClaimWake(ctx, workspaceID, d.ttl)
		if err != nil {
			log.Printf("idempotency: wake claim backend error for %s: %v", workspaceID, err)
			return d.tryClaimLocal(workspaceID)
		}
		return ok
	}
	return d.tryClaimLocal(workspaceID)
}

func (d *WakeDedup) tryClaimLocal(workspaceID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if expiry, ok := d.claims[workspaceID]; ok && time.Now().Before(expiry) {
		return false
	}
	d.claims[workspaceID] = time.Now().Add(d.ttl)
	return true
}
