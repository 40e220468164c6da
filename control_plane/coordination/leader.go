package coordination

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"log"
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/store"
)

// computeLockID derives a 63-bit non-negative advisory lock id from a role
// name (e.g. "observer", "wc", "scheduler", "event_listener"), so every process
// racing for the same coordinator role converges on the same lock without
// a central registry of lock numbers.
func computeLockID(lockKey string) int64 {
	h := sha256.Sum256([]byte(lockKey))
	return int64(binary.BigEndian.Uint64(h[:8]) & 0x7FFFFFFFFFFFFFFF)
}

// LeaderElection is a PostgreSQL session-advisory-lock-based elector bound
// to one coordinator's dedicated connection (ADR-012): the lock lives for
// as long as that connection does, so losing the connection always loses
// the lock too — there is no separate lease to let expire.
type LeaderElection struct {
	conn    *store.CoordinatorConn
	nodeID  string
	lockKey string
	lockID  int64

	mu       sync.RWMutex
	isLeader bool

	onElected func(context.Context)
	onLost    func()

	leaderCtx    context.Context
	leaderCancel context.CancelFunc

	transitions int64
}

func NewLeaderElection(conn *store.CoordinatorConn, nodeID string, lockKey string) *LeaderElection {
	return &LeaderElection{
		conn:    conn,
		nodeID:  nodeID,
		lockKey: lockKey,
		lockID:  computeLockID(lockKey),
	}
}

func (l *LeaderElection) SetCallbacks(onElected func(ctx context.Context), onLost func()) {
	l.onElected = onElected
	l.onLost = onLost
}

func (l *LeaderElection) IsLeader() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.isLeader
}

func (l *LeaderElection) LockID() int64 { return l.lockID }

// TryAcquire attempts to become leader (non-blocking on the Postgres side:
// pg_try_advisory_lock never waits). Calling it while already leader is a
// cheap no-op — it does not re-issue the lock call.
func (l *LeaderElection) TryAcquire(ctx context.Context, timeout time.Duration) bool {
	l.mu.RLock()
	already := l.isLeader
	l.mu.RUnlock()
	if already {
		return true
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	acquired, err := l.conn.TryAdvisoryLock(qctx, l.lockID)
	if err != nil {
		log.Printf("coordination: leader acquire error (lock=%s): %v", l.lockKey, err)
		return false
	}
	if acquired {
		l.becomeLeader()
	}
	return acquired
}

// Release gives up leadership. Safe to call when not leader.
func (l *LeaderElection) Release(ctx context.Context, timeout time.Duration) {
	l.mu.RLock()
	wasLeader := l.isLeader
	l.mu.RUnlock()
	if !wasLeader {
		return
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := l.conn.AdvisoryUnlock(qctx, l.lockID); err != nil {
		log.Printf("coordination: leader release error (lock=%s): %v", l.lockKey, err)
	}
	l.stepDown()
}

// VerifyHolding re-checks pg_locks for this exact backend, catching the
// case where the connection silently reconnected underneath us and lost
// the advisory lock without an explicit Release ever running.
func (l *LeaderElection) VerifyHolding(ctx context.Context, timeout time.Duration) bool {
	l.mu.RLock()
	wasLeader := l.isLeader
	l.mu.RUnlock()
	if !wasLeader {
		return false
	}

	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	holding, err := l.conn.VerifyAdvisoryLock(qctx, l.lockID)
	if err != nil {
		log.Printf("coordination: leader verify error (lock=%s): %v", l.lockKey, err)
		l.stepDown()
		return false
	}
	if !holding {
		log.Printf("coordination: leadership lost (lock=%s), detected via pg_locks", l.lockKey)
		l.stepDown()
		return false
	}
	return true
}

// FencedContext returns a context cancelled the moment leadership is lost
// (via Release or a failed VerifyHolding), so in-flight work started under
// this lease stops promptly.
func (l *LeaderElection) FencedContext() context.Context {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.leaderCtx == nil {
		return context.Background()
	}
	return l.leaderCtx
}

func (l *LeaderElection) becomeLeader() {
	l.mu.Lock()
	l.isLeader = true
	ctx, cancel := context.WithCancel(context.Background())
	l.leaderCtx = ctx
	l.leaderCancel = cancel
	l.transitions++
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "acquired").Inc()
	observability.LeaderStatus.WithLabelValues(l.lockKey).Set(1)
	log.Printf("coordination: acquired leadership (lock=%s, id=%d, node=%s)", l.lockKey, l.lockID, l.nodeID)

	if l.onElected != nil {
		go l.onElected(context.Background())
	}
}

func (l *LeaderElection) stepDown() {
	l.mu.Lock()
	if !l.isLeader {
		l.mu.Unlock()
		return
	}
	l.isLeader = false
	l.transitions++
	if l.leaderCancel != nil {
		l.leaderCancel()
		l.leaderCancel = nil
	}
	l.mu.Unlock()

	observability.LeadershipTransitions.WithLabelValues(l.nodeID, "lost").Inc()
	observability.LeaderStatus.WithLabelValues(l.lockKey).Set(0)
	log.Printf("coordination: lost leadership (lock=%s, node=%s)", l.lockKey, l.nodeID)

	if l.onLost != nil {
		l.onLost()
	}
}
