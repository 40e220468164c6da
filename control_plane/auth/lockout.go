package auth

import (
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
)

const (
	DefaultLockoutThreshold = 5
	DefaultLockoutDuration  = 15 * time.Minute
)

type lockoutState struct {
	consecutiveFailures int
	lockedUntil         time.Time
}

// LoginLockout locks a username out after a run of consecutive failed
// login attempts (spec §7: "locked out per username after 5 consecutive
// failures"). Login itself is an external collaborator — this is the
// reusable primitive the external API layer calls around it, grounded on
// scheduler/limiter.go's lazy per-key map pattern.
type LoginLockout struct {
	mu        sync.Mutex
	attempts  map[string]*lockoutState
	threshold int
	duration  time.Duration
}

func NewLoginLockout(threshold int, duration time.Duration) *LoginLockout {
	return &LoginLockout{
		attempts:  make(map[string]*lockoutState),
		threshold: threshold,
		duration:  duration,
	}
}

// Allow reports whether username may attempt a login right now.
func (l *LoginLockout) Allow(username string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.attempts[username]
	if !ok || st.lockedUntil.IsZero() {
		return true
	}
	if allowed := time.Now().After(st.lockedUntil); !allowed {
		observability.LoginLockouts.Inc()
		return false
	}
	return true
}

// RecordFailure counts a failed attempt against username, locking it out
// once threshold consecutive failures accumulate.
func (l *LoginLockout) RecordFailure(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.attempts[username]
	if !ok {
		st = &lockoutState{}
		l.attempts[username] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= l.threshold {
		st.lockedUntil = time.Now().Add(l.duration)
	}
}

// RecordSuccess clears username's failure streak.
func (l *LoginLockout) RecordSuccess(username string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.attempts, username)
}
