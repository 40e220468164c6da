// Package coordrt is the shared control flow the Observer, Workspace
// Controller and Scheduler coordinators run (the EventListener has its own
// loop in package eventlistener) (spec §4.K):
// acquire/verify leadership, throttle, tick, then sleep until the next
// wake or an idle timeout — accelerating after activity so a burst of
// work gets polled quickly before settling back down.
package coordrt

import (
	"context"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/coordination"
	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/store"
)

const (
	IdleInterval         = 15 * time.Second
	ActiveInterval       = 2 * time.Second
	MinInterval          = 1 * time.Second
	LeaderRetryInterval  = 5 * time.Second
	VerifyIntervalBase   = 60 * time.Second
	VerifyIntervalJitter = 0.30
	ActiveDuration       = 30 * time.Second
)

// TickFunc runs one coordinator pass. changed reports whether the tick
// did anything observable (so the loop accelerates its next sleep).
type TickFunc func(ctx context.Context) (changed bool, err error)

// Loop is one coordinator's runtime: own leader election (bound to its own
// CoordinatorConn per ADR-012), own wake-stream subscription, own tick.
type Loop struct {
	Name     string
	Elector  *coordination.LeaderElection
	Redis    *store.RedisStore
	Target   store.WakeTarget
	Consumer string
	Tick     TickFunc

	mu          sync.Mutex
	activeUntil time.Time
	subscribed  bool
}

func New(name string, elector *coordination.LeaderElection, redis *store.RedisStore, target store.WakeTarget, consumer string, tick TickFunc) *Loop {
	return &Loop{
		Name:     name,
		Elector:  elector,
		Redis:    redis,
		Target:   target,
		Consumer: consumer,
		Tick:     tick,
	}
}

func jitteredVerifyInterval() time.Duration {
	delta := (rand.Float64()*2 - 1) * VerifyIntervalJitter
	return time.Duration(float64(VerifyIntervalBase) * (1 + delta))
}

// Run blocks until ctx is cancelled, executing the §4.K control flow.
func (l *Loop) Run(ctx context.Context) {
	nextVerify := time.Now().Add(jitteredVerifyInterval())
	var lastTick time.Time

	for {
		if ctx.Err() != nil {
			l.release(ctx)
			return
		}

		if !l.Elector.IsLeader() {
			if !l.Elector.TryAcquire(ctx, 5*time.Second) {
				if !sleepCtx(ctx, LeaderRetryInterval) {
					return
				}
				continue
			}
			l.subscribed = false
			nextVerify = time.Now().Add(jitteredVerifyInterval())
		} else if time.Now().After(nextVerify) {
			if !l.Elector.VerifyHolding(ctx, 2*time.Second) {
				l.subscribed = false
				continue
			}
			nextVerify = time.Now().Add(jitteredVerifyInterval())
		}

		if !l.subscribed {
			if err := l.Redis.EnsureWakeGroup(ctx); err != nil {
				log.Printf("coordrt[%s]: ensure wake group failed: %v", l.Name, err)
			} else {
				l.subscribed = true
			}
		}

		if since := time.Since(lastTick); since < MinInterval {
			if !sleepCtx(ctx, MinInterval-since) {
				return
			}
		}

		changed := l.runTick(ctx)
		lastTick = time.Now()
		if changed {
			l.accelerate()
		}

		woken := l.waitForWakeOrSleep(ctx)
		if woken {
			l.accelerate()
		}
	}
}

func (l *Loop) runTick(ctx context.Context) bool {
	start := time.Now()
	changed, err := l.Tick(ctx)
	observability.CoordinatorTickDuration.WithLabelValues(l.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		observability.CoordinatorTickErrors.WithLabelValues(l.Name).Inc()
		log.Printf("coordrt[%s]: tick error: %v", l.Name, err)
		return false
	}
	return changed
}

func (l *Loop) accelerate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.activeUntil = time.Now().Add(ActiveDuration)
}

func (l *Loop) inActiveWindow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return time.Now().Before(l.activeUntil)
}

// waitForWakeOrSleep blocks on the wake stream for up to the current
// interval (ActiveInterval if within the active window, else
// IdleInterval), returning true if a wake entry actually arrived.
func (l *Loop) waitForWakeOrSleep(ctx context.Context) bool {
	interval := IdleInterval
	if l.inActiveWindow() {
		interval = ActiveInterval
	}
	if !l.subscribed {
		return sleepCtx(ctx, interval)
	}
	woken, err := l.Redis.ReadWake(ctx, l.Target, l.Consumer, interval)
	if err != nil {
		if ctx.Err() == nil {
			log.Printf("coordrt[%s]: read wake error: %v", l.Name, err)
		}
		return false
	}
	return woken
}

func (l *Loop) release(ctx context.Context) {
	if l.Elector.IsLeader() {
		l.Elector.Release(ctx, 2*time.Second)
	}
}

// sleepCtx sleeps for d or returns false early if ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
