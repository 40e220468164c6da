// Package eventlistener implements the singleton Event Bus translator
// (spec §4.B): the elected leader issues LISTEN on the three Postgres
// notification channels the workspaces trigger emits on, and republishes
// each into Redis for SSE readers or the coordinator wake stream. Only the
// leader ever writes to Redis; followers just poll for the advisory lock.
package eventlistener

import (
	"context"
	"encoding/json"
	"log"
	"math/rand"
	"time"

	"github.com/codehub/controlplane/control_plane/coordination"
	"github.com/codehub/controlplane/control_plane/store"
)

const (
	channelSSE     = "ws_sse"
	channelWake    = "ws_wake"
	channelDeleted = "ws_deleted" // legacy; current unified trigger folds delete transitions into ws_sse

	// LockKey is the advisory-lock role name this coordinator elects under.
	LockKey = "event_listener"

	leaderRetryInterval  = 5 * time.Second
	verifyIntervalBase   = 60 * time.Second
	verifyIntervalJitter = 0.30
	waitTimeout          = 10 * time.Second
)

// noticePayload is the JSON shape the workspaces trigger emits on
// ws_sse/ws_deleted: {"id":"…","owner_user_id":"…"[,"deleted":true]}.
// ws_wake carries no payload.
type noticePayload struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
}

// Listener is the Event Bus translator. Conn is the dedicated connection
// ADR-012 requires (LISTEN is a connection-scoped session property, so this
// one can never be a pool checkout).
type Listener struct {
	Conn    *store.CoordinatorConn
	Elector *coordination.LeaderElection
	Redis   *store.RedisStore
}

func New(conn *store.CoordinatorConn, elector *coordination.LeaderElection, redis *store.RedisStore) *Listener {
	return &Listener{Conn: conn, Elector: elector, Redis: redis}
}

// Run blocks until ctx is cancelled.
func (l *Listener) Run(ctx context.Context) {
	listening := false
	nextVerify := time.Now()

	for {
		if ctx.Err() != nil {
			l.release(ctx)
			return
		}

		if !l.Elector.IsLeader() {
			if !l.Elector.TryAcquire(ctx, 5*time.Second) {
				if !sleepCtx(ctx, leaderRetryInterval) {
					return
				}
				continue
			}
			listening = false
			nextVerify = time.Now().Add(jitteredVerifyInterval())
		} else if time.Now().After(nextVerify) {
			if !l.Elector.VerifyHolding(ctx, 2*time.Second) {
				listening = false
				continue
			}
			nextVerify = time.Now().Add(jitteredVerifyInterval())
		}

		if !listening {
			if err := l.subscribe(ctx); err != nil {
				log.Printf("eventlistener: LISTEN setup failed: %v", err)
				if !sleepCtx(ctx, leaderRetryInterval) {
					return
				}
				continue
			}
			listening = true
			log.Printf("eventlistener: subscribed to %s, %s, %s", channelSSE, channelWake, channelDeleted)
		}

		if err := l.consumeOne(ctx); err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Printf("eventlistener: notification wait failed, reconnecting: %v", err)
			listening = false
			l.Elector.Release(ctx, 2*time.Second)
		}
	}
}

func (l *Listener) subscribe(ctx context.Context) error {
	for _, channel := range []string{channelSSE, channelWake, channelDeleted} {
		if _, err := l.Conn.Conn.Exec(ctx, "LISTEN "+channel); err != nil {
			return err
		}
	}
	return nil
}

// consumeOne waits up to waitTimeout for the next notification. A bare
// timeout is not an error — it's just how this loop gets a chance to
// re-check leadership without blocking forever on a single WaitForNotification.
func (l *Listener) consumeOne(ctx context.Context) error {
	wctx, cancel := context.WithTimeout(ctx, waitTimeout)
	defer cancel()

	n, err := l.Conn.Conn.WaitForNotification(wctx)
	if err != nil {
		if wctx.Err() != nil && ctx.Err() == nil {
			return nil
		}
		return err
	}
	return l.translate(ctx, n.Channel, n.Payload)
}

func (l *Listener) translate(ctx context.Context, channel, payload string) error {
	switch channel {
	case channelWake:
		if err := l.Redis.PublishWake(ctx, store.WakeTargetObserver); err != nil {
			return err
		}
		return l.Redis.PublishWake(ctx, store.WakeTargetWC)
	case channelSSE, channelDeleted:
		var p noticePayload
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			log.Printf("eventlistener: %s payload not valid JSON, dropping: %v", channel, err)
			return nil
		}
		if p.OwnerUserID == "" {
			log.Printf("eventlistener: %s payload missing owner_user_id, dropping: %s", channel, payload)
			return nil
		}
		return l.Redis.PublishEvent(ctx, p.OwnerUserID, payload)
	default:
		return nil
	}
}

func (l *Listener) release(ctx context.Context) {
	if l.Elector.IsLeader() {
		l.Elector.Release(ctx, 2*time.Second)
	}
}

func jitteredVerifyInterval() time.Duration {
	delta := (rand.Float64()*2 - 1) * verifyIntervalJitter
	return time.Duration(float64(verifyIntervalBase) * (1 + delta))
}

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
