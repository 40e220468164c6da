package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/redis/go-redis/v9"
)

// RedisStore wraps the Redis client backing the three ephemeral, lossy-
// tolerant mechanisms described in spec §4.D/§4.B/§6: the activity buffer
// flush target, the coordinator wake stream, and the per-user SSE event
// stream. None of this is a system of record — Postgres is — so every
// method here degrades to "try again next tick" on error rather than
// retrying internally.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	return &RedisStore{client: client}, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

func observeLatency(start time.Time) {
	observability.RedisLatency.Observe(time.Since(start).Seconds())
}

// --- Activity buffer (§4.D) ---
// last_access:{id} holds a unix-seconds string. The flush is a bulk MSET;
// the sync read is a prefix scan followed by a bulk MGET, since the sweep
// runs at most once every few seconds against a small live-workspace set.

// FlushActivity writes the given workspace -> last-access times in one
// pipelined MSET. Callers only call this for ids that changed since the
// last flush (the in-process buffer already deduped).
func (s *RedisStore) FlushActivity(ctx context.Context, accessed map[string]time.Time) error {
	if len(accessed) == 0 {
		return nil
	}
	defer observeLatency(time.Now())

	pairs := make([]interface{}, 0, len(accessed)*2)
	for id, t := range accessed {
		pairs = append(pairs, ActivityKey(id), strconv.FormatInt(t.Unix(), 10))
	}
	return s.client.MSet(ctx, pairs...).Err()
}

// ScanActivity returns every last_access_at currently buffered in Redis,
// keyed by workspace id. The scheduler's TTL sweep calls this to sync the
// buffer into Postgres before evaluating demotions.
func (s *RedisStore) ScanActivity(ctx context.Context) (map[string]time.Time, error) {
	defer observeLatency(time.Now())

	out := make(map[string]time.Time)
	iter := s.client.Scan(ctx, 0, ActivityKeyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan activity keys: %w", err)
	}
	if len(keys) == 0 {
		return out, nil
	}

	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("mget activity values: %w", err)
	}
	for i, key := range keys {
		raw, ok := vals[i].(string)
		if !ok {
			continue
		}
		secs, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			continue
		}
		id := key[len(ActivityKeyPrefix):]
		out[id] = time.Unix(secs, 0).UTC()
	}
	return out, nil
}

// DeleteActivityKeys removes last_access:{id} entries once the scheduler's
// TTL sweep has confirmed Postgres matched them — never before, so a crash
// between the Postgres write and this delete just re-syncs harmlessly next
// tick instead of losing the access time.
func (s *RedisStore) DeleteActivityKeys(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	defer observeLatency(time.Now())
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ActivityKey(id)
	}
	return s.client.Del(ctx, keys...).Err()
}

// --- Wake-dedup claim (proxy auto-wake, §4.F) ---
// A short-lived SetNX claim so concurrent requests hitting a STANDBY/
// ARCHIVED workspace at once only issue one desired_state=RUNNING write;
// the loser(s) just wait on the same in-flight wake.

// ClaimWake attempts to become the single request that issues the
// desired_state write for workspaceID, returning true iff this call won
// the claim. The claim self-expires after ttl so a crashed claimant never
// wedges future wakes.
func (s *RedisStore) ClaimWake(ctx context.Context, workspaceID string, ttl time.Duration) (bool, error) {
	defer observeLatency(time.Now())
	return s.client.SetNX(ctx, "wake_claim:"+workspaceID, "1", ttl).Result()
}

// --- Wake stream (§4.B/§6) ---
// stream:wake carries one addressed hint per entry (field `target`). Every
// coordinator type shares one consumer group ("coordinators") with a
// consumer name unique per process+role, so Redis round-robins delivery
// across all of them; a message whose target doesn't match this reader's
// role is still ACKed immediately (silently skipped) rather than left
// pending, so one coordinator type can never block another's group PEL.

const wakeStreamMaxLen = 100

// PublishWake nudges the shared coordinator group, addressed to target.
func (s *RedisStore) PublishWake(ctx context.Context, target WakeTarget) error {
	defer observeLatency(time.Now())
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: WakeStreamKey,
		MaxLen: wakeStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"target": string(target)},
	}).Err()
}

// EnsureWakeGroup creates the shared consumer group if it doesn't exist
// yet, positioned at the stream tail so a freshly started coordinator
// doesn't replay history on its first read.
func (s *RedisStore) EnsureWakeGroup(ctx context.Context) error {
	defer observeLatency(time.Now())
	err := s.client.XGroupCreateMkStream(ctx, WakeStreamKey, WakeConsumerGroup, "$").Err()
	if err != nil && !isBusyGroup(err) {
		return err
	}
	return nil
}

func isBusyGroup(err error) bool {
	return err != nil && len(err.Error()) >= 9 && err.Error()[:9] == "BUSYGROUP"
}

// ReadWake blocks up to block waiting for stream:wake entries, ACKing
// every entry it receives. It returns true iff at least one received
// entry's target field matched this reader's own role — a message for a
// different role is skipped (but still ACKed) and does not count as a
// wake for this reader.
func (s *RedisStore) ReadWake(ctx context.Context, target WakeTarget, consumerName string, block time.Duration) (bool, error) {
	streams, err := s.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    WakeConsumerGroup,
		Consumer: consumerName,
		Streams:  []string{WakeStreamKey, ">"},
		Count:    50,
		Block:    block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	var ids []string
	matched := false
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			ids = append(ids, msg.ID)
			if t, _ := msg.Values["target"].(string); t == string(target) {
				matched = true
			}
		}
	}
	if len(ids) == 0 {
		return false, nil
	}
	if err := s.client.XAck(ctx, WakeStreamKey, WakeConsumerGroup, ids...).Err(); err != nil {
		return matched, fmt.Errorf("ack wake entries: %w", err)
	}
	return matched, nil
}

// --- Per-user SSE stream (§4.B/§6) ---
// events:{user_id} carries one JSON payload per entry (field `data`). Each
// SSE connection reads from its own last-seen id, so no consumer group is
// needed here — unlike the wake stream, every distinct browser tab wants
// its own independent cursor, not competing delivery.

const eventsStreamMaxLen = 1000

// EventMessage is one entry read back off a user's events stream.
type EventMessage struct {
	ID   string
	Data string
}

// PublishEvent appends a JSON payload to ownerUserID's stream.
func (s *RedisStore) PublishEvent(ctx context.Context, ownerUserID string, data string) error {
	defer observeLatency(time.Now())
	return s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: EventsStreamKey(ownerUserID),
		MaxLen: eventsStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": data},
	}).Err()
}

// ReadEvents blocks up to block for entries newer than lastID on
// ownerUserID's stream. Pass "$" as lastID on first connect to start from
// the tail; subsequent calls should pass the last EventMessage.ID seen.
func (s *RedisStore) ReadEvents(ctx context.Context, ownerUserID string, lastID string, block time.Duration) ([]EventMessage, error) {
	streams, err := s.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{EventsStreamKey(ownerUserID), lastID},
		Count:   100,
		Block:   block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var out []EventMessage
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			data, _ := msg.Values["data"].(string)
			out = append(out, EventMessage{ID: msg.ID, Data: data})
		}
	}
	return out, nil
}
