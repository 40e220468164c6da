// Package scheduler implements the TTL+GC Scheduler coordinator (spec
// §4.I): one coordinator running two schedules, by elapsed wall time,
// within a single tick.
package scheduler

import (
	"context"
	"log"
	"time"

	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/store"
)

const (
	DefaultTTLInterval = 60 * time.Second
	DefaultGCInterval  = 4 * time.Hour
)

// ActivityStore is the Redis surface the TTL sweep syncs from.
type ActivityStore interface {
	ScanActivity(ctx context.Context) (map[string]time.Time, error)
}

// TTLStore is the Postgres surface the TTL sweep writes through.
type TTLStore interface {
	SyncActivity(ctx context.Context, ids []string, timestamps []time.Time) ([]string, error)
	DemoteToStandby(ctx context.Context) ([]string, error)
	DemoteToArchived(ctx context.Context) ([]string, error)
}

// runTTL implements §4.I TTL step: sync buffered activity into Postgres,
// then demote RUNNING->STANDBY and STANDBY->ARCHIVED past their TTLs.
// Activity ids matched in Postgres are handed to redisDeleter for cleanup;
// the return value reports whether any workspace was demoted.
func runTTL(ctx context.Context, pg TTLStore, redis ActivityStore, redisDeleter func(context.Context, []string) error) (bool, error) {
	buffered, err := redis.ScanActivity(ctx)
	if err != nil {
		return false, err
	}

	if len(buffered) > 0 {
		ids := make([]string, 0, len(buffered))
		timestamps := make([]time.Time, 0, len(buffered))
		for id, ts := range buffered {
			ids = append(ids, id)
			timestamps = append(timestamps, ts)
		}
		matched, err := pg.SyncActivity(ctx, ids, timestamps)
		if err != nil {
			return false, err
		}
		if len(matched) > 0 && redisDeleter != nil {
			if err := redisDeleter(ctx, matched); err != nil {
				log.Printf("scheduler: redis activity key cleanup failed (non-fatal): %v", err)
			}
		}
	}

	toStandby, err := pg.DemoteToStandby(ctx)
	if err != nil {
		return false, err
	}
	toArchived, err := pg.DemoteToArchived(ctx)
	if err != nil {
		return false, err
	}

	changed := len(toStandby) > 0 || len(toArchived) > 0
	if changed {
		observability.SchedulerTTLExpirations.Add(float64(len(toStandby)))
		observability.SchedulerArchiveGC.Add(float64(len(toArchived)))
		log.Printf("scheduler: ttl sweep demoted %d to standby, %d to archived", len(toStandby), len(toArchived))
	}
	return changed, nil
}
