package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/runtime"
)

// Store is the full persistence surface Coordinator needs, satisfied by
// *store.CoordinatorConn.
type Store interface {
	TTLStore
	GCStore
}

// RedisActivity is the Redis surface Coordinator needs, satisfied by
// *store.RedisStore, narrowed to an interface for testability.
type RedisActivity interface {
	ActivityStore
	DeleteActivityKeys(ctx context.Context, ids []string) error
}

// Coordinator runs the TTL sweep every TTLInterval and the GC sweep every
// GCInterval, both driven off a single coordrt.Loop tick by comparing
// elapsed wall time against each schedule's own last-run timestamp.
type Coordinator struct {
	Conn  Store
	Redis RedisActivity
	Port  runtime.Port

	TTLInterval    time.Duration
	GCInterval     time.Duration
	ResourcePrefix string
	GCDryRun       bool

	mu         sync.Mutex
	lastTTL    time.Time
	lastGC     time.Time
}

func New(conn Store, redis RedisActivity, port runtime.Port, resourcePrefix string) *Coordinator {
	return &Coordinator{
		Conn:           conn,
		Redis:          redis,
		Port:           port,
		TTLInterval:    DefaultTTLInterval,
		GCInterval:     DefaultGCInterval,
		ResourcePrefix: resourcePrefix,
	}
}

// Tick runs whichever schedule(s) are due. Unlike Observer, Tick does not
// publish a wc wake itself: DemoteToStandby/DemoteToArchived write
// desired_state, which the workspaces NOTIFY trigger picks up and
// EventListener republishes as a wc wake, so the explicit publish here
// would just be a redundant second path to the same wake stream. Tick
// only reports changed so coordrt accelerates its own next poll, matching
// Observer/WC.
func (c *Coordinator) Tick(ctx context.Context) (bool, error) {
	now := time.Now()
	changed := false

	if c.dueTTL(now) {
		ttlChanged, err := runTTL(ctx, c.Conn, c.Redis, c.Redis.DeleteActivityKeys)
		if err != nil {
			return changed, err
		}
		changed = changed || ttlChanged
		c.mu.Lock()
		c.lastTTL = now
		c.mu.Unlock()
	}

	if c.dueGC(now) {
		gcChanged, err := runGC(ctx, c.Conn, c.Port, c.ResourcePrefix, c.GCDryRun)
		if err != nil {
			return changed, err
		}
		changed = changed || gcChanged
		c.mu.Lock()
		c.lastGC = now
		c.mu.Unlock()
	}

	return changed, nil
}

func (c *Coordinator) dueTTL(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	interval := c.TTLInterval
	if interval <= 0 {
		interval = DefaultTTLInterval
	}
	return c.lastTTL.IsZero() || now.Sub(c.lastTTL) >= interval
}

func (c *Coordinator) dueGC(now time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	interval := c.GCInterval
	if interval <= 0 {
		interval = DefaultGCInterval
	}
	return c.lastGC.IsZero() || now.Sub(c.lastGC) >= interval
}
