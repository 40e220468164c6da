// Package observer implements the Observer Coordinator (spec §4.G): the
// single periodic writer of workspaces.conditions. It reflects Runtime
// reality into the database and wakes the Workspace Controller whenever
// it commits anything.
package observer

import (
	"context"
	"log"
	"time"

	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/runtime"
	"github.com/codehub/controlplane/control_plane/store"
)

// ObserveTimeout bounds the single runtime.Observe() call each tick makes;
// on timeout the tick is skipped entirely rather than committing a
// partial view.
const ObserveTimeout = 10 * time.Second

type Coordinator struct {
	Conn  *store.CoordinatorConn
	Port  runtime.Port
	Redis *store.RedisStore
}

func New(conn *store.CoordinatorConn, port runtime.Port, redis *store.RedisStore) *Coordinator {
	return &Coordinator{Conn: conn, Port: port, Redis: redis}
}

// Tick implements one Observer pass. changed is true whenever a conditions
// batch was committed (at least one live workspace and a successful
// observe); it does not compare against the previously written conditions.
// The coordrt loop uses it to decide whether to accelerate.
func (c *Coordinator) Tick(ctx context.Context) (bool, error) {
	ids, err := c.Conn.ListNonDeletedWorkspaceIDs(ctx)
	if err != nil {
		return false, err
	}
	if len(ids) == 0 {
		return false, nil
	}

	obsCtx, cancel := context.WithTimeout(ctx, ObserveTimeout)
	defer cancel()
	states, err := c.Port.Observe(obsCtx)
	if err != nil {
		log.Printf("observer: runtime observe failed, skipping tick: %v", err)
		return false, nil
	}

	byID := make(map[string]runtime.WorkspaceState, len(states))
	for _, s := range states {
		byID[s.WorkspaceID] = s
	}

	now := time.Now()
	updates := make([]store.ObserverUpdate, 0, len(ids))
	for _, id := range ids {
		state := byID[id] // zero value: every leaf nil, meaning "nothing observed"
		updates = append(updates, store.ObserverUpdate{
			WorkspaceID: id,
			Conditions:  conditionsFromObserved(state),
			ObservedAt:  now,
		})
	}

	if err := c.Conn.ApplyObserverConditions(ctx, updates); err != nil {
		return false, err
	}

	if err := c.Redis.PublishWake(ctx, store.WakeTargetWC); err != nil {
		log.Printf("observer: publish wc wake failed (non-fatal): %v", err)
	}

	return true, nil
}

// conditionsFromObserved maps one WorkspaceState into domain.Conditions.
// A nil leaf in the observed state is a signal the resource is absent,
// not missing data, and is preserved as a nil leaf in Conditions — it is
// the only legal source of truth Judge consumes downstream.
func conditionsFromObserved(s runtime.WorkspaceState) domain.Conditions {
	var c domain.Conditions
	if s.Container != nil {
		c.Container = &domain.ContainerCondition{Running: s.Container.Running, Healthy: s.Container.Healthy}
	}
	if s.Volume != nil {
		c.Volume = &domain.VolumeCondition{Exists: s.Volume.Exists}
	}
	if s.Archive != nil {
		c.Archive = &domain.ArchiveCondition{Exists: s.Archive.Exists, ArchiveKey: s.Archive.ArchiveKey}
	}
	return c
}
