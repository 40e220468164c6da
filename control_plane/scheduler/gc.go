package scheduler

import (
	"context"
	"log"

	"github.com/codehub/controlplane/control_plane/runtime"
)

// GCStore is the Postgres surface the GC sweep reads to build the
// protected-path set (§4.I/§13).
type GCStore interface {
	ProtectedArchivePaths(ctx context.Context, resourcePrefix string) (map[string]bool, map[string]bool, error)
	ListNonDeletedWorkspaceIDs(ctx context.Context) ([]string, error)
}

// runGC implements §4.I GC step: reap archive orphans via the Runtime's
// run_gc, then diff a fresh observe() against the DB's live workspace ids
// to reap container/volume orphans. observe() is always taken before the
// DB query so a workspace created between the two snapshots is in the DB
// but simply missing from the earlier observe() — never misclassified as
// an orphan.
func runGC(ctx context.Context, pg GCStore, port runtime.Port, resourcePrefix string, dryRun bool) (bool, error) {
	protectedKeys, protectedWorkspaceIDs, err := pg.ProtectedArchivePaths(ctx, resourcePrefix)
	if err != nil {
		return false, err
	}

	changed := false

	if dryRun {
		log.Printf("scheduler: gc dry-run, skipping run_gc (would protect %d keys, %d workspaces)",
			len(protectedKeys), len(protectedWorkspaceIDs))
	} else {
		result, err := port.RunGC(ctx, protectedKeys, protectedWorkspaceIDs)
		if err != nil {
			return false, err
		}
		if result.DeletedCount > 0 {
			changed = true
			log.Printf("scheduler: gc reaped %d orphaned archive objects", result.DeletedCount)
		}
	}

	observed, err := port.Observe(ctx)
	if err != nil {
		return changed, err
	}
	liveIDs, err := pg.ListNonDeletedWorkspaceIDs(ctx)
	if err != nil {
		return changed, err
	}
	live := make(map[string]bool, len(liveIDs))
	for _, id := range liveIDs {
		live[id] = true
	}

	var orphaned []string
	for _, state := range observed {
		if !live[state.WorkspaceID] {
			orphaned = append(orphaned, state.WorkspaceID)
		}
	}

	if len(orphaned) == 0 {
		return changed, nil
	}
	if dryRun {
		log.Printf("scheduler: gc dry-run, would delete %d orphaned containers/volumes: %v", len(orphaned), orphaned)
		return changed, nil
	}
	for _, id := range orphaned {
		if err := port.Delete(ctx, id); err != nil {
			log.Printf("scheduler: gc delete orphan %s failed: %v", id, err)
			continue
		}
		changed = true
	}
	log.Printf("scheduler: gc reaped %d orphaned containers/volumes", len(orphaned))
	return changed, nil
}
