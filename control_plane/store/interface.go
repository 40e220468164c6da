package store

import (
	"context"
	"time"

	"github.com/codehub/controlplane/control_plane/domain"
)

// ObserverUpdate is one row of Observer's bulk conditions write.
type ObserverUpdate struct {
	WorkspaceID string
	Conditions  domain.Conditions
	ObservedAt  time.Time
}

// WCUpdate is what the Workspace Controller persists for one workspace,
// always guarded by a CAS on the operation column it originally loaded.
type WCUpdate struct {
	WorkspaceID      string
	ExpectedOperation domain.Operation
	Phase            domain.Phase
	Operation        domain.Operation
	OpStartedAt      *time.Time
	OpID             string
	ArchiveOpID      string
	ArchiveKey       string
	ErrorReason      domain.ErrorReason
	ErrorCount       int
	PhaseChanged     bool
}

// WorkspaceStore is the subset of workspace persistence every coordinator
// needs. Postgres is the only implementation; it is split from Store so
// that read paths (API boundary, Proxy) don't need to care which
// connection discipline a coordinator write uses.
type WorkspaceStore interface {
	// GetWorkspace loads a single workspace by id, or nil if absent. Soft-deleted rows are returned with DeletedAt set.
	GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error)

	// ListNonDeletedWorkspaceIDs returns every workspace id not soft-deleted — used by Observer and GC.
	ListNonDeletedWorkspaceIDs(ctx context.Context) ([]string, error)

	// LoadReconcileCandidates returns workspaces WC must evaluate this tick
	// (§4.H step 1: operation != NONE, phase mismatched against desired, or
	// RUNNING for external-deletion detection).
	LoadReconcileCandidates(ctx context.Context) ([]domain.Workspace, error)

	// ApplyObserverConditions bulk-writes conditions/observed_at for every
	// workspace Observer saw this tick, in one unnest UPDATE.
	ApplyObserverConditions(ctx context.Context, updates []ObserverUpdate) error

	// ApplyWCUpdate performs the WC's CAS persist for one workspace. Returns
	// false (no error) if rowcount was 0 — the workspace changed under us.
	ApplyWCUpdate(ctx context.Context, u WCUpdate) (bool, error)

	// SyncActivity bulk-writes last_access_at for the given ids/timestamps
	// and returns exactly the ids that matched a row (§4.D step 3).
	SyncActivity(ctx context.Context, ids []string, timestamps []time.Time) ([]string, error)

	// DemoteToStandby / DemoteToArchived implement the TTL sweep (§4.I).
	DemoteToStandby(ctx context.Context) ([]string, error)
	DemoteToArchived(ctx context.Context) ([]string, error)

	// ProtectedArchivePaths resolves the GC protected set (§4.I, §13):
	// every live workspace's current archive_key, union the in-flight
	// archive-op path for any non-deleted workspace with a non-null
	// archive_op_id regardless of its current operation.
	ProtectedArchivePaths(ctx context.Context, resourcePrefix string) (protectedKeys map[string]bool, protectedWorkspaceIDs map[string]bool, err error)
}

// SessionStore is the Session CRUD surface (§3). A user holds at most one
// live session; CreateSession revokes any prior session for the same user.
type SessionStore interface {
	CreateSession(ctx context.Context, userID string, ttl time.Duration) (*SessionRow, error)
	GetSession(ctx context.Context, sessionID string) (*SessionRow, error)
	RevokeSession(ctx context.Context, sessionID string) error
	RevokeAllForUser(ctx context.Context, userID string) error
}

// AdminBootstrapStore upserts the admin account at startup (§6).
type AdminBootstrapStore interface {
	UpsertAdminUser(ctx context.Context, username string, bcryptHash string) error
}
