// Package runtime defines the abstract contract the core requires from the
// container Agent (the WorkspaceRuntime). Implementations must be
// thread-safe, idempotent on every retried operation, and must never mutate
// DB state directly — observe() is the only legal source of truth for
// conditions, and everything else is a side-effecting command whose result
// is only trusted once Observer reports it back.
package runtime

import "context"

// ObservedContainer mirrors domain.ContainerCondition without importing the
// domain package, keeping runtime a leaf dependency Observer translates.
type ObservedContainer struct {
	Running bool
	Healthy bool
}

type ObservedVolume struct {
	Exists bool
}

type ObservedArchive struct {
	Exists     bool
	ArchiveKey string
}

// WorkspaceState is what one observe() call reports for a single workspace.
// A nil field means "resource not present" — Observer must propagate that
// absence verbatim into conditions, never defaulting it away.
type WorkspaceState struct {
	WorkspaceID string
	Container   *ObservedContainer
	Volume      *ObservedVolume
	Archive     *ObservedArchive
}

// Upstream is where the proxy should dial to reach a running container.
type Upstream struct {
	Host string
	Port int
}

// GCResult reports what run_gc actually removed.
type GCResult struct {
	DeletedCount int
	DeletedKeys  []string
}

// Port is the ten-operation Runtime contract (§4.C). Reimplementers should
// resist exposing anything finer-grained to the Workspace Controller —
// doing so breaks the crash-anywhere, resume-correctly property the rest of
// the control plane depends on.
type Port interface {
	Observe(ctx context.Context) ([]WorkspaceState, error)
	Provision(ctx context.Context, id string) error
	Start(ctx context.Context, id, imageRef string) error
	Stop(ctx context.Context, id string) error
	Delete(ctx context.Context, id string) error
	Archive(ctx context.Context, id, opID string) (archiveKey string, err error)
	Restore(ctx context.Context, id, archiveKey string) error
	CreateEmptyArchive(ctx context.Context, id, opID string) (archiveKey string, err error)
	RunGC(ctx context.Context, protectedArchiveKeys map[string]bool, protectedWorkspaceIDs map[string]bool) (GCResult, error)
	GetUpstream(ctx context.Context, id string) (*Upstream, error)
}
