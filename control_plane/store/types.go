package store

import (
	"time"

	"github.com/codehub/controlplane/control_plane/domain"
)

// WorkspaceRow is the column-for-column database representation of a
// workspace, matching the table described in spec §3. db tags name the SQL
// columns, following the struct-tagging convention of the Agent/Job/
// DesiredState rows this replaces.
type WorkspaceRow struct {
	ID           string `db:"id"`
	OwnerUserID  string `db:"owner_user_id"`
	Name         string `db:"name"`
	Description  string `db:"description"`
	Memo         string `db:"memo"`
	ImageRef     string `db:"image_ref"`
	HomeStoreKey string `db:"home_store_key"`

	ConditionsJSON []byte `db:"conditions"`

	Phase       string     `db:"phase"`
	Operation   string     `db:"operation"`
	OpStartedAt *time.Time `db:"op_started_at"`
	OpID        string     `db:"op_id"`
	ArchiveOpID string     `db:"archive_op_id"`

	DesiredState string `db:"desired_state"`
	ArchiveKey   string `db:"archive_key"`

	ErrorReason string `db:"error_reason"`
	ErrorCount  int    `db:"error_count"`

	ObservedAt     *time.Time `db:"observed_at"`
	LastAccessAt   *time.Time `db:"last_access_at"`
	PhaseChangedAt *time.Time `db:"phase_changed_at"`

	StandbyTTLSeconds int `db:"standby_ttl_seconds"`
	ArchiveTTLSeconds int `db:"archive_ttl_seconds"`

	DeletedAt *time.Time `db:"deleted_at"`
}

// toDomain converts the wire row plus its already-decoded conditions into
// the pure domain.Workspace value Judge and Plan operate on.
func (r WorkspaceRow) toDomain(c domain.Conditions) domain.Workspace {
	ws := domain.Workspace{
		ID:                r.ID,
		OwnerUserID:       r.OwnerUserID,
		Name:              r.Name,
		Description:       r.Description,
		Memo:              r.Memo,
		ImageRef:          r.ImageRef,
		HomeStoreKey:      r.HomeStoreKey,
		Conditions:        c,
		Phase:             domain.Phase(r.Phase),
		Operation:         domain.Operation(r.Operation),
		OpID:              r.OpID,
		ArchiveOpID:       r.ArchiveOpID,
		DesiredState:      domain.DesiredState(r.DesiredState),
		ArchiveKey:        r.ArchiveKey,
		ErrorReason:       domain.ErrorReason(r.ErrorReason),
		ErrorCount:        r.ErrorCount,
		StandbyTTLSeconds: r.StandbyTTLSeconds,
		ArchiveTTLSeconds: r.ArchiveTTLSeconds,
		DeletedAt:         r.DeletedAt,
	}
	if r.OpStartedAt != nil {
		ws.OpStartedAt = *r.OpStartedAt
	}
	if r.ObservedAt != nil {
		ws.ObservedAt = *r.ObservedAt
	}
	if r.LastAccessAt != nil {
		ws.LastAccessAt = *r.LastAccessAt
	}
	if r.PhaseChangedAt != nil {
		ws.PhaseChangedAt = *r.PhaseChangedAt
	}
	return ws
}

// jsonConditions is the wire shape for the `conditions` JSONB column — a
// null leaf decodes to a nil pointer, which is exactly the "resource
// absent" signal domain.Conditions expects.
type jsonConditions struct {
	Container *jsonContainer `json:"container"`
	Volume    *jsonVolume    `json:"volume"`
	Archive   *jsonArchive   `json:"archive"`
	Restore   *jsonRestore   `json:"restore"`
}

type jsonContainer struct {
	Running bool `json:"running"`
	Healthy bool `json:"healthy"`
}

type jsonVolume struct {
	Exists bool `json:"exists"`
}

type jsonArchive struct {
	Exists     bool   `json:"exists"`
	ArchiveKey string `json:"archive_key,omitempty"`
}

type jsonRestore struct {
	ArchiveKey string `json:"archive_key,omitempty"`
}

func (j jsonConditions) toDomain() domain.Conditions {
	var c domain.Conditions
	if j.Container != nil {
		c.Container = &domain.ContainerCondition{Running: j.Container.Running, Healthy: j.Container.Healthy}
	}
	if j.Volume != nil {
		c.Volume = &domain.VolumeCondition{Exists: j.Volume.Exists}
	}
	if j.Archive != nil {
		c.Archive = &domain.ArchiveCondition{Exists: j.Archive.Exists, ArchiveKey: j.Archive.ArchiveKey}
	}
	if j.Restore != nil {
		c.Restore = &domain.RestoreCondition{ArchiveKey: j.Restore.ArchiveKey}
	}
	return c
}

func fromDomainConditions(c domain.Conditions) jsonConditions {
	var j jsonConditions
	if c.Container != nil {
		j.Container = &jsonContainer{Running: c.Container.Running, Healthy: c.Container.Healthy}
	}
	if c.Volume != nil {
		j.Volume = &jsonVolume{Exists: c.Volume.Exists}
	}
	if c.Archive != nil {
		j.Archive = &jsonArchive{Exists: c.Archive.Exists, ArchiveKey: c.Archive.ArchiveKey}
	}
	if c.Restore != nil {
		j.Restore = &jsonRestore{ArchiveKey: c.Restore.ArchiveKey}
	}
	return j
}

// SessionRow is the {id, user_id, expires_at, revoked_at?} Session model.
type SessionRow struct {
	ID        string     `db:"id"`
	UserID    string     `db:"user_id"`
	ExpiresAt time.Time  `db:"expires_at"`
	RevokedAt *time.Time `db:"revoked_at"`
	CreatedAt time.Time  `db:"created_at"`
}

// Valid reports whether the session is currently usable: revoked_at IS NULL
// AND expires_at > now, exactly as spec §3 defines it.
func (s SessionRow) Valid(now time.Time) bool {
	return s.RevokedAt == nil && s.ExpiresAt.After(now)
}
