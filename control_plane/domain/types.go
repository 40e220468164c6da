// Package domain holds the Workspace state machine: the value types and the
// pure decision functions (Judge, Planner) that turn observed conditions
// into a phase and a next operation. Nothing in this package performs I/O.
package domain

import "time"

// Phase is the observed lifecycle state of a workspace, computed by Judge.
type Phase string

const (
	PhasePending  Phase = "PENDING"
	PhaseStandby  Phase = "STANDBY"
	PhaseRunning  Phase = "RUNNING"
	PhaseArchived Phase = "ARCHIVED"
	PhaseDeleting Phase = "DELETING"
	PhaseDeleted  Phase = "DELETED"
	PhaseError    Phase = "ERROR"
)

// Operation is a WC-executed transition currently in flight.
type Operation string

const (
	OpNone                Operation = "NONE"
	OpProvisioning        Operation = "PROVISIONING"
	OpStarting            Operation = "STARTING"
	OpStopping            Operation = "STOPPING"
	OpArchiving           Operation = "ARCHIVING"
	OpRestoring           Operation = "RESTORING"
	OpCreateEmptyArchive  Operation = "CREATE_EMPTY_ARCHIVE"
	OpDeleting            Operation = "DELETING"
)

// DesiredState is the target lifecycle a user or the Scheduler wants.
type DesiredState string

const (
	DesiredRunning  DesiredState = "RUNNING"
	DesiredStandby  DesiredState = "STANDBY"
	DesiredArchived DesiredState = "ARCHIVED"
	DesiredDeleted  DesiredState = "DELETED"
)

// ErrorReason enumerates why Judge or Planner declared ERROR.
type ErrorReason string

const (
	ErrorNone                  ErrorReason = ""
	ErrorContainerWithoutVolume ErrorReason = "ContainerWithoutVolume"
	ErrorArchiveCorrupted      ErrorReason = "ArchiveCorrupted"
	ErrorArchiveExpired        ErrorReason = "ArchiveExpired"
	ErrorArchiveNotFound       ErrorReason = "ArchiveNotFound"
	ErrorArchiveUnreachable    ErrorReason = "ArchiveUnreachable"
	ErrorArchiveTimeout        ErrorReason = "ArchiveTimeout"
	ErrorTimeout               ErrorReason = "TIMEOUT"
	ErrorUnknown               ErrorReason = "Unknown"
)

// transientArchiveFailures is the fallback-branch set resolved against
// original_source: only these two archive_reasons keep a workspace at
// ARCHIVED in Judge step 5; any other non-nil archive_reason there is ERROR.
var transientArchiveFailures = map[ErrorReason]bool{
	ErrorArchiveUnreachable: true,
	ErrorArchiveTimeout:     true,
}

// ContainerCondition mirrors the Runtime's view of the container resource.
type ContainerCondition struct {
	Running bool
	Healthy bool
}

// VolumeCondition mirrors the Runtime's view of the home volume.
type VolumeCondition struct {
	Exists bool
}

// ArchiveCondition mirrors the Runtime's view of the archive object.
type ArchiveCondition struct {
	Exists     bool
	ArchiveKey string
}

// RestoreCondition is written by the Runtime after a restore completes,
// letting Planner confirm the restored archive_key matches what it asked for.
type RestoreCondition struct {
	ArchiveKey string
}

// Conditions is Observer-owned. A nil leaf means "resource absent" — this is
// a signal, not missing data: disappearance of a resource must be able to
// drive downstream phase transitions.
type Conditions struct {
	Container *ContainerCondition
	Volume    *VolumeCondition
	Archive   *ArchiveCondition
	Restore   *RestoreCondition

	// ArchiveReason carries why the archive leaf failed to materialize, when
	// conditions couldn't be read as a clean "exists"/"absent" pair (timeout,
	// corruption, expiry). Judge only, never set by a healthy observation.
	ArchiveReason ErrorReason
}

func (c Conditions) containerReady() bool {
	return c.Container != nil && c.Container.Running && c.Container.Healthy
}

func (c Conditions) volumeReady() bool {
	return c.Volume != nil && c.Volume.Exists
}

func (c Conditions) archiveReady() bool {
	return c.Archive != nil && c.Archive.Exists
}

// Workspace is the central entity: the full row as WC/Observer/Scheduler see it.
type Workspace struct {
	ID             string
	OwnerUserID    string
	Name           string
	Description    string
	Memo           string
	ImageRef       string
	HomeStoreKey   string

	Conditions Conditions

	Phase       Phase
	Operation   Operation
	OpStartedAt time.Time
	OpID        string
	ArchiveOpID string

	DesiredState DesiredState
	ArchiveKey   string

	ErrorReason ErrorReason
	ErrorCount  int

	ObservedAt     time.Time
	LastAccessAt   time.Time
	PhaseChangedAt time.Time

	StandbyTTLSeconds int
	ArchiveTTLSeconds int

	DeletedAt *time.Time
}

// DesiredPhase maps a DesiredState to the phase it converges to when idle,
// used by Planner's "already converged" check.
func DesiredPhase(d DesiredState) Phase {
	switch d {
	case DesiredRunning:
		return PhaseRunning
	case DesiredStandby:
		return PhaseStandby
	case DesiredArchived:
		return PhaseArchived
	case DesiredDeleted:
		return PhaseDeleted
	default:
		return PhaseError
	}
}
