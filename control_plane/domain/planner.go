package domain

import (
	"strings"
	"time"
)

// PlanAction is what the Workspace Controller should do this tick.
type PlanAction struct {
	Operation   Operation
	Phase       Phase
	ErrorReason ErrorReason
	ArchiveKey  string // set only when an operation just committed a new archive_key
	ArchiveOpID string
	Complete    bool // true when an in-flight operation finished this tick
}

// NewArchiveOpID is supplied by the caller (Planner must not generate ids or
// read the clock itself); it is invoked only for ARCHIVING / CREATE_EMPTY_ARCHIVE
// transitions that are starting fresh, never for a retried in-flight operation.
type NewArchiveOpID func() string

// Plan is pure given its arguments: workspace, judge output, the operation
// timeout, the current time, and an archive-op-id generator used only when a
// brand new archive-producing operation is selected. It never reads the
// clock itself outside the `now` parameter.
func Plan(ws Workspace, judge JudgeOutput, opTimeout time.Duration, now time.Time, newArchiveOpID NewArchiveOpID) PlanAction {
	// 1. Operation already in progress: check its completion predicate.
	if ws.Operation != OpNone && ws.Operation != "" {
		if operationComplete(ws) {
			return PlanAction{Operation: OpNone, Phase: judge.Phase, Complete: true}
		}
		if !ws.OpStartedAt.IsZero() && ws.OpStartedAt.Add(opTimeout).Before(now) {
			return PlanAction{Operation: OpNone, Phase: PhaseError, ErrorReason: ErrorTimeout}
		}
		// Reissue the same operation, preserving archive_op_id so any
		// upload in flight stays addressed at the same path.
		return PlanAction{Operation: ws.Operation, Phase: ws.Phase, ArchiveOpID: ws.ArchiveOpID}
	}

	// 2. Judge says ERROR.
	if judge.Phase == PhaseError {
		if ws.DesiredState == DesiredDeleted {
			return PlanAction{Operation: OpDeleting, Phase: PhaseError}
		}
		return PlanAction{Operation: OpNone, Phase: PhaseError, ErrorReason: judge.ErrorReason}
	}

	// 3. Already converged.
	if judge.Phase == DesiredPhase(ws.DesiredState) {
		return PlanAction{Operation: OpNone, Phase: judge.Phase}
	}

	// 4. Select the next operation.
	op := nextOperation(judge.Phase, ws.DesiredState)
	action := PlanAction{Operation: op, Phase: judge.Phase}
	if op == OpArchiving || op == OpCreateEmptyArchive {
		action.ArchiveOpID = newArchiveOpID()
	}
	return action
}

// operationComplete evaluates the per-operation completion predicate against
// the workspace's currently observed conditions.
func operationComplete(ws Workspace) bool {
	c := ws.Conditions
	switch ws.Operation {
	case OpProvisioning:
		return c.volumeReady()
	case OpStarting:
		return c.containerReady()
	case OpStopping:
		return !c.containerReady()
	case OpArchiving, OpCreateEmptyArchive:
		return !c.volumeReady() && c.archiveReady() &&
			strings.Contains(c.Archive.ArchiveKey, "/"+ws.ArchiveOpID+"/")
	case OpRestoring:
		return c.Restore != nil && c.Restore.ArchiveKey == ws.ArchiveKey && c.volumeReady()
	case OpDeleting:
		return !c.containerReady() && !c.volumeReady()
	default:
		return false
	}
}

// nextOperation picks the operation that advances judge.Phase toward desired,
// per the §4.F transition table. Any phase with DesiredDeleted goes to
// DELETING regardless of current phase.
func nextOperation(phase Phase, desired DesiredState) Operation {
	if desired == DesiredDeleted {
		return OpDeleting
	}
	switch phase {
	case PhasePending:
		if desired == DesiredArchived {
			return OpCreateEmptyArchive
		}
		return OpProvisioning
	case PhaseArchived:
		return OpRestoring
	case PhaseStandby:
		if desired == DesiredRunning {
			return OpStarting
		}
		return OpArchiving
	case PhaseRunning:
		// STANDBY or ARCHIVED both start with the same stop step; archiving
		// the rest of the way is a second Planner pass once STANDBY settles.
		return OpStopping
	default:
		return OpNone
	}
}
