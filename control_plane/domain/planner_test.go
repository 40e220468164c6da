package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedOpID(id string) NewArchiveOpID {
	return func() string { return id }
}

func TestPlan_PendingRunningDesiredProvisions(t *testing.T) {
	ws := Workspace{Phase: PhasePending, DesiredState: DesiredRunning}
	judge := JudgeOutput{Phase: PhasePending}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpProvisioning, action.Operation)
}

func TestPlan_PendingArchivedDesiredCreatesEmptyArchive(t *testing.T) {
	ws := Workspace{Phase: PhasePending, DesiredState: DesiredArchived}
	judge := JudgeOutput{Phase: PhasePending}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpCreateEmptyArchive, action.Operation)
	require.Equal(t, "op1", action.ArchiveOpID)
}

func TestPlan_AlreadyConvergedIsNoOp(t *testing.T) {
	ws := Workspace{Phase: PhaseRunning, DesiredState: DesiredRunning, Operation: OpNone}
	judge := JudgeOutput{Phase: PhaseRunning}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpNone, action.Operation)
}

func TestPlan_InProgressOperationPreservesArchiveOpIDOnRetry(t *testing.T) {
	ws := Workspace{
		Operation:   OpArchiving,
		ArchiveOpID: "existing-op",
		OpStartedAt: time.Now().Add(-5 * time.Second),
		Conditions: Conditions{
			Volume: &VolumeCondition{Exists: true}, // not yet complete
		},
	}
	judge := JudgeOutput{Phase: PhaseStandby}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("should-not-be-used"))
	require.Equal(t, OpArchiving, action.Operation)
	require.Equal(t, "existing-op", action.ArchiveOpID, "retry must preserve archive_op_id for upload idempotency")
}

func TestPlan_OperationTimeoutBecomesError(t *testing.T) {
	ws := Workspace{
		Operation:   OpStarting,
		OpStartedAt: time.Now().Add(-2 * time.Minute),
	}
	judge := JudgeOutput{Phase: PhasePending}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpNone, action.Operation)
	require.Equal(t, PhaseError, action.Phase)
	require.Equal(t, ErrorTimeout, action.ErrorReason)
}

func TestPlan_ArchivingCompletionRequiresKeyContainsOpID(t *testing.T) {
	ws := Workspace{
		Operation:   OpArchiving,
		ArchiveOpID: "op42",
		OpStartedAt: time.Now(),
		Conditions: Conditions{
			Archive: &ArchiveCondition{Exists: true, ArchiveKey: "codehub-ws-W1/op42/home.tar.zst"},
		},
	}
	judge := JudgeOutput{Phase: PhaseArchived}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("unused"))
	require.True(t, action.Complete)
	require.Equal(t, OpNone, action.Operation)
}

func TestPlan_ArchivingNotCompleteIfKeyBelongsToOlderOp(t *testing.T) {
	ws := Workspace{
		Operation:   OpArchiving,
		ArchiveOpID: "op42",
		OpStartedAt: time.Now(),
		Conditions: Conditions{
			Archive: &ArchiveCondition{Exists: true, ArchiveKey: "codehub-ws-W1/op41/home.tar.zst"},
		},
	}
	judge := JudgeOutput{Phase: PhaseArchived}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("unused"))
	require.False(t, action.Complete)
	require.Equal(t, OpArchiving, action.Operation)
}

func TestPlan_ErrorPhaseStaysUntilDeletedDesired(t *testing.T) {
	ws := Workspace{DesiredState: DesiredRunning}
	judge := JudgeOutput{Phase: PhaseError, ErrorReason: ErrorContainerWithoutVolume}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpNone, action.Operation)
	require.Equal(t, PhaseError, action.Phase)
}

func TestPlan_ErrorPhaseWithDeletedDesiredStartsDeleting(t *testing.T) {
	ws := Workspace{DesiredState: DesiredDeleted}
	judge := JudgeOutput{Phase: PhaseError}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpDeleting, action.Operation)
}

func TestPlan_InProgressOpTakesPrecedenceOverDeletedDesired(t *testing.T) {
	// Deletion intent only applies once the in-progress op concludes or times
	// out — while an op is in flight, branch 1 runs first. This test pins
	// down that ordering: Operation != NONE takes precedence.
	ws := Workspace{
		Operation:    OpStarting,
		DesiredState: DesiredDeleted,
		OpStartedAt:  time.Now(),
	}
	judge := JudgeOutput{Phase: PhasePending}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpStarting, action.Operation, "in-flight op must resolve before deletion is considered")
}

func TestPlan_RunningToArchivedDesiredStopsFirst(t *testing.T) {
	ws := Workspace{Phase: PhaseRunning, DesiredState: DesiredArchived}
	judge := JudgeOutput{Phase: PhaseRunning}
	action := Plan(ws, judge, time.Minute, time.Now(), fixedOpID("op1"))
	require.Equal(t, OpStopping, action.Operation, "archiving from RUNNING is a two-step walk through STANDBY")
}
