package incident

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/timeline"
)

type fakeTimelineSource struct {
	events map[string][]timeline.OperationEvent
}

func (f *fakeTimelineSource) GetEventsForWorkspace(workspaceID string) []timeline.OperationEvent {
	return f.events[workspaceID]
}

func TestCaptureSnapshotsWorkspaceAndEvents(t *testing.T) {
	tl := &fakeTimelineSource{events: map[string][]timeline.OperationEvent{
		"ws-1": {{WorkspaceID: "ws-1", OpID: "op-1", Stage: timeline.StageFailed}},
	}}
	ws := domain.Workspace{
		ID:          "ws-1",
		ErrorReason: domain.ErrorContainerWithoutVolume,
		Operation:   domain.OpStarting,
		ErrorCount:  3,
	}

	report := Capture(ws, tl)

	require.Equal(t, "ws-1", report.WorkspaceID)
	require.Equal(t, domain.ErrorContainerWithoutVolume, report.ErrorReason)
	require.Equal(t, 3, report.ErrorCount)
	require.Len(t, report.Events, 1)
	require.False(t, report.CapturedAt.IsZero())
}

func TestStoreForWorkspaceFiltersReports(t *testing.T) {
	s := NewStore()
	s.Add(&Report{WorkspaceID: "ws-1"})
	s.Add(&Report{WorkspaceID: "ws-2"})
	s.Add(&Report{WorkspaceID: "ws-1"})

	reports := s.ForWorkspace("ws-1")
	require.Len(t, reports, 2)
}

func TestStoreRecentReturnsMostRecentInOrder(t *testing.T) {
	s := NewStore()
	s.Add(&Report{WorkspaceID: "ws-1"})
	s.Add(&Report{WorkspaceID: "ws-2"})
	s.Add(&Report{WorkspaceID: "ws-3"})

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	require.Equal(t, "ws-2", recent[0].WorkspaceID)
	require.Equal(t, "ws-3", recent[1].WorkspaceID)
}

func TestStoreDropsOldestReportsPastMax(t *testing.T) {
	s := NewStore()
	for i := 0; i < maxReports+5; i++ {
		s.Add(&Report{WorkspaceID: "ws-1"})
	}

	require.Len(t, s.ForWorkspace("ws-1"), maxReports)
}
