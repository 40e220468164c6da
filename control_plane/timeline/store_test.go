package timeline

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRecordStampsTimestampWhenZero(t *testing.T) {
	s := NewStore()
	s.Record(OperationEvent{WorkspaceID: "ws-1", Operation: "STARTING", OpID: "op-1", Stage: StageStarted})

	events := s.GetEventsForWorkspace("ws-1")
	require.Len(t, events, 1)
	require.False(t, events[0].Timestamp.IsZero())
}

func TestGetEventsForWorkspaceFiltersByID(t *testing.T) {
	s := NewStore()
	s.Record(OperationEvent{WorkspaceID: "ws-1", OpID: "op-1", Stage: StageStarted})
	s.Record(OperationEvent{WorkspaceID: "ws-2", OpID: "op-2", Stage: StageStarted})
	s.Record(OperationEvent{WorkspaceID: "ws-1", OpID: "op-1", Stage: StageCompleted})

	events := s.GetEventsForWorkspace("ws-1")
	require.Len(t, events, 2)
	for _, e := range events {
		require.Equal(t, "ws-1", e.WorkspaceID)
	}
}

func TestGetEventsForOpIDFiltersAcrossWorkspaces(t *testing.T) {
	s := NewStore()
	s.Record(OperationEvent{WorkspaceID: "ws-1", OpID: "op-shared", Stage: StageStarted})
	s.Record(OperationEvent{WorkspaceID: "ws-2", OpID: "op-shared", Stage: StageRetried})
	s.Record(OperationEvent{WorkspaceID: "ws-3", OpID: "op-other", Stage: StageStarted})

	events := s.GetEventsForOpID("op-shared")
	require.Len(t, events, 2)
}

func TestStoreDropsOldestEventsPastMax(t *testing.T) {
	s := NewStore()
	for i := 0; i < maxEvents+10; i++ {
		s.Record(OperationEvent{WorkspaceID: "ws-1", OpID: "op-1", Stage: StageStarted})
	}

	all := s.GetAllEvents()
	require.Len(t, all, maxEvents)
}
