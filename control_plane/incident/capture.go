// Package incident persists a structured snapshot whenever Judge emits a
// new ERROR phase for a workspace, for later operator inspection (spec §9
// design note: ERROR is a manual-recovery phase, not auto-retried).
// Adapted from the teacher's anomaly-triggered state capture.
package incident

import (
	"sync"
	"time"

	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/timeline"
)

// Report is a point-in-time snapshot of why a workspace landed in ERROR.
type Report struct {
	WorkspaceID string                 `json:"workspace_id"`
	ErrorReason domain.ErrorReason     `json:"error_reason"`
	Operation   domain.Operation       `json:"operation"`
	Conditions  domain.Conditions      `json:"conditions"`
	ErrorCount  int                    `json:"error_count"`
	Events      []timeline.OperationEvent `json:"events"`
	CapturedAt  time.Time              `json:"captured_at"`
}

// TimelineSource is the read surface this package needs from timeline.Store.
type TimelineSource interface {
	GetEventsForWorkspace(workspaceID string) []timeline.OperationEvent
}

// Capture builds a Report for ws, which the caller must have already
// observed transitioning into PhaseError this tick.
func Capture(ws domain.Workspace, tl TimelineSource) *Report {
	return &Report{
		WorkspaceID: ws.ID,
		ErrorReason: ws.ErrorReason,
		Operation:   ws.Operation,
		Conditions:  ws.Conditions,
		ErrorCount:  ws.ErrorCount,
		Events:      tl.GetEventsForWorkspace(ws.ID),
		CapturedAt:  time.Now(),
	}
}

// maxReports bounds the in-process history kept per the operator
// dashboard's "recent incidents" view.
const maxReports = 1000

// Store holds recently captured incident reports for operator inspection.
type Store struct {
	mu      sync.RWMutex
	reports []*Report
}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Add(r *Report) {
	observability.IncidentsRecorded.WithLabelValues(string(r.ErrorReason)).Inc()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, r)
	if len(s.reports) > maxReports {
		s.reports = s.reports[len(s.reports)-maxReports:]
	}
}

func (s *Store) ForWorkspace(workspaceID string) []*Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Report
	for _, r := range s.reports {
		if r.WorkspaceID == workspaceID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) Recent(limit int) []*Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.reports) {
		limit = len(s.reports)
	}
	out := make([]*Report, limit)
	copy(out, s.reports[len(s.reports)-limit:])
	return out
}
