// Package wcontroller implements the Workspace Controller (spec §4.H): the
// single writer of phase/operation/archive_key, turning Judge+Plan
// decisions into Runtime Port calls and persisting the result with a CAS
// guard so a concurrent Observer or external deletion can never be
// silently overwritten.
package wcontroller

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/codehub/controlplane/control_plane/apierror"
	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/incident"
	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/resilience"
	"github.com/codehub/controlplane/control_plane/runtime"
	"github.com/codehub/controlplane/control_plane/store"
	"github.com/codehub/controlplane/control_plane/timeline"
)

const (
	DefaultOpTimeout      = 10 * time.Minute
	DefaultMaxConcurrency = 8
	heartbeatInterval     = 1 * time.Hour
)

// CandidateStore is the persistence surface Tick needs — satisfied by
// *store.CoordinatorConn, narrowed to an interface so tests can substitute
// a fake without a live Postgres connection.
type CandidateStore interface {
	LoadReconcileCandidates(ctx context.Context) ([]domain.Workspace, error)
	ApplyWCUpdate(ctx context.Context, u store.WCUpdate) (bool, error)
}

// Controller is one Workspace Controller pass's dependencies.
type Controller struct {
	Conn           CandidateStore
	Port           runtime.Port
	Timeline       *timeline.Store
	Incidents      *incident.Store
	OpTimeout      time.Duration
	MaxConcurrency int
	Retry          resilience.RetryConfig
	Breaker        *resilience.CircuitBreaker

	lastHeartbeat time.Time
	hbMu          sync.Mutex
}

func New(conn CandidateStore, port runtime.Port, tl *timeline.Store, incidents *incident.Store) *Controller {
	return &Controller{
		Conn:           conn,
		Port:           port,
		Timeline:       tl,
		Incidents:      incidents,
		OpTimeout:      DefaultOpTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
		Retry:          resilience.DefaultRetryConfig(),
		Breaker:        resilience.NewCircuitBreaker("external", 5, 2, 30*time.Second),
	}
}

// Tick implements §4.H steps 1-3: load candidates, evaluate+execute each in
// parallel up to MaxConcurrency, persist each with CAS. changed reports
// whether any workspace actually transitioned, which the coordrt loop uses
// to accelerate its next poll.
func (c *Controller) Tick(ctx context.Context) (bool, error) {
	candidates, err := c.Conn.LoadReconcileCandidates(ctx)
	if err != nil {
		return false, err
	}
	if len(candidates) == 0 {
		c.maybeHeartbeat(0, 0)
		return false, nil
	}

	maxConcurrency := c.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}
	sem := make(chan struct{}, maxConcurrency)
	var wg sync.WaitGroup
	var changedCount int32

	for _, ws := range candidates {
		ws := ws
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			if c.processOne(ctx, ws) {
				atomic.AddInt32(&changedCount, 1)
			}
		}()
	}
	wg.Wait()

	changed := changedCount > 0
	if changed {
		log.Printf("wcontroller: tick evaluated %d candidates, %d transitioned", len(candidates), changedCount)
	}
	c.maybeHeartbeat(len(candidates), int(changedCount))
	return changed, nil
}

func (c *Controller) maybeHeartbeat(candidates, changed int) {
	c.hbMu.Lock()
	defer c.hbMu.Unlock()
	if time.Since(c.lastHeartbeat) < heartbeatInterval {
		return
	}
	c.lastHeartbeat = time.Now()
	log.Printf("wcontroller: heartbeat, last tick %d candidates / %d transitioned", candidates, changed)
}

// processOne runs Judge+Plan for one workspace, executes the Runtime call
// the plan dictates (if any), and persists with CAS. It returns true iff
// the persisted phase or operation actually differs from what was loaded.
func (c *Controller) processOne(ctx context.Context, ws domain.Workspace) bool {
	deleted := ws.DeletedAt != nil
	judgeOut := domain.Judge(ws.Conditions, &deleted, ws.ArchiveKey)
	action := domain.Plan(ws, judgeOut, c.OpTimeout, time.Now(), newArchiveOpID)

	update := store.WCUpdate{
		WorkspaceID:       ws.ID,
		ExpectedOperation: ws.Operation,
		Phase:             action.Phase,
		Operation:         action.Operation,
		OpID:              ws.OpID,
		ArchiveOpID:       action.ArchiveOpID,
		ErrorReason:       action.ErrorReason,
		ErrorCount:        ws.ErrorCount,
		PhaseChanged:      action.Phase != ws.Phase,
	}

	switch {
	case action.Complete:
		c.Timeline.Record(timeline.OperationEvent{
			WorkspaceID: ws.ID, Operation: string(ws.Operation), OpID: ws.OpID, Stage: timeline.StageCompleted,
		})
		update.OpID = ""
		update.ErrorCount = 0

	case action.Operation == domain.OpNone:
		// Already converged, or Judge-ERROR with nothing further to do.

	default:
		fresh := ws.Operation != action.Operation
		opID := ws.OpID
		startedAt := ws.OpStartedAt
		if fresh || opID == "" {
			opID = ulid.Make().String()
			startedAt = time.Now()
			c.Timeline.Record(timeline.OperationEvent{
				WorkspaceID: ws.ID, Operation: string(action.Operation), OpID: opID, Stage: timeline.StageStarted,
			})
		} else {
			c.Timeline.Record(timeline.OperationEvent{
				WorkspaceID: ws.ID, Operation: string(action.Operation), OpID: opID, Stage: timeline.StageRetried,
			})
		}
		update.OpID = opID
		update.OpStartedAt = &startedAt

		archiveKey, err := c.execute(ctx, ws, action.Operation, action.ArchiveOpID)
		if archiveKey != "" {
			update.ArchiveKey = archiveKey
		}
		if err != nil {
			if ctx.Err() != nil {
				return false
			}
			var openErr *resilience.CircuitOpenError
			if errors.As(err, &openErr) {
				log.Printf("wcontroller: %s breaker open for %s, deferring to next tick", openErr.Service, ws.ID)
				return false
			}
			log.Printf("wcontroller: %s failed for workspace %s: %v", action.Operation, ws.ID, err)
			c.Timeline.Record(timeline.OperationEvent{
				WorkspaceID: ws.ID, Operation: string(action.Operation), OpID: opID, Stage: timeline.StageFailed,
			})
			update.ErrorCount = ws.ErrorCount + 1
		}
	}

	if action.Phase == domain.PhaseError && action.Phase != ws.Phase {
		snapshot := ws
		snapshot.Phase = action.Phase
		snapshot.ErrorReason = action.ErrorReason
		c.Incidents.Add(incident.Capture(snapshot, c.Timeline))
	}

	ok, err := c.Conn.ApplyWCUpdate(ctx, update)
	if err != nil {
		log.Printf("wcontroller: persist failed for workspace %s: %v", ws.ID, err)
		return false
	}
	if !ok {
		log.Printf("wcontroller: workspace %s changed under us, skipping this tick", ws.ID)
		return false
	}
	if update.Phase != ws.Phase {
		observability.WorkspaceTransitions.WithLabelValues(string(update.Phase)).Inc()
	}
	return update.Phase != ws.Phase || update.Operation != ws.Operation
}

// execute dispatches to the Runtime Port per the §4.H execute-contract
// table. archiveKey is only non-empty for ARCHIVING/CREATE_EMPTY_ARCHIVE.
func (c *Controller) execute(ctx context.Context, ws domain.Workspace, op domain.Operation, archiveOpID string) (string, error) {
	switch op {
	case domain.OpProvisioning:
		return "", c.callRuntime(ctx, "provision", func(ctx context.Context) error {
			return c.Port.Provision(ctx, ws.ID)
		})
	case domain.OpStarting:
		return "", c.callRuntime(ctx, "start", func(ctx context.Context) error {
			return c.Port.Start(ctx, ws.ID, ws.ImageRef)
		})
	case domain.OpStopping:
		return "", c.callRuntime(ctx, "stop", func(ctx context.Context) error {
			return c.Port.Stop(ctx, ws.ID)
		})
	case domain.OpArchiving:
		return c.executeArchiving(ctx, ws.ID, archiveOpID)
	case domain.OpCreateEmptyArchive:
		var key string
		err := c.callRuntime(ctx, "create_empty_archive", func(ctx context.Context) error {
			k, err := c.Port.CreateEmptyArchive(ctx, ws.ID, archiveOpID)
			if err != nil {
				return err
			}
			key = k
			return nil
		})
		return key, err
	case domain.OpRestoring:
		return "", c.callRuntime(ctx, "restore", func(ctx context.Context) error {
			return c.Port.Restore(ctx, ws.ID, ws.ArchiveKey)
		})
	case domain.OpDeleting:
		return "", c.callRuntime(ctx, "delete", func(ctx context.Context) error {
			return c.Port.Delete(ctx, ws.ID)
		})
	default:
		return "", nil
	}
}

// executeArchiving enforces the mandatory archive -> stop -> delete order:
// the volume is only torn down once the archive upload has durably
// committed, never before.
func (c *Controller) executeArchiving(ctx context.Context, id, opID string) (string, error) {
	var key string
	err := c.callRuntime(ctx, "archive", func(ctx context.Context) error {
		k, err := c.Port.Archive(ctx, id, opID)
		if err != nil {
			return err
		}
		key = k
		return nil
	})
	if err != nil {
		return "", err
	}
	if err := c.callRuntime(ctx, "stop", func(ctx context.Context) error { return c.Port.Stop(ctx, id) }); err != nil {
		return key, err
	}
	if err := c.callRuntime(ctx, "delete", func(ctx context.Context) error { return c.Port.Delete(ctx, id) }); err != nil {
		return key, err
	}
	return key, nil
}

// callRuntime wraps one Runtime Port call with the circuit breaker and the
// common transient-error retry policy (§7): a permanent (4xx-equivalent)
// error short-circuits retry, a circuit-open rejection short-circuits the
// whole call without touching the Runtime.
func (c *Controller) callRuntime(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return c.Breaker.Call(ctx, func(ctx context.Context) error {
		return resilience.Do(ctx, c.Retry, op, func(ctx context.Context) error {
			err := fn(ctx)
			if err != nil && isPermanent(err) {
				return resilience.Permanent(err)
			}
			return err
		})
	})
}

func isPermanent(err error) bool {
	var apiErr *apierror.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case apierror.CodeInvalidRequest, apierror.CodeInvalidState, apierror.CodeWorkspaceNotFound:
			return true
		}
	}
	return false
}

func newArchiveOpID() string {
	return ulid.Make().String()
}
