// Package events implements the `/events` SSE endpoint (spec §4.B): each
// connection reads its owner's `events:{uid}` Redis stream from the tail,
// looks the referenced workspace back up for the fields the browser needs,
// deduplicates consecutive identical frames, and heartbeats every 30s.
// Frames are sent as one of the named event types spec §6 lists:
// connected, workspace_updated, workspace_deleted, heartbeat.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/codehub/controlplane/control_plane/auth"
	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/store"
)

const (
	HeartbeatInterval = 30 * time.Second
	readBlock         = 5 * time.Second
)

// SessionCookieName matches proxy.SessionCookieName; duplicated rather than
// imported to keep this leaf package free of a dependency on proxy/.
const SessionCookieName = "session"

// Reader is the Redis surface this endpoint needs.
type Reader interface {
	ReadEvents(ctx context.Context, ownerUserID, lastID string, block time.Duration) ([]store.EventMessage, error)
}

// Handler serves /events.
type Handler struct {
	Auth   *auth.Authenticator
	Redis  Reader
	Lookup auth.WorkspaceLookup
}

func New(authenticator *auth.Authenticator, redis Reader, lookup auth.WorkspaceLookup) *Handler {
	return &Handler{Auth: authenticator, Redis: redis, Lookup: lookup}
}

type frame struct {
	Event       string `json:"-"`
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phase       string `json:"phase"`
	Operation   string `json:"operation"`
	ErrorReason string `json:"error_reason,omitempty"`
	Description string `json:"description"`
	Memo        string `json:"memo"`
}

// SSE event types spec §6 names. frameFromWorkspace reports a soft-deleted
// workspace as workspace_deleted and any other change as workspace_updated.
const (
	eventConnected        = "connected"
	eventHeartbeat        = "heartbeat"
	eventWorkspaceUpdated = "workspace_updated"
	eventWorkspaceDeleted = "workspace_deleted"
)

func frameFromWorkspace(ws *domain.Workspace) frame {
	name := eventWorkspaceUpdated
	if ws.DeletedAt != nil {
		name = eventWorkspaceDeleted
	}
	return frame{
		Event:       name,
		ID:          ws.ID,
		Name:        ws.Name,
		Phase:       string(ws.Phase),
		Operation:   string(ws.Operation),
		ErrorReason: string(ws.ErrorReason),
		Description: ws.Description,
		Memo:        ws.Memo,
	}
}

type noticePayload struct {
	ID          string `json:"id"`
	OwnerUserID string `json:"owner_user_id"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionCookie := ""
	if c, err := r.Cookie(SessionCookieName); err == nil {
		sessionCookie = c.Value
	}
	userID, err := h.Auth.UserIDFromSession(r.Context(), sessionCookie)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	writeEvent(w, eventConnected, struct{}{})
	flusher.Flush()

	observability.SSEConnections.Inc()
	defer observability.SSEConnections.Dec()

	ctx := r.Context()
	lastID := "$"
	var lastFrame *frame
	heartbeat := time.NewTicker(HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			writeEvent(w, eventHeartbeat, struct{}{})
			flusher.Flush()
		default:
		}

		messages, err := h.Redis.ReadEvents(ctx, userID, lastID, readBlock)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("events: read error for %s: %v", userID, err)
			time.Sleep(time.Second)
			continue
		}

		for _, msg := range messages {
			lastID = msg.ID
			f, ok := h.resolveFrame(ctx, msg.Data)
			if !ok {
				continue
			}
			if lastFrame != nil && *lastFrame == f {
				observability.SSEFramesDeduped.Inc()
				continue
			}
			lastFrame = &f
			writeEvent(w, f.Event, f)
			flusher.Flush()
		}
	}
}

// writeEvent writes one named SSE event (spec §6: connected,
// workspace_updated, workspace_deleted, heartbeat).
func writeEvent(w http.ResponseWriter, event string, data any) {
	body, _ := json.Marshal(data)
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, body)
}

func (h *Handler) resolveFrame(ctx context.Context, payload string) (frame, bool) {
	var p noticePayload
	if err := json.Unmarshal([]byte(payload), &p); err != nil || p.ID == "" {
		return frame{}, false
	}
	ws, err := h.Lookup.GetWorkspace(ctx, p.ID)
	if err != nil || ws == nil {
		return frame{}, false
	}
	return frameFromWorkspace(ws), true
}
