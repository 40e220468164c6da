package events

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codehub/controlplane/control_plane/auth"
	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/store"
)

type fakeReader struct {
	mu      sync.Mutex
	batches [][]store.EventMessage
}

func (f *fakeReader) ReadEvents(ctx context.Context, ownerUserID, lastID string, block time.Duration) ([]store.EventMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.batches) == 0 {
		return nil, nil
	}
	next := f.batches[0]
	f.batches = f.batches[1:]
	return next, nil
}

type fakeLookup struct {
	workspaces map[string]*domain.Workspace
}

func (f *fakeLookup) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	return f.workspaces[id], nil
}

type fakeSessions struct {
	userID string
}

func (f *fakeSessions) GetSession(ctx context.Context, sessionID string) (*store.SessionRow, error) {
	return &store.SessionRow{UserID: f.userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func TestServeHTTPRejectsMissingSessionCookie(t *testing.T) {
	h := New(auth.New(&fakeSessions{}, &fakeLookup{}), &fakeReader{}, &fakeLookup{})
	r := httptest.NewRequest(http.MethodGet, "/events", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestServeHTTPDedupesConsecutiveIdenticalFrames(t *testing.T) {
	ws := &domain.Workspace{ID: "ws-1", Name: "a", Phase: domain.PhaseRunning, Operation: domain.OpNone}
	lookup := &fakeLookup{workspaces: map[string]*domain.Workspace{"ws-1": ws}}
	reader := &fakeReader{batches: [][]store.EventMessage{
		{{ID: "1-1", Data: `{"id":"ws-1","owner_user_id":"u1"}`}},
		{{ID: "1-2", Data: `{"id":"ws-1","owner_user_id":"u1"}`}},
	}}
	h := New(auth.New(&fakeSessions{userID: "u1"}, lookup), reader, lookup)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	body := w.Body.String()
	require.Equal(t, 1, strings.Count(body, "event: connected"), "connection preamble must be sent exactly once")
	require.Equal(t, 1, strings.Count(body, "event: workspace_updated"), "second identical frame must be deduped, not re-emitted")
}

func TestServeHTTPSendsConnectedPreambleBeforeAnyFrame(t *testing.T) {
	h := New(auth.New(&fakeSessions{userID: "u1"}, &fakeLookup{}), &fakeReader{}, &fakeLookup{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	body := w.Body.String()
	require.True(t, strings.HasPrefix(body, "event: connected\n"), "connected must be the first event on the stream")
}

func TestServeHTTPLabelsSoftDeletedWorkspaceAsWorkspaceDeleted(t *testing.T) {
	deletedAt := time.Now()
	ws := &domain.Workspace{ID: "ws-1", Name: "a", Phase: domain.PhaseDeleted, DeletedAt: &deletedAt}
	lookup := &fakeLookup{workspaces: map[string]*domain.Workspace{"ws-1": ws}}
	reader := &fakeReader{batches: [][]store.EventMessage{
		{{ID: "1-1", Data: `{"id":"ws-1","owner_user_id":"u1"}`}},
	}}
	h := New(auth.New(&fakeSessions{userID: "u1"}, lookup), reader, lookup)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	r := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()

	h.ServeHTTP(w, r)

	body := w.Body.String()
	require.Contains(t, body, "event: workspace_deleted")
}

func TestServeHTTPEmitsFrameOnPhaseChange(t *testing.T) {
	running := &domain.Workspace{ID: "ws-1", Name: "a", Phase: domain.PhaseRunning}
	standby := &domain.Workspace{ID: "ws-1", Name: "a", Phase: domain.PhaseStandby}
	lookup := &fakeLookup{workspaces: map[string]*domain.Workspace{"ws-1": running}}
	reader := &fakeReader{batches: [][]store.EventMessage{
		{{ID: "1-1", Data: `{"id":"ws-1","owner_user_id":"u1"}`}},
	}}
	h := New(auth.New(&fakeSessions{userID: "u1"}, lookup), reader, lookup)

	ctx, cancel := context.WithCancel(context.Background())
	r := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	r.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "sess-1"})
	w := httptest.NewRecorder()

	go func() {
		time.Sleep(20 * time.Millisecond)
		lookup.workspaces["ws-1"] = standby
		reader.mu.Lock()
		reader.batches = append(reader.batches, []store.EventMessage{{ID: "1-2", Data: `{"id":"ws-1","owner_user_id":"u1"}`}})
		reader.mu.Unlock()
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	h.ServeHTTP(w, r)

	body := w.Body.String()
	require.Equal(t, 2, strings.Count(body, "event: workspace_updated"), "a phase change must produce a new frame")
	require.Contains(t, body, `"phase":"RUNNING"`)
	require.Contains(t, body, `"phase":"STANDBY"`)
}
