package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codehub/controlplane/control_plane/auth"
	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/idempotency"
	"github.com/codehub/controlplane/control_plane/scheduler"
	"github.com/codehub/controlplane/control_plane/store"
)

type fakeRunningStore struct {
	requestStartCalls int
	requestStartErr   error
	running           []store.RunningWorkspace
}

func (f *fakeRunningStore) ListRunningWorkspaces(ctx context.Context, userID string) ([]store.RunningWorkspace, error) {
	return f.running, nil
}

func (f *fakeRunningStore) RequestStart(ctx context.Context, id, userID string, maxRunning int) error {
	f.requestStartCalls++
	return f.requestStartErr
}

func newTestServer(running *fakeRunningStore) *Server {
	return &Server{
		Auth:       auth.New(nil, nil),
		Running:    running,
		WakeDedup:  idempotency.NewWakeDedup(nil, time.Minute),
		MaxRunning: DefaultMaxRunningPerUser,
	}
}

func TestDecideHTTPAllowsRunning(t *testing.T) {
	s := newTestServer(&fakeRunningStore{})
	result := s.decideHTTP(context.Background(), &domain.Workspace{Phase: domain.PhaseRunning}, "u1")
	require.Equal(t, DecisionAllow, result.Decision)
}

func TestDecideHTTPAutoWakesStandby(t *testing.T) {
	running := &fakeRunningStore{}
	s := newTestServer(running)
	result := s.decideHTTP(context.Background(), &domain.Workspace{ID: "ws-1", Phase: domain.PhaseStandby}, "u1")
	require.Equal(t, DecisionRedirect, result.Decision)
	require.Contains(t, result.RedirectURL, "starting.html")
	require.Equal(t, 1, running.requestStartCalls)
}

func TestDecideHTTPAutoWakesArchivedToRestoring(t *testing.T) {
	running := &fakeRunningStore{}
	s := newTestServer(running)
	result := s.decideHTTP(context.Background(), &domain.Workspace{ID: "ws-1", Phase: domain.PhaseArchived}, "u1")
	require.Equal(t, DecisionRedirect, result.Decision)
	require.Contains(t, result.RedirectURL, "restoring.html")
}

func TestDecideHTTPDedupesConcurrentWakes(t *testing.T) {
	running := &fakeRunningStore{}
	s := newTestServer(running)
	ws := &domain.Workspace{ID: "ws-1", Phase: domain.PhaseStandby}
	s.decideHTTP(context.Background(), ws, "u1")
	s.decideHTTP(context.Background(), ws, "u1")
	require.Equal(t, 1, running.requestStartCalls, "a second request within the claim TTL must not re-issue request_start")
}

func TestDecideHTTPRedirectsToLimitPageOnRunningLimit(t *testing.T) {
	running := &fakeRunningStore{
		requestStartErr: &store.RunningLimitError{
			Running: []store.RunningWorkspace{{ID: "ws-2", Name: "other"}},
			Max:     3,
		},
	}
	s := newTestServer(running)
	result := s.decideHTTP(context.Background(), &domain.Workspace{ID: "ws-1", Phase: domain.PhaseStandby}, "u1")
	require.Equal(t, DecisionRedirect, result.Decision)
	require.Contains(t, result.RedirectURL, "limit.html")
	require.Contains(t, result.RedirectURL, "ws-2:other")
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/w/ws-1/", nil)
	r.Header.Set("X-Forwarded-For", "203.0.113.5, 10.0.0.1")
	r.RemoteAddr = "10.0.0.1:12345"
	require.Equal(t, "203.0.113.5", clientIP(r))
}

func TestClientIPFallsBackToRemoteAddr(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/w/ws-1/", nil)
	r.RemoteAddr = "198.51.100.7:9999"
	require.Equal(t, "198.51.100.7", clientIP(r))
}

func TestHandleProxyRateLimitsByIP(t *testing.T) {
	s := newTestServer(&fakeRunningStore{})
	s.IPLimiter = scheduler.NewTokenBucketLimiter(1, 1)

	r1 := httptest.NewRequest(http.MethodGet, "/w/ws-1/", nil)
	r1.RemoteAddr = "198.51.100.9:1111"
	w1 := httptest.NewRecorder()
	s.HandleProxy(w1, r1)
	require.NotEqual(t, http.StatusTooManyRequests, w1.Code)

	r2 := httptest.NewRequest(http.MethodGet, "/w/ws-1/", nil)
	r2.RemoteAddr = "198.51.100.9:1111"
	w2 := httptest.NewRecorder()
	s.HandleProxy(w2, r2)
	require.Equal(t, http.StatusTooManyRequests, w2.Code)
}

func TestDecideHTTPRedirectsToErrorPageForOtherPhases(t *testing.T) {
	s := newTestServer(&fakeRunningStore{})
	for _, phase := range []domain.Phase{domain.PhasePending, domain.PhaseError, domain.PhaseDeleting, domain.PhaseDeleted} {
		result := s.decideHTTP(context.Background(), &domain.Workspace{Phase: phase, Name: "ws"}, "u1")
		require.Equal(t, DecisionRedirect, result.Decision)
		require.Contains(t, result.RedirectURL, "error.html")
	}
}
