package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codehub/controlplane/control_plane/activity"
	"github.com/codehub/controlplane/control_plane/apierror"
	"github.com/codehub/controlplane/control_plane/auth"
	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/idempotency"
	"github.com/codehub/controlplane/control_plane/observability"
	"github.com/codehub/controlplane/control_plane/runtime"
	"github.com/codehub/controlplane/control_plane/scheduler"
	"github.com/codehub/controlplane/control_plane/store"
)

// DefaultIPRateLimit/Burst bound how fast one remote address can hit the
// proxy before auth even runs, independent of the per-user running cap.
const (
	DefaultIPRateLimit = 20.0 // requests/sec
	DefaultIPBurst     = 40
)

// SessionCookieName is the cookie the browser carries the session in.
const SessionCookieName = "session"

// DefaultMaxRunningPerUser caps concurrently-running workspaces per user
// when no explicit override is configured.
const DefaultMaxRunningPerUser = 3

// RunningStore is the Postgres surface the auto-wake path needs (spec
// §4.J step 3).
type RunningStore interface {
	ListRunningWorkspaces(ctx context.Context, userID string) ([]store.RunningWorkspace, error)
	RequestStart(ctx context.Context, id, userID string, maxRunning int) error
}

// Server implements the authenticated HTTP/WebSocket proxy (spec §4.J):
// every /w/{id}/... request is authenticated, ownership-checked,
// phase-gated, activity-recorded, then relayed to the container the
// Runtime Port resolves.
type Server struct {
	Auth       *auth.Authenticator
	Running    RunningStore
	Activity   *activity.Buffer
	Port       runtime.Port
	WakeDedup  *idempotency.WakeDedup
	IPLimiter  *scheduler.TokenBucketLimiter
	MaxRunning int
}

func New(authenticator *auth.Authenticator, running RunningStore, buf *activity.Buffer, port runtime.Port, wakeDedup *idempotency.WakeDedup, maxRunning int) *Server {
	if maxRunning <= 0 {
		maxRunning = DefaultMaxRunningPerUser
	}
	return &Server{
		Auth:       authenticator,
		Running:    running,
		Activity:   buf,
		Port:       port,
		WakeDedup:  wakeDedup,
		IPLimiter:  scheduler.NewTokenBucketLimiter(DefaultIPRateLimit, DefaultIPBurst),
		MaxRunning: maxRunning,
	}
}

// clientIP prefers X-Forwarded-For's first hop (set by the edge load
// balancer in front of this proxy), falling back to the raw peer address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if idx := strings.IndexByte(fwd, ','); idx >= 0 {
			return strings.TrimSpace(fwd[:idx])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// RedirectTrailingSlash implements "GET /w/{id}" -> 308 "/w/{id}/".
func (s *Server) RedirectTrailingSlash(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/w/"+r.PathValue("id")+"/", http.StatusPermanentRedirect)
}

// HandleProxy implements "/w/{id}/{path...}" for both HTTP and WebSocket.
func (s *Server) HandleProxy(w http.ResponseWriter, r *http.Request) {
	if s.IPLimiter != nil && !s.IPLimiter.Allow(clientIP(r)) {
		observability.ProxyRateLimited.Inc()
		writeAPIError(w, apierror.TooManyRequests("rate limit exceeded", 1))
		return
	}

	workspaceID := r.PathValue("id")
	path := r.PathValue("path")

	userID, err := s.Auth.UserIDFromSession(r.Context(), cookieValue(r, SessionCookieName))
	if err != nil {
		writeAPIError(w, err)
		return
	}

	ws, err := s.Auth.WorkspaceForUser(r.Context(), workspaceID, userID)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	if websocket.IsWebSocketUpgrade(r) {
		s.handleWS(w, r, ws, path)
		return
	}
	s.handleHTTP(w, r, ws, path, userID)
}

func (s *Server) handleHTTP(w http.ResponseWriter, r *http.Request, ws *domain.Workspace, path, userID string) {
	result := s.decideHTTP(r.Context(), ws, userID)
	switch result.Decision {
	case DecisionRedirect:
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)
		return
	case DecisionAllow:
		// fall through to relay
	default:
		http.Error(w, "workspace unavailable", http.StatusServiceUnavailable)
		return
	}

	s.Activity.Record(ws.ID)

	upstream, err := s.Port.GetUpstream(r.Context(), ws.ID)
	if err != nil || upstream == nil {
		observability.ProxyUpstreamErrors.WithLabelValues("resolve").Inc()
		writeAPIError(w, apierror.UpstreamUnavailable("upstream unavailable", err))
		return
	}

	newReverseProxy(upstream, "/w/"+ws.ID).ServeHTTP(w, r)
}

// decideHTTP implements spec §4.J step 3 for the HTTP path: RUNNING
// proxies through; STANDBY/ARCHIVED attempt an auto-wake (deduplicated
// across concurrent requests) and redirect to a status page; anything
// else redirects to the error page.
func (s *Server) decideHTTP(ctx context.Context, ws *domain.Workspace, userID string) PolicyResult {
	if ws.Phase == domain.PhaseRunning {
		return allow()
	}

	if ws.Phase == domain.PhaseStandby || ws.Phase == domain.PhaseArchived {
		if s.WakeDedup.TryClaim(ctx, ws.ID) {
			observability.ProxyAutoWakes.WithLabelValues(string(ws.Phase)).Inc()
			if err := s.Running.RequestStart(ctx, ws.ID, userID, s.MaxRunning); err != nil {
				var limitErr *store.RunningLimitError
				if errors.As(err, &limitErr) {
					observability.RunningLimitRejections.Inc()
					return redirectTo(limitExceededPageURL(limitErr.Running, limitErr.Max))
				}
				log.Printf("proxy: auto-wake request_start failed for %s: %v", ws.ID, err)
			}
		}
		if ws.Phase == domain.PhaseStandby {
			return redirectTo(startingPageURL(ws))
		}
		return redirectTo(restoringPageURL(ws))
	}

	return redirectTo(errorPageURL(ws))
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request, ws *domain.Workspace, path string) {
	result := DecideWS(ws)
	if result.Decision != DecisionAllow {
		http.Error(w, result.WSCloseReason, http.StatusConflict)
		return
	}

	s.Activity.Record(ws.ID)

	upstream, err := s.Port.GetUpstream(r.Context(), ws.ID)
	if err != nil || upstream == nil {
		observability.ProxyUpstreamErrors.WithLabelValues("resolve").Inc()
		http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("proxy: websocket upgrade failed for %s: %v", ws.ID, err)
		return
	}
	defer clientConn.Close()

	backendConn, resp, err := dialUpstreamWS(upstream, path, r.URL.RawQuery)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		observability.ProxyUpstreamErrors.WithLabelValues("dial").Inc()
		clientConn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(1011, "Upstream unavailable"),
			time.Now().Add(writeWait))
		return
	}
	defer backendConn.Close()

	relayWS(clientConn, backendConn, ws.ID, s.Activity)
}

func writeAPIError(w http.ResponseWriter, err error) {
	var apiErr *apierror.Error
	if !errors.As(err, &apiErr) {
		apiErr = apierror.Internal("proxy error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status())
	_ = json.NewEncoder(w).Encode(apiErr.Body())
}
