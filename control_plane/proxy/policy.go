// Package proxy implements the authenticated HTTP/WebSocket proxy core
// (spec §4.J): session/ownership auth, phase-gated policy, auto-wake,
// activity recording, and relay to the container the Runtime Port
// resolves.
package proxy

import (
	"github.com/codehub/controlplane/control_plane/domain"
)

// Decision is the phase-gated routing outcome for one /w/{id}/... request.
type Decision int

const (
	DecisionAllow Decision = iota
	DecisionRedirect
	DecisionWSClose
)

// PolicyResult is what Server.decideHTTP/DecideWS return: either ALLOW (proxy
// through) or a status to hand back instead, mirroring the HTTP-redirect /
// WS-close-code split of spec §4.J step 3.
type PolicyResult struct {
	Decision      Decision
	RedirectURL   string
	WSCloseCode   int
	WSCloseReason string
}

func allow() PolicyResult { return PolicyResult{Decision: DecisionAllow} }

func redirectTo(url string) PolicyResult {
	return PolicyResult{Decision: DecisionRedirect, RedirectURL: url}
}

func wsClose(code int, reason string) PolicyResult {
	return PolicyResult{Decision: DecisionWSClose, WSCloseCode: code, WSCloseReason: reason}
}

// DecideWS implements the WebSocket-specific policy: only RUNNING is
// allowed through. WebSockets can't render an HTML status page, so there
// is no auto-wake on this path — the caller must retry once the workspace
// has actually woken via the HTTP path.
func DecideWS(ws *domain.Workspace) PolicyResult {
	if ws.Phase == domain.PhaseRunning {
		return allow()
	}
	return wsClose(1008, "Workspace not running")
}
