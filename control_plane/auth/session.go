// Package auth implements the proxy's session/ownership authentication
// (spec §4.J step 1-2), admin bootstrap (§6), and the login-lockout
// primitive named in §7. Session and workspace-ownership management
// themselves are external collaborators (§1 Non-goals) — this package only
// validates what the core needs to gate on.
package auth

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/codehub/controlplane/control_plane/apierror"
	"github.com/codehub/controlplane/control_plane/domain"
	"github.com/codehub/controlplane/control_plane/store"
)

const (
	sessionCacheTTL    = 3 * time.Second
	sessionCacheSize   = 1000
	workspaceCacheTTL  = 3 * time.Second
	workspaceCacheSize = 1000
)

// SessionStore is the session surface Authenticator needs.
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (*store.SessionRow, error)
}

// WorkspaceLookup is the workspace surface Authenticator needs.
type WorkspaceLookup interface {
	GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error)
}

type ownershipKey struct {
	workspaceID string
	userID      string
}

// Authenticator resolves a session cookie to a user id and verifies
// workspace ownership, with a short TTL cache in front of each (§4.J: 3s,
// ~1000 entries) so a burst of requests against the same session/workspace
// doesn't hit Postgres on every frame.
type Authenticator struct {
	sessions       SessionStore
	workspaces     WorkspaceLookup
	sessionCache   *expirable.LRU[string, string]
	workspaceCache *expirable.LRU[ownershipKey, *domain.Workspace]
}

func New(sessions SessionStore, workspaces WorkspaceLookup) *Authenticator {
	return &Authenticator{
		sessions:       sessions,
		workspaces:     workspaces,
		sessionCache:   expirable.NewLRU[string, string](sessionCacheSize, nil, sessionCacheTTL),
		workspaceCache: expirable.NewLRU[ownershipKey, *domain.Workspace](workspaceCacheSize, nil, workspaceCacheTTL),
	}
}

// UserIDFromSession resolves a session cookie to a user id.
func (a *Authenticator) UserIDFromSession(ctx context.Context, sessionCookie string) (string, error) {
	if sessionCookie == "" {
		return "", apierror.Unauthorized("session cookie required")
	}
	if userID, ok := a.sessionCache.Get(sessionCookie); ok {
		return userID, nil
	}

	session, err := a.sessions.GetSession(ctx, sessionCookie)
	if err != nil {
		return "", apierror.Internal("session lookup failed", err)
	}
	if session == nil || !session.Valid(time.Now()) {
		return "", apierror.Unauthorized("invalid or expired session")
	}

	a.sessionCache.Add(sessionCookie, session.UserID)
	return session.UserID, nil
}

// WorkspaceForUser resolves workspaceID and verifies userID owns it.
func (a *Authenticator) WorkspaceForUser(ctx context.Context, workspaceID, userID string) (*domain.Workspace, error) {
	key := ownershipKey{workspaceID: workspaceID, userID: userID}
	if ws, ok := a.workspaceCache.Get(key); ok {
		return ws, nil
	}

	ws, err := a.workspaces.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, apierror.Internal("workspace lookup failed", err)
	}
	if ws == nil || ws.DeletedAt != nil {
		return nil, apierror.WorkspaceNotFound("workspace not found")
	}
	if ws.OwnerUserID != userID {
		return nil, apierror.Forbidden("you don't have access to this workspace")
	}

	a.workspaceCache.Add(key, ws)
	return ws, nil
}

// InvalidateSession evicts a cached session immediately, so a just-revoked
// session can't keep authenticating for up to the cache TTL.
func (a *Authenticator) InvalidateSession(sessionCookie string) {
	a.sessionCache.Remove(sessionCookie)
}
