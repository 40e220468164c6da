package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codehub/controlplane/control_plane/domain"
)

// conn is the minimal subset of *pgxpool.Pool / *pgx.Conn this package
// needs, so the same query helpers serve both the pooled Store (read paths,
// the API boundary, session lookups) and the dedicated per-coordinator
// connection that ADR-012 requires for advisory-lock-guarded writes.
type conn interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

// Pool is the pooled Postgres store: read-mostly paths (proxy ownership
// checks, session validation, API-boundary reads) that don't need a
// dedicated connection. Mirrors the teacher's pgxpool tuning exactly.
type Pool struct {
	pool *pgxpool.Pool
}

func NewPool(ctx context.Context, connString string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 50
	cfg.MinConns = 5
	cfg.MaxConnLifetime = time.Hour
	cfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, err
	}
	return &Pool{pool: pool}, nil
}

func (p *Pool) Close() { p.pool.Close() }

// AcquireConn checks out a pooled *pgxpool.Conn for a coordinator's dedicated,
// long-lived connection (§4.A/§5: the advisory lock and every tick() write
// for that coordinator type must share this one connection).
func (p *Pool) AcquireConn(ctx context.Context) (*pgxpool.Conn, error) {
	return p.pool.Acquire(ctx)
}

// --- read paths shared by both Pool and a coordinator's dedicated conn ---

func getWorkspace(ctx context.Context, c conn, id string) (*domain.Workspace, error) {
	const q = `
		SELECT id, owner_user_id, name, description, memo, image_ref, home_store_key,
		       conditions, phase, operation, op_started_at, op_id, archive_op_id,
		       desired_state, archive_key, error_reason, error_count,
		       observed_at, last_access_at, phase_changed_at,
		       standby_ttl_seconds, archive_ttl_seconds, deleted_at
		FROM workspaces WHERE id = $1`
	var r WorkspaceRow
	err := c.QueryRow(ctx, q, id).Scan(
		&r.ID, &r.OwnerUserID, &r.Name, &r.Description, &r.Memo, &r.ImageRef, &r.HomeStoreKey,
		&r.ConditionsJSON, &r.Phase, &r.Operation, &r.OpStartedAt, &r.OpID, &r.ArchiveOpID,
		&r.DesiredState, &r.ArchiveKey, &r.ErrorReason, &r.ErrorCount,
		&r.ObservedAt, &r.LastAccessAt, &r.PhaseChangedAt,
		&r.StandbyTTLSeconds, &r.ArchiveTTLSeconds, &r.DeletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var jc jsonConditions
	if len(r.ConditionsJSON) > 0 {
		if err := json.Unmarshal(r.ConditionsJSON, &jc); err != nil {
			return nil, fmt.Errorf("store: decode conditions for %s: %w", id, err)
		}
	}
	ws := r.toDomain(jc.toDomain())
	return &ws, nil
}

func (p *Pool) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	return getWorkspace(ctx, p.pool, id)
}

func listNonDeletedWorkspaceIDs(ctx context.Context, c conn) ([]string, error) {
	rows, err := c.Query(ctx, `SELECT id FROM workspaces WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (p *Pool) ListNonDeletedWorkspaceIDs(ctx context.Context) ([]string, error) {
	return listNonDeletedWorkspaceIDs(ctx, p.pool)
}

// --- Session store (pooled) ---

func (p *Pool) CreateSession(ctx context.Context, userID string, ttl time.Duration) (*SessionRow, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID); err != nil {
		return nil, err
	}

	row := &SessionRow{UserID: userID, ExpiresAt: time.Now().Add(ttl)}
	err = tx.QueryRow(ctx, `
		INSERT INTO sessions (id, user_id, expires_at, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, NOW())
		RETURNING id, created_at`, userID, row.ExpiresAt).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return row, nil
}

func (p *Pool) GetSession(ctx context.Context, sessionID string) (*SessionRow, error) {
	var s SessionRow
	err := p.pool.QueryRow(ctx, `SELECT id, user_id, expires_at, revoked_at, created_at FROM sessions WHERE id = $1`, sessionID).
		Scan(&s.ID, &s.UserID, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *Pool) RevokeSession(ctx context.Context, sessionID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE id = $1`, sessionID)
	return err
}

func (p *Pool) RevokeAllForUser(ctx context.Context, userID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE user_id = $1 AND revoked_at IS NULL`, userID)
	return err
}

func (p *Pool) UpsertAdminUser(ctx context.Context, username string, bcryptHash string) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO users (id, username, password_hash, created_at)
		VALUES (gen_random_uuid()::text, $1, $2, NOW())
		ON CONFLICT (username) DO UPDATE SET password_hash = EXCLUDED.password_hash`,
		username, bcryptHash)
	return err
}

// --- Proxy auto-wake / running cap (§4.J) ---

// RunningWorkspace is the minimal shape the limit-exceeded status page needs.
type RunningWorkspace struct {
	ID   string
	Name string
}

// RunningLimitError is returned by RequestStart when userID is already at
// maxRunning concurrently-desired-running workspaces.
type RunningLimitError struct {
	Running []RunningWorkspace
	Max     int
}

func (e *RunningLimitError) Error() string {
	return fmt.Sprintf("running limit exceeded: %d/%d workspaces already running", len(e.Running), e.Max)
}

// ListRunningWorkspaces returns userID's workspaces counted against the
// running cap — desired_state=RUNNING, not phase=RUNNING, since a workspace
// mid-wake already claims its slot even before the Workspace Controller has
// converged it.
func (p *Pool) ListRunningWorkspaces(ctx context.Context, userID string) ([]RunningWorkspace, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, name FROM workspaces
		WHERE owner_user_id = $1 AND deleted_at IS NULL AND desired_state = 'RUNNING'
		ORDER BY name`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunningWorkspace
	for rows.Next() {
		var rw RunningWorkspace
		if err := rows.Scan(&rw.ID, &rw.Name); err != nil {
			return nil, err
		}
		out = append(out, rw)
	}
	return out, rows.Err()
}

// RequestStart sets desired_state=RUNNING for id, owned by userID,
// enforcing maxRunning concurrently-desired workspaces per user. A no-op
// returning nil if id is already desired RUNNING, or if id doesn't exist /
// isn't owned by userID (the caller already resolved ownership upstream;
// this just refuses to silently start something it can't see). Returns
// *RunningLimitError if the cap is already reached by other workspaces.
func (p *Pool) RequestStart(ctx context.Context, id, userID string, maxRunning int) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx, `
		SELECT desired_state FROM workspaces
		WHERE id = $1 AND owner_user_id = $2 AND deleted_at IS NULL
		FOR UPDATE`, id, userID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return err
	}
	if current == "RUNNING" {
		return nil
	}

	rows, err := tx.Query(ctx, `
		SELECT id, name FROM workspaces
		WHERE owner_user_id = $1 AND deleted_at IS NULL AND desired_state = 'RUNNING' AND id != $2
		ORDER BY name`, userID, id)
	if err != nil {
		return err
	}
	var running []RunningWorkspace
	for rows.Next() {
		var rw RunningWorkspace
		if err := rows.Scan(&rw.ID, &rw.Name); err != nil {
			rows.Close()
			return err
		}
		running = append(running, rw)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	if len(running) >= maxRunning {
		return &RunningLimitError{Running: running, Max: maxRunning}
	}

	if _, err := tx.Exec(ctx, `UPDATE workspaces SET desired_state = 'RUNNING' WHERE id = $1`, id); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// CoordinatorConn is a single dedicated connection owned by one coordinator
// (Observer, WC, Scheduler, or EventListener). Per ADR-012 / spec §5, the
// advisory lock for that coordinator's role and every write this tick
// performs MUST share this one connection — never a pool checkout per
// query, which would leave the connection "idle in transaction" and
// deadlock concurrent coordinators against each other.
type CoordinatorConn struct {
	Conn *pgx.Conn
}

func NewCoordinatorConn(ctx context.Context, connString string) (*CoordinatorConn, error) {
	c, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &CoordinatorConn{Conn: c}, nil
}

func (c *CoordinatorConn) Close(ctx context.Context) error { return c.Conn.Close(ctx) }

func (c *CoordinatorConn) GetWorkspace(ctx context.Context, id string) (*domain.Workspace, error) {
	return getWorkspace(ctx, c.Conn, id)
}

func (c *CoordinatorConn) ListNonDeletedWorkspaceIDs(ctx context.Context) ([]string, error) {
	return listNonDeletedWorkspaceIDs(ctx, c.Conn)
}

// LoadReconcileCandidates implements §4.H step 1: operation in progress, or
// phase mismatched against the converged phase for desired_state, or
// RUNNING (to catch external deletion). Soft-deleted rows are skipped
// unless desired_state is DELETED.
func (c *CoordinatorConn) LoadReconcileCandidates(ctx context.Context) ([]domain.Workspace, error) {
	const q = `
		SELECT id, owner_user_id, name, description, memo, image_ref, home_store_key,
		       conditions, phase, operation, op_started_at, op_id, archive_op_id,
		       desired_state, archive_key, error_reason, error_count,
		       observed_at, last_access_at, phase_changed_at,
		       standby_ttl_seconds, archive_ttl_seconds, deleted_at
		FROM workspaces
		WHERE (deleted_at IS NULL OR desired_state = 'DELETED')
		  AND (operation != 'NONE' OR phase = 'RUNNING'
		       OR (phase = 'PENDING' AND desired_state IN ('RUNNING','STANDBY','ARCHIVED'))
		       OR (phase = 'STANDBY' AND desired_state IN ('RUNNING','ARCHIVED'))
		       OR (phase = 'ARCHIVED' AND desired_state IN ('RUNNING','STANDBY'))
		       OR desired_state = 'DELETED')`
	rows, err := c.Conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		var r WorkspaceRow
		if err := rows.Scan(
			&r.ID, &r.OwnerUserID, &r.Name, &r.Description, &r.Memo, &r.ImageRef, &r.HomeStoreKey,
			&r.ConditionsJSON, &r.Phase, &r.Operation, &r.OpStartedAt, &r.OpID, &r.ArchiveOpID,
			&r.DesiredState, &r.ArchiveKey, &r.ErrorReason, &r.ErrorCount,
			&r.ObservedAt, &r.LastAccessAt, &r.PhaseChangedAt,
			&r.StandbyTTLSeconds, &r.ArchiveTTLSeconds, &r.DeletedAt,
		); err != nil {
			return nil, err
		}
		var jc jsonConditions
		if len(r.ConditionsJSON) > 0 {
			_ = json.Unmarshal(r.ConditionsJSON, &jc)
		}
		out = append(out, r.toDomain(jc.toDomain()))
	}
	return out, rows.Err()
}

// ApplyObserverConditions bulk-writes conditions/observed_at using array
// unnest, the same pattern the teacher uses for the activity sync (§4.D/§4.G).
func (c *CoordinatorConn) ApplyObserverConditions(ctx context.Context, updates []ObserverUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	ids := make([]string, len(updates))
	payloads := make([][]byte, len(updates))
	observedAts := make([]time.Time, len(updates))
	for i, u := range updates {
		ids[i] = u.WorkspaceID
		b, err := json.Marshal(fromDomainConditions(u.Conditions))
		if err != nil {
			return fmt.Errorf("store: encode conditions for %s: %w", u.WorkspaceID, err)
		}
		payloads[i] = b
		observedAts[i] = u.ObservedAt
	}
	const q = `
		UPDATE workspaces w
		SET conditions = v.conditions, observed_at = v.observed_at
		FROM (
			SELECT * FROM unnest(
				CAST($1 AS text[]), CAST($2 AS jsonb[]), CAST($3 AS timestamptz[])
			) AS t(id, conditions, observed_at)
		) AS v
		WHERE w.id = v.id`
	_, err := c.Conn.Exec(ctx, q, ids, payloads, observedAts)
	return err
}

// ApplyWCUpdate is the WC's single-row CAS persist: the WHERE clause
// includes the operation value WC originally loaded, so rowcount = 0
// unambiguously means the row changed under us (§4.H step 2).
func (c *CoordinatorConn) ApplyWCUpdate(ctx context.Context, u WCUpdate) (bool, error) {
	const q = `
		UPDATE workspaces
		SET phase = $3,
		    operation = $4,
		    op_started_at = $5,
		    op_id = $6,
		    archive_op_id = $7,
		    archive_key = CASE WHEN $8 != '' THEN $8 ELSE archive_key END,
		    error_reason = $9,
		    error_count = $10,
		    phase_changed_at = CASE WHEN $11 THEN NOW() ELSE phase_changed_at END
		WHERE id = $1 AND operation = $2`
	tag, err := c.Conn.Exec(ctx, q,
		u.WorkspaceID, string(u.ExpectedOperation),
		string(u.Phase), string(u.Operation), u.OpStartedAt, u.OpID, u.ArchiveOpID,
		u.ArchiveKey, string(u.ErrorReason), u.ErrorCount, u.PhaseChanged,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SyncActivity implements §4.D step 3: bulk-write last_access_at from the
// Redis snapshot and return exactly the ids whose row actually matched, so
// the caller knows which Redis keys it may now safely delete.
func (c *CoordinatorConn) SyncActivity(ctx context.Context, ids []string, timestamps []time.Time) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const q = `
		UPDATE workspaces w
		SET last_access_at = v.ts
		FROM (
			SELECT * FROM unnest(CAST($1 AS text[]), CAST($2 AS timestamptz[])) AS t(id, ts)
		) AS v
		WHERE w.id = v.id
		RETURNING w.id`
	rows, err := c.Conn.Query(ctx, q, ids, timestamps)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var matched []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		matched = append(matched, id)
	}
	return matched, rows.Err()
}

// DemoteToStandby implements §4.I TTL step 2.
func (c *CoordinatorConn) DemoteToStandby(ctx context.Context) ([]string, error) {
	const q = `
		UPDATE workspaces
		SET desired_state = 'STANDBY'
		WHERE phase = 'RUNNING' AND operation = 'NONE' AND deleted_at IS NULL
		  AND last_access_at + make_interval(secs := standby_ttl_seconds) < NOW()
		RETURNING id`
	return c.runReturningIDs(ctx, q)
}

// DemoteToArchived implements §4.I TTL step 3.
func (c *CoordinatorConn) DemoteToArchived(ctx context.Context) ([]string, error) {
	const q = `
		UPDATE workspaces
		SET desired_state = 'ARCHIVED'
		WHERE phase = 'STANDBY' AND operation = 'NONE' AND deleted_at IS NULL
		  AND phase_changed_at + make_interval(secs := archive_ttl_seconds) < NOW()
		RETURNING id`
	return c.runReturningIDs(ctx, q)
}

func (c *CoordinatorConn) runReturningIDs(ctx context.Context, q string) ([]string, error) {
	rows, err := c.Conn.Query(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// TryAdvisoryLock attempts pg_try_advisory_lock(lockID) on this connection.
// Per ADR-012 the lock and every subsequent tick() write for this
// coordinator share c.Conn, so holding the lock here is equivalent to
// holding it for the whole session.
func (c *CoordinatorConn) TryAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	var acquired bool
	err := c.Conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, lockID).Scan(&acquired)
	return acquired, err
}

// AdvisoryUnlock releases a previously acquired advisory lock.
func (c *CoordinatorConn) AdvisoryUnlock(ctx context.Context, lockID int64) (bool, error) {
	var released bool
	err := c.Conn.QueryRow(ctx, `SELECT pg_advisory_unlock($1)`, lockID).Scan(&released)
	return released, err
}

// VerifyAdvisoryLock confirms this exact backend still holds lockID,
// guarding against a connection drop/reconnect silently losing the lock
// without the session noticing.
func (c *CoordinatorConn) VerifyAdvisoryLock(ctx context.Context, lockID int64) (bool, error) {
	const q = `
		SELECT EXISTS(
			SELECT 1 FROM pg_locks
			WHERE locktype = 'advisory'
			  AND (classid::bigint << 32) | (objid::bigint & x'FFFFFFFF'::bigint) = $1
			  AND objsubid = 1
			  AND pid = pg_backend_pid()
			  AND granted = true
		)`
	var holding bool
	err := c.Conn.QueryRow(ctx, q, lockID).Scan(&holding)
	return holding, err
}

// ProtectedArchivePaths resolves the GC protected set per §4.I/§13: the
// union of every non-deleted workspace's current archive_key, and the
// in-flight archive-op path for any non-deleted workspace with a non-null
// archive_op_id regardless of its current operation value (a previously
// interrupted ARCHIVING can leave archive_op_id set after Planner moves on).
func (c *CoordinatorConn) ProtectedArchivePaths(ctx context.Context, resourcePrefix string) (map[string]bool, map[string]bool, error) {
	protectedKeys := make(map[string]bool)
	protectedWorkspaceIDs := make(map[string]bool)

	rows, err := c.Conn.Query(ctx, `
		SELECT id, archive_key, archive_op_id
		FROM workspaces WHERE deleted_at IS NULL`)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, archiveKey, archiveOpID string
		if err := rows.Scan(&id, &archiveKey, &archiveOpID); err != nil {
			return nil, nil, err
		}
		protectedWorkspaceIDs[id] = true
		if archiveKey != "" {
			protectedKeys[archiveKey] = true
		}
		if archiveOpID != "" {
			protectedKeys[fmt.Sprintf("%s%s/%s/home.tar.zst", resourcePrefix, id, archiveOpID)] = true
		}
	}
	return protectedKeys, protectedWorkspaceIDs, rows.Err()
}
