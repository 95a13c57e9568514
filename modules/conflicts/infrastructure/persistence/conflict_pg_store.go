package persistence

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type pgBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type ConflictPGStore struct {
	pool pgBeginner
}

func NewConflictPGStore(pool pgBeginner) ports.ConflictStore {
	return &ConflictPGStore{pool: pool}
}

func beginTenantTx(ctx context.Context, pool pgBeginner, tenantID string) (pgx.Tx, error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT set_config('app.current_tenant', $1, true);`, tenantID); err != nil {
		_ = tx.Rollback(context.Background())
		return nil, err
	}
	return tx, nil
}

func scanPGConflict(row pgx.Row) (types.Conflict, error) {
	var r conflictRecord
	if err := row.Scan(
		&r.ID,
		&r.TenantID,
		&r.EntityType,
		&r.EntityID,
		&r.Type,
		&r.Severity,
		&r.Status,
		&r.LocalSnapshot,
		&r.RemoteSnapshot,
		&r.DetectedAt,
		&r.ResolvedAt,
		&r.Resolution,
		&r.IgnoredReason,
		&r.Version,
	); err != nil {
		return types.Conflict{}, err
	}
	return r.toConflict()
}

func (s *ConflictPGStore) UpsertPending(ctx context.Context, cand types.Candidate, newID string, at time.Time) (types.Conflict, types.UpsertOutcome, error) {
	if err := validateCandidate(cand); err != nil {
		return types.Conflict{}, "", err
	}
	cols, err := encodeCandidate(cand)
	if err != nil {
		return types.Conflict{}, "", err
	}

	tx, err := beginTenantTx(ctx, s.pool, cand.Key.TenantID)
	if err != nil {
		return types.Conflict{}, "", err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var (
		out     types.Conflict
		outcome types.UpsertOutcome
	)
	// Two passes: a concurrent detection run may insert the pending row between
	// our lookup and our insert; the second lookup then sees it.
	for attempt := 0; attempt < 2 && outcome == ""; attempt++ {
		var existingID, existingFingerprint string
		err = tx.QueryRow(ctx, `
	SELECT id, fingerprint
	FROM conflicts.conflicts
	WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND conflict_type = $4 AND status = 'pending'
	FOR UPDATE
	`, cand.Key.TenantID, cand.Key.EntityType, cand.Key.EntityID, string(cand.Key.Type)).Scan(&existingID, &existingFingerprint)
		switch {
		case err == nil && existingFingerprint == cols.fingerprint:
			out, err = scanPGConflict(tx.QueryRow(ctx, `SELECT`+pgConflictColumns+`
	FROM conflicts.conflicts
	WHERE tenant_id = $1 AND id = $2
	`, cand.Key.TenantID, existingID))
			if err != nil {
				return types.Conflict{}, "", err
			}
			outcome = types.UpsertUnchanged
		case err == nil:
			out, err = scanPGConflict(tx.QueryRow(ctx, `
	UPDATE conflicts.conflicts
	SET severity = $3,
	    local_snapshot = $4::jsonb,
	    remote_snapshot = $5::jsonb,
	    fingerprint = $6,
	    detected_at = $7,
	    version = version + 1
	WHERE tenant_id = $1 AND id = $2 AND status = 'pending'
	RETURNING`+pgConflictColumns,
				cand.Key.TenantID, existingID, string(cand.Severity), cols.local, cols.remote, cols.fingerprint, at.UTC()))
			if err != nil {
				return types.Conflict{}, "", err
			}
			outcome = types.UpsertRefreshed
		case errors.Is(err, pgx.ErrNoRows):
			out, err = scanPGConflict(tx.QueryRow(ctx, `
	INSERT INTO conflicts.conflicts (
	  id, tenant_id, entity_type, entity_id, conflict_type, severity, status,
	  local_snapshot, remote_snapshot, fingerprint, detected_at, version
	)
	VALUES ($1, $2, $3, $4, $5, $6, 'pending', $7::jsonb, $8::jsonb, $9, $10, 1)
	ON CONFLICT (tenant_id, entity_type, entity_id, conflict_type) WHERE status = 'pending' DO NOTHING
	RETURNING`+pgConflictColumns,
				newID, cand.Key.TenantID, cand.Key.EntityType, cand.Key.EntityID, string(cand.Key.Type),
				string(cand.Severity), cols.local, cols.remote, cols.fingerprint, at.UTC()))
			if errors.Is(err, pgx.ErrNoRows) {
				continue
			}
			if err != nil {
				return types.Conflict{}, "", err
			}
			outcome = types.UpsertCreated
		default:
			return types.Conflict{}, "", err
		}
	}
	if outcome == "" {
		return types.Conflict{}, "", errors.New("conflicts: pending row for key vanished during upsert")
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Conflict{}, "", err
	}
	return out, outcome, nil
}

func (s *ConflictPGStore) Get(ctx context.Context, tenantID string, conflictID string) (types.Conflict, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return types.Conflict{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	c, err := scanPGConflict(tx.QueryRow(ctx, `SELECT`+pgConflictColumns+`
	FROM conflicts.conflicts
	WHERE tenant_id = $1 AND id = $2
	`, tenantID, strings.TrimSpace(conflictID)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Conflict{}, &types.NotFoundError{ConflictID: conflictID}
		}
		return types.Conflict{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Conflict{}, err
	}
	return c, nil
}

func (s *ConflictPGStore) List(ctx context.Context, tenantID string, filter types.ConflictFilter, page types.Page) ([]types.Conflict, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	q, args := listQuery("conflicts.conflicts", pgConflictColumns, tenantID, filter, page, pgPlaceholder)
	rows, err := tx.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Conflict{}
	for rows.Next() {
		c, err := scanPGConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ConflictPGStore) CountByStatus(ctx context.Context, tenantID string) ([]types.StatusCount, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT status, conflict_type, severity, count(*)
	FROM conflicts.conflicts
	WHERE tenant_id = $1
	GROUP BY status, conflict_type, severity
	ORDER BY status, conflict_type, severity
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.StatusCount
	for rows.Next() {
		var status, typ, severity string
		var n int64
		if err := rows.Scan(&status, &typ, &severity, &n); err != nil {
			return nil, err
		}
		out = append(out, types.StatusCount{Status: types.Status(status), Type: types.ConflictType(typ), Severity: types.Severity(severity), Count: int(n)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ConflictPGStore) MarkResolved(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, resolution types.Resolution, at time.Time) (types.Conflict, error) {
	raw, err := encodeResolution(resolution)
	if err != nil {
		return types.Conflict{}, err
	}
	return s.transition(ctx, tenantID, conflictID, expectedVersion, `
	UPDATE conflicts.conflicts
	SET status = 'resolved',
	    resolved_at = $4,
	    resolution = $5::jsonb,
	    version = version + 1
	WHERE tenant_id = $1 AND id = $2 AND status = 'pending' AND version = $3
	RETURNING`+pgConflictColumns, at.UTC(), raw)
}

func (s *ConflictPGStore) MarkIgnored(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, reason string, at time.Time) (types.Conflict, error) {
	return s.transition(ctx, tenantID, conflictID, expectedVersion, `
	UPDATE conflicts.conflicts
	SET status = 'ignored',
	    resolved_at = $4,
	    ignored_reason = $5,
	    version = version + 1
	WHERE tenant_id = $1 AND id = $2 AND status = 'pending' AND version = $3
	RETURNING`+pgConflictColumns, at.UTC(), reason)
}

// transition runs a conditional UPDATE guarded by status = 'pending' and the
// version the caller read. When no row matches, a follow-up read tells an
// unknown id from a lost race or a refreshed row.
func (s *ConflictPGStore) transition(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, sql string, args ...any) (types.Conflict, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return types.Conflict{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	c, err := scanPGConflict(tx.QueryRow(ctx, sql, append([]any{tenantID, conflictID, expectedVersion}, args...)...))
	if err != nil {
		if !errors.Is(err, pgx.ErrNoRows) {
			return types.Conflict{}, err
		}
		var current string
		var version int64
		err = tx.QueryRow(ctx, `
	SELECT status, version
	FROM conflicts.conflicts
	WHERE tenant_id = $1 AND id = $2
	`, tenantID, conflictID).Scan(&current, &version)
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Conflict{}, &types.NotFoundError{ConflictID: conflictID}
		}
		if err != nil {
			return types.Conflict{}, err
		}
		return types.Conflict{}, transitionMiss(conflictID, types.Status(current), expectedVersion, version)
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Conflict{}, err
	}
	return c, nil
}
