package persistence

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// ConflictSQLiteStore is the local-mode conflict store. Transactions open with
// BEGIN IMMEDIATE, so the pending-key lookup and the write that follows it are
// serialized against other writers.
type ConflictSQLiteStore struct {
	db *sql.DB
}

func NewConflictSQLiteStore(db *sql.DB) ports.ConflictStore {
	return &ConflictSQLiteStore{db: db}
}

func (s *ConflictSQLiteStore) UpsertPending(ctx context.Context, cand types.Candidate, newID string, at time.Time) (types.Conflict, types.UpsertOutcome, error) {
	if err := validateCandidate(cand); err != nil {
		return types.Conflict{}, "", err
	}
	cols, err := encodeCandidate(cand)
	if err != nil {
		return types.Conflict{}, "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Conflict{}, "", err
	}
	defer func() { _ = tx.Rollback() }()

	var existingID, existingFingerprint string
	err = tx.QueryRowContext(ctx, `
	SELECT id, fingerprint
	FROM conflicts
	WHERE tenant_id = ? AND entity_type = ? AND entity_id = ? AND conflict_type = ? AND status = 'pending'
	`, cand.Key.TenantID, cand.Key.EntityType, cand.Key.EntityID, string(cand.Key.Type)).Scan(&existingID, &existingFingerprint)

	var (
		out     types.Conflict
		outcome types.UpsertOutcome
	)
	switch {
	case err == nil && existingFingerprint == cols.fingerprint:
		out, err = scanSQLiteConflict(tx.QueryRowContext(ctx, `SELECT`+sqliteConflictColumns+`
	FROM conflicts
	WHERE tenant_id = ? AND id = ?
	`, cand.Key.TenantID, existingID))
		outcome = types.UpsertUnchanged
	case err == nil:
		out, err = scanSQLiteConflict(tx.QueryRowContext(ctx, `
	UPDATE conflicts
	SET severity = ?,
	    local_snapshot = ?,
	    remote_snapshot = ?,
	    fingerprint = ?,
	    detected_at = ?,
	    version = version + 1
	WHERE tenant_id = ? AND id = ? AND status = 'pending'
	RETURNING`+sqliteConflictColumns,
			string(cand.Severity), cols.local, cols.remote, cols.fingerprint, formatSQLiteTime(at),
			cand.Key.TenantID, existingID))
		outcome = types.UpsertRefreshed
	case errors.Is(err, sql.ErrNoRows):
		out, err = scanSQLiteConflict(tx.QueryRowContext(ctx, `
	INSERT INTO conflicts (
	  id, tenant_id, entity_type, entity_id, conflict_type, severity, status,
	  local_snapshot, remote_snapshot, fingerprint, detected_at, version
	)
	VALUES (?, ?, ?, ?, ?, ?, 'pending', ?, ?, ?, ?, 1)
	RETURNING`+sqliteConflictColumns,
			newID, cand.Key.TenantID, cand.Key.EntityType, cand.Key.EntityID, string(cand.Key.Type),
			string(cand.Severity), cols.local, cols.remote, cols.fingerprint, formatSQLiteTime(at)))
		outcome = types.UpsertCreated
	}
	if err != nil {
		return types.Conflict{}, "", err
	}

	if err := tx.Commit(); err != nil {
		return types.Conflict{}, "", err
	}
	return out, outcome, nil
}

func (s *ConflictSQLiteStore) Get(ctx context.Context, tenantID string, conflictID string) (types.Conflict, error) {
	c, err := scanSQLiteConflict(s.db.QueryRowContext(ctx, `SELECT`+sqliteConflictColumns+`
	FROM conflicts
	WHERE tenant_id = ? AND id = ?
	`, tenantID, strings.TrimSpace(conflictID)))
	if errors.Is(err, sql.ErrNoRows) {
		return types.Conflict{}, &types.NotFoundError{ConflictID: conflictID}
	}
	return c, err
}

func (s *ConflictSQLiteStore) List(ctx context.Context, tenantID string, filter types.ConflictFilter, page types.Page) ([]types.Conflict, error) {
	page, err := page.Normalize()
	if err != nil {
		return nil, err
	}
	q, args := listQuery("conflicts", sqliteConflictColumns, tenantID, filter, page, sqlitePlaceholder)
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []types.Conflict{}
	for rows.Next() {
		c, err := scanSQLiteConflict(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *ConflictSQLiteStore) CountByStatus(ctx context.Context, tenantID string) ([]types.StatusCount, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT status, conflict_type, severity, count(*)
	FROM conflicts
	WHERE tenant_id = ?
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
		var n int
		if err := rows.Scan(&status, &typ, &severity, &n); err != nil {
			return nil, err
		}
		out = append(out, types.StatusCount{Status: types.Status(status), Type: types.ConflictType(typ), Severity: types.Severity(severity), Count: n})
	}
	return out, rows.Err()
}

func (s *ConflictSQLiteStore) MarkResolved(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, resolution types.Resolution, at time.Time) (types.Conflict, error) {
	raw, err := encodeResolution(resolution)
	if err != nil {
		return types.Conflict{}, err
	}
	return s.transition(ctx, tenantID, conflictID, expectedVersion, `
	UPDATE conflicts
	SET status = 'resolved',
	    resolved_at = ?,
	    resolution = ?,
	    version = version + 1
	WHERE tenant_id = ? AND id = ? AND status = 'pending' AND version = ?
	RETURNING`+sqliteConflictColumns, formatSQLiteTime(at), raw)
}

func (s *ConflictSQLiteStore) MarkIgnored(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, reason string, at time.Time) (types.Conflict, error) {
	return s.transition(ctx, tenantID, conflictID, expectedVersion, `
	UPDATE conflicts
	SET status = 'ignored',
	    resolved_at = ?,
	    ignored_reason = ?,
	    version = version + 1
	WHERE tenant_id = ? AND id = ? AND status = 'pending' AND version = ?
	RETURNING`+sqliteConflictColumns, formatSQLiteTime(at), reason)
}

func (s *ConflictSQLiteStore) transition(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, query string, setArgs ...any) (types.Conflict, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return types.Conflict{}, err
	}
	defer func() { _ = tx.Rollback() }()

	args := append(setArgs, tenantID, conflictID, expectedVersion)
	c, err := scanSQLiteConflict(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return types.Conflict{}, err
		}
		var current string
		var version int64
		err = tx.QueryRowContext(ctx, `SELECT status, version FROM conflicts WHERE tenant_id = ? AND id = ?`, tenantID, conflictID).Scan(&current, &version)
		if errors.Is(err, sql.ErrNoRows) {
			return types.Conflict{}, &types.NotFoundError{ConflictID: conflictID}
		}
		if err != nil {
			return types.Conflict{}, err
		}
		return types.Conflict{}, transitionMiss(conflictID, types.Status(current), expectedVersion, version)
	}

	if err := tx.Commit(); err != nil {
		return types.Conflict{}, err
	}
	return c, nil
}
