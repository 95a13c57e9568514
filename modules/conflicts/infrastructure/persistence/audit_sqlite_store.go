package persistence

import (
	"context"
	"database/sql"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type AuditSQLiteStore struct {
	db *sql.DB
}

func NewAuditSQLiteStore(db *sql.DB) *AuditSQLiteStore {
	return &AuditSQLiteStore{db: db}
}

var _ ports.AuditLog = (*AuditSQLiteStore)(nil)

func (s *AuditSQLiteStore) Append(ctx context.Context, entry types.AuditEntry) error {
	if err := validateAuditEntry(entry); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
	INSERT INTO audit_log (id, tenant_id, conflict_id, action, strategy, chosen_source, rationale, reason, actor, at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.TenantID, entry.ConflictID, string(entry.Action), string(entry.Strategy),
		string(entry.ChosenSource), entry.Rationale, entry.Reason, entry.Actor, formatSQLiteTime(entry.At))
	return err
}

// ListForConflict returns a conflict's audit trail, oldest first.
func (s *AuditSQLiteStore) ListForConflict(ctx context.Context, tenantID string, conflictID string) ([]types.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT id, tenant_id, conflict_id, action, strategy, chosen_source, rationale, reason, actor, at
	FROM audit_log
	WHERE tenant_id = ? AND conflict_id = ?
	ORDER BY at ASC, id ASC
	`, tenantID, conflictID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.AuditEntry
	for rows.Next() {
		var e types.AuditEntry
		var action, strategy, chosen, at string
		if err := rows.Scan(&e.ID, &e.TenantID, &e.ConflictID, &action, &strategy, &chosen, &e.Rationale, &e.Reason, &e.Actor, &at); err != nil {
			return nil, err
		}
		e.Action = types.AuditAction(action)
		e.Strategy = types.StrategyName(strategy)
		e.ChosenSource = types.Source(chosen)
		if e.At, err = parseSQLiteTime(at); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
