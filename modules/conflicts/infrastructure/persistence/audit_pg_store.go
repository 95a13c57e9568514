package persistence

import (
	"context"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type AuditPGStore struct {
	pool pgBeginner
}

func NewAuditPGStore(pool pgBeginner) ports.AuditLog {
	return &AuditPGStore{pool: pool}
}

// Append is idempotent on the entry id.
func (s *AuditPGStore) Append(ctx context.Context, entry types.AuditEntry) error {
	if err := validateAuditEntry(entry); err != nil {
		return err
	}
	tx, err := beginTenantTx(ctx, s.pool, entry.TenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	INSERT INTO conflicts.audit_log (
	  id, tenant_id, conflict_id, action, strategy, chosen_source, rationale, reason, actor, at
	)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING
	`, entry.ID, entry.TenantID, entry.ConflictID, string(entry.Action), string(entry.Strategy),
		string(entry.ChosenSource), entry.Rationale, entry.Reason, entry.Actor, entry.At.UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func validateAuditEntry(entry types.AuditEntry) error {
	switch {
	case strings.TrimSpace(entry.ID) == "":
		return types.NewValidationError("audit id is required")
	case strings.TrimSpace(entry.TenantID) == "":
		return types.NewValidationError("tenant_id is required")
	case strings.TrimSpace(entry.ConflictID) == "":
		return types.NewValidationError("conflict_id is required")
	case entry.Action != types.AuditActionResolved && entry.Action != types.AuditActionIgnored:
		return types.NewValidationError("audit action must be resolved|ignored")
	}
	return nil
}
