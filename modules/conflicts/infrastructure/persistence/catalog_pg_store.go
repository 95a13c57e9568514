package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// CatalogPGStore is the commerce catalog table the resolver writes back to.
type CatalogPGStore struct {
	pool pgBeginner
	now  func() time.Time
}

func NewCatalogPGStore(pool pgBeginner) *CatalogPGStore {
	return &CatalogPGStore{pool: pool, now: time.Now}
}

var _ ports.CanonicalStore = (*CatalogPGStore)(nil)

func (s *CatalogPGStore) ListEntityIDs(ctx context.Context, tenantID string, entityType string) ([]string, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	rows, err := tx.Query(ctx, `
	SELECT entity_id
	FROM conflicts.catalog_records
	WHERE tenant_id = $1 AND entity_type = $2
	ORDER BY entity_id ASC
	`, tenantID, entityType)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *CatalogPGStore) Read(ctx context.Context, tenantID string, entityType string, entityID string) (types.Snapshot, error) {
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return types.Snapshot{}, err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	var raw string
	var modifiedAt time.Time
	err = tx.QueryRow(ctx, `
	SELECT fields::text, modified_at
	FROM conflicts.catalog_records
	WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
	`, tenantID, entityType, entityID).Scan(&raw, &modifiedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return types.Snapshot{}, ports.ErrRecordNotFound
		}
		return types.Snapshot{}, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return types.Snapshot{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return types.Snapshot{}, err
	}
	return types.Snapshot{Fields: fields, ModifiedAt: modifiedAt.UTC()}, nil
}

// Write merges fields into the stored record; fields not named are kept.
func (s *CatalogPGStore) Write(ctx context.Context, tenantID string, entityType string, entityID string, fields types.Fields) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	tag, err := tx.Exec(ctx, `
	UPDATE conflicts.catalog_records
	SET fields = fields || $4::jsonb,
	    modified_at = $5
	WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3
	`, tenantID, entityType, entityID, raw, s.now().UTC())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ports.ErrRecordNotFound
	}
	return tx.Commit(ctx)
}

// Put replaces a record wholesale; used by imports and fixtures.
func (s *CatalogPGStore) Put(ctx context.Context, tenantID string, entityType string, entityID string, snap types.Snapshot) error {
	raw, err := encodeFields(snap.Fields)
	if err != nil {
		return err
	}
	modifiedAt := snap.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = s.now()
	}
	tx, err := beginTenantTx(ctx, s.pool, tenantID)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(context.Background()) }()

	if _, err := tx.Exec(ctx, `
	INSERT INTO conflicts.catalog_records (tenant_id, entity_type, entity_id, fields, modified_at)
	VALUES ($1, $2, $3, $4::jsonb, $5)
	ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET fields = EXCLUDED.fields, modified_at = EXCLUDED.modified_at
	`, tenantID, entityType, entityID, raw, modifiedAt.UTC()); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
