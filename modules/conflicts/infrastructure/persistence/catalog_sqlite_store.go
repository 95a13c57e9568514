package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type CatalogSQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewCatalogSQLiteStore(db *sql.DB) *CatalogSQLiteStore {
	return &CatalogSQLiteStore{db: db, now: time.Now}
}

var _ ports.CanonicalStore = (*CatalogSQLiteStore)(nil)

func (s *CatalogSQLiteStore) ListEntityIDs(ctx context.Context, tenantID string, entityType string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
	SELECT entity_id
	FROM catalog_records
	WHERE tenant_id = ? AND entity_type = ?
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
	return out, rows.Err()
}

func (s *CatalogSQLiteStore) Read(ctx context.Context, tenantID string, entityType string, entityID string) (types.Snapshot, error) {
	var raw, modifiedAt string
	err := s.db.QueryRowContext(ctx, `
	SELECT fields, modified_at
	FROM catalog_records
	WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
	`, tenantID, entityType, entityID).Scan(&raw, &modifiedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.Snapshot{}, ports.ErrRecordNotFound
		}
		return types.Snapshot{}, err
	}
	fields, err := decodeFields(raw)
	if err != nil {
		return types.Snapshot{}, err
	}
	at, err := parseSQLiteTime(modifiedAt)
	if err != nil {
		return types.Snapshot{}, err
	}
	return types.Snapshot{Fields: fields, ModifiedAt: at}, nil
}

// Write merges fields into the stored record with json_patch; fields not
// named are kept.
func (s *CatalogSQLiteStore) Write(ctx context.Context, tenantID string, entityType string, entityID string, fields types.Fields) error {
	raw, err := encodeFields(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
	UPDATE catalog_records
	SET fields = json_patch(fields, ?),
	    modified_at = ?
	WHERE tenant_id = ? AND entity_type = ? AND entity_id = ?
	`, raw, formatSQLiteTime(s.now()), tenantID, entityType, entityID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ports.ErrRecordNotFound
	}
	return nil
}

func (s *CatalogSQLiteStore) Put(ctx context.Context, tenantID string, entityType string, entityID string, snap types.Snapshot) error {
	raw, err := encodeFields(snap.Fields)
	if err != nil {
		return err
	}
	modifiedAt := snap.ModifiedAt
	if modifiedAt.IsZero() {
		modifiedAt = s.now()
	}
	_, err = s.db.ExecContext(ctx, `
	INSERT INTO catalog_records (tenant_id, entity_type, entity_id, fields, modified_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT (tenant_id, entity_type, entity_id)
	DO UPDATE SET fields = excluded.fields, modified_at = excluded.modified_at
	`, tenantID, entityType, entityID, raw, formatSQLiteTime(modifiedAt))
	return err
}
