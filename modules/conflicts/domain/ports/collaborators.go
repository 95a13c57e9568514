package ports

import (
	"context"
	"errors"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

var ErrRecordNotFound = errors.New("record_not_found")

// CanonicalStore is the tenant's commerce catalog, the system of record the
// resolver writes to.
type CanonicalStore interface {
	ListEntityIDs(ctx context.Context, tenantID string, entityType string) ([]string, error)
	Read(ctx context.Context, tenantID string, entityType string, entityID string) (types.Snapshot, error)
	// Write patches the named fields of the record.
	Write(ctx context.Context, tenantID string, entityType string, entityID string, fields types.Fields) error
}

// RemoteSource reads the ERP side of a record. Fetch returns ErrRecordNotFound
// when the ERP has no such record.
type RemoteSource interface {
	Fetch(ctx context.Context, tenantID string, entityType string, entityID string) (types.Snapshot, error)
}

type AuditLog interface {
	Append(ctx context.Context, entry types.AuditEntry) error
}

type PolicyProvider interface {
	Get(ctx context.Context, tenantID string) (types.Policy, error)
}
