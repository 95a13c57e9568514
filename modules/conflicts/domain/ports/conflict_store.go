package ports

import (
	"context"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// ConflictStore persists conflicts and enforces their transitions with
// conditional writes. Implementations return *types.NotFoundError for unknown
// ids and *types.StateError when a transition finds the conflict no longer
// pending. Transitions also require the version the caller read; a pending row
// at another version yields *types.StaleError.
type ConflictStore interface {
	// UpsertPending inserts a pending conflict for the candidate's natural key,
	// or refreshes the snapshots of the existing pending one. newID is used only
	// when a row is created.
	UpsertPending(ctx context.Context, candidate types.Candidate, newID string, at time.Time) (types.Conflict, types.UpsertOutcome, error)
	Get(ctx context.Context, tenantID string, conflictID string) (types.Conflict, error)
	List(ctx context.Context, tenantID string, filter types.ConflictFilter, page types.Page) ([]types.Conflict, error)
	CountByStatus(ctx context.Context, tenantID string) ([]types.StatusCount, error)
	MarkResolved(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, resolution types.Resolution, at time.Time) (types.Conflict, error)
	MarkIgnored(ctx context.Context, tenantID string, conflictID string, expectedVersion int64, reason string, at time.Time) (types.Conflict, error)
}
