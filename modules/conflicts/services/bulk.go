package services

import (
	"context"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	defaultBulkConcurrency = 8
	maxBulkItems           = 1000
)

type bulkItem struct {
	status types.BulkItemStatus
	err    error
}

// BulkCoordinator applies one strategy across many conflicts. Each id is an
// independent unit of work; one item's failure never affects another.
type BulkCoordinator struct {
	resolver *Resolver
	logger   *zap.Logger
}

func NewBulkCoordinator(resolver *Resolver, logger *zap.Logger) *BulkCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BulkCoordinator{resolver: resolver, logger: logger}
}

func (b *BulkCoordinator) BulkResolve(ctx context.Context, tenantID string, conflictIDs []string, strategy string, policy types.Policy) (types.BulkResult, error) {
	if strings.TrimSpace(strategy) != "" {
		if _, err := types.ParseStrategy(strategy); err != nil {
			return types.BulkResult{}, err
		}
	}
	ids := dedupeIDs(conflictIDs)
	if len(ids) == 0 {
		return types.BulkResult{}, types.NewValidationError("conflict_ids is required")
	}
	if len(ids) > maxBulkItems {
		return types.BulkResult{}, types.NewValidationError("too many conflict_ids (max 1000)")
	}

	limit := policy.BulkConcurrency
	if limit <= 0 {
		limit = defaultBulkConcurrency
	}
	items := make([]bulkItem, len(ids))
	var g errgroup.Group
	g.SetLimit(limit)
	for i, id := range ids {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				items[i] = bulkItem{status: types.BulkItemFailed, err: err}
				return nil
			}
			_, err := b.resolver.Resolve(ctx, tenantID, id, ResolveRequest{Strategy: strategy}, policy)
			switch {
			case err == nil:
				items[i] = bulkItem{status: types.BulkItemResolved}
			case types.IsState(err):
				items[i] = bulkItem{status: types.BulkItemSkipped, err: err}
			default:
				items[i] = bulkItem{status: types.BulkItemFailed, err: err}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := types.BulkResult{Failures: []types.BulkFailure{}}
	for i, it := range items {
		switch it.status {
		case types.BulkItemResolved:
			res.Resolved++
		case types.BulkItemSkipped:
			res.Skipped++
		default:
			res.Failed++
			res.Failures = append(res.Failures, types.BulkFailure{ConflictID: ids[i], Error: it.err.Error()})
		}
	}
	b.logger.Info("bulk resolve finished",
		zap.String("tenant_id", tenantID),
		zap.String("strategy", strategy),
		zap.Int("resolved", res.Resolved),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
	)
	return res, nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
