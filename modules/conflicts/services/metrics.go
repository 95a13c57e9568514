package services

import (
	"context"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// ComputeMetrics derives the summary from the store on every call; nothing is
// cached.
func ComputeMetrics(ctx context.Context, store ports.ConflictStore, tenantID string) (types.Metrics, error) {
	counts, err := store.CountByStatus(ctx, tenantID)
	if err != nil {
		return types.Metrics{}, err
	}
	return AggregateMetrics(counts), nil
}

func AggregateMetrics(counts []types.StatusCount) types.Metrics {
	m := types.Metrics{
		ByType:     map[types.ConflictType]int{},
		BySeverity: map[types.Severity]int{},
	}
	for _, c := range counts {
		m.TotalConflicts += c.Count
		switch c.Status {
		case types.StatusPending:
			m.PendingConflicts += c.Count
		case types.StatusResolved:
			m.ResolvedConflicts += c.Count
		case types.StatusIgnored:
			m.IgnoredConflicts += c.Count
		}
		m.ByType[c.Type] += c.Count
		m.BySeverity[c.Severity] += c.Count
	}
	if denom := m.ResolvedConflicts + m.IgnoredConflicts + m.PendingConflicts; denom > 0 {
		m.ResolutionRate = float64(m.ResolvedConflicts) / float64(denom)
	}
	return m
}
