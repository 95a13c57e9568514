package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"go.uber.org/zap"
)

var auditEntryNamespace = uuid.Must(uuid.Parse("0b6f2f8e-5d0c-4c1e-9a51-3f7d2a9c8e41"))

// deterministicAuditEntryID keeps audit appends idempotent: a conflict leaves
// pending at most once, so (conflict, action) names the entry.
func deterministicAuditEntryID(tenantID string, conflictID string, action types.AuditAction) string {
	name := fmt.Sprintf("conflicts.audit:%s:%s:%s", tenantID, conflictID, action)
	return uuid.NewSHA1(auditEntryNamespace, []byte(name)).String()
}

type ResolveRequest struct {
	// Strategy may be empty: the policy default for the conflict type applies.
	Strategy     string
	ChosenSource string
	Reason       string
}

type Resolver struct {
	store     ports.ConflictStore
	canonical ports.CanonicalStore
	audit     ports.AuditLog
	logger    *zap.Logger
	now       func() time.Time
}

func NewResolver(store ports.ConflictStore, canonical ports.CanonicalStore, audit ports.AuditLog, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{store: store, canonical: canonical, audit: audit, logger: logger, now: time.Now}
}

type preparedResolution struct {
	conflict types.Conflict
	strategy types.StrategyName
	chosen   types.Source
	outcome  types.Outcome
}

// parseResolveRequest validates the caller input before any store access.
func parseResolveRequest(req ResolveRequest) (types.StrategyName, types.Source, error) {
	var name types.StrategyName
	if strings.TrimSpace(req.Strategy) != "" {
		n, err := types.ParseStrategy(req.Strategy)
		if err != nil {
			return "", "", err
		}
		name = n
	}
	var chosen types.Source
	if strings.TrimSpace(req.ChosenSource) != "" {
		s, err := types.ParseSource(req.ChosenSource)
		if err != nil {
			return "", "", err
		}
		chosen = s
	}
	return name, chosen, nil
}

func (r *Resolver) prepare(ctx context.Context, tenantID string, conflictID string, req ResolveRequest, policy types.Policy) (preparedResolution, error) {
	name, chosen, err := parseResolveRequest(req)
	if err != nil {
		return preparedResolution{}, err
	}
	conflictID = strings.TrimSpace(conflictID)
	if conflictID == "" {
		return preparedResolution{}, types.NewValidationError("conflict_id is required")
	}
	c, err := r.store.Get(ctx, tenantID, conflictID)
	if err != nil {
		return preparedResolution{}, err
	}
	if c.Status != types.StatusPending {
		return preparedResolution{}, &types.StateError{ConflictID: c.ID, Current: c.Status}
	}
	if name == "" {
		name = policy.DefaultStrategy(c.Type)
	}
	outcome, err := ApplyStrategy(name, c, policy, StrategyParams{ChosenSource: chosen})
	if err != nil {
		return preparedResolution{}, err
	}
	return preparedResolution{conflict: c, strategy: name, chosen: chosen, outcome: outcome}, nil
}

// Preview computes the resolution a Resolve call would apply, without writing.
func (r *Resolver) Preview(ctx context.Context, tenantID string, conflictID string, req ResolveRequest, policy types.Policy) (types.Outcome, error) {
	p, err := r.prepare(ctx, tenantID, conflictID, req, policy)
	if err != nil {
		return types.Outcome{}, err
	}
	return p.outcome, nil
}

// maxTransitionAttempts bounds how often a resolve or ignore is re-applied
// when detection refreshes the conflict between the read and the transition.
const maxTransitionAttempts = 3

// Resolve writes the strategy outcome to the canonical store and only then
// transitions the conflict to resolved. Once the write is issued the caller's
// cancellation no longer applies. If the conflict was refreshed after it was
// read, the strategy runs again on the new snapshots and the write is redone.
func (r *Resolver) Resolve(ctx context.Context, tenantID string, conflictID string, req ResolveRequest, policy types.Policy) (types.Conflict, error) {
	p, err := r.prepare(ctx, tenantID, conflictID, req, policy)
	if err != nil {
		return types.Conflict{}, err
	}
	if err := ctx.Err(); err != nil {
		return types.Conflict{}, err
	}

	wctx := context.WithoutCancel(ctx)
	var (
		resolved types.Conflict
		at       time.Time
	)
	for attempt := 1; ; attempt++ {
		resolved, at, err = r.writeAndMark(wctx, tenantID, p, req)
		if err == nil {
			break
		}
		if !types.IsStale(err) || attempt == maxTransitionAttempts {
			return types.Conflict{}, err
		}
		r.logger.Info("conflict refreshed during resolve, reapplying strategy",
			zap.String("tenant_id", tenantID),
			zap.String("conflict_id", p.conflict.ID),
			zap.Int("attempt", attempt),
		)
		if p, err = r.prepare(wctx, tenantID, conflictID, req, policy); err != nil {
			return types.Conflict{}, err
		}
	}

	c := p.conflict
	r.appendAudit(wctx, types.AuditEntry{
		ID:           deterministicAuditEntryID(tenantID, c.ID, types.AuditActionResolved),
		TenantID:     tenantID,
		ConflictID:   c.ID,
		Action:       types.AuditActionResolved,
		Strategy:     p.strategy,
		ChosenSource: p.chosen,
		Rationale:    p.outcome.Rationale,
		Reason:       strings.TrimSpace(req.Reason),
		Actor:        actorID(ctx),
		At:           at,
	})
	r.logger.Info("conflict resolved",
		zap.String("tenant_id", tenantID),
		zap.String("conflict_id", c.ID),
		zap.String("type", string(c.Type)),
		zap.String("strategy", string(p.strategy)),
	)
	return resolved, nil
}

// writeAndMark issues the canonical write and the transition conditional on
// the version p was computed from.
func (r *Resolver) writeAndMark(ctx context.Context, tenantID string, p preparedResolution, req ResolveRequest) (types.Conflict, time.Time, error) {
	c := p.conflict
	if err := r.canonical.Write(ctx, tenantID, c.EntityType, c.EntityID, p.outcome.ResolvedValue); err != nil {
		r.logger.Warn("canonical write failed",
			zap.String("tenant_id", tenantID),
			zap.String("conflict_id", c.ID),
			zap.String("strategy", string(p.strategy)),
			zap.Error(err),
		)
		return types.Conflict{}, time.Time{}, &types.WriteFailureError{ConflictID: c.ID, Err: err}
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = p.outcome.Rationale
	}
	at := r.now().UTC()
	resolved, err := r.store.MarkResolved(ctx, tenantID, c.ID, c.Version, types.Resolution{
		Strategy:      p.strategy,
		ChosenSource:  p.outcome.ChosenSource,
		ResolvedValue: p.outcome.ResolvedValue,
		Reason:        reason,
	}, at)
	if err != nil {
		return types.Conflict{}, time.Time{}, err
	}
	return resolved, at, nil
}

// Ignore closes a pending conflict without touching the canonical store.
func (r *Resolver) Ignore(ctx context.Context, tenantID string, conflictID string, reason string) (types.Conflict, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return types.Conflict{}, types.NewValidationError("reason is required to ignore a conflict")
	}
	conflictID = strings.TrimSpace(conflictID)
	if conflictID == "" {
		return types.Conflict{}, types.NewValidationError("conflict_id is required")
	}

	var (
		c       types.Conflict
		ignored types.Conflict
		at      time.Time
	)
	for attempt := 1; ; attempt++ {
		var err error
		c, err = r.store.Get(ctx, tenantID, conflictID)
		if err != nil {
			return types.Conflict{}, err
		}
		if c.Status != types.StatusPending {
			return types.Conflict{}, &types.StateError{ConflictID: c.ID, Current: c.Status}
		}
		at = r.now().UTC()
		ignored, err = r.store.MarkIgnored(ctx, tenantID, c.ID, c.Version, reason, at)
		if err == nil {
			break
		}
		if !types.IsStale(err) || attempt == maxTransitionAttempts {
			return types.Conflict{}, err
		}
	}

	r.appendAudit(context.WithoutCancel(ctx), types.AuditEntry{
		ID:         deterministicAuditEntryID(tenantID, c.ID, types.AuditActionIgnored),
		TenantID:   tenantID,
		ConflictID: c.ID,
		Action:     types.AuditActionIgnored,
		Reason:     reason,
		Actor:      actorID(ctx),
		At:         at,
	})
	r.logger.Info("conflict ignored",
		zap.String("tenant_id", tenantID),
		zap.String("conflict_id", c.ID),
		zap.String("type", string(c.Type)),
	)
	return ignored, nil
}

// appendAudit runs after the transition committed; a sink failure is logged
// and does not undo the transition.
func (r *Resolver) appendAudit(ctx context.Context, entry types.AuditEntry) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Append(ctx, entry); err != nil {
		r.logger.Warn("audit append failed",
			zap.String("tenant_id", entry.TenantID),
			zap.String("conflict_id", entry.ConflictID),
			zap.String("action", string(entry.Action)),
			zap.Error(err),
		)
	}
}
