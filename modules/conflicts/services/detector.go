package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultDetectionConcurrency = 8

type Detector struct {
	store     ports.ConflictStore
	canonical ports.CanonicalStore
	remote    ports.RemoteSource
	logger    *zap.Logger
	now       func() time.Time
	newID     func() (string, error)
}

func NewDetector(store ports.ConflictStore, canonical ports.CanonicalStore, remote ports.RemoteSource, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		store:     store,
		canonical: canonical,
		remote:    remote,
		logger:    logger,
		now:       time.Now,
		newID:     newUUID,
	}
}

type entityRef struct {
	entityType string
	entityID   string
}

type entityOutcome struct {
	created   int
	refreshed int
	unchanged int
	warning   *types.DetectionWarning
}

// Detect compares every entity of the requested types and upserts one pending
// conflict per divergent natural key. Unreachable sources become warnings; a
// conflict store failure aborts the run.
func (d *Detector) Detect(ctx context.Context, tenantID string, entityTypeFilter string, policy types.Policy) (types.DetectionResult, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return types.DetectionResult{}, types.NewValidationError("tenant_id is required")
	}
	entityTypes := policy.EntityTypes
	if f := strings.TrimSpace(entityTypeFilter); f != "" {
		entityTypes = []string{f}
	}
	if len(entityTypes) == 0 {
		return types.DetectionResult{}, types.NewValidationError("no entity types to scan")
	}

	var refs []entityRef
	for _, et := range entityTypes {
		ids, err := d.canonical.ListEntityIDs(ctx, tenantID, et)
		if err != nil {
			return types.DetectionResult{}, fmt.Errorf("list %s entities: %w", et, err)
		}
		for _, id := range ids {
			refs = append(refs, entityRef{entityType: et, entityID: id})
		}
	}

	limit := policy.DetectionConcurrency
	if limit <= 0 {
		limit = defaultDetectionConcurrency
	}
	outcomes := make([]entityOutcome, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, ref := range refs {
		g.Go(func() error {
			out, err := d.detectEntity(gctx, tenantID, ref, policy)
			if err != nil {
				return err
			}
			outcomes[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return types.DetectionResult{}, err
	}

	res := types.DetectionResult{Scanned: len(refs)}
	for _, o := range outcomes {
		res.Created += o.created
		res.Refreshed += o.refreshed
		res.Unchanged += o.unchanged
		if o.warning != nil {
			res.Warnings = append(res.Warnings, *o.warning)
		}
	}
	d.logger.Info("conflict detection finished",
		zap.String("tenant_id", tenantID),
		zap.Int("scanned", res.Scanned),
		zap.Int("created", res.Created),
		zap.Int("refreshed", res.Refreshed),
		zap.Int("unchanged", res.Unchanged),
		zap.Int("warnings", len(res.Warnings)),
	)
	return res, nil
}

func (d *Detector) detectEntity(ctx context.Context, tenantID string, ref entityRef, policy types.Policy) (entityOutcome, error) {
	local, err := d.canonical.Read(ctx, tenantID, ref.entityType, ref.entityID)
	if err != nil {
		if ctx.Err() != nil {
			return entityOutcome{}, ctx.Err()
		}
		return d.warn(tenantID, ref, types.SourceLocal, err), nil
	}
	remote, err := d.remote.Fetch(ctx, tenantID, ref.entityType, ref.entityID)
	if err != nil {
		if ctx.Err() != nil {
			return entityOutcome{}, ctx.Err()
		}
		return d.warn(tenantID, ref, types.SourceRemote, err), nil
	}

	var out entityOutcome
	for _, c := range BuildCandidates(tenantID, ref.entityType, ref.entityID, local, remote, policy) {
		id, err := d.newID()
		if err != nil {
			return entityOutcome{}, err
		}
		_, outcome, err := d.store.UpsertPending(ctx, c, id, d.now().UTC())
		if err != nil {
			return entityOutcome{}, fmt.Errorf("upsert conflict %s/%s/%s: %w", ref.entityType, ref.entityID, c.Key.Type, err)
		}
		switch outcome {
		case types.UpsertCreated:
			out.created++
		case types.UpsertRefreshed:
			out.refreshed++
		default:
			out.unchanged++
		}
	}
	return out, nil
}

func (d *Detector) warn(tenantID string, ref entityRef, src types.Source, err error) entityOutcome {
	unavailable, ok := errors.AsType[*types.SourceUnavailableError](err)
	if !ok {
		unavailable = &types.SourceUnavailableError{EntityType: ref.entityType, EntityID: ref.entityID, Source: src, Err: err}
	}
	msg := unavailable.Error()
	if errors.Is(err, ports.ErrRecordNotFound) {
		msg = fmt.Sprintf("%s record missing for %s#%s", src, ref.entityType, ref.entityID)
	}
	d.logger.Warn("conflict detection skipped entity",
		zap.String("tenant_id", tenantID),
		zap.String("entity_type", ref.entityType),
		zap.String("entity_id", ref.entityID),
		zap.String("source", string(src)),
		zap.Error(err),
	)
	return entityOutcome{warning: &types.DetectionWarning{EntityType: ref.entityType, EntityID: ref.entityID, Message: msg}}
}

// BuildCandidates diffs two snapshots of one entity and returns the classified
// candidates: one per numeric field over tolerance, plus one product_data
// candidate covering every differing non-numeric field.
func BuildCandidates(tenantID string, entityType string, entityID string, local types.Snapshot, remote types.Snapshot, policy types.Policy) []types.Candidate {
	names := unionFieldNames(local.Fields, remote.Fields)

	var out []types.Candidate
	var textNames []string
	var textDeltas []FieldDelta
	numericSeen := map[string]bool{}
	for _, field := range policy.NumericFields {
		numericSeen[field] = true
		lv, lok := local.Fields[field]
		rv, rok := remote.Fields[field]
		if !lok && !rok {
			continue
		}
		delta, differs := ComputeDelta(field, lv, rv, true)
		if !differs || !ExceedsTolerance(delta, policy) {
			continue
		}
		typ, sev := Classify([]FieldDelta{delta}, policy)
		out = append(out, types.Candidate{
			Key:            types.ConflictKey{TenantID: tenantID, EntityType: entityType, EntityID: entityID, Type: typ},
			Severity:       sev,
			LocalSnapshot:  local.Subset([]string{field}),
			RemoteSnapshot: remote.Subset([]string{field}),
		})
	}
	for _, field := range names {
		if numericSeen[field] {
			continue
		}
		textNames = append(textNames, field)
		if delta, differs := ComputeDelta(field, local.Fields[field], remote.Fields[field], false); differs {
			textDeltas = append(textDeltas, delta)
		}
	}
	if len(textDeltas) > 0 {
		typ, sev := Classify(textDeltas, policy)
		out = append(out, types.Candidate{
			Key:            types.ConflictKey{TenantID: tenantID, EntityType: entityType, EntityID: entityID, Type: typ},
			Severity:       sev,
			LocalSnapshot:  local.Subset(textNames),
			RemoteSnapshot: remote.Subset(textNames),
		})
	}
	return out
}

func unionFieldNames(a types.Fields, b types.Fields) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		seen[k] = struct{}{}
	}
	for k := range b {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
