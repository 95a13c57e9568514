package services

import (
	"context"
	"io"
	"strings"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/pkg/authz"
	"github.com/jacksonlee411/catalog-erp-conflicts/pkg/uuidv7"
	"go.uber.org/zap"
)

var newUUID = uuidv7.NewString

type Authorizer interface {
	Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error)
}

type FacadeDeps struct {
	Store      ports.ConflictStore
	Canonical  ports.CanonicalStore
	Remote     ports.RemoteSource
	Audit      ports.AuditLog
	Policies   ports.PolicyProvider
	Authorizer Authorizer
	Logger     *zap.Logger
}

// ConflictsFacade is the caller-facing surface of the engine: it validates the
// tenant, authorizes the context actor, loads the tenant policy and delegates.
type ConflictsFacade struct {
	store    ports.ConflictStore
	policies ports.PolicyProvider
	authz    Authorizer
	logger   *zap.Logger

	detector *Detector
	resolver *Resolver
	bulk     *BulkCoordinator
}

func NewConflictsFacade(deps FacadeDeps) *ConflictsFacade {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	resolver := NewResolver(deps.Store, deps.Canonical, deps.Audit, logger)
	return &ConflictsFacade{
		store:    deps.Store,
		policies: deps.Policies,
		authz:    deps.Authorizer,
		logger:   logger,
		detector: NewDetector(deps.Store, deps.Canonical, deps.Remote, logger),
		resolver: resolver,
		bulk:     NewBulkCoordinator(resolver, logger),
	}
}

type ListRequest struct {
	Status     string
	Type       string
	Severity   string
	EntityType string
	Limit      int
	Offset     int
	// ByID pages in id order after AfterID instead of by offset.
	ByID    bool
	AfterID string
}

func (f *ConflictsFacade) begin(ctx context.Context, tenantID string, action string) (string, types.Policy, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return "", types.Policy{}, types.NewValidationError("tenant_id is required")
	}
	if err := f.authorize(ctx, tenantID, action); err != nil {
		return "", types.Policy{}, err
	}
	if f.policies == nil {
		return tenantID, types.DefaultPolicy(), nil
	}
	policy, err := f.policies.Get(ctx, tenantID)
	if err != nil {
		return "", types.Policy{}, err
	}
	return tenantID, policy, nil
}

func (f *ConflictsFacade) authorize(ctx context.Context, tenantID string, action string) error {
	if f.authz == nil {
		return nil
	}
	actor, _ := ActorFromContext(ctx)
	subject := authz.SubjectFromRoleSlug(actor.Role)
	allowed, enforced, err := f.authz.Authorize(subject, authz.DomainFromTenantID(tenantID), authz.ObjectConflicts, action)
	if err != nil {
		return err
	}
	if allowed {
		return nil
	}
	if !enforced {
		f.logger.Warn("authz shadow deny",
			zap.String("tenant_id", tenantID),
			zap.String("subject", subject),
			zap.String("action", action),
		)
		return nil
	}
	return &types.ForbiddenError{Subject: subject, Action: action}
}

func (f *ConflictsFacade) DetectConflicts(ctx context.Context, tenantID string, entityTypeFilter string) (types.DetectionResult, error) {
	tenantID, policy, err := f.begin(ctx, tenantID, authz.ActionDetect)
	if err != nil {
		return types.DetectionResult{}, err
	}
	return f.detector.Detect(ctx, tenantID, entityTypeFilter, policy)
}

func (f *ConflictsFacade) ListConflicts(ctx context.Context, tenantID string, req ListRequest) ([]types.Conflict, error) {
	tenantID, policy, err := f.begin(ctx, tenantID, authz.ActionRead)
	if err != nil {
		return nil, err
	}
	filter, err := parseFilter(req, policy)
	if err != nil {
		return nil, err
	}
	page, err := types.Page{Limit: req.Limit, Offset: req.Offset, ByID: req.ByID, AfterID: strings.TrimSpace(req.AfterID)}.Normalize()
	if err != nil {
		return nil, err
	}
	return f.store.List(ctx, tenantID, filter, page)
}

func (f *ConflictsFacade) GetConflict(ctx context.Context, tenantID string, conflictID string) (types.Conflict, error) {
	tenantID, _, err := f.begin(ctx, tenantID, authz.ActionRead)
	if err != nil {
		return types.Conflict{}, err
	}
	conflictID = strings.TrimSpace(conflictID)
	if conflictID == "" {
		return types.Conflict{}, types.NewValidationError("conflict_id is required")
	}
	return f.store.Get(ctx, tenantID, conflictID)
}

func (f *ConflictsFacade) GetMetrics(ctx context.Context, tenantID string) (types.Metrics, error) {
	tenantID, _, err := f.begin(ctx, tenantID, authz.ActionRead)
	if err != nil {
		return types.Metrics{}, err
	}
	return ComputeMetrics(ctx, f.store, tenantID)
}

func (f *ConflictsFacade) ResolveConflict(ctx context.Context, tenantID string, conflictID string, req ResolveRequest) (types.Conflict, error) {
	tenantID, policy, err := f.begin(ctx, tenantID, authz.ActionResolve)
	if err != nil {
		return types.Conflict{}, err
	}
	return f.resolver.Resolve(ctx, tenantID, conflictID, req, policy)
}

func (f *ConflictsFacade) PreviewResolution(ctx context.Context, tenantID string, conflictID string, req ResolveRequest) (types.Outcome, error) {
	tenantID, policy, err := f.begin(ctx, tenantID, authz.ActionRead)
	if err != nil {
		return types.Outcome{}, err
	}
	return f.resolver.Preview(ctx, tenantID, conflictID, req, policy)
}

func (f *ConflictsFacade) IgnoreConflict(ctx context.Context, tenantID string, conflictID string, reason string) (types.Conflict, error) {
	tenantID, _, err := f.begin(ctx, tenantID, authz.ActionIgnore)
	if err != nil {
		return types.Conflict{}, err
	}
	return f.resolver.Ignore(ctx, tenantID, conflictID, reason)
}

func (f *ConflictsFacade) BulkResolve(ctx context.Context, tenantID string, conflictIDs []string, strategy string) (types.BulkResult, error) {
	tenantID, policy, err := f.begin(ctx, tenantID, authz.ActionResolve)
	if err != nil {
		return types.BulkResult{}, err
	}
	return f.bulk.BulkResolve(ctx, tenantID, conflictIDs, strategy, policy)
}

func (f *ConflictsFacade) ExportConflicts(ctx context.Context, tenantID string, req ListRequest, format string, w io.Writer) error {
	tenantID, policy, err := f.begin(ctx, tenantID, authz.ActionExport)
	if err != nil {
		return err
	}
	fmtName, err := ParseExportFormat(format)
	if err != nil {
		return err
	}
	filter, err := parseFilter(req, policy)
	if err != nil {
		return err
	}
	return ExportConflicts(ctx, f.store, tenantID, filter, fmtName, w)
}

func parseFilter(req ListRequest, policy types.Policy) (types.ConflictFilter, error) {
	var out types.ConflictFilter
	if strings.TrimSpace(req.Status) != "" {
		s, err := types.ParseStatus(req.Status)
		if err != nil {
			return types.ConflictFilter{}, err
		}
		out.Status = s
	}
	if strings.TrimSpace(req.Severity) != "" {
		s, err := types.ParseSeverity(req.Severity)
		if err != nil {
			return types.ConflictFilter{}, err
		}
		out.Severity = s
	}
	if raw := strings.ToLower(strings.TrimSpace(req.Type)); raw != "" {
		t := types.ConflictType(raw)
		if t != types.ConflictTypeProductData {
			field, ok := t.NumericField()
			if !ok || !policy.IsNumeric(field) {
				return types.ConflictFilter{}, types.NewValidationError("unknown conflict type: " + raw)
			}
		}
		out.Type = t
	}
	out.EntityType = strings.TrimSpace(req.EntityType)
	return out, nil
}
