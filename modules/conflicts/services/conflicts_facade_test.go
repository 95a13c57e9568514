package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/pkg/authz"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type facadeFixture struct {
	store     *memConflictStore
	canonical *memCanonicalStore
	remote    *memRemoteSource
	audit     *memAuditLog
	facade    *ConflictsFacade
}

func newFacadeFixture(a Authorizer) *facadeFixture {
	f := &facadeFixture{
		store:     newMemConflictStore(),
		canonical: newMemCanonicalStore(),
		remote:    newMemRemoteSource(),
		audit:     &memAuditLog{},
	}
	policy := types.DefaultPolicy()
	policy.Tolerances["stock"] = 10
	policy.SeverityBands["stock"] = types.SeverityBands{Medium: 15, High: 50}
	f.facade = NewConflictsFacade(FacadeDeps{
		Store:      f.store,
		Canonical:  f.canonical,
		Remote:     f.remote,
		Audit:      f.audit,
		Policies:   policyProviderStub{policy: policy},
		Authorizer: a,
	})
	f.facade.detector.newID = sequentialIDs("c")
	f.canonical.put("p1", snap(t0, "price", 100, "stock", 20, "title", "Mug"))
	f.remote.put("p1", snap(t1, "price", 150, "stock", 18, "title", "Mug XL"))
	return f
}

func operatorCtx() context.Context {
	return WithActor(context.Background(), types.Actor{ID: "u-1", Role: authz.RoleOperator})
}

func TestFacade_EndToEnd(t *testing.T) {
	f := newFacadeFixture(nil)
	ctx := operatorCtx()

	det, err := f.facade.DetectConflicts(ctx, "t1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, det.Created)

	pending, err := f.facade.ListConflicts(ctx, "t1", ListRequest{Status: "pending"})
	require.NoError(t, err)
	require.Len(t, pending, 3)

	first, err := f.facade.ListConflicts(ctx, "t1", ListRequest{ByID: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	rest, err := f.facade.ListConflicts(ctx, "t1", ListRequest{ByID: true, Limit: 2, AfterID: first[1].ID})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Less(t, first[0].ID, first[1].ID)
	assert.Less(t, first[1].ID, rest[0].ID)

	high, err := f.facade.ListConflicts(ctx, "t1", ListRequest{Severity: "high", Type: "price_major"})
	require.NoError(t, err)
	require.Len(t, high, 1)

	got, err := f.facade.GetConflict(ctx, "t1", high[0].ID)
	require.NoError(t, err)
	assert.Equal(t, high[0].ID, got.ID)

	preview, err := f.facade.PreviewResolution(ctx, "t1", got.ID, ResolveRequest{})
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTimestampPriority, preview.Strategy)

	_, err = f.facade.ResolveConflict(ctx, "t1", got.ID, ResolveRequest{Strategy: "timestamp_priority"})
	require.NoError(t, err)

	var stockID, dataID string
	for _, c := range pending {
		switch c.Type {
		case types.ConflictTypeStockMinor:
			stockID = c.ID
		case types.ConflictTypeProductData:
			dataID = c.ID
		}
	}
	_, err = f.facade.IgnoreConflict(ctx, "t1", dataID, "copy owned by marketing")
	require.NoError(t, err)

	bulk, err := f.facade.BulkResolve(ctx, "t1", []string{stockID, dataID}, "value_based")
	require.NoError(t, err)
	assert.Equal(t, 1, bulk.Resolved)
	assert.Equal(t, 1, bulk.Skipped)

	m, err := f.facade.GetMetrics(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 3, m.TotalConflicts)
	assert.Equal(t, 2, m.ResolvedConflicts)
	assert.Equal(t, 1, m.IgnoredConflicts)
	assert.InDelta(t, 2.0/3.0, m.ResolutionRate, 1e-9)

	var buf bytes.Buffer
	require.NoError(t, f.facade.ExportConflicts(ctx, "t1", ListRequest{Status: "resolved"}, "csv", &buf))
	assert.Equal(t, 3, bytes.Count(buf.Bytes(), []byte("\n")))

	rec, err := f.canonical.Read(ctx, "t1", "product", "p1")
	require.NoError(t, err)
	assert.Equal(t, 150, rec.Fields["price"])
	assert.Equal(t, 20, rec.Fields["stock"])
	assert.Len(t, f.audit.all(), 3)
}

func TestFacade_ListValidation(t *testing.T) {
	f := newFacadeFixture(nil)
	ctx := operatorCtx()
	bad := []ListRequest{
		{Status: "open"},
		{Severity: "critical"},
		{Type: "weight_major"},
		{Type: "banana"},
		{Limit: 501},
		{Limit: -1},
		{Offset: -1},
		{ByID: true, Offset: 1},
		{AfterID: "c1"},
	}
	for _, req := range bad {
		_, err := f.facade.ListConflicts(ctx, "t1", req)
		assert.True(t, types.IsValidation(err), "req=%+v err=%v", req, err)
	}
	_, err := f.facade.ListConflicts(ctx, "", ListRequest{})
	assert.True(t, types.IsValidation(err))

	err = f.facade.ExportConflicts(ctx, "t1", ListRequest{}, "xml", &bytes.Buffer{})
	assert.True(t, types.IsValidation(err))
}

func TestFacade_AuthorizationEnforced(t *testing.T) {
	viewerOnly := authorizerStub{
		enforced: true,
		allowFn: func(subject string, action string) bool {
			return action == authz.ActionRead || action == authz.ActionExport
		},
	}
	f := newFacadeFixture(viewerOnly)
	ctx := WithActor(context.Background(), types.Actor{ID: "u-2", Role: authz.RoleViewer})

	_, err := f.facade.ListConflicts(ctx, "t1", ListRequest{})
	require.NoError(t, err)

	_, err = f.facade.DetectConflicts(ctx, "t1", "")
	require.True(t, types.IsForbidden(err))
	fe, _ := err.(*types.ForbiddenError)
	require.NotNil(t, fe)
	assert.Equal(t, "role:viewer", fe.Subject)
	assert.Equal(t, authz.ActionDetect, fe.Action)

	_, err = f.facade.IgnoreConflict(ctx, "t1", "c-0001", "x")
	assert.True(t, types.IsForbidden(err))
	_, err = f.facade.BulkResolve(ctx, "t1", []string{"c-0001"}, "source_priority")
	assert.True(t, types.IsForbidden(err))
	assert.Zero(t, f.store.count())
}

func TestFacade_AuthorizationShadowAllows(t *testing.T) {
	denyAll := authorizerStub{enforced: false, allowFn: func(string, string) bool { return false }}
	f := newFacadeFixture(denyAll)

	res, err := f.facade.DetectConflicts(context.Background(), "t1", "")
	require.NoError(t, err)
	assert.Equal(t, 3, res.Created)
}

func TestFacade_AuthorizerAndPolicyErrors(t *testing.T) {
	f := newFacadeFixture(authorizerStub{err: errBoom, enforced: true})
	_, err := f.facade.GetMetrics(context.Background(), "t1")
	assert.ErrorIs(t, err, errBoom)

	f = newFacadeFixture(nil)
	f.facade.policies = policyProviderStub{err: errBoom}
	_, err = f.facade.DetectConflicts(context.Background(), "t1", "")
	assert.ErrorIs(t, err, errBoom)
}
