package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	store     *memConflictStore
	canonical *memCanonicalStore
	audit     *memAuditLog
	resolver  *Resolver
	policy    types.Policy
	now       time.Time
}

func newResolverFixture() *resolverFixture {
	f := &resolverFixture{
		store:     newMemConflictStore(),
		canonical: newMemCanonicalStore(),
		audit:     &memAuditLog{},
		policy:    types.DefaultPolicy(),
		now:       time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC),
	}
	f.resolver = NewResolver(f.store, f.canonical, f.audit, nil)
	f.resolver.now = fixedClock(f.now)
	f.canonical.put("p1", snap(t0, "price", 100, "title", "Mug"))
	f.store.seed(
		pendingConflict("c1", "p1", types.ConflictTypePriceMajor, snap(t0, "price", 100), snap(t1, "price", 150), t1),
		pendingConflict("c2", "p1", types.ConflictTypeProductData, snap(t0, "title", "Mug"), snap(t1, "title", "Mug XL"), t1),
	)
	return f
}

func TestResolve_WritesThenTransitions(t *testing.T) {
	f := newResolverFixture()
	ctx := WithActor(context.Background(), types.Actor{ID: "u-42", Role: "catalog-operator"})

	got, err := f.resolver.Resolve(ctx, "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	assert.Equal(t, f.now, *got.ResolvedAt)
	require.NotNil(t, got.Resolution)
	assert.Equal(t, types.StrategySourcePriority, got.Resolution.Strategy)
	assert.Equal(t, types.Fields{"price": 150}, got.Resolution.ResolvedValue)
	assert.Equal(t, "tenant precedence selects remote", got.Resolution.Reason)
	assert.Equal(t, types.SourceRemote, got.Resolution.ChosenSource, "automatic pick is recorded")
	assert.Equal(t, int64(2), got.Version)

	rec, err := f.canonical.Read(ctx, "t1", "product", "p1")
	require.NoError(t, err)
	assert.Equal(t, 150, rec.Fields["price"])
	assert.Equal(t, "Mug", rec.Fields["title"], "patch leaves other fields alone")

	entries := f.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, types.AuditActionResolved, entries[0].Action)
	assert.Equal(t, "u-42", entries[0].Actor)
	assert.Equal(t, "c1", entries[0].ConflictID)
	assert.Equal(t, deterministicAuditEntryID("t1", "c1", types.AuditActionResolved), entries[0].ID)
	assert.Empty(t, entries[0].ChosenSource, "audit only records manual overrides")
}

func TestResolve_RefreshedMidResolveReappliesStrategy(t *testing.T) {
	f := newResolverFixture()
	c1, err := f.store.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)

	var writes int
	f.canonical.writeFn = func(string) error {
		writes++
		if writes == 1 {
			_, outcome, err := f.store.UpsertPending(context.Background(), types.Candidate{
				Key:            c1.Key(),
				Severity:       types.SeverityHigh,
				LocalSnapshot:  snap(t0, "price", 100),
				RemoteSnapshot: snap(t1, "price", 300),
			}, "unused", f.now)
			require.NoError(t, err)
			require.Equal(t, types.UpsertRefreshed, outcome)
		}
		return nil
	}

	got, err := f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority", ChosenSource: "remote"}, f.policy)
	require.NoError(t, err)
	assert.Equal(t, 2, writes)
	assert.Equal(t, types.Fields{"price": 300}, got.Resolution.ResolvedValue)
	assert.Equal(t, 300, got.RemoteSnapshot.Fields["price"])
	assert.Equal(t, int64(3), got.Version)

	rec, err := f.canonical.Read(context.Background(), "t1", "product", "p1")
	require.NoError(t, err)
	assert.Equal(t, 300, rec.Fields["price"])
	require.Len(t, f.audit.all(), 1)
	assert.Equal(t, types.SourceRemote, f.audit.all()[0].ChosenSource)
}

func TestResolve_KeepsRefreshingGivesUp(t *testing.T) {
	f := newResolverFixture()
	c1, err := f.store.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)

	price := 300
	f.canonical.writeFn = func(string) error {
		price++
		_, _, err := f.store.UpsertPending(context.Background(), types.Candidate{
			Key:            c1.Key(),
			Severity:       types.SeverityHigh,
			LocalSnapshot:  snap(t0, "price", 100),
			RemoteSnapshot: snap(t1, "price", price),
		}, "unused", f.now)
		return err
	}

	_, err = f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	var stale *types.StaleError
	require.ErrorAs(t, err, &stale)
	assert.Equal(t, maxTransitionAttempts, f.canonical.writeCount())

	c, err := f.store.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, c.Status)
	assert.Empty(t, f.audit.all())
}

func TestResolve_EmptyStrategyUsesPolicyDefault(t *testing.T) {
	f := newResolverFixture()
	got, err := f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Reason: "erp is authoritative"}, f.policy)
	require.NoError(t, err)
	assert.Equal(t, types.StrategyTimestampPriority, got.Resolution.Strategy)
	assert.Equal(t, "erp is authoritative", got.Resolution.Reason)
	assert.Equal(t, "system", f.audit.all()[0].Actor)
}

func TestResolve_ValidationBeforeStoreAccess(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "coin_flip"}, f.policy)
	assert.True(t, types.IsValidation(err))

	_, err = f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority", ChosenSource: "both"}, f.policy)
	assert.True(t, types.IsValidation(err))

	assert.Zero(t, f.store.getCalls.Load())
	assert.Zero(t, f.canonical.writeCount())
}

func TestResolve_TerminalIsSticky(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	require.NoError(t, err)

	_, err = f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	stateErr, ok := err.(*types.StateError)
	require.True(t, ok, "err=%v", err)
	assert.Equal(t, types.StatusResolved, stateErr.Current)

	_, err = f.resolver.Ignore(context.Background(), "t1", "c1", "late")
	assert.True(t, types.IsState(err))
	assert.Equal(t, 1, f.canonical.writeCount())
}

func TestResolve_NotFound(t *testing.T) {
	f := newResolverFixture()
	_, err := f.resolver.Resolve(context.Background(), "t1", "nope", ResolveRequest{Strategy: "source_priority"}, f.policy)
	assert.True(t, types.IsNotFound(err))

	_, err = f.resolver.Resolve(context.Background(), "t2", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	assert.True(t, types.IsNotFound(err), "tenant isolation")
}

func TestResolve_WriteFailureLeavesPending(t *testing.T) {
	f := newResolverFixture()
	f.canonical.writeFn = func(string) error { return errBoom }

	_, err := f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	require.Error(t, err)
	assert.True(t, types.IsWriteFailure(err))
	assert.ErrorIs(t, err, errBoom)

	c, err := f.store.Get(context.Background(), "t1", "c1")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, c.Status)
	assert.Empty(t, f.audit.all())

	f.canonical.writeFn = nil
	_, err = f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	assert.NoError(t, err, "retry after a write failure succeeds")
}

func TestResolve_AuditFailureDoesNotUndoTransition(t *testing.T) {
	f := newResolverFixture()
	f.audit.err = errBoom

	got, err := f.resolver.Resolve(context.Background(), "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, got.Status)
}

func TestResolve_CanceledBeforeWrite(t *testing.T) {
	f := newResolverFixture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.resolver.Resolve(ctx, "t1", "c1", ResolveRequest{Strategy: "source_priority"}, f.policy)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, f.canonical.writeCount())
}

func TestResolve_ConcurrentSingleWinner(t *testing.T) {
	f := newResolverFixture()

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.resolver.Resolve(context.Background(), "t1", "c2", ResolveRequest{Strategy: "smart_merge"}, f.policy)
		}()
	}
	wg.Wait()

	winners := 0
	for _, err := range errs {
		if err == nil {
			winners++
			continue
		}
		assert.True(t, types.IsState(err), "err=%v", err)
	}
	assert.Equal(t, 1, winners)

	c, err := f.store.Get(context.Background(), "t1", "c2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusResolved, c.Status)
	assert.Len(t, f.audit.all(), 1)
}

func TestPreview_DoesNotWrite(t *testing.T) {
	f := newResolverFixture()
	out, err := f.resolver.Preview(context.Background(), "t1", "c2", ResolveRequest{Strategy: "source_priority", ChosenSource: "local"}, f.policy)
	require.NoError(t, err)
	assert.Equal(t, types.SourceLocal, out.ChosenSource)
	assert.Equal(t, types.Fields{"title": "Mug"}, out.ResolvedValue)
	assert.Zero(t, f.canonical.writeCount())

	c, err := f.store.Get(context.Background(), "t1", "c2")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, c.Status)
}

func TestIgnore(t *testing.T) {
	f := newResolverFixture()

	_, err := f.resolver.Ignore(context.Background(), "t1", "c2", "   ")
	assert.True(t, types.IsValidation(err))

	got, err := f.resolver.Ignore(context.Background(), "t1", "c2", "marketing copy differs on purpose")
	require.NoError(t, err)
	assert.Equal(t, types.StatusIgnored, got.Status)
	assert.Equal(t, "marketing copy differs on purpose", got.IgnoredReason)
	assert.Nil(t, got.Resolution)
	assert.Zero(t, f.canonical.writeCount())

	_, err = f.resolver.Resolve(context.Background(), "t1", "c2", ResolveRequest{Strategy: "smart_merge"}, f.policy)
	assert.True(t, types.IsState(err))

	entries := f.audit.all()
	require.Len(t, entries, 1)
	assert.Equal(t, types.AuditActionIgnored, entries[0].Action)
	assert.Equal(t, "marketing copy differs on purpose", entries[0].Reason)
}

func TestDeterministicAuditEntryID(t *testing.T) {
	a := deterministicAuditEntryID("t1", "c1", types.AuditActionResolved)
	assert.Equal(t, a, deterministicAuditEntryID("t1", "c1", types.AuditActionResolved))
	assert.NotEqual(t, a, deterministicAuditEntryID("t1", "c1", types.AuditActionIgnored))
	assert.NotEqual(t, a, deterministicAuditEntryID("t2", "c1", types.AuditActionResolved))
}
