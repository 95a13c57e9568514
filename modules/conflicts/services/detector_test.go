package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	t0 = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	t1 = time.Date(2026, 1, 2, 10, 0, 0, 0, time.UTC)
)

type detectorFixture struct {
	store     *memConflictStore
	canonical *memCanonicalStore
	remote    *memRemoteSource
	detector  *Detector
	policy    types.Policy
}

func newDetectorFixture() *detectorFixture {
	f := &detectorFixture{
		store:     newMemConflictStore(),
		canonical: newMemCanonicalStore(),
		remote:    newMemRemoteSource(),
		policy:    types.DefaultPolicy(),
	}
	f.policy.Tolerances["stock"] = 10
	f.policy.SeverityBands["stock"] = types.SeverityBands{Medium: 15, High: 50}
	f.detector = NewDetector(f.store, f.canonical, f.remote, nil)
	f.detector.now = fixedClock(time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	f.detector.newID = sequentialIDs("c")
	return f
}

func (f *detectorFixture) byType(t *testing.T) map[types.ConflictType]types.Conflict {
	t.Helper()
	items, err := f.store.List(context.Background(), "t1", types.ConflictFilter{Status: types.StatusPending}, types.Page{Limit: 500})
	require.NoError(t, err)
	out := map[types.ConflictType]types.Conflict{}
	for _, c := range items {
		out[c.Type] = c
	}
	return out
}

func TestDetect_ClassifiesOneConflictPerType(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100, "stock", 20, "title", "Mug", "color", "blue"))
	f.remote.put("p1", snap(t1, "price", 150, "stock", 18, "title", "Mug XL", "color", "blue"))

	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, types.DetectionResult{Created: 3, Scanned: 1}, res)

	got := f.byType(t)
	require.Len(t, got, 3)
	assert.Equal(t, types.SeverityHigh, got[types.ConflictTypePriceMajor].Severity)
	assert.Equal(t, types.SeverityLow, got[types.ConflictTypeStockMinor].Severity)

	pd := got[types.ConflictTypeProductData]
	assert.Equal(t, types.SeverityLow, pd.Severity)
	assert.Equal(t, []string{"color", "title"}, pd.LocalSnapshot.Fields.Keys())
	assert.Equal(t, []string{"price"}, got[types.ConflictTypePriceMajor].LocalSnapshot.Fields.Keys())
	assert.Equal(t, t1, got[types.ConflictTypePriceMajor].RemoteSnapshot.ModifiedAt)
}

func TestDetect_BelowToleranceIsIgnored(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100, "stock", 20))
	f.remote.put("p1", snap(t1, "price", 104, "stock", 19))

	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Created)
	assert.Equal(t, 0, f.store.count())
}

func TestDetect_Idempotent(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100, "title", "Mug"))
	f.remote.put("p1", snap(t1, "price", 150, "title", "Cup"))

	first, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, 2, first.Created)

	second, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, types.DetectionResult{Unchanged: 2, Scanned: 1}, second)
	assert.Equal(t, 2, f.store.count())
}

func TestDetect_RefreshKeepsIdentity(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100))
	f.remote.put("p1", snap(t1, "price", 150))
	_, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	before := f.byType(t)[types.ConflictTypePriceMajor]

	later := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	f.detector.now = fixedClock(later)
	f.remote.put("p1", snap(t1.Add(time.Hour), "price", 160))

	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Refreshed)
	after := f.byType(t)[types.ConflictTypePriceMajor]
	assert.Equal(t, before.ID, after.ID)
	assert.Equal(t, later, after.DetectedAt)
	assert.Equal(t, "160", types.CanonicalValue(after.RemoteSnapshot.Fields["price"]))
}

func TestDetect_TimestampOnlyChangeIsUnchanged(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100))
	f.remote.put("p1", snap(t1, "price", 150))
	_, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)

	f.remote.put("p1", snap(t1.Add(time.Hour), "price", 150))
	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unchanged)
	assert.Equal(t, 0, res.Refreshed)
}

func TestDetect_AfterTerminalCreatesNewConflict(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100))
	f.remote.put("p1", snap(t1, "price", 150))
	_, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	first := f.byType(t)[types.ConflictTypePriceMajor]

	_, err = f.store.MarkIgnored(context.Background(), "t1", first.ID, first.Version, "erp is wrong", time.Now())
	require.NoError(t, err)

	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Created)
	again := f.byType(t)[types.ConflictTypePriceMajor]
	assert.NotEqual(t, first.ID, again.ID)

	old, err := f.store.Get(context.Background(), "t1", first.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusIgnored, old.Status)
}

func TestDetect_PartialSuccessWithWarnings(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100))
	f.remote.put("p1", snap(t1, "price", 150))
	f.canonical.put("p2", snap(t0, "price", 10))
	f.remote.errs["p2"] = &types.SourceUnavailableError{EntityType: "product", EntityID: "p2", Source: types.SourceRemote, Err: errors.New("erp timeout")}
	f.canonical.put("p3", snap(t0, "price", 10))

	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	assert.True(t, res.Partial())
	assert.Equal(t, 1, res.Created)
	assert.Equal(t, 3, res.Scanned)
	require.Len(t, res.Warnings, 2)
	assert.Equal(t, "p2", res.Warnings[0].EntityID)
	assert.Contains(t, res.Warnings[0].Message, "erp timeout")
	assert.Equal(t, "remote record missing for product#p3", res.Warnings[1].Message)
}

func TestDetect_StoreFailureAborts(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100))
	f.remote.put("p1", snap(t1, "price", 150))
	f.store.upsertFn = func(types.Candidate) error { return errBoom }

	_, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
}

func TestDetect_ListFailureAborts(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.listErr = errBoom
	_, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	assert.ErrorIs(t, err, errBoom)
}

func TestDetect_Validation(t *testing.T) {
	f := newDetectorFixture()
	_, err := f.detector.Detect(context.Background(), " ", "", f.policy)
	assert.True(t, types.IsValidation(err))

	f.policy.EntityTypes = nil
	_, err = f.detector.Detect(context.Background(), "t1", "", f.policy)
	assert.True(t, types.IsValidation(err))

	_, err = f.detector.Detect(context.Background(), "t1", "product", f.policy)
	assert.NoError(t, err)
}

func TestDetect_LocalMissingIsWarning(t *testing.T) {
	f := newDetectorFixture()
	f.canonical.put("p1", snap(t0, "price", 100))
	f.canonical.readErr["p1"] = ports.ErrRecordNotFound

	res, err := f.detector.Detect(context.Background(), "t1", "", f.policy)
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Equal(t, "local record missing for product#p1", res.Warnings[0].Message)
}

func TestBuildCandidates_NumericMissingOnOneSide(t *testing.T) {
	policy := types.DefaultPolicy()
	cands := BuildCandidates("t1", "product", "p1", snap(t0, "title", "Mug"), snap(t1, "price", 12, "title", "Mug"), policy)
	require.Len(t, cands, 1)
	assert.Equal(t, types.ConflictTypePriceMajor, cands[0].Key.Type)
	assert.Equal(t, types.SeverityHigh, cands[0].Severity)
}
