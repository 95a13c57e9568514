package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// memConflictStore mirrors the persistence contract: one pending row per
// natural key and transitions conditional on status = pending.
type memConflictStore struct {
	mu           sync.Mutex
	rows         map[string]types.Conflict
	fingerprints map[string]string

	upsertFn func(types.Candidate) error
	// listFn runs after a page is selected, with the store lock held.
	listFn   func(types.Page)
	getCalls atomic.Int64
}

func newMemConflictStore() *memConflictStore {
	return &memConflictStore{rows: map[string]types.Conflict{}, fingerprints: map[string]string{}}
}

func (s *memConflictStore) seed(cs ...types.Conflict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range cs {
		s.rows[c.ID] = c
		s.fingerprints[c.ID] = types.Fingerprint(c.LocalSnapshot, c.RemoteSnapshot)
	}
}

func (s *memConflictStore) UpsertPending(_ context.Context, cand types.Candidate, newID string, at time.Time) (types.Conflict, types.UpsertOutcome, error) {
	if s.upsertFn != nil {
		if err := s.upsertFn(cand); err != nil {
			return types.Conflict{}, "", err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	fp := types.Fingerprint(cand.LocalSnapshot, cand.RemoteSnapshot)
	for id, c := range s.rows {
		if c.Status != types.StatusPending || c.Key() != cand.Key {
			continue
		}
		if s.fingerprints[id] == fp {
			return c, types.UpsertUnchanged, nil
		}
		c.Severity = cand.Severity
		c.LocalSnapshot = cand.LocalSnapshot
		c.RemoteSnapshot = cand.RemoteSnapshot
		c.DetectedAt = at
		c.Version++
		s.rows[id] = c
		s.fingerprints[id] = fp
		return c, types.UpsertRefreshed, nil
	}
	c := types.Conflict{
		ID:             newID,
		TenantID:       cand.Key.TenantID,
		EntityType:     cand.Key.EntityType,
		EntityID:       cand.Key.EntityID,
		Type:           cand.Key.Type,
		Severity:       cand.Severity,
		Status:         types.StatusPending,
		LocalSnapshot:  cand.LocalSnapshot,
		RemoteSnapshot: cand.RemoteSnapshot,
		DetectedAt:     at,
		Version:        1,
	}
	s.rows[newID] = c
	s.fingerprints[newID] = fp
	return c, types.UpsertCreated, nil
}

func (s *memConflictStore) Get(_ context.Context, tenantID string, conflictID string) (types.Conflict, error) {
	s.getCalls.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[conflictID]
	if !ok || c.TenantID != tenantID {
		return types.Conflict{}, &types.NotFoundError{ConflictID: conflictID}
	}
	return c, nil
}

func (s *memConflictStore) List(_ context.Context, tenantID string, filter types.ConflictFilter, page types.Page) ([]types.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.Conflict
	for _, c := range s.rows {
		if c.TenantID != tenantID {
			continue
		}
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		if filter.Type != "" && c.Type != filter.Type {
			continue
		}
		if filter.Severity != "" && c.Severity != filter.Severity {
			continue
		}
		if filter.EntityType != "" && c.EntityType != filter.EntityType {
			continue
		}
		out = append(out, c)
	}
	if page.ByID {
		sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
		i := sort.Search(len(out), func(i int) bool { return out[i].ID > page.AfterID })
		out = out[i:]
		if page.Limit > 0 && len(out) > page.Limit {
			out = out[:page.Limit]
		}
		if s.listFn != nil {
			s.listFn(page)
		}
		return out, nil
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DetectedAt.Equal(out[j].DetectedAt) {
			return out[i].DetectedAt.After(out[j].DetectedAt)
		}
		return out[i].ID < out[j].ID
	})
	if s.listFn != nil {
		s.listFn(page)
	}
	if page.Offset >= len(out) {
		return []types.Conflict{}, nil
	}
	out = out[page.Offset:]
	if page.Limit > 0 && len(out) > page.Limit {
		out = out[:page.Limit]
	}
	return out, nil
}

func (s *memConflictStore) CountByStatus(_ context.Context, tenantID string) ([]types.StatusCount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	type key struct {
		status   types.Status
		typ      types.ConflictType
		severity types.Severity
	}
	groups := map[key]int{}
	for _, c := range s.rows {
		if c.TenantID != tenantID {
			continue
		}
		groups[key{c.Status, c.Type, c.Severity}]++
	}
	out := make([]types.StatusCount, 0, len(groups))
	for k, n := range groups {
		out = append(out, types.StatusCount{Status: k.status, Type: k.typ, Severity: k.severity, Count: n})
	}
	return out, nil
}

func (s *memConflictStore) transition(tenantID string, conflictID string, expectedVersion int64, fn func(*types.Conflict)) (types.Conflict, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.rows[conflictID]
	if !ok || c.TenantID != tenantID {
		return types.Conflict{}, &types.NotFoundError{ConflictID: conflictID}
	}
	if c.Status != types.StatusPending {
		return types.Conflict{}, &types.StateError{ConflictID: conflictID, Current: c.Status}
	}
	if c.Version != expectedVersion {
		return types.Conflict{}, &types.StaleError{ConflictID: conflictID, Expected: expectedVersion, Current: c.Version}
	}
	fn(&c)
	c.Version++
	s.rows[conflictID] = c
	return c, nil
}

func (s *memConflictStore) MarkResolved(_ context.Context, tenantID string, conflictID string, expectedVersion int64, resolution types.Resolution, at time.Time) (types.Conflict, error) {
	return s.transition(tenantID, conflictID, expectedVersion, func(c *types.Conflict) {
		c.Status = types.StatusResolved
		c.ResolvedAt = &at
		r := resolution
		c.Resolution = &r
	})
}

func (s *memConflictStore) MarkIgnored(_ context.Context, tenantID string, conflictID string, expectedVersion int64, reason string, at time.Time) (types.Conflict, error) {
	return s.transition(tenantID, conflictID, expectedVersion, func(c *types.Conflict) {
		c.Status = types.StatusIgnored
		c.ResolvedAt = &at
		c.IgnoredReason = reason
	})
}

func (s *memConflictStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

type memCanonicalStore struct {
	mu      sync.Mutex
	records map[string]types.Snapshot
	listErr error
	readErr map[string]error
	writeFn func(entityID string) error
	writes  []types.Fields
}

func newMemCanonicalStore() *memCanonicalStore {
	return &memCanonicalStore{records: map[string]types.Snapshot{}, readErr: map[string]error{}}
}

func (s *memCanonicalStore) put(entityID string, snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entityID] = snap
}

func (s *memCanonicalStore) ListEntityIDs(_ context.Context, _ string, _ string) ([]string, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.records))
	for id := range s.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memCanonicalStore) Read(_ context.Context, _ string, _ string, entityID string) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.readErr[entityID]; err != nil {
		return types.Snapshot{}, err
	}
	snap, ok := s.records[entityID]
	if !ok {
		return types.Snapshot{}, ports.ErrRecordNotFound
	}
	return snap, nil
}

func (s *memCanonicalStore) Write(_ context.Context, _ string, _ string, entityID string, fields types.Fields) error {
	if s.writeFn != nil {
		if err := s.writeFn(entityID); err != nil {
			return err
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.records[entityID]
	merged := snap.Fields.Clone()
	if merged == nil {
		merged = types.Fields{}
	}
	for k, v := range fields {
		merged[k] = v
	}
	snap.Fields = merged
	s.records[entityID] = snap
	s.writes = append(s.writes, fields.Clone())
	return nil
}

func (s *memCanonicalStore) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.writes)
}

type memRemoteSource struct {
	mu      sync.Mutex
	records map[string]types.Snapshot
	errs    map[string]error
}

func newMemRemoteSource() *memRemoteSource {
	return &memRemoteSource{records: map[string]types.Snapshot{}, errs: map[string]error{}}
}

func (s *memRemoteSource) put(entityID string, snap types.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[entityID] = snap
}

func (s *memRemoteSource) Fetch(_ context.Context, _ string, _ string, entityID string) (types.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.errs[entityID]; err != nil {
		return types.Snapshot{}, err
	}
	snap, ok := s.records[entityID]
	if !ok {
		return types.Snapshot{}, ports.ErrRecordNotFound
	}
	return snap, nil
}

type memAuditLog struct {
	mu      sync.Mutex
	entries []types.AuditEntry
	err     error
}

func (a *memAuditLog) Append(_ context.Context, entry types.AuditEntry) error {
	if a.err != nil {
		return a.err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAuditLog) all() []types.AuditEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]types.AuditEntry(nil), a.entries...)
}

type policyProviderStub struct {
	policy types.Policy
	err    error
}

func (p policyProviderStub) Get(context.Context, string) (types.Policy, error) {
	if p.err != nil {
		return types.Policy{}, p.err
	}
	return p.policy, nil
}

type authorizerStub struct {
	allowFn  func(subject string, action string) bool
	enforced bool
	err      error
}

func (a authorizerStub) Authorize(subject string, _ string, _ string, action string) (bool, bool, error) {
	if a.err != nil {
		return false, a.enforced, a.err
	}
	return a.allowFn(subject, action), a.enforced, nil
}

func sequentialIDs(prefix string) func() (string, error) {
	var n atomic.Int64
	return func() (string, error) {
		return fmt.Sprintf("%s-%04d", prefix, n.Add(1)), nil
	}
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func snap(at time.Time, kv ...any) types.Snapshot {
	if len(kv)%2 != 0 {
		panic("snap: odd key/value list")
	}
	f := types.Fields{}
	for i := 0; i < len(kv); i += 2 {
		f[kv[i].(string)] = kv[i+1]
	}
	return types.Snapshot{Fields: f, ModifiedAt: at}
}

var errBoom = errors.New("boom")

func pendingConflict(id string, entityID string, typ types.ConflictType, local types.Snapshot, remote types.Snapshot, detectedAt time.Time) types.Conflict {
	return types.Conflict{
		ID:             id,
		TenantID:       "t1",
		EntityType:     "product",
		EntityID:       entityID,
		Type:           typ,
		Severity:       types.SeverityMedium,
		Status:         types.StatusPending,
		LocalSnapshot:  local,
		RemoteSnapshot: remote,
		DetectedAt:     detectedAt,
		Version:        1,
	}
}
