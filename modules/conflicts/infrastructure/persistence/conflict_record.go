package persistence

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

const pgConflictColumns = `
	  id,
	  tenant_id,
	  entity_type,
	  entity_id,
	  conflict_type,
	  severity,
	  status,
	  local_snapshot::text,
	  remote_snapshot::text,
	  detected_at,
	  resolved_at,
	  COALESCE(resolution::text, ''),
	  COALESCE(ignored_reason, ''),
	  version`

const sqliteConflictColumns = `
	  id,
	  tenant_id,
	  entity_type,
	  entity_id,
	  conflict_type,
	  severity,
	  status,
	  local_snapshot,
	  remote_snapshot,
	  detected_at,
	  COALESCE(resolved_at, ''),
	  COALESCE(resolution, ''),
	  COALESCE(ignored_reason, ''),
	  version`

// conflictRecord is the column-level shape shared by the pg and sqlite
// stores; snapshot and resolution columns travel as JSON text.
type conflictRecord struct {
	ID             string
	TenantID       string
	EntityType     string
	EntityID       string
	Type           string
	Severity       string
	Status         string
	LocalSnapshot  string
	RemoteSnapshot string
	DetectedAt     time.Time
	ResolvedAt     *time.Time
	Resolution     string
	IgnoredReason  string
	Version        int64
}

func (r conflictRecord) toConflict() (types.Conflict, error) {
	c := types.Conflict{
		ID:            r.ID,
		TenantID:      r.TenantID,
		EntityType:    r.EntityType,
		EntityID:      r.EntityID,
		Type:          types.ConflictType(r.Type),
		Severity:      types.Severity(r.Severity),
		Status:        types.Status(r.Status),
		DetectedAt:    r.DetectedAt.UTC(),
		IgnoredReason: r.IgnoredReason,
		Version:       r.Version,
	}
	var err error
	if c.LocalSnapshot, err = decodeSnapshot(r.LocalSnapshot); err != nil {
		return types.Conflict{}, fmt.Errorf("conflict %s local_snapshot: %w", r.ID, err)
	}
	if c.RemoteSnapshot, err = decodeSnapshot(r.RemoteSnapshot); err != nil {
		return types.Conflict{}, fmt.Errorf("conflict %s remote_snapshot: %w", r.ID, err)
	}
	if r.ResolvedAt != nil {
		at := r.ResolvedAt.UTC()
		c.ResolvedAt = &at
	}
	if strings.TrimSpace(r.Resolution) != "" {
		var res types.Resolution
		if err := json.Unmarshal([]byte(r.Resolution), &res); err != nil {
			return types.Conflict{}, fmt.Errorf("conflict %s resolution: %w", r.ID, err)
		}
		c.Resolution = &res
	}
	return c, nil
}

func encodeSnapshot(s types.Snapshot) (string, error) {
	if s.Fields == nil {
		s.Fields = types.Fields{}
	}
	s.ModifiedAt = s.ModifiedAt.UTC()
	b, err := json.Marshal(s)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeSnapshot(raw string) (types.Snapshot, error) {
	var s types.Snapshot
	if strings.TrimSpace(raw) == "" {
		return types.Snapshot{Fields: types.Fields{}}, nil
	}
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return types.Snapshot{}, err
	}
	if s.Fields == nil {
		s.Fields = types.Fields{}
	}
	return s, nil
}

func encodeResolution(r types.Resolution) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func encodeFields(f types.Fields) (string, error) {
	if f == nil {
		f = types.Fields{}
	}
	b, err := json.Marshal(f)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func decodeFields(raw string) (types.Fields, error) {
	var f types.Fields
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		return nil, err
	}
	if f == nil {
		f = types.Fields{}
	}
	return f, nil
}

type candidateColumns struct {
	local       string
	remote      string
	fingerprint string
}

func encodeCandidate(c types.Candidate) (candidateColumns, error) {
	local, err := encodeSnapshot(c.LocalSnapshot)
	if err != nil {
		return candidateColumns{}, err
	}
	remote, err := encodeSnapshot(c.RemoteSnapshot)
	if err != nil {
		return candidateColumns{}, err
	}
	return candidateColumns{
		local:       local,
		remote:      remote,
		fingerprint: types.Fingerprint(c.LocalSnapshot, c.RemoteSnapshot),
	}, nil
}

func validateCandidate(c types.Candidate) error {
	switch {
	case strings.TrimSpace(c.Key.TenantID) == "":
		return types.NewValidationError("tenant_id is required")
	case strings.TrimSpace(c.Key.EntityType) == "":
		return types.NewValidationError("entity_type is required")
	case strings.TrimSpace(c.Key.EntityID) == "":
		return types.NewValidationError("entity_id is required")
	case strings.TrimSpace(string(c.Key.Type)) == "":
		return types.NewValidationError("conflict_type is required")
	}
	return nil
}

// listQuery renders the filtered, paged conflict listing, newest first or in
// id order for keyset paging. placeholder maps a 1-based argument position to
// the driver's bind syntax.
func listQuery(table string, columns string, tenantID string, filter types.ConflictFilter, page types.Page, placeholder func(int) string) (string, []any) {
	args := []any{tenantID}
	where := []string{"tenant_id = " + placeholder(1)}
	add := func(col string, v string) {
		args = append(args, v)
		where = append(where, col+" = "+placeholder(len(args)))
	}
	if filter.Status != "" {
		add("status", string(filter.Status))
	}
	if filter.Type != "" {
		add("conflict_type", string(filter.Type))
	}
	if filter.Severity != "" {
		add("severity", string(filter.Severity))
	}
	if filter.EntityType != "" {
		add("entity_type", filter.EntityType)
	}
	if page.ByID {
		if page.AfterID != "" {
			args = append(args, page.AfterID)
			where = append(where, "id > "+placeholder(len(args)))
		}
		args = append(args, page.Limit)
		q := "SELECT" + columns + "\n\tFROM " + table +
			"\n\tWHERE " + strings.Join(where, " AND ") +
			"\n\tORDER BY id ASC" +
			"\n\tLIMIT " + placeholder(len(args))
		return q, args
	}
	args = append(args, page.Limit, page.Offset)
	q := "SELECT" + columns + "\n\tFROM " + table +
		"\n\tWHERE " + strings.Join(where, " AND ") +
		"\n\tORDER BY detected_at DESC, id ASC" +
		"\n\tLIMIT " + placeholder(len(args)-1) + " OFFSET " + placeholder(len(args))
	return q, args
}

func pgPlaceholder(i int) string { return fmt.Sprintf("$%d", i) }

func sqlitePlaceholder(int) string { return "?" }

// transitionMiss explains why a conditional transition matched no row that
// still exists.
func transitionMiss(conflictID string, current types.Status, expected, version int64) error {
	if current != types.StatusPending {
		return &types.StateError{ConflictID: conflictID, Current: current}
	}
	return &types.StaleError{ConflictID: conflictID, Expected: expected, Current: version}
}
