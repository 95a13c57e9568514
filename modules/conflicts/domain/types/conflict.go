package types

import (
	"strings"
	"time"
)

type ConflictType string

const (
	ConflictTypeProductData ConflictType = "product_data"
	ConflictTypePriceMinor  ConflictType = "price_minor"
	ConflictTypePriceMajor  ConflictType = "price_major"
	ConflictTypeStockMinor  ConflictType = "stock_minor"
	ConflictTypeStockMajor  ConflictType = "stock_major"
)

// NumericConflictType returns the magnitude-qualified type for a numeric field,
// e.g. ("price", true) -> price_major.
func NumericConflictType(field string, major bool) ConflictType {
	if major {
		return ConflictType(field + "_major")
	}
	return ConflictType(field + "_minor")
}

// NumericField reports the field a magnitude-qualified type was derived from.
func (t ConflictType) NumericField() (string, bool) {
	s := string(t)
	if f, ok := strings.CutSuffix(s, "_major"); ok && f != "" {
		return f, true
	}
	if f, ok := strings.CutSuffix(s, "_minor"); ok && f != "" {
		return f, true
	}
	return "", false
}

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Rank orders severities; unknown values rank below low.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	default:
		return 0
	}
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
	StatusIgnored  Status = "ignored"
)

func (s Status) Terminal() bool {
	return s == StatusResolved || s == StatusIgnored
}

func ParseStatus(raw string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(raw))) {
	case StatusPending:
		return StatusPending, nil
	case StatusResolved:
		return StatusResolved, nil
	case StatusIgnored:
		return StatusIgnored, nil
	default:
		return "", NewValidationError("status must be pending|resolved|ignored")
	}
}

func ParseSeverity(raw string) (Severity, error) {
	switch Severity(strings.ToLower(strings.TrimSpace(raw))) {
	case SeverityLow:
		return SeverityLow, nil
	case SeverityMedium:
		return SeverityMedium, nil
	case SeverityHigh:
		return SeverityHigh, nil
	default:
		return "", NewValidationError("severity must be low|medium|high")
	}
}

type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

func ParseSource(raw string) (Source, error) {
	switch Source(strings.ToLower(strings.TrimSpace(raw))) {
	case SourceLocal:
		return SourceLocal, nil
	case SourceRemote:
		return SourceRemote, nil
	default:
		return "", NewValidationError("source must be local|remote")
	}
}

// Other returns the opposite side.
func (s Source) Other() Source {
	if s == SourceLocal {
		return SourceRemote
	}
	return SourceLocal
}

// ConflictKey is the natural key: at most one pending conflict exists per key.
type ConflictKey struct {
	TenantID   string
	EntityType string
	EntityID   string
	Type       ConflictType
}

type Resolution struct {
	Strategy      StrategyName `json:"strategy"`
	ChosenSource  Source       `json:"chosen_source,omitempty"`
	ResolvedValue Fields       `json:"resolved_value"`
	Reason        string       `json:"reason"`
}

type Conflict struct {
	ID             string
	TenantID       string
	EntityType     string
	EntityID       string
	Type           ConflictType
	Severity       Severity
	Status         Status
	LocalSnapshot  Snapshot
	RemoteSnapshot Snapshot
	DetectedAt     time.Time
	ResolvedAt     *time.Time
	Resolution     *Resolution
	IgnoredReason  string
	// Version increments on every write; transitions are conditional on it.
	Version int64
}

func (c Conflict) Key() ConflictKey {
	return ConflictKey{TenantID: c.TenantID, EntityType: c.EntityType, EntityID: c.EntityID, Type: c.Type}
}

// Snapshot returns the side named by src.
func (c Conflict) Snapshot(src Source) Snapshot {
	if src == SourceLocal {
		return c.LocalSnapshot
	}
	return c.RemoteSnapshot
}

type ConflictFilter struct {
	Status     Status
	Type       ConflictType
	Severity   Severity
	EntityType string
}

type Page struct {
	Limit  int
	Offset int
	// ByID pages in ascending id order starting after AfterID, instead of
	// newest-first by offset. Rows refreshed between pages keep their place.
	ByID    bool
	AfterID string
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Normalize clamps a caller page into the allowed window.
func (p Page) Normalize() (Page, error) {
	if p.Offset < 0 {
		return Page{}, NewValidationError("offset must be >= 0")
	}
	if p.Limit == 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit < 0 || p.Limit > MaxPageLimit {
		return Page{}, NewValidationError("limit must be between 1 and 500")
	}
	if p.ByID && p.Offset != 0 {
		return Page{}, NewValidationError("offset cannot be combined with id paging")
	}
	if !p.ByID && p.AfterID != "" {
		return Page{}, NewValidationError("after_id requires id paging")
	}
	return p, nil
}

// Candidate is a classified divergence ready to be upserted as pending.
type Candidate struct {
	Key            ConflictKey
	Severity       Severity
	LocalSnapshot  Snapshot
	RemoteSnapshot Snapshot
}

type UpsertOutcome string

const (
	UpsertCreated   UpsertOutcome = "created"
	UpsertRefreshed UpsertOutcome = "refreshed"
	UpsertUnchanged UpsertOutcome = "unchanged"
)
