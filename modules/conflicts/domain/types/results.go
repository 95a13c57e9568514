package types

import "time"

type DetectionWarning struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	Message    string `json:"message"`
}

type DetectionResult struct {
	Created   int                `json:"created"`
	Refreshed int                `json:"refreshed"`
	Unchanged int                `json:"unchanged"`
	Scanned   int                `json:"scanned"`
	Warnings  []DetectionWarning `json:"warnings,omitempty"`
}

// Partial reports whether some entities could not be compared.
func (r DetectionResult) Partial() bool { return len(r.Warnings) > 0 }

type BulkItemStatus string

const (
	BulkItemResolved BulkItemStatus = "resolved"
	BulkItemFailed   BulkItemStatus = "failed"
	BulkItemSkipped  BulkItemStatus = "skipped"
)

type BulkFailure struct {
	ConflictID string `json:"conflict_id"`
	Error      string `json:"error"`
}

type BulkResult struct {
	Resolved int           `json:"resolved"`
	Failed   int           `json:"failed"`
	Skipped  int           `json:"skipped"`
	Failures []BulkFailure `json:"failures"`
}

type Metrics struct {
	TotalConflicts    int                  `json:"total_conflicts"`
	PendingConflicts  int                  `json:"pending_conflicts"`
	ResolvedConflicts int                  `json:"resolved_conflicts"`
	IgnoredConflicts  int                  `json:"ignored_conflicts"`
	ResolutionRate    float64              `json:"resolution_rate"`
	ByType            map[ConflictType]int `json:"by_type"`
	BySeverity        map[Severity]int     `json:"by_severity"`
}

// StatusCount is one group of the store's aggregate read.
type StatusCount struct {
	Status   Status
	Type     ConflictType
	Severity Severity
	Count    int
}

// Outcome is what a strategy computes; it never mutates anything.
type Outcome struct {
	Strategy      StrategyName `json:"strategy"`
	ChosenSource  Source       `json:"chosen_source,omitempty"`
	ResolvedValue Fields       `json:"resolved_value"`
	Rationale     string       `json:"rationale"`
}

type AuditAction string

const (
	AuditActionResolved AuditAction = "resolved"
	AuditActionIgnored  AuditAction = "ignored"
)

type AuditEntry struct {
	ID           string
	TenantID     string
	ConflictID   string
	Action       AuditAction
	Strategy     StrategyName
	ChosenSource Source
	Rationale    string
	Reason       string
	Actor        string
	At           time.Time
}

// Actor is the caller identity carried in the request context.
type Actor struct {
	ID   string
	Role string
}
