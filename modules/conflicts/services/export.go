package services

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/ports"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

type ExportFormat string

const (
	ExportCSV  ExportFormat = "csv"
	ExportJSON ExportFormat = "json"
)

func ParseExportFormat(raw string) (ExportFormat, error) {
	switch ExportFormat(strings.ToLower(strings.TrimSpace(raw))) {
	case ExportCSV:
		return ExportCSV, nil
	case ExportJSON:
		return ExportJSON, nil
	default:
		return "", types.NewValidationError("format must be csv|json")
	}
}

// ConflictView is the wire shape of a conflict in exports.
type ConflictView struct {
	ID             string            `json:"id"`
	TenantID       string            `json:"tenant_id"`
	EntityType     string            `json:"entity_type"`
	EntityID       string            `json:"entity_id"`
	Type           string            `json:"type"`
	Severity       string            `json:"severity"`
	Status         string            `json:"status"`
	LocalSnapshot  types.Snapshot    `json:"local_snapshot"`
	RemoteSnapshot types.Snapshot    `json:"remote_snapshot"`
	DetectedAt     string            `json:"detected_at"`
	ResolvedAt     string            `json:"resolved_at,omitempty"`
	Resolution     *types.Resolution `json:"resolution,omitempty"`
	IgnoredReason  string            `json:"ignored_reason,omitempty"`
}

func NewConflictView(c types.Conflict) ConflictView {
	v := ConflictView{
		ID:             c.ID,
		TenantID:       c.TenantID,
		EntityType:     c.EntityType,
		EntityID:       c.EntityID,
		Type:           string(c.Type),
		Severity:       string(c.Severity),
		Status:         string(c.Status),
		LocalSnapshot:  c.LocalSnapshot,
		RemoteSnapshot: c.RemoteSnapshot,
		DetectedAt:     c.DetectedAt.UTC().Format(time.RFC3339),
		Resolution:     c.Resolution,
		IgnoredReason:  c.IgnoredReason,
	}
	if c.ResolvedAt != nil {
		v.ResolvedAt = c.ResolvedAt.UTC().Format(time.RFC3339)
	}
	return v
}

var csvHeader = []string{
	"id", "tenant_id", "entity_type", "entity_id", "type", "severity", "status",
	"detected_at", "resolved_at", "strategy", "chosen_source", "resolved_value",
	"reason", "ignored_reason", "local_fields", "remote_fields",
}

// ExportConflicts streams every conflict matching filter in id order. It pages
// by id, so a redetection during the export cannot move rows across pages.
func ExportConflicts(ctx context.Context, store ports.ConflictStore, tenantID string, filter types.ConflictFilter, format ExportFormat, w io.Writer) error {
	switch format {
	case ExportCSV:
		return exportCSV(ctx, store, tenantID, filter, w)
	case ExportJSON:
		return exportJSON(ctx, store, tenantID, filter, w)
	default:
		return types.NewValidationError("format must be csv|json")
	}
}

func eachConflict(ctx context.Context, store ports.ConflictStore, tenantID string, filter types.ConflictFilter, fn func(types.Conflict) error) error {
	page := types.Page{Limit: types.MaxPageLimit, ByID: true}
	for {
		items, err := store.List(ctx, tenantID, filter, page)
		if err != nil {
			return err
		}
		for _, c := range items {
			if err := fn(c); err != nil {
				return err
			}
		}
		if len(items) < page.Limit {
			return nil
		}
		page.AfterID = items[len(items)-1].ID
	}
}

func exportCSV(ctx context.Context, store ports.ConflictStore, tenantID string, filter types.ConflictFilter, w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	err := eachConflict(ctx, store, tenantID, filter, func(c types.Conflict) error {
		v := NewConflictView(c)
		var strategy, chosen, resolved, reason string
		if c.Resolution != nil {
			strategy = string(c.Resolution.Strategy)
			chosen = string(c.Resolution.ChosenSource)
			resolved = mustJSON(c.Resolution.ResolvedValue)
			reason = c.Resolution.Reason
		}
		return cw.Write([]string{
			v.ID, v.TenantID, v.EntityType, v.EntityID, v.Type, v.Severity, v.Status,
			v.DetectedAt, v.ResolvedAt, strategy, chosen, resolved,
			reason, v.IgnoredReason, mustJSON(c.LocalSnapshot.Fields), mustJSON(c.RemoteSnapshot.Fields),
		})
	})
	if err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

func exportJSON(ctx context.Context, store ports.ConflictStore, tenantID string, filter types.ConflictFilter, w io.Writer) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	first := true
	err := eachConflict(ctx, store, tenantID, filter, func(c types.Conflict) error {
		b, err := json.Marshal(NewConflictView(c))
		if err != nil {
			return err
		}
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		first = false
		_, err = w.Write(b)
		return err
	})
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, "]\n")
	return err
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
