package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/services"
)

type printer struct {
	format string
	w      io.Writer
}

func (p printer) json(v any) error {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func compactJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func (p printer) detection(res types.DetectionResult) error {
	if p.format == "json" {
		return p.json(res)
	}
	fmt.Fprintf(p.w, "scanned=%d created=%d refreshed=%d unchanged=%d warnings=%d\n",
		res.Scanned, res.Created, res.Refreshed, res.Unchanged, len(res.Warnings))
	for _, w := range res.Warnings {
		fmt.Fprintf(p.w, "warning %s/%s: %s\n", w.EntityType, w.EntityID, w.Message)
	}
	return nil
}

func (p printer) conflicts(cs []types.Conflict) error {
	if p.format == "json" {
		views := make([]services.ConflictView, 0, len(cs))
		for _, c := range cs {
			views = append(views, services.NewConflictView(c))
		}
		return p.json(views)
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTYPE\tSEVERITY\tSTATUS\tENTITY\tDETECTED")
	for _, c := range cs {
		v := services.NewConflictView(c)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s/%s\t%s\n", v.ID, v.Type, v.Severity, v.Status, v.EntityType, v.EntityID, v.DetectedAt)
	}
	return tw.Flush()
}

func (p printer) conflict(c types.Conflict) error {
	v := services.NewConflictView(c)
	if p.format == "json" {
		return p.json(v)
	}
	fmt.Fprintf(p.w, "id:          %s\n", v.ID)
	fmt.Fprintf(p.w, "entity:      %s/%s\n", v.EntityType, v.EntityID)
	fmt.Fprintf(p.w, "type:        %s\n", v.Type)
	fmt.Fprintf(p.w, "severity:    %s\n", v.Severity)
	fmt.Fprintf(p.w, "status:      %s\n", v.Status)
	fmt.Fprintf(p.w, "detected_at: %s\n", v.DetectedAt)
	fmt.Fprintf(p.w, "local:       %s\n", compactJSON(v.LocalSnapshot.Fields))
	fmt.Fprintf(p.w, "remote:      %s\n", compactJSON(v.RemoteSnapshot.Fields))
	if v.ResolvedAt != "" {
		fmt.Fprintf(p.w, "resolved_at: %s\n", v.ResolvedAt)
	}
	if v.Resolution != nil {
		fmt.Fprintf(p.w, "strategy:    %s\n", v.Resolution.Strategy)
		if v.Resolution.ChosenSource != "" {
			fmt.Fprintf(p.w, "chosen:      %s\n", v.Resolution.ChosenSource)
		}
		fmt.Fprintf(p.w, "value:       %s\n", compactJSON(v.Resolution.ResolvedValue))
		fmt.Fprintf(p.w, "reason:      %s\n", v.Resolution.Reason)
	}
	if v.IgnoredReason != "" {
		fmt.Fprintf(p.w, "ignored:     %s\n", v.IgnoredReason)
	}
	return nil
}

func (p printer) outcome(o types.Outcome) error {
	if p.format == "json" {
		return p.json(o)
	}
	fmt.Fprintf(p.w, "strategy:  %s\n", o.Strategy)
	if o.ChosenSource != "" {
		fmt.Fprintf(p.w, "chosen:    %s\n", o.ChosenSource)
	}
	fmt.Fprintf(p.w, "value:     %s\n", compactJSON(o.ResolvedValue))
	fmt.Fprintf(p.w, "rationale: %s\n", o.Rationale)
	return nil
}

func (p printer) metrics(m types.Metrics) error {
	if p.format == "json" {
		return p.json(m)
	}
	fmt.Fprintf(p.w, "total=%d pending=%d resolved=%d ignored=%d resolution_rate=%.2f\n",
		m.TotalConflicts, m.PendingConflicts, m.ResolvedConflicts, m.IgnoredConflicts, m.ResolutionRate)
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	for _, t := range slices.Sorted(maps.Keys(m.ByType)) {
		fmt.Fprintf(tw, "type\t%s\t%d\n", t, m.ByType[t])
	}
	for _, s := range []types.Severity{types.SeverityLow, types.SeverityMedium, types.SeverityHigh} {
		if n, ok := m.BySeverity[s]; ok {
			fmt.Fprintf(tw, "severity\t%s\t%d\n", s, n)
		}
	}
	return tw.Flush()
}

func (p printer) bulk(res types.BulkResult) error {
	if p.format == "json" {
		return p.json(res)
	}
	fmt.Fprintf(p.w, "resolved=%d failed=%d skipped=%d\n", res.Resolved, res.Failed, res.Skipped)
	for _, f := range res.Failures {
		fmt.Fprintf(p.w, "failed %s: %s\n", f.ConflictID, f.Error)
	}
	return nil
}
