package services

import (
	"math"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FieldDelta is one differing field between the local and remote record.
type FieldDelta struct {
	Field   string
	Local   any
	Remote  any
	Numeric bool
	// Percent is the divergence relative to the local value; +Inf when the
	// local value is zero, missing or not a number.
	Percent float64
}

// ComputeDelta returns the delta for one field and whether the values differ.
func ComputeDelta(field string, local any, remote any, numeric bool) (FieldDelta, bool) {
	if types.ValuesEqual(local, remote) {
		return FieldDelta{}, false
	}
	d := FieldDelta{Field: field, Local: local, Remote: remote, Numeric: numeric}
	if numeric {
		d.Percent = relativePercent(local, remote)
	}
	return d, true
}

func relativePercent(local any, remote any) float64 {
	l, lok := types.NumericValue(local)
	r, rok := types.NumericValue(remote)
	if !lok || !rok || l.IsZero() {
		return math.Inf(1)
	}
	pct, _ := r.Sub(l).Abs().Div(l.Abs()).Mul(hundred).Float64()
	return pct
}

// ExceedsTolerance reports whether a numeric delta is conflict-worthy. The
// boundary is inclusive: a delta equal to the tolerance is a conflict.
func ExceedsTolerance(d FieldDelta, policy types.Policy) bool {
	if !d.Numeric {
		return true
	}
	if d.Percent <= 0 {
		return false
	}
	return d.Percent >= policy.Tolerance(d.Field)
}

// NumericSeverity bands the relative delta: below medium is low, medium
// through high inclusive is medium, above high is high. The tolerance only
// decides whether a conflict exists.
func NumericSeverity(percent float64, bands types.SeverityBands) types.Severity {
	switch {
	case percent > bands.High:
		return types.SeverityHigh
	case percent >= bands.Medium:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// FieldCountSeverity ranks product_data conflicts by how many fields differ.
func FieldCountSeverity(n int) types.Severity {
	switch {
	case n >= 4:
		return types.SeverityHigh
	case n >= 2:
		return types.SeverityMedium
	default:
		return types.SeverityLow
	}
}

// Classify assigns exactly one (type, severity) to a group of deltas. A group
// holding a single numeric delta gets the magnitude-qualified numeric type;
// every other group is product_data.
func Classify(deltas []FieldDelta, policy types.Policy) (types.ConflictType, types.Severity) {
	if len(deltas) == 1 && deltas[0].Numeric {
		d := deltas[0]
		sev := NumericSeverity(d.Percent, policy.Bands(d.Field))
		return types.NumericConflictType(d.Field, sev != types.SeverityLow), sev
	}
	return types.ConflictTypeProductData, FieldCountSeverity(len(deltas))
}
