package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/jacksonlee411/catalog-erp-conflicts/modules/conflicts/domain/types"
)

// StrategyParams are caller-supplied knobs shared by all strategies.
type StrategyParams struct {
	// ChosenSource overrides the tenant precedence when set.
	ChosenSource types.Source
}

// ApplyStrategy computes the resolution of c under the named strategy. It is
// pure: nothing is read from or written to any store.
func ApplyStrategy(name types.StrategyName, c types.Conflict, policy types.Policy, params StrategyParams) (types.Outcome, error) {
	var (
		out types.Outcome
		err error
	)
	switch name {
	case types.StrategyTimestampPriority:
		out = timestampPriority(c, policy, params)
	case types.StrategySourcePriority:
		out = sourcePriority(c, policy, params)
	case types.StrategySmartMerge:
		out, err = smartMerge(c, policy, params)
	case types.StrategyValueBased:
		out = valueBased(c, policy, params)
	default:
		return types.Outcome{}, types.NewValidationError("unknown strategy: " + string(name))
	}
	if err != nil {
		return types.Outcome{}, err
	}
	out.Strategy = name
	return out, nil
}

func precedence(policy types.Policy, params StrategyParams) (types.Source, string) {
	if params.ChosenSource != "" {
		return params.ChosenSource, "manual override"
	}
	return policy.Precedence(), "tenant precedence"
}

func sourcePriority(c types.Conflict, policy types.Policy, params StrategyParams) types.Outcome {
	src, why := precedence(policy, params)
	return types.Outcome{
		ChosenSource:  src,
		ResolvedValue: c.Snapshot(src).Fields.Clone(),
		Rationale:     fmt.Sprintf("%s selects %s", why, src),
	}
}

func timestampPriority(c types.Conflict, policy types.Policy, params StrategyParams) types.Outcome {
	lt, rt := c.LocalSnapshot.ModifiedAt, c.RemoteSnapshot.ModifiedAt
	var src types.Source
	switch {
	case lt.After(rt):
		src = types.SourceLocal
	case rt.After(lt):
		src = types.SourceRemote
	default:
		out := sourcePriority(c, policy, params)
		out.Rationale = "modification times tie; " + out.Rationale
		return out
	}
	return types.Outcome{
		ChosenSource:  src,
		ResolvedValue: c.Snapshot(src).Fields.Clone(),
		Rationale:     fmt.Sprintf("%s modified last (local=%s remote=%s)", src, formatTime(lt), formatTime(rt)),
	}
}

func smartMerge(c types.Conflict, policy types.Policy, params StrategyParams) (types.Outcome, error) {
	fallback, why := precedence(policy, params)
	out := types.Fields{}
	var decisions []string
	for _, field := range unionFieldNames(c.LocalSnapshot.Fields, c.RemoteSnapshot.Fields) {
		lv, lok := c.LocalSnapshot.Fields[field]
		rv, rok := c.RemoteSnapshot.Fields[field]
		if types.ValuesEqual(lv, rv) {
			if lok {
				out[field] = lv
			} else if rok {
				out[field] = rv
			}
			continue
		}
		src := fallback
		how := why
		if rule, ok := policy.FieldRules[field]; ok && strings.TrimSpace(rule) != "" {
			s, err := EvalFieldRule(rule, field, lv, rv)
			if err != nil {
				return types.Outcome{}, err
			}
			src, how = s, "rule"
		}
		if src == types.SourceLocal {
			out[field] = lv
		} else {
			out[field] = rv
		}
		decisions = append(decisions, fmt.Sprintf("%s<-%s (%s)", field, src, how))
	}
	return types.Outcome{
		ResolvedValue: out,
		Rationale:     "merged per field: " + joinOrNone(decisions),
	}, nil
}

func valueBased(c types.Conflict, policy types.Policy, params StrategyParams) types.Outcome {
	fallback, why := precedence(policy, params)
	out := types.Fields{}
	var decisions []string
	for _, field := range unionFieldNames(c.LocalSnapshot.Fields, c.RemoteSnapshot.Fields) {
		lv, lok := c.LocalSnapshot.Fields[field]
		rv, rok := c.RemoteSnapshot.Fields[field]
		if types.ValuesEqual(lv, rv) {
			if lok {
				out[field] = lv
			} else if rok {
				out[field] = rv
			}
			continue
		}
		src, how := pickByValue(field, lv, rv, policy)
		if src == "" {
			src, how = fallback, why
		}
		if src == types.SourceLocal {
			out[field] = lv
		} else {
			out[field] = rv
		}
		decisions = append(decisions, fmt.Sprintf("%s<-%s (%s)", field, src, how))
	}
	return types.Outcome{
		ResolvedValue: out,
		Rationale:     "value heuristics: " + joinOrNone(decisions),
	}
}

// pickByValue applies the value heuristics; an empty source means none applied.
func pickByValue(field string, lv any, rv any, policy types.Policy) (types.Source, string) {
	switch {
	case types.IsMissing(lv) && !types.IsMissing(rv):
		return types.SourceRemote, "local missing"
	case types.IsMissing(rv) && !types.IsMissing(lv):
		return types.SourceLocal, "remote missing"
	}
	l, lok := types.NumericValue(lv)
	r, rok := types.NumericValue(rv)
	if !lok || !rok {
		return "", ""
	}
	switch {
	case policy.PrefersHigher(field):
		if l.GreaterThan(r) {
			return types.SourceLocal, "higher value"
		}
		return types.SourceRemote, "higher value"
	case policy.PrefersLower(field):
		if l.LessThan(r) {
			return types.SourceLocal, "lower value"
		}
		return types.SourceRemote, "lower value"
	}
	return "", ""
}

func joinOrNone(parts []string) string {
	if len(parts) == 0 {
		return "no differing fields"
	}
	return strings.Join(parts, ", ")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "unknown"
	}
	return t.UTC().Format(time.RFC3339)
}
