package types

import (
	"strings"
)

// StrategyName is the closed set of resolution strategies.
type StrategyName string

const (
	StrategyTimestampPriority StrategyName = "timestamp_priority"
	StrategySourcePriority    StrategyName = "source_priority"
	StrategySmartMerge        StrategyName = "smart_merge"
	StrategyValueBased        StrategyName = "value_based"
)

var Strategies = []StrategyName{
	StrategyTimestampPriority,
	StrategySourcePriority,
	StrategySmartMerge,
	StrategyValueBased,
}

func ParseStrategy(raw string) (StrategyName, error) {
	switch StrategyName(strings.ToLower(strings.TrimSpace(raw))) {
	case StrategyTimestampPriority:
		return StrategyTimestampPriority, nil
	case StrategySourcePriority:
		return StrategySourcePriority, nil
	case StrategySmartMerge:
		return StrategySmartMerge, nil
	case StrategyValueBased:
		return StrategyValueBased, nil
	default:
		return "", NewValidationError("unknown strategy: " + strings.TrimSpace(raw))
	}
}

// SeverityBands are percentage edges applied to the relative delta of a
// numeric field.
type SeverityBands struct {
	Medium float64 `yaml:"medium" json:"medium"`
	High   float64 `yaml:"high" json:"high"`
}

var DefaultSeverityBands = SeverityBands{Medium: 5, High: 20}

// Policy is the tenant-scoped, read-only configuration the engine runs under.
type Policy struct {
	NumericFields        []string                      `yaml:"numeric_fields"`
	Tolerances           map[string]float64            `yaml:"tolerances"`
	SeverityBands        map[string]SeverityBands      `yaml:"severity_bands"`
	DefaultStrategies    map[ConflictType]StrategyName `yaml:"default_strategies"`
	SourcePrecedence     Source                        `yaml:"source_precedence"`
	FieldRules           map[string]string             `yaml:"field_rules"`
	PreferHigher         []string                      `yaml:"prefer_higher"`
	PreferLower          []string                      `yaml:"prefer_lower"`
	EntityTypes          []string                      `yaml:"entity_types"`
	DetectionConcurrency int                           `yaml:"detection_concurrency"`
	BulkConcurrency      int                           `yaml:"bulk_concurrency"`
}

func DefaultPolicy() Policy {
	return Policy{
		NumericFields: []string{"price", "stock"},
		Tolerances:    map[string]float64{"price": 5, "stock": 0},
		SeverityBands: map[string]SeverityBands{},
		DefaultStrategies: map[ConflictType]StrategyName{
			ConflictTypeProductData: StrategySmartMerge,
			ConflictTypePriceMinor:  StrategySourcePriority,
			ConflictTypePriceMajor:  StrategyTimestampPriority,
			ConflictTypeStockMinor:  StrategyValueBased,
			ConflictTypeStockMajor:  StrategyValueBased,
		},
		SourcePrecedence:     SourceRemote,
		FieldRules:           map[string]string{},
		PreferHigher:         []string{"stock"},
		EntityTypes:          []string{"product"},
		DetectionConcurrency: 8,
		BulkConcurrency:      8,
	}
}

func (p Policy) IsNumeric(field string) bool {
	for _, f := range p.NumericFields {
		if f == field {
			return true
		}
	}
	return false
}

func (p Policy) Tolerance(field string) float64 {
	return p.Tolerances[field]
}

func (p Policy) Bands(field string) SeverityBands {
	if b, ok := p.SeverityBands[field]; ok {
		return b
	}
	return DefaultSeverityBands
}

// DefaultStrategy falls back to source_priority for types the policy does not
// map.
func (p Policy) DefaultStrategy(t ConflictType) StrategyName {
	if s, ok := p.DefaultStrategies[t]; ok && s != "" {
		return s
	}
	return StrategySourcePriority
}

func (p Policy) Precedence() Source {
	if p.SourcePrecedence == SourceLocal {
		return SourceLocal
	}
	return SourceRemote
}

func (p Policy) prefers(list []string, field string) bool {
	for _, f := range list {
		if f == field {
			return true
		}
	}
	return false
}

func (p Policy) PrefersHigher(field string) bool { return p.prefers(p.PreferHigher, field) }

func (p Policy) PrefersLower(field string) bool { return p.prefers(p.PreferLower, field) }

// Validate rejects configurations the classifier cannot apply consistently.
func (p Policy) Validate() error {
	for field, tol := range p.Tolerances {
		if tol < 0 {
			return NewValidationError("tolerance must be >= 0: " + field)
		}
	}
	for field, b := range p.SeverityBands {
		if b.Medium < 0 || b.High < b.Medium {
			return NewValidationError("severity bands must satisfy 0 <= medium <= high: " + field)
		}
	}
	for t, s := range p.DefaultStrategies {
		if _, err := ParseStrategy(string(s)); err != nil {
			return NewValidationError("default strategy for " + string(t) + ": " + err.Error())
		}
	}
	if p.SourcePrecedence != "" {
		if _, err := ParseSource(string(p.SourcePrecedence)); err != nil {
			return err
		}
	}
	if p.DetectionConcurrency < 0 || p.BulkConcurrency < 0 {
		return NewValidationError("concurrency must be >= 0")
	}
	return nil
}
