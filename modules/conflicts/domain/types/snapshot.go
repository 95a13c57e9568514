package types

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// Fields holds JSON-compatible field values of one business record.
type Fields map[string]any

func (f *Fields) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var m map[string]any
	if err := dec.Decode(&m); err != nil {
		return err
	}
	*f = Fields(m)
	return nil
}

// Clone copies the map; values are JSON scalars so a shallow copy is enough.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = v
	}
	return out
}

// Keys returns field names in sorted order.
func (f Fields) Keys() []string {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Snapshot is an immutable copy of one side's field values as observed at
// detection time.
type Snapshot struct {
	Fields     Fields    `json:"fields"`
	ModifiedAt time.Time `json:"modified_at"`
}

// Subset copies the named fields; missing fields are left out.
func (s Snapshot) Subset(names []string) Snapshot {
	out := Snapshot{Fields: make(Fields, len(names)), ModifiedAt: s.ModifiedAt}
	for _, n := range names {
		if v, ok := s.Fields[n]; ok {
			out.Fields[n] = v
		}
	}
	return out
}

// Fingerprint hashes the canonical form of both snapshots' field values.
// Modification timestamps are not part of it.
func Fingerprint(local Snapshot, remote Snapshot) string {
	var b strings.Builder
	b.WriteString("local:")
	writeCanonicalFields(&b, local.Fields)
	b.WriteString("|remote:")
	writeCanonicalFields(&b, remote.Fields)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonicalFields(b *strings.Builder, f Fields) {
	b.WriteByte('{')
	for i, k := range f.Keys() {
		if i > 0 {
			b.WriteByte(',')
		}
		ks, _ := json.Marshal(k)
		b.Write(ks)
		b.WriteByte(':')
		b.WriteString(CanonicalValue(f[k]))
	}
	b.WriteByte('}')
}

// CanonicalValue renders a scalar so that equal values render identically:
// numbers through decimal (100.00 == 100), text NFC-normalized and trimmed,
// empty text folded into null.
func CanonicalValue(v any) string {
	if IsMissing(v) {
		return "null"
	}
	if d, ok := NumericValue(v); ok {
		return d.String()
	}
	switch t := v.(type) {
	case string:
		bb, _ := json.Marshal(normalizeText(t))
		return string(bb)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		bb, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%q", fmt.Sprint(t))
		}
		return string(bb)
	}
}

// ValuesEqual compares two field values under canonical semantics.
func ValuesEqual(a any, b any) bool {
	return CanonicalValue(a) == CanonicalValue(b)
}

// IsMissing reports nil, empty or whitespace-only text.
func IsMissing(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	default:
		return false
	}
}

// NumericValue extracts a decimal from the numeric representations a snapshot
// can carry after JSON, SQL or in-process construction.
func NumericValue(v any) (decimal.Decimal, bool) {
	switch t := v.(type) {
	case decimal.Decimal:
		return t, true
	case json.Number:
		d, err := decimal.NewFromString(t.String())
		return d, err == nil
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return decimal.Decimal{}, false
		}
		return decimal.NewFromFloat(t), true
	case float32:
		return decimal.NewFromFloat32(t), true
	case int:
		return decimal.NewFromInt(int64(t)), true
	case int32:
		return decimal.NewFromInt32(t), true
	case int64:
		return decimal.NewFromInt(t), true
	default:
		return decimal.Decimal{}, false
	}
}

func normalizeText(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}
