// Package extract turns raw page text into structured records through a
// chunked language-model pass merged with a deterministic regex extractor.
// Extraction is best-effort and never returns an error; failures come back
// as tagged error records.
package extract

import (
	"encoding/json"

	"github.com/firmlens/firmcrawl/internal/crawl"
)

// FieldType distinguishes the two merge behaviors a field can have.
type FieldType int

const (
	// FieldScalar keeps the first non-null value; later passes never override.
	FieldScalar FieldType = iota
	// FieldList unions values across passes, deduplicated.
	FieldList
)

// FieldDef names one schema field and its merge behavior.
type FieldDef struct {
	Name string
	Type FieldType
}

// schemas fixes the extraction targets per kind. The model is instructed to
// emit exactly these keys and nothing else; unknown keys are dropped on parse.
var schemas = map[crawl.Kind][]FieldDef{
	crawl.KindRules: {
		{Name: "payout_split", Type: FieldScalar},
		{Name: "payout_frequency", Type: FieldScalar},
		{Name: "max_daily_loss", Type: FieldScalar},
		{Name: "max_total_drawdown", Type: FieldScalar},
		{Name: "profit_target", Type: FieldScalar},
		{Name: "leverage", Type: FieldScalar},
		{Name: "instruments", Type: FieldList},
		{Name: "prohibited_strategies", Type: FieldList},
	},
	crawl.KindPricing: {
		{Name: "plans", Type: FieldList},
		{Name: "currency", Type: FieldScalar},
		{Name: "refund_policy", Type: FieldScalar},
		{Name: "discount_code", Type: FieldScalar},
	},
}

// keyFields drives the satisfaction predicate: a record counts as satisfied
// once at least one of these is populated.
var keyFields = map[crawl.Kind][]string{
	crawl.KindRules:   {"payout_split", "max_daily_loss", "max_total_drawdown", "profit_target"},
	crawl.KindPricing: {"plans"},
}

// Schema returns the field definitions for a kind.
func Schema(kind crawl.Kind) []FieldDef {
	return schemas[kind]
}

// Audit records how a record was produced, for traceability.
type Audit struct {
	Chunks     int      `json:"chunks"`
	Passes     int      `json:"passes"`
	Previews   []string `json:"previews,omitempty"`
	Model      string   `json:"model,omitempty"`
	RegexPass  bool     `json:"regex_pass"`
	RegexVer   string   `json:"regex_version"`
	TextLength int      `json:"text_length"`
}

// Record is the output of one extraction run. Every schema field is present
// in Fields, populated or nil. Err is set instead of panicking or returning
// a Go error; a record with Err set can still carry regex-derived fields.
type Record struct {
	Kind            crawl.Kind     `json:"kind"`
	Fields          map[string]any `json:"fields"`
	Err             string         `json:"error,omitempty"`
	PassesCompleted int            `json:"passes_completed"`
	Audit           Audit          `json:"audit"`
}

// NewRecord returns an empty record with every schema field keyed to nil.
func NewRecord(kind crawl.Kind) *Record {
	fields := make(map[string]any, len(schemas[kind]))
	for _, def := range schemas[kind] {
		fields[def.Name] = nil
	}
	return &Record{Kind: kind, Fields: fields}
}

// Satisfied reports whether at least one key field for the record's kind
// is populated. This is the single authority on "has enough data".
func (r *Record) Satisfied() bool {
	if r == nil {
		return false
	}
	for _, name := range keyFields[r.Kind] {
		if !isEmpty(r.Fields[name]) {
			return true
		}
	}
	return false
}

// Merge folds incoming fields into the record, fill-the-gaps only: scalars
// keep the first non-null value, lists are unioned and deduplicated. A
// populated field is never downgraded.
func (r *Record) Merge(incoming map[string]any) {
	for _, def := range schemas[r.Kind] {
		value, ok := incoming[def.Name]
		if !ok || isEmpty(value) {
			continue
		}
		switch def.Type {
		case FieldScalar:
			if isEmpty(r.Fields[def.Name]) {
				r.Fields[def.Name] = value
			}
		case FieldList:
			r.Fields[def.Name] = unionList(r.Fields[def.Name], value)
		}
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case []string:
		return len(t) == 0
	case map[string]any:
		return len(t) == 0
	default:
		return false
	}
}

// unionList appends the incoming elements not already present, comparing by
// canonical JSON so that structured list entries dedup too.
func unionList(existing, incoming any) any {
	out := toAnySlice(existing)
	seen := make(map[string]struct{}, len(out))
	for _, e := range out {
		seen[canonicalJSON(e)] = struct{}{}
	}
	for _, e := range toAnySlice(incoming) {
		key := canonicalJSON(e)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, e)
	}
	return out
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{t}
	}
}

func canonicalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}
