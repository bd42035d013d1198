// Package schema holds the enumerated record layouts the engine accepts and
// turns raw delimited rows into typed records.
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Sumatoshi-tech/sluice/pkg/levenshtein"
)

// dateLayout is the accepted format for date fields.
const dateLayout = "2006-01-02"

// Sentinel parse errors.
var (
	ErrUnknownVariant = errors.New("unknown schema variant")
	ErrColumnCount    = errors.New("wrong column count")
	ErrCoercion       = errors.New("value does not match field type")
	ErrUnknownField   = errors.New("unknown field")
	ErrNotNumeric     = errors.New("field is not numeric")
)

// FieldType enumerates the value types a field can declare.
type FieldType int

// Supported field types.
const (
	TypeInt FieldType = iota
	TypeFloat
	TypeString
	TypeDate
)

// String returns the lowercase name of the field type.
func (t FieldType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	case TypeDate:
		return "date"
	default:
		return "unknown"
	}
}

// Field is one named, typed column of a variant.
type Field struct {
	Name string
	Type FieldType
}

// Variant is one fixed record layout. Variants are enumerated at compile
// time and selected once at startup; they are never inferred from input.
type Variant struct {
	Name string
	// ClientField names the column that identifies the ordering client.
	// Grouped queries that partition by client resolve it through here.
	ClientField string
	Fields      []Field

	index map[string]int
}

// Variant names accepted by the configuration surface.
const (
	VariantDetailed = "detailed"
	VariantCompact  = "compact"
)

// newVariant builds a variant and its field-name index.
func newVariant(name, clientField string, fields []Field) *Variant {
	idx := make(map[string]int, len(fields))
	for i, f := range fields {
		idx[f.Name] = i
	}

	return &Variant{
		Name:        name,
		ClientField: clientField,
		Fields:      fields,
		index:       idx,
	}
}

// Detailed is schema variant 1: the full order layout.
var Detailed = newVariant(VariantDetailed, "client_name", []Field{
	{Name: "order_id", Type: TypeInt},
	{Name: "client_name", Type: TypeString},
	{Name: "product", Type: TypeString},
	{Name: "quantity", Type: TypeInt},
	{Name: "unit_price", Type: TypeFloat},
	{Name: "order_date", Type: TypeDate},
	{Name: "status", Type: TypeString},
	{Name: "total", Type: TypeFloat},
})

// Compact is schema variant 2: the reduced order layout.
var Compact = newVariant(VariantCompact, "client_id", []Field{
	{Name: "order_id", Type: TypeInt},
	{Name: "client_id", Type: TypeString},
	{Name: "order_date", Type: TypeDate},
	{Name: "status", Type: TypeString},
	{Name: "total", Type: TypeFloat},
})

// ByName resolves a variant from its configured name.
func ByName(name string) (*Variant, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case VariantDetailed:
		return Detailed, nil
	case VariantCompact:
		return Compact, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, name)
	}
}

// Names lists the accepted variant names for help text and validation.
func Names() []string {
	return []string{VariantDetailed, VariantCompact}
}

// Header returns the column names in declaration order.
func (v *Variant) Header() []string {
	names := make([]string, len(v.Fields))
	for i, f := range v.Fields {
		names[i] = f.Name
	}

	return names
}

// maxSuggestDistance bounds how far an unknown field name may be from a
// declared one before a suggestion stops being plausible.
const maxSuggestDistance = 2

// FieldIndex returns the position of a named field. Unknown names that are
// close to a declared field carry a suggestion in the error.
func (v *Variant) FieldIndex(name string) (int, error) {
	i, ok := v.index[name]
	if !ok {
		if hint := v.closestField(name); hint != "" {
			return 0, fmt.Errorf("%w: %q in variant %s (did you mean %q?)", ErrUnknownField, name, v.Name, hint)
		}

		return 0, fmt.Errorf("%w: %q in variant %s", ErrUnknownField, name, v.Name)
	}

	return i, nil
}

// closestField returns the declared field name nearest to name, or the
// empty string when nothing is within maxSuggestDistance edits.
func (v *Variant) closestField(name string) string {
	var lev levenshtein.Context

	best := ""
	bestDist := maxSuggestDistance + 1

	for _, f := range v.Fields {
		if d := lev.Distance(name, f.Name); d < bestDist {
			best = f.Name
			bestDist = d
		}
	}

	return best
}

// HasField reports whether the variant declares the named field.
func (v *Variant) HasField(name string) bool {
	_, ok := v.index[name]

	return ok
}

// FieldType returns the declared type of a named field. The boolean is
// false when the variant does not declare the field.
func (v *Variant) FieldType(name string) (FieldType, bool) {
	i, ok := v.index[name]
	if !ok {
		return TypeString, false
	}

	return v.Fields[i].Type, true
}

// Parse validates a raw row against the variant and coerces each value to
// its declared type. A row with the wrong column count or a value that
// fails coercion is rejected; rejection is row-level, never fatal.
func (v *Variant) Parse(row []string) (Record, error) {
	if len(row) != len(v.Fields) {
		return Record{}, fmt.Errorf("%w: variant %s wants %d columns, row has %d",
			ErrColumnCount, v.Name, len(v.Fields), len(row))
	}

	values := make([]any, len(row))

	for i, f := range v.Fields {
		raw := strings.TrimSpace(row[i])

		val, err := coerce(raw, f.Type)
		if err != nil {
			return Record{}, fmt.Errorf("%w: field %q value %q: %w", ErrCoercion, f.Name, raw, err)
		}

		values[i] = val
	}

	return Record{variant: v, values: values}, nil
}

// coerce converts a raw string to the Go value for the field type.
func coerce(raw string, t FieldType) (any, error) {
	switch t {
	case TypeInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int: %w", err)
		}

		return n, nil
	case TypeFloat:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("parse float: %w", err)
		}

		return f, nil
	case TypeDate:
		d, err := time.Parse(dateLayout, raw)
		if err != nil {
			return nil, fmt.Errorf("parse date: %w", err)
		}

		return d, nil
	case TypeString:
		return raw, nil
	default:
		return nil, fmt.Errorf("unsupported field type %d", t) //nolint:err113 // unreachable for enumerated variants.
	}
}

// Record is one parsed, typed row. Immutable once parsed.
type Record struct {
	variant *Variant
	values  []any
}

// Variant returns the layout this record was parsed against.
func (r Record) Variant() *Variant {
	return r.variant
}

// Value returns the typed value of a named field.
func (r Record) Value(name string) (any, error) {
	i, err := r.variant.FieldIndex(name)
	if err != nil {
		return nil, err
	}

	return r.values[i], nil
}

// Float returns a numeric field as float64. Int fields widen; any other
// type reports ErrNotNumeric so aggregation can skip the row safely.
func (r Record) Float(name string) (float64, error) {
	val, err := r.Value(name)
	if err != nil {
		return 0, err
	}

	switch v := val.(type) {
	case float64:
		return v, nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("%w: %q holds %T", ErrNotNumeric, name, val)
	}
}

// String returns the display form of a named field.
func (r Record) String(name string) (string, error) {
	val, err := r.Value(name)
	if err != nil {
		return "", err
	}

	return formatValue(val), nil
}

// Strings returns the display form of every field in declaration order.
func (r Record) Strings() []string {
	out := make([]string, len(r.values))
	for i, v := range r.values {
		out[i] = formatValue(v)
	}

	return out
}

// formatValue renders a typed value for table and file output.
func formatValue(val any) string {
	switch v := val.(type) {
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', 2, 64)
	case time.Time:
		return v.Format(dateLayout)
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
