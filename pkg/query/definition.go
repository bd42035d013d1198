// Package query defines the analytical views the engine maintains and the
// per-batch executor that computes them incrementally.
package query

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sumatoshi-tech/sluice/pkg/schema"
)

// Sentinel definition errors.
var (
	ErrInvalidMode        = errors.New("invalid output mode")
	ErrInvalidCompareOp   = errors.New("invalid comparison operator")
	ErrInvalidAggregateOp = errors.New("invalid aggregate operator")
	ErrMissingID          = errors.New("query id is required")
	ErrDuplicateID        = errors.New("duplicate query id")
	ErrModeMismatch       = errors.New("output mode does not match query shape")
	ErrBadOrderKey        = errors.New("order key is neither a group field nor an aggregate")
	ErrDuplicateAggregate = errors.New("duplicate aggregate name")
	ErrMissingAggField    = errors.New("aggregate requires a source field")
	ErrBadFilterValue     = errors.New("filter value does not match field type")
)

// OutputMode controls what a query emits per tick: only rows produced by
// the current batch, or the entire current result table.
type OutputMode int

// Output modes.
const (
	ModeAppend OutputMode = iota
	ModeComplete
)

// ParseOutputMode converts a string to an OutputMode.
func ParseOutputMode(s string) (OutputMode, error) {
	switch strings.ToLower(s) {
	case "append":
		return ModeAppend, nil
	case "complete":
		return ModeComplete, nil
	default:
		return ModeAppend, fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// String returns the configuration name of the mode.
func (m OutputMode) String() string {
	if m == ModeComplete {
		return "complete"
	}

	return "append"
}

// CompareOp enumerates filter comparison operators.
type CompareOp int

// Comparison operators.
const (
	OpEQ CompareOp = iota
	OpNEQ
	OpGT
	OpGTE
	OpLT
	OpLTE
)

// ParseCompareOp converts a string to a CompareOp.
func ParseCompareOp(s string) (CompareOp, error) {
	switch strings.ToLower(s) {
	case "eq", "==", "=":
		return OpEQ, nil
	case "neq", "!=":
		return OpNEQ, nil
	case "gt", ">":
		return OpGT, nil
	case "gte", ">=":
		return OpGTE, nil
	case "lt", "<":
		return OpLT, nil
	case "lte", "<=":
		return OpLTE, nil
	default:
		return OpEQ, fmt.Errorf("%w: %q", ErrInvalidCompareOp, s)
	}
}

// Predicate is an optional row filter: field OP value.
type Predicate struct {
	Field string
	Op    CompareOp
	Value string
}

// Matches evaluates the predicate against a record. Numeric fields compare
// numerically; string fields support equality operators only.
func (p Predicate) Matches(rec schema.Record) (bool, error) {
	fieldVal, err := rec.Float(p.Field)
	if err == nil {
		want, parseErr := strconv.ParseFloat(p.Value, 64)
		if parseErr != nil {
			return false, fmt.Errorf("predicate value %q is not numeric: %w", p.Value, parseErr)
		}

		return compareFloat(fieldVal, p.Op, want), nil
	}

	if !errors.Is(err, schema.ErrNotNumeric) {
		return false, err
	}

	str, strErr := rec.String(p.Field)
	if strErr != nil {
		return false, strErr
	}

	switch p.Op {
	case OpEQ:
		return str == p.Value, nil
	case OpNEQ:
		return str != p.Value, nil
	default:
		return false, fmt.Errorf("%w: ordering comparison on string field %q", ErrInvalidCompareOp, p.Field)
	}
}

// compareFloat applies a comparison operator to two floats.
func compareFloat(have float64, op CompareOp, want float64) bool {
	switch op {
	case OpEQ:
		return have == want
	case OpNEQ:
		return have != want
	case OpGT:
		return have > want
	case OpGTE:
		return have >= want
	case OpLT:
		return have < want
	case OpLTE:
		return have <= want
	default:
		return false
	}
}

// AggregateOp enumerates supported aggregate functions. Average is always
// derived from sum and count; it is never a primitive accumulator.
type AggregateOp int

// Aggregate operators.
const (
	AggSum AggregateOp = iota
	AggCount
	AggAvg
)

// ParseAggregateOp converts a string to an AggregateOp.
func ParseAggregateOp(s string) (AggregateOp, error) {
	switch strings.ToLower(s) {
	case "sum":
		return AggSum, nil
	case "count":
		return AggCount, nil
	case "avg", "average":
		return AggAvg, nil
	default:
		return AggSum, fmt.Errorf("%w: %q", ErrInvalidAggregateOp, s)
	}
}

// Aggregate is one named aggregate expression over a source field.
// Count needs no source field.
type Aggregate struct {
	Name  string
	Op    AggregateOp
	Field string
}

// Ordering is the presentation order for a complete-mode result table.
// Ties always break ascending by group key so output is deterministic.
type Ordering struct {
	Key        string
	Descending bool
}

// Definition is the immutable specification of one analytical view.
type Definition struct {
	ID         string
	Filter     *Predicate
	GroupBy    []string
	Aggregates []Aggregate
	Mode       OutputMode
	OrderBy    *Ordering
}

// Stateful reports whether the query maintains accumulator state. A query
// with aggregates is stateful; a global aggregate is a grouped query with a
// single implicit group key.
func (d Definition) Stateful() bool {
	return len(d.Aggregates) > 0
}

// Validate checks the definition against a schema variant.
func (d Definition) Validate(v *schema.Variant) error {
	if strings.TrimSpace(d.ID) == "" {
		return ErrMissingID
	}

	if d.Stateful() != (d.Mode == ModeComplete) {
		return fmt.Errorf("%w: query %q mode %s with %d aggregates",
			ErrModeMismatch, d.ID, d.Mode, len(d.Aggregates))
	}

	if d.Filter != nil {
		filterErr := d.validateFilter(v)
		if filterErr != nil {
			return filterErr
		}
	}

	for _, g := range d.GroupBy {
		if !v.HasField(g) {
			return fmt.Errorf("query %q group key: %w: %q", d.ID, schema.ErrUnknownField, g)
		}
	}

	err := d.validateAggregates(v)
	if err != nil {
		return err
	}

	return d.validateOrdering()
}

// validateFilter checks the predicate against the filter field's declared
// type, so a bad query fails at load time instead of aborting every tick.
func (d Definition) validateFilter(v *schema.Variant) error {
	f := d.Filter

	fieldType, ok := v.FieldType(f.Field)
	if !ok {
		return fmt.Errorf("query %q filter: %w: %q", d.ID, schema.ErrUnknownField, f.Field)
	}

	switch fieldType {
	case schema.TypeInt, schema.TypeFloat:
		_, parseErr := strconv.ParseFloat(f.Value, 64)
		if parseErr != nil {
			return fmt.Errorf("%w: query %q compares numeric field %q against %q",
				ErrBadFilterValue, d.ID, f.Field, f.Value)
		}
	case schema.TypeString, schema.TypeDate:
		if f.Op != OpEQ && f.Op != OpNEQ {
			return fmt.Errorf("%w: query %q ordering comparison on non-numeric field %q",
				ErrInvalidCompareOp, d.ID, f.Field)
		}
	}

	return nil
}

// validateAggregates checks aggregate names and source fields.
func (d Definition) validateAggregates(v *schema.Variant) error {
	seen := make(map[string]bool, len(d.Aggregates))

	for _, agg := range d.Aggregates {
		if seen[agg.Name] {
			return fmt.Errorf("%w: query %q aggregate %q", ErrDuplicateAggregate, d.ID, agg.Name)
		}

		seen[agg.Name] = true

		if agg.Op == AggCount {
			continue
		}

		if agg.Field == "" {
			return fmt.Errorf("%w: query %q aggregate %q", ErrMissingAggField, d.ID, agg.Name)
		}

		if !v.HasField(agg.Field) {
			return fmt.Errorf("query %q aggregate %q: %w: %q",
				d.ID, agg.Name, schema.ErrUnknownField, agg.Field)
		}
	}

	return nil
}

// validateOrdering checks that the order key resolves to an output column.
func (d Definition) validateOrdering() error {
	if d.OrderBy == nil {
		return nil
	}

	for _, g := range d.GroupBy {
		if g == d.OrderBy.Key {
			return nil
		}
	}

	for _, agg := range d.Aggregates {
		if agg.Name == d.OrderBy.Key {
			return nil
		}
	}

	return fmt.Errorf("%w: query %q key %q", ErrBadOrderKey, d.ID, d.OrderBy.Key)
}

// ValidateSet validates a full query set, including id uniqueness.
func ValidateSet(defs []Definition, v *schema.Variant) error {
	seen := make(map[string]bool, len(defs))

	for _, d := range defs {
		if seen[d.ID] {
			return fmt.Errorf("%w: %q", ErrDuplicateID, d.ID)
		}

		seen[d.ID] = true

		err := d.Validate(v)
		if err != nil {
			return err
		}
	}

	return nil
}
