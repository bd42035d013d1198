package query

import (
	"fmt"
	"strings"

	"github.com/Sumatoshi-tech/sluice/pkg/schema"
)

// keySeparator joins group-key parts. The unit separator cannot appear in
// CSV field values, so joined keys are unambiguous.
const keySeparator = "\x1f"

// GroupKey encodes group field values into a single map key.
func GroupKey(parts []string) string {
	return strings.Join(parts, keySeparator)
}

// SplitGroupKey decodes a map key back into its field values.
func SplitGroupKey(key string) []string {
	if key == "" {
		return nil
	}

	return strings.Split(key, keySeparator)
}

// Accumulator is the running state for one group key: the per-field sums
// and the row count needed to derive every aggregate a query declares.
// Merge order never affects the result.
type Accumulator struct {
	Sums  map[string]float64 `json:"sums"`
	Count int64              `json:"count"`
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() *Accumulator {
	return &Accumulator{Sums: make(map[string]float64)}
}

// Observe folds one record into the accumulator. Every source field is
// extracted before any mutation, so a malformed value skips the whole row
// without corrupting state already accumulated from other rows.
func (a *Accumulator) Observe(rec schema.Record, aggs []Aggregate) error {
	deltas := make(map[string]float64, len(aggs))

	for _, agg := range aggs {
		if agg.Op == AggCount {
			continue
		}

		if _, done := deltas[agg.Field]; done {
			continue
		}

		val, err := rec.Float(agg.Field)
		if err != nil {
			return fmt.Errorf("aggregate %q: %w", agg.Name, err)
		}

		deltas[agg.Field] = val
	}

	for field, val := range deltas {
		a.Sums[field] += val
	}

	a.Count++

	return nil
}

// Merge folds another accumulator into this one. Associative and
// commutative, so batch splits and shard order do not change totals.
func (a *Accumulator) Merge(other *Accumulator) {
	for field, sum := range other.Sums {
		a.Sums[field] += sum
	}

	a.Count += other.Count
}

// Clone returns an independent deep copy.
func (a *Accumulator) Clone() *Accumulator {
	c := &Accumulator{
		Sums:  make(map[string]float64, len(a.Sums)),
		Count: a.Count,
	}

	for field, sum := range a.Sums {
		c.Sums[field] = sum
	}

	return c
}

// Value derives one aggregate output from the running sums and count.
func (a *Accumulator) Value(agg Aggregate) float64 {
	switch agg.Op {
	case AggSum:
		return a.Sums[agg.Field]
	case AggCount:
		return float64(a.Count)
	case AggAvg:
		if a.Count == 0 {
			return 0
		}

		return a.Sums[agg.Field] / float64(a.Count)
	default:
		return 0
	}
}

// GroupState maps group key to accumulator for a single query.
type GroupState map[string]*Accumulator

// Clone returns an independent deep copy of the whole partition.
func (s GroupState) Clone() GroupState {
	c := make(GroupState, len(s))
	for key, acc := range s {
		c[key] = acc.Clone()
	}

	return c
}
