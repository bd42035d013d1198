package query

import (
	"sort"
	"strconv"

	"github.com/Sumatoshi-tech/sluice/pkg/schema"
)

// Rowset is one query's output for a tick: a column header plus rendered
// rows. Append-mode rowsets hold only rows produced by the current batch;
// complete-mode rowsets hold the entire current result table.
type Rowset struct {
	Columns []string
	Rows    [][]string
	// GroupColumns counts the leading columns that hold group-key values;
	// the remaining columns are aggregate outputs.
	GroupColumns int
}

// Empty reports whether the rowset carries no rows.
func (r Rowset) Empty() bool {
	return len(r.Rows) == 0
}

// Result is one executor's candidate outcome for a tick. Nothing in it is
// visible to other queries or to readers until the scheduler commits.
type Result struct {
	QueryID string
	Mode    OutputMode
	// Candidate is the query's next committed state: the last committed
	// partition plus this batch. Nil for stateless append queries.
	Candidate GroupState
	Output    Rowset
	// SkippedRows counts rows dropped by merge failures, never fatal.
	SkippedRows int
}

// Executor applies one query definition to a micro-batch. It owns no
// mutable state across ticks; all persistence flows through the state
// store partition committed by the scheduler.
type Executor struct {
	def     Definition
	variant *schema.Variant
}

// NewExecutor creates an executor for a validated definition.
func NewExecutor(def Definition, variant *schema.Variant) *Executor {
	return &Executor{def: def, variant: variant}
}

// Definition returns the immutable query definition.
func (e *Executor) Definition() Definition {
	return e.def
}

// Execute computes the query over a frozen batch and the last committed
// state. It never mutates committed; the caller applies Candidate only
// after every sink write for the tick succeeds.
func (e *Executor) Execute(batch []schema.Record, committed GroupState) (Result, error) {
	if !e.def.Stateful() {
		return e.executeAppend(batch)
	}

	return e.executeComplete(batch, committed)
}

// executeAppend emits this batch's filtered rows. No persistent state.
func (e *Executor) executeAppend(batch []schema.Record) (Result, error) {
	res := Result{
		QueryID: e.def.ID,
		Mode:    e.def.Mode,
		Output:  Rowset{Columns: e.variant.Header()},
	}

	for _, rec := range batch {
		ok, err := e.matches(rec)
		if err != nil {
			return Result{}, err
		}

		if ok {
			res.Output.Rows = append(res.Output.Rows, rec.Strings())
		}
	}

	return res, nil
}

// executeComplete merges the batch into a candidate copy of the committed
// partition, then recomputes the full result table over every known group.
func (e *Executor) executeComplete(batch []schema.Record, committed GroupState) (Result, error) {
	candidate := committed.Clone()
	skipped := 0

	for _, rec := range batch {
		ok, err := e.matches(rec)
		if err != nil {
			return Result{}, err
		}

		if !ok {
			continue
		}

		key, keyErr := e.groupKey(rec)
		if keyErr != nil {
			return Result{}, keyErr
		}

		acc, exists := candidate[key]
		if !exists {
			acc = NewAccumulator()
			candidate[key] = acc
		}

		observeErr := acc.Observe(rec, e.def.Aggregates)
		if observeErr != nil {
			// Malformed aggregate input: skip the row, keep the tick alive.
			skipped++
		}
	}

	return Result{
		QueryID:     e.def.ID,
		Mode:        e.def.Mode,
		Candidate:   candidate,
		Output:      e.renderTable(candidate),
		SkippedRows: skipped,
	}, nil
}

// matches applies the optional filter predicate.
func (e *Executor) matches(rec schema.Record) (bool, error) {
	if e.def.Filter == nil {
		return true, nil
	}

	return e.def.Filter.Matches(rec)
}

// groupKey derives the record's group key. Ungrouped aggregates share the
// single implicit empty key.
func (e *Executor) groupKey(rec schema.Record) (string, error) {
	if len(e.def.GroupBy) == 0 {
		return "", nil
	}

	parts := make([]string, len(e.def.GroupBy))

	for i, field := range e.def.GroupBy {
		val, err := rec.String(field)
		if err != nil {
			return "", err
		}

		parts[i] = val
	}

	return GroupKey(parts), nil
}

// renderTable materializes the full current table for a complete-mode
// query, ordered by the query's ordering rule with ascending-key ties.
func (e *Executor) renderTable(state GroupState) Rowset {
	columns := make([]string, 0, len(e.def.GroupBy)+len(e.def.Aggregates))
	columns = append(columns, e.def.GroupBy...)

	for _, agg := range e.def.Aggregates {
		columns = append(columns, agg.Name)
	}

	keys := make([]string, 0, len(state))
	for key := range state {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		return e.less(state, keys[i], keys[j])
	})

	rows := make([][]string, 0, len(keys))

	for _, key := range keys {
		row := make([]string, 0, len(columns))
		row = append(row, SplitGroupKey(key)...)

		for _, agg := range e.def.Aggregates {
			row = append(row, formatAggValue(agg, state[key].Value(agg)))
		}

		rows = append(rows, row)
	}

	return Rowset{Columns: columns, Rows: rows, GroupColumns: len(e.def.GroupBy)}
}

// less orders two group keys per the definition's ordering rule.
func (e *Executor) less(state GroupState, ki, kj string) bool {
	ord := e.def.OrderBy
	if ord == nil {
		return ki < kj
	}

	for idx, field := range e.def.GroupBy {
		if field != ord.Key {
			continue
		}

		pi := SplitGroupKey(ki)[idx]
		pj := SplitGroupKey(kj)[idx]

		if pi != pj {
			if ord.Descending {
				return pi > pj
			}

			return pi < pj
		}

		return ki < kj
	}

	for _, agg := range e.def.Aggregates {
		if agg.Name != ord.Key {
			continue
		}

		vi := state[ki].Value(agg)
		vj := state[kj].Value(agg)

		if vi != vj {
			if ord.Descending {
				return vi > vj
			}

			return vi < vj
		}

		return ki < kj
	}

	return ki < kj
}

// formatAggValue renders an aggregate output: counts as integers,
// sums and averages with two decimals.
func formatAggValue(agg Aggregate, val float64) string {
	if agg.Op == AggCount {
		return strconv.FormatInt(int64(val), 10)
	}

	return strconv.FormatFloat(val, 'f', 2, 64)
}
