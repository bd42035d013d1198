package query

import "github.com/Sumatoshi-tech/sluice/pkg/schema"

// Built-in query ids.
const (
	QueryRawOrders    = "raw_orders"
	QueryHighValue    = "high_value"
	QuerySalesSummary = "sales_summary"
	QueryClientTotals = "client_totals"
)

// highValueThreshold is the total above which an order counts as high value.
const highValueThreshold = "100"

// Builtins returns the default query set for a schema variant. The set is
// constructed once at startup; there is no ambient registry.
func Builtins(v *schema.Variant) []Definition {
	return []Definition{
		{
			ID:   QueryRawOrders,
			Mode: ModeAppend,
		},
		{
			ID:     QueryHighValue,
			Mode:   ModeAppend,
			Filter: &Predicate{Field: "total", Op: OpGT, Value: highValueThreshold},
		},
		{
			ID:   QuerySalesSummary,
			Mode: ModeComplete,
			Aggregates: []Aggregate{
				{Name: "total_sales", Op: AggSum, Field: "total"},
				{Name: "total_orders", Op: AggCount},
				{Name: "avg_order_value", Op: AggAvg, Field: "total"},
			},
		},
		{
			ID:      QueryClientTotals,
			Mode:    ModeComplete,
			GroupBy: []string{v.ClientField},
			Aggregates: []Aggregate{
				{Name: "total_spent", Op: AggSum, Field: "total"},
				{Name: "order_count", Op: AggCount},
			},
			OrderBy: &Ordering{Key: "total_spent", Descending: true},
		},
	}
}
