package sink

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

func completeResult() query.Result {
	return query.Result{
		QueryID: "client_totals",
		Mode:    query.ModeComplete,
		Output: query.Rowset{
			Columns:      []string{"client_id", "total_spent"},
			Rows:         [][]string{{"c1", "250.00"}, {"c2", "150.00"}},
			GroupColumns: 1,
		},
	}
}

func TestConsole_WritesHeaderAndTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	c := NewConsole(&buf, true)

	err := c.Write(context.Background(), completeResult(), 3)

	require.NoError(t, err)

	out := buf.String()

	assert.Contains(t, out, "=== client_totals [complete] batch 3 ===")
	assert.Contains(t, out, "client_id")
	assert.Contains(t, out, "250.00")
	assert.Contains(t, out, "c2")
}

func TestConsole_SkipsEmptyAppendOutput(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	c := NewConsole(&buf, true)

	res := query.Result{
		QueryID: "high_value",
		Mode:    query.ModeAppend,
		Output:  query.Rowset{Columns: []string{"order_id"}},
	}

	err := c.Write(context.Background(), res, 1)

	require.NoError(t, err)
	assert.Empty(t, buf.String())
}

func TestConsole_PrintsEmptyCompleteTable(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	c := NewConsole(&buf, true)

	res := query.Result{
		QueryID: "sales_summary",
		Mode:    query.ModeComplete,
		Output:  query.Rowset{Columns: []string{"total_sales"}},
	}

	err := c.Write(context.Background(), res, 1)

	require.NoError(t, err)
	assert.Contains(t, buf.String(), "sales_summary")
}

func TestConsole_PropagatesWriteError(t *testing.T) {
	t.Parallel()

	c := NewConsole(brokenStream{}, true)

	err := c.Write(context.Background(), completeResult(), 1)

	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.Contains(t, err.Error(), "console write")
}

// brokenStream fails every write, standing in for a closed stdout pipe.
type brokenStream struct{}

func (brokenStream) Write([]byte) (int, error) {
	return 0, assert.AnError
}

func TestFanout_StopsOnFirstError(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer

	failing := writerFunc(func(context.Context, query.Result, uint64) error {
		return assert.AnError
	})

	counting := 0
	counter := writerFunc(func(context.Context, query.Result, uint64) error {
		counting++

		return nil
	})

	fan := Fanout{NewConsole(&buf, true), failing, counter}

	err := fan.Write(context.Background(), completeResult(), 1)

	require.ErrorIs(t, err, assert.AnError)
	assert.Zero(t, counting)
	assert.NotEmpty(t, buf.String())
}

// writerFunc adapts a function to the Writer interface for tests.
type writerFunc func(ctx context.Context, res query.Result, batchID uint64) error

func (f writerFunc) Write(ctx context.Context, res query.Result, batchID uint64) error {
	return f(ctx, res, batchID)
}
