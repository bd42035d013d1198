package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// Console renders each query's output as a text table on a single stream.
type Console struct {
	mu      sync.Mutex
	out     io.Writer
	noColor bool
}

// NewConsole creates a console sink writing to out.
func NewConsole(out io.Writer, noColor bool) *Console {
	return &Console{out: out, noColor: noColor}
}

// Write implements Writer. Append-mode queries with no new rows this tick
// print nothing; complete-mode queries always print the full table.
func (c *Console) Write(_ context.Context, res query.Result, batchID uint64) error {
	if res.Mode == query.ModeAppend && res.Output.Empty() {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	header := fmt.Sprintf("=== %s [%s] batch %d ===", res.QueryID, res.Mode, batchID)
	if !c.noColor {
		header = color.New(color.FgCyan, color.Bold).Sprint(header)
	}

	_, err := fmt.Fprintln(c.out, header)
	if err != nil {
		return fmt.Errorf("console write: %w", err)
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleLight)

	headerRow := make(table.Row, len(res.Output.Columns))
	for i, name := range res.Output.Columns {
		headerRow[i] = name
	}

	t.AppendHeader(headerRow)

	for _, row := range res.Output.Rows {
		tr := make(table.Row, len(row))
		for i, cell := range row {
			tr[i] = cell
		}

		t.AppendRow(tr)
	}

	// Render to a string so a failing stream aborts the tick instead of
	// being swallowed by the table writer.
	_, renderErr := fmt.Fprintln(c.out, t.Render())
	if renderErr != nil {
		return fmt.Errorf("console write: %w", renderErr)
	}

	return nil
}
