// Package sink is the engine's output boundary. A writer receives one
// query's emitted rows per tick together with the query's output mode and
// performs the write; a write error propagates to the scheduler and aborts
// the tick's commit.
package sink

import (
	"context"
	"fmt"

	"github.com/Sumatoshi-tech/sluice/pkg/query"
)

// Writer accepts one query's output for one tick.
type Writer interface {
	// Write delivers the rowset. For append mode the rows are new and are
	// added to the destination's running view; for complete mode the rows
	// replace the destination's prior view for the query.
	Write(ctx context.Context, res query.Result, batchID uint64) error
}

// Fanout delivers each write to every underlying writer. The first failure
// stops the fan-out: the tick aborts anyway, and the retried batch rewrites
// every destination on the next attempt.
type Fanout []Writer

// Write implements Writer.
func (f Fanout) Write(ctx context.Context, res query.Result, batchID uint64) error {
	for _, w := range f {
		err := w.Write(ctx, res, batchID)
		if err != nil {
			return fmt.Errorf("fanout: %w", err)
		}
	}

	return nil
}
