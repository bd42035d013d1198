// Package engine drives the micro-batch loop: discover new files, parse
// them into a batch, fan the batch out to every query executor, wait for
// all sink writes, and atomically commit state plus ledger plus checkpoint.
// A batch's effect on durable state is indivisible, which is what makes
// exactly-once hold across restarts.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Sumatoshi-tech/sluice/pkg/checkpoint"
	"github.com/Sumatoshi-tech/sluice/pkg/ledger"
	"github.com/Sumatoshi-tech/sluice/pkg/observability"
	"github.com/Sumatoshi-tech/sluice/pkg/query"
	"github.com/Sumatoshi-tech/sluice/pkg/schema"
	"github.com/Sumatoshi-tech/sluice/pkg/sink"
	"github.com/Sumatoshi-tech/sluice/pkg/source"
	"github.com/Sumatoshi-tech/sluice/pkg/state"
)

// ErrTickAborted marks a tick whose commit was discarded. The affected
// files stay in flight and the whole batch is retried on a later tick;
// state committed by prior ticks is untouched.
var ErrTickAborted = errors.New("tick aborted")

// Default scheduling values.
const (
	DefaultPollInterval   = 2 * time.Second
	DefaultRetryThreshold = 3
)

// checkpointFailureLimit is the number of consecutive checkpoint persist
// failures after which the engine stops: durability can no longer be
// guaranteed, so retrying silently would be lying to the operator.
const checkpointFailureLimit = 3

// Config holds engine scheduling knobs.
type Config struct {
	// PollInterval is the delay between discovery ticks.
	PollInterval time.Duration
	// RetryThreshold is the number of consecutive read failures after
	// which a file is quarantined.
	RetryThreshold int
}

// TickStats summarizes one scheduler tick for logging and tests.
type TickStats struct {
	BatchID     uint64
	Files       int
	Rows        int
	DroppedRows int
	SkippedRows int
	Quarantined int
	Committed   bool
	Duration    time.Duration
}

// Engine owns the batch lifecycle and all commit decisions. Nothing else
// writes the state store or the ledger.
type Engine struct {
	variant   *schema.Variant
	monitor   *source.Monitor
	store     *state.Store
	executors []*query.Executor
	sink      sink.Writer
	ckpt      *checkpoint.Manager
	logger    *slog.Logger
	metrics   *observability.EngineMetrics
	cfg       Config

	led       *ledger.Ledger
	nextBatch uint64
	// failures counts consecutive read failures per in-flight path.
	failures map[string]int
	// ckptFailures counts consecutive checkpoint persist failures.
	ckptFailures int
}

// New creates an engine over a validated query set. Call Restore before Run.
func New(
	variant *schema.Variant,
	monitor *source.Monitor,
	defs []query.Definition,
	snk sink.Writer,
	ckpt *checkpoint.Manager,
	logger *slog.Logger,
	metrics *observability.EngineMetrics,
	cfg Config,
) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}

	if cfg.RetryThreshold <= 0 {
		cfg.RetryThreshold = DefaultRetryThreshold
	}

	executors := make([]*query.Executor, len(defs))
	ids := make([]string, len(defs))

	for i, def := range defs {
		executors[i] = query.NewExecutor(def, variant)
		ids[i] = def.ID
	}

	return &Engine{
		variant:   variant,
		monitor:   monitor,
		store:     state.NewStore(ids),
		executors: executors,
		sink:      snk,
		ckpt:      ckpt,
		logger:    logger,
		metrics:   metrics,
		cfg:       cfg,
		led:       ledger.New(),
		nextBatch: 1,
		failures:  make(map[string]int),
	}
}

// QueryIDs returns the registered query ids in definition order.
func (e *Engine) QueryIDs() []string {
	ids := make([]string, len(e.executors))
	for i, ex := range e.executors {
		ids[i] = ex.Definition().ID
	}

	return ids
}

// Store exposes the committed state store for inspection in tests.
func (e *Engine) Store() *state.Store {
	return e.store
}

// Restore loads the last checkpoint. A corrupt or mismatched checkpoint is
// fatal: the engine refuses to start rather than risk double counting.
func (e *Engine) Restore() error {
	snap, err := e.ckpt.Restore(e.variant.Name, e.QueryIDs())
	if err != nil {
		return fmt.Errorf("restore checkpoint: %w", err)
	}

	if snap == nil {
		e.logger.Info("no checkpoint found, starting from empty state")

		return nil
	}

	e.led = snap.Ledger
	e.store.Restore(snap.States)
	e.nextBatch = snap.BatchID + 1

	committed, quarantined := e.led.Counts()
	e.logger.Info("checkpoint restored",
		slog.Uint64("batch_id", snap.BatchID),
		slog.Int("committed_files", committed),
		slog.Int("quarantined_files", quarantined),
	)

	return nil
}

// Run drives ticks strictly sequentially until the context is canceled.
// An in-flight tick always reaches full commit or full abort before Run
// returns; no partial commit is ever left on disk.
func (e *Engine) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		stats, err := e.Tick(ctx)
		e.report(ctx, stats, err)

		if e.ckptFailures >= checkpointFailureLimit {
			return fmt.Errorf("checkpoint persistence failed %d ticks in a row: %w", e.ckptFailures, err)
		}

		select {
		case <-ctx.Done():
			e.logger.Info("shutting down", slog.Uint64("next_batch", e.nextBatch))

			return nil
		case <-ticker.C:
		}
	}
}

// report logs a tick outcome. Tick errors abort one commit and leave the
// engine live: the same files are retried next tick.
func (e *Engine) report(ctx context.Context, stats TickStats, err error) {
	if err != nil {
		e.logger.Error("tick failed", slog.Any("error", err))

		return
	}

	if !stats.Committed {
		return
	}

	e.logger.LogAttrs(ctx, slog.LevelInfo, "batch committed",
		slog.Uint64("batch_id", stats.BatchID),
		slog.Int("files", stats.Files),
		slog.String("rows", humanize.Comma(int64(stats.Rows))),
		slog.Int("dropped_rows", stats.DroppedRows),
		slog.Int("skipped_rows", stats.SkippedRows),
		slog.Duration("took", stats.Duration),
	)
}

// Tick runs one full scheduler pass: discover, parse, execute, write
// sinks, and commit. Exported for deterministic tests; Run is the loop.
func (e *Engine) Tick(ctx context.Context) (TickStats, error) {
	start := time.Now()

	var stats TickStats

	files, err := e.monitor.Discover(e.led)
	if err != nil {
		return stats, fmt.Errorf("discover: %w", err)
	}

	if len(files) == 0 {
		return stats, nil
	}

	batch, committable, readStats := e.readBatch(ctx, files)
	stats.DroppedRows = readStats.dropped
	stats.Quarantined = readStats.quarantined

	if len(committable) == 0 {
		// Nothing readable this tick; failed files retry later.
		return stats, nil
	}

	batchID := e.nextBatch

	results, execErr := e.execute(batch)
	if execErr != nil {
		return stats, fmt.Errorf("%w: %w", ErrTickAborted, execErr)
	}

	for _, res := range results {
		stats.SkippedRows += res.SkippedRows
	}

	writeErr := e.writeSinks(ctx, results, batchID)
	if writeErr != nil {
		e.recordFailure(ctx, observability.StageSink)

		return stats, fmt.Errorf("%w: %w", ErrTickAborted, writeErr)
	}

	commitErr := e.commit(results, committable, batchID)
	if commitErr != nil {
		e.ckptFailures++
		e.recordFailure(ctx, observability.StageCheckpoint)

		return stats, fmt.Errorf("%w: %w", ErrTickAborted, commitErr)
	}

	e.ckptFailures = 0

	stats.BatchID = batchID
	stats.Files = len(committable)
	stats.Rows = len(batch)
	stats.Committed = true
	stats.Duration = time.Since(start)

	if e.metrics != nil {
		dropped := int64(stats.DroppedRows + stats.SkippedRows)
		e.metrics.RecordBatch(ctx, int64(stats.Rows), dropped, stats.Duration)
	}

	return stats, nil
}

// readStats carries per-tick read and parse counters.
type readStats struct {
	dropped     int
	quarantined int
}

// readBatch reads each candidate file and parses its rows. Unreadable files
// stay in flight for retry; files past the retry threshold are
// quarantined. Malformed rows are dropped and counted, never fatal.
func (e *Engine) readBatch(ctx context.Context, files []source.File) ([]schema.Record, []string, readStats) {
	var (
		batch       []schema.Record
		committable []string
		rs          readStats
	)

	for _, f := range files {
		rows, readErr := e.monitor.ReadRows(ctx, f)
		if readErr != nil {
			rs.quarantined += e.handleReadFailure(ctx, f.Path, readErr)

			continue
		}

		delete(e.failures, f.Path)

		committable = append(committable, f.Path)

		for _, row := range rows {
			rec, parseErr := e.variant.Parse(row)
			if parseErr != nil {
				rs.dropped++

				e.logger.Warn("row dropped",
					slog.String("file", f.Path),
					slog.Any("error", parseErr),
				)

				continue
			}

			batch = append(batch, rec)
		}
	}

	return batch, committable, rs
}

// handleReadFailure counts a consecutive failure and quarantines the file
// once it crosses the threshold. Returns 1 if the file was quarantined.
func (e *Engine) handleReadFailure(ctx context.Context, path string, cause error) int {
	e.failures[path]++
	count := e.failures[path]

	if count < e.cfg.RetryThreshold {
		e.logger.Warn("source read failed, will retry",
			slog.String("file", path),
			slog.Int("attempt", count),
			slog.Any("error", cause),
		)

		return 0
	}

	delete(e.failures, path)
	e.led.MarkQuarantined(path, cause.Error())

	e.logger.Error("file quarantined after repeated failures",
		slog.String("file", path),
		slog.Int("attempts", count),
		slog.Any("error", cause),
	)

	if e.metrics != nil {
		e.metrics.RecordQuarantine(ctx, 1)
	}

	// Best-effort durability: re-persist the committed state with the
	// updated ledger. On failure the quarantine still rides along with
	// the next successful commit.
	snap := &checkpoint.Snapshot{
		BatchID: e.nextBatch - 1,
		Variant: e.variant.Name,
		Ledger:  e.led.Clone(),
		States:  e.store.Snapshot(),
	}

	saveErr := e.ckpt.Save(snap)
	if saveErr != nil {
		e.logger.Warn("quarantine not yet durable", slog.Any("error", saveErr))
	}

	return 1
}

// execResult pairs an executor outcome with its error for the fan-out join.
type execResult struct {
	res query.Result
	err error
}

// execute fans the frozen batch out to every executor in parallel. Each
// executor reads the last committed partition and writes only its own
// candidate state, so no locking is needed between queries.
func (e *Engine) execute(batch []schema.Record) ([]query.Result, error) {
	outcomes := make([]execResult, len(e.executors))

	var wg sync.WaitGroup

	for i, ex := range e.executors {
		wg.Add(1)

		go func(i int, ex *query.Executor) {
			defer wg.Done()

			committed := e.store.Partition(ex.Definition().ID)
			res, err := ex.Execute(batch, committed)
			outcomes[i] = execResult{res: res, err: err}
		}(i, ex)
	}

	wg.Wait()

	results := make([]query.Result, len(outcomes))

	for i, out := range outcomes {
		if out.err != nil {
			return nil, fmt.Errorf("execute query %s: %w", e.executors[i].Definition().ID, out.err)
		}

		results[i] = out.res
	}

	return results, nil
}

// writeSinks delivers every query's output and waits for all acks. This is
// the tick's single synchronization barrier: any failure aborts the commit.
func (e *Engine) writeSinks(ctx context.Context, results []query.Result, batchID uint64) error {
	for _, res := range results {
		err := e.sink.Write(ctx, res, batchID)
		if err != nil {
			return fmt.Errorf("sink write for query %s: %w", res.QueryID, err)
		}
	}

	return nil
}

// commit makes the tick durable: the checkpoint is persisted first from
// candidate state, and only then is in-memory state updated. If persistence
// fails, the commit never happened: the live ledger and store are untouched
// and the batch retries next tick with the same files.
func (e *Engine) commit(results []query.Result, committable []string, batchID uint64) error {
	candidateLedger := e.led.Clone()
	candidateLedger.MarkCommitted(committable, batchID)

	states := e.store.Snapshot()

	for _, res := range results {
		if res.Candidate != nil {
			states[res.QueryID] = res.Candidate
		}
	}

	snap := &checkpoint.Snapshot{
		BatchID: batchID,
		Variant: e.variant.Name,
		Ledger:  candidateLedger,
		States:  states,
	}

	err := e.ckpt.Save(snap)
	if err != nil {
		return fmt.Errorf("checkpoint persist: %w", err)
	}

	for _, res := range results {
		if res.Candidate != nil {
			e.store.ApplyCommitted(res.QueryID, res.Candidate)
		}
	}

	e.led = candidateLedger
	e.nextBatch = batchID + 1

	return nil
}

// recordFailure records an aborted tick by stage.
func (e *Engine) recordFailure(ctx context.Context, stage string) {
	if e.metrics != nil {
		e.metrics.RecordTickFailure(ctx, stage)
	}
}
