package observability

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	metricRowsParsed       = "sluice.engine.rows.parsed.total"
	metricRowsDropped      = "sluice.engine.rows.dropped.total"
	metricBatchesCommitted = "sluice.engine.batches.committed.total"
	metricFilesQuarantined = "sluice.engine.files.quarantined.total"
	metricTickFailures     = "sluice.engine.tick.failures.total"
	metricTickDuration     = "sluice.engine.tick.duration.seconds"

	attrStage = "stage"
)

// Tick failure stages.
const (
	StageSink       = "sink"
	StageCheckpoint = "checkpoint"
)

// durationBucketBoundaries cover sub-millisecond ticks up to slow
// multi-second commits.
var durationBucketBoundaries = []float64{
	0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30,
}

// EngineMetrics holds OTel instruments for the micro-batch engine.
type EngineMetrics struct {
	rowsParsed       metric.Int64Counter
	rowsDropped      metric.Int64Counter
	batchesCommitted metric.Int64Counter
	filesQuarantined metric.Int64Counter
	tickFailures     metric.Int64Counter
	tickDuration     metric.Float64Histogram
}

// NewEngineMetrics creates engine metric instruments from the given meter.
func NewEngineMetrics(mt metric.Meter) (*EngineMetrics, error) {
	rowsParsed, err := mt.Int64Counter(metricRowsParsed,
		metric.WithDescription("Rows parsed into batches"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRowsParsed, err)
	}

	rowsDropped, err := mt.Int64Counter(metricRowsDropped,
		metric.WithDescription("Rows dropped by schema validation or merge failures"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricRowsDropped, err)
	}

	batches, err := mt.Int64Counter(metricBatchesCommitted,
		metric.WithDescription("Micro-batches committed"),
		metric.WithUnit("{batch}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricBatchesCommitted, err)
	}

	quarantined, err := mt.Int64Counter(metricFilesQuarantined,
		metric.WithDescription("Source files quarantined after repeated read failures"),
		metric.WithUnit("{file}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricFilesQuarantined, err)
	}

	failures, err := mt.Int64Counter(metricTickFailures,
		metric.WithDescription("Tick commits aborted, by stage"),
		metric.WithUnit("{tick}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTickFailures, err)
	}

	duration, err := mt.Float64Histogram(metricTickDuration,
		metric.WithDescription("Per-tick processing duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBucketBoundaries...),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", metricTickDuration, err)
	}

	return &EngineMetrics{
		rowsParsed:       rowsParsed,
		rowsDropped:      rowsDropped,
		batchesCommitted: batches,
		filesQuarantined: quarantined,
		tickFailures:     failures,
		tickDuration:     duration,
	}, nil
}

// RecordBatch records a committed batch and its row counts.
func (m *EngineMetrics) RecordBatch(ctx context.Context, parsed, dropped int64, dur time.Duration) {
	m.rowsParsed.Add(ctx, parsed)
	m.rowsDropped.Add(ctx, dropped)
	m.batchesCommitted.Add(ctx, 1)
	m.tickDuration.Record(ctx, dur.Seconds())
}

// RecordQuarantine records files excluded after repeated failures.
func (m *EngineMetrics) RecordQuarantine(ctx context.Context, n int64) {
	m.filesQuarantined.Add(ctx, n)
}

// RecordTickFailure records an aborted tick by failing stage.
func (m *EngineMetrics) RecordTickFailure(ctx context.Context, stage string) {
	m.tickFailures.Add(ctx, 1, metric.WithAttributes(attribute.String(attrStage, stage)))
}
