package observability_test

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sumatoshi-tech/sluice/pkg/observability"
)

func noopConfig() observability.Config {
	return observability.Config{
		ServiceName: "sluice-test",
		Environment: "test",
		LogLevel:    slog.LevelInfo,
	}
}

func TestInit_NoopWhenNoEndpoint(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(noopConfig())
	require.NoError(t, err)

	assert.NotNil(t, providers.Tracer)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.Logger)
	assert.NotNil(t, providers.Shutdown)

	// Shutdown should succeed without error.
	err = providers.Shutdown(context.Background())
	assert.NoError(t, err)
}

func TestInit_NoopSpanIsValid(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(noopConfig())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	// Creating a span should work even in no-op mode.
	ctx, span := providers.Tracer.Start(context.Background(), "test-op")
	defer span.End()

	assert.NotNil(t, ctx)
	assert.NotNil(t, span)
}

func TestInit_NoopMetricsRecord(t *testing.T) {
	t.Parallel()

	providers, err := observability.Init(noopConfig())
	require.NoError(t, err)

	t.Cleanup(func() { require.NoError(t, providers.Shutdown(context.Background())) })

	counter, err := providers.Meter.Int64Counter("test.counter")
	require.NoError(t, err)

	// Recording against a no-op meter never panics.
	counter.Add(context.Background(), 1)
}

func TestParseLogLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"INFO":  slog.LevelInfo,
		"warn":  slog.LevelWarn,
		"error": slog.LevelError,
	}

	for in, want := range cases {
		level, err := observability.ParseLogLevel(in)

		require.NoError(t, err, in)
		assert.Equal(t, want, level, in)
	}

	_, err := observability.ParseLogLevel("loud")

	require.Error(t, err)
}
