// Package commands implements CLI command handlers for sluice.
package commands

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sluice/pkg/checkpoint"
	"github.com/Sumatoshi-tech/sluice/pkg/config"
	"github.com/Sumatoshi-tech/sluice/pkg/engine"
	"github.com/Sumatoshi-tech/sluice/pkg/observability"
	"github.com/Sumatoshi-tech/sluice/pkg/persist"
	"github.com/Sumatoshi-tech/sluice/pkg/query"
	"github.com/Sumatoshi-tech/sluice/pkg/safeconv"
	"github.com/Sumatoshi-tech/sluice/pkg/schema"
	"github.com/Sumatoshi-tech/sluice/pkg/sink"
	"github.com/Sumatoshi-tech/sluice/pkg/source"
)

// ErrUnknownCodec indicates a checkpoint codec name outside the known set.
var ErrUnknownCodec = errors.New("unknown checkpoint codec")

// serviceName identifies the process in telemetry.
const serviceName = "sluice"

// RunCommand holds flag state for the run command.
type RunCommand struct {
	configPath string
	sourceDir  string
	variant    string
	queryFile  string
	noColor    bool
}

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	rc := &RunCommand{}

	cmd := &cobra.Command{
		Use:   "run [dir]",
		Short: "Watch a directory and keep query results up to date",
		Long: "Watch a directory for new record files, fold each batch into the\n" +
			"registered queries, and persist progress so a restart never\n" +
			"double-counts a file.",
		Args: cobra.MaximumNArgs(1),
		RunE: rc.run,
	}

	cmd.Flags().StringVarP(&rc.configPath, "config", "c", "", "Config file path (default: ./sluice.yaml)")
	cmd.Flags().StringVarP(&rc.sourceDir, "dir", "d", "", "Directory to watch (overrides config)")
	cmd.Flags().StringVar(&rc.variant, "variant", "", "Schema variant: detailed or compact (overrides config)")
	cmd.Flags().StringVarP(&rc.queryFile, "queries", "q", "", "Query definition YAML file (default: built-in query set)")
	cmd.Flags().BoolVar(&rc.noColor, "no-color", false, "Disable colored console output")

	return cmd
}

func (rc *RunCommand) run(cmd *cobra.Command, args []string) error {
	cfg, err := rc.loadConfig(args)
	if err != nil {
		return err
	}

	level, err := observability.ParseLogLevel(cfg.Logging.Level)
	if err != nil {
		return err
	}

	providers, err := observability.Init(observability.Config{
		ServiceName:  serviceName,
		Environment:  cfg.Telemetry.Environment,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: cfg.Telemetry.OTLPInsecure,
		LogLevel:     level,
		LogJSON:      cfg.Logging.Format == "json",
	})
	if err != nil {
		return fmt.Errorf("init observability: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	defer func() {
		shutdownErr := providers.Shutdown(ctx)
		if shutdownErr != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "telemetry shutdown: %v\n", shutdownErr)
		}
	}()

	eng, err := buildEngine(cfg, providers, cmd)
	if err != nil {
		return err
	}

	err = eng.Restore()
	if err != nil {
		return err
	}

	return eng.Run(ctx)
}

// loadConfig loads the config file, applies flag overrides, and validates
// the merged result.
func (rc *RunCommand) loadConfig(args []string) (*config.Config, error) {
	cfg, err := config.Load(rc.configPath)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Source.Dir = args[0]
	}

	if rc.sourceDir != "" {
		cfg.Source.Dir = rc.sourceDir
	}

	if rc.variant != "" {
		cfg.Source.Variant = rc.variant
	}

	if rc.queryFile != "" {
		cfg.Queries.File = rc.queryFile
	}

	if rc.noColor {
		cfg.Sinks.NoColor = true
	}

	validateErr := config.Validate(cfg)
	if validateErr != nil {
		return nil, fmt.Errorf("invalid configuration: %w", validateErr)
	}

	return cfg, nil
}

// buildEngine wires the configured variant, queries, sinks, and checkpoint
// manager into a ready-to-restore engine.
func buildEngine(cfg *config.Config, providers observability.Providers, cmd *cobra.Command) (*engine.Engine, error) {
	variant, err := schema.ByName(cfg.Source.Variant)
	if err != nil {
		return nil, err
	}

	defs, err := loadQueries(cfg, variant)
	if err != nil {
		return nil, err
	}

	sinks, err := buildSinks(cfg, cmd)
	if err != nil {
		return nil, err
	}

	ckpt, err := buildCheckpointManager(cfg)
	if err != nil {
		return nil, err
	}

	monitor := source.NewMonitor(cfg.Source.Dir, cfg.Source.ReadTimeout)
	monitor.Pattern = cfg.Source.Pattern

	metrics, err := observability.NewEngineMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("create engine metrics: %w", err)
	}

	return engine.New(variant, monitor, defs, sinks, ckpt, providers.Logger, metrics, engine.Config{
		PollInterval:   cfg.Source.PollInterval,
		RetryThreshold: cfg.Source.RetryThreshold,
	}), nil
}

// loadQueries returns the configured query set, defaulting to the built-ins.
func loadQueries(cfg *config.Config, variant *schema.Variant) ([]query.Definition, error) {
	if cfg.Queries.File == "" {
		return query.Builtins(variant), nil
	}

	defs, err := query.LoadDefinitions(cfg.Queries.File, variant)
	if err != nil {
		return nil, fmt.Errorf("load queries from %s: %w", cfg.Queries.File, err)
	}

	return defs, nil
}

// buildSinks assembles the configured sink fan-out.
func buildSinks(cfg *config.Config, cmd *cobra.Command) (sink.Fanout, error) {
	var sinks sink.Fanout

	if cfg.Sinks.Console {
		sinks = append(sinks, sink.NewConsole(cmd.OutOrStdout(), cfg.Sinks.NoColor))
	}

	if cfg.Sinks.CSVDir != "" {
		csvSink, err := sink.NewCSVDir(cfg.Sinks.CSVDir)
		if err != nil {
			return nil, fmt.Errorf("create csv sink: %w", err)
		}

		sinks = append(sinks, csvSink)
	}

	if cfg.Sinks.ChartDir != "" {
		chartSink, err := sink.NewChartDir(cfg.Sinks.ChartDir)
		if err != nil {
			return nil, fmt.Errorf("create chart sink: %w", err)
		}

		sinks = append(sinks, chartSink)
	}

	return sinks, nil
}

// buildCheckpointManager resolves the checkpoint directory, codec, and
// retention limits from configuration.
func buildCheckpointManager(cfg *config.Config) (*checkpoint.Manager, error) {
	dir := cfg.Checkpoint.Dir
	if dir == "" {
		dir = checkpoint.DefaultDir()
	}

	codec, err := codecByName(cfg.Checkpoint.Codec)
	if err != nil {
		return nil, err
	}

	mgr := checkpoint.NewManager(dir, cfg.Source.Dir, codec)

	if cfg.Checkpoint.MaxAge > 0 {
		mgr.MaxAge = cfg.Checkpoint.MaxAge
	}

	if cfg.Checkpoint.MaxSize != "" {
		maxSize, parseErr := humanize.ParseBytes(cfg.Checkpoint.MaxSize)
		if parseErr != nil {
			return nil, fmt.Errorf("parse checkpoint max_size: %w", parseErr)
		}

		mgr.MaxSize = safeconv.MustUint64ToInt64(maxSize)
	}

	return mgr, nil
}

// codecByName maps a configured codec name to a state codec.
func codecByName(name string) (persist.Codec, error) {
	switch name {
	case "json":
		return persist.NewJSONCodec(), nil
	case "gob":
		return persist.NewGobCodec(), nil
	case "json.lz4":
		return persist.NewLZ4Codec(persist.NewJSONCodec()), nil
	case "gob.lz4":
		return persist.NewLZ4Codec(persist.NewGobCodec()), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, name)
	}
}
