package commands

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/Sumatoshi-tech/sluice/pkg/checkpoint"
	"github.com/Sumatoshi-tech/sluice/pkg/config"
	"github.com/Sumatoshi-tech/sluice/pkg/persist"
)

// CheckpointCommand holds flag state for the checkpoint subcommands.
type CheckpointCommand struct {
	configPath string
	sourceDir  string
}

// NewCheckpointCommand creates the checkpoint command group.
func NewCheckpointCommand() *cobra.Command {
	cc := &CheckpointCommand{}

	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or clear the persisted checkpoint",
	}

	cmd.PersistentFlags().StringVarP(&cc.configPath, "config", "c", "", "Config file path (default: ./sluice.yaml)")
	cmd.PersistentFlags().StringVarP(&cc.sourceDir, "dir", "d", "", "Watched directory the checkpoint belongs to (overrides config)")

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the last committed checkpoint manifest",
		RunE:  cc.show,
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Delete all checkpoint data for the watched directory",
		RunE:  cc.clear,
	})

	return cmd
}

// manager resolves the checkpoint manager for the configured watched
// directory. The codec does not matter for show and clear.
func (cc *CheckpointCommand) manager() (*checkpoint.Manager, error) {
	cfg, err := config.Load(cc.configPath)
	if err != nil {
		return nil, err
	}

	sourceDir := cfg.Source.Dir
	if cc.sourceDir != "" {
		sourceDir = cc.sourceDir
	}

	if sourceDir == "" {
		return nil, config.ErrMissingSourceDir
	}

	dir := cfg.Checkpoint.Dir
	if dir == "" {
		dir = checkpoint.DefaultDir()
	}

	return checkpoint.NewManager(dir, sourceDir, persist.NewJSONCodec()), nil
}

func (cc *CheckpointCommand) show(cmd *cobra.Command, _ []string) error {
	mgr, err := cc.manager()
	if err != nil {
		return err
	}

	if !mgr.Exists() {
		fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint found")

		return nil
	}

	manifest, err := mgr.LoadManifest()
	if err != nil {
		return fmt.Errorf("load manifest: %w", err)
	}

	committed, quarantined := manifest.Ledger.Counts()

	tw := table.NewWriter()
	tw.SetOutputMirror(cmd.OutOrStdout())
	tw.SetStyle(table.StyleLight)
	tw.AppendRow(table.Row{"batch id", manifest.BatchID})
	tw.AppendRow(table.Row{"variant", manifest.Variant})
	tw.AppendRow(table.Row{"created at", manifest.CreatedAt})
	tw.AppendRow(table.Row{"state codec", manifest.StateCodec})
	tw.AppendRow(table.Row{"queries", strings.Join(manifest.Queries, ", ")})
	tw.AppendRow(table.Row{"committed files", committed})
	tw.AppendRow(table.Row{"quarantined files", quarantined})
	tw.AppendRow(table.Row{"location", mgr.Root()})
	tw.Render()

	return nil
}

func (cc *CheckpointCommand) clear(cmd *cobra.Command, _ []string) error {
	mgr, err := cc.manager()
	if err != nil {
		return err
	}

	if !mgr.Exists() {
		fmt.Fprintln(cmd.OutOrStdout(), "no checkpoint found")

		return nil
	}

	err = mgr.Clear()
	if err != nil {
		return fmt.Errorf("clear checkpoint: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "checkpoint cleared: %s\n", mgr.Root())

	return nil
}
