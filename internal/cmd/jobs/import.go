package jobs

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/internal/config"
)

var ErrImportFailed = errors.New("import failed")

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "import",
		Short: "Runs an inriver import to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newJobCommand("historical", "Imports every entity of the configured types"))
	cmd.AddCommand(newJobCommand("nightly", "Syncs the configured entity types"))
	return cmd
}

func newJobCommand(job, short string) *cobra.Command {
	var configPath string
	var runID string
	var entityTypes []string

	var cmd = &cobra.Command{
		Use:   job,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.NewPimsyncFromFile(configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			logger, err := config.NewLogger(p.Global.Logger.Level)
			if err != nil {
				return err
			}
			defer logger.Sync()
			l := logger.Named("pimsync." + job)

			ctx := cmd.Context()
			stack, err := config.InitializeStack(ctx, p, l)
			if err != nil {
				return err
			}
			defer stack.Close(ctx)

			i, err := config.InitializeImporter(p, stack, job, runID, l)
			if err != nil {
				return err
			}

			if len(entityTypes) == 0 {
				entityTypes = p.Sync.EntityTypes
			}

			status, err := i.Run(ctx, entityTypes)
			if err != nil {
				return err
			}

			l.Info("import finished",
				zap.String("run_id", status.RunID),
				zap.Int("total_imported", status.State.TotalImported),
				zap.Bool("failed", status.Failed))

			if status.Failed {
				return ErrImportFailed
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the pimsync config file")
	cmd.Flags().StringVarP(&runID, "id", "i", "", "Run id, defaults to the job name")
	cmd.Flags().StringSliceVar(&entityTypes, "entity-types", nil, "Entity types to import, overrides sync.entity_types")
	cmd.MarkFlagRequired("config")
	return cmd
}
