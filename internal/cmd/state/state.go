package state

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/internal/config"
)

func NewCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "state",
		Short: "Inspects or resets checkpointed run state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newShowCommand())
	cmd.AddCommand(newResetCommand())
	return cmd
}

type flags struct {
	configPath string
	job        string
}

func (f *flags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.configPath, "config", "c", "", "Path to the pimsync config file")
	cmd.Flags().StringVarP(&f.job, "job", "j", "historical", "Run id of the job")
	cmd.MarkFlagRequired("config")
}

func newShowCommand() *cobra.Command {
	f := &flags{}
	var cmd = &cobra.Command{
		Use:   "show",
		Short: "Prints the checkpoint of a run",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.NewPimsyncFromFile(f.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			ctx := cmd.Context()
			checkpointer, closeFn, err := config.InitializeCheckpointer(ctx, p, zap.NewNop())
			if err != nil {
				return err
			}
			defer closeFn(ctx)

			checkpoint, err := checkpointer.Load(ctx, f.job)
			if err != nil {
				return err
			}
			if checkpoint == nil {
				fmt.Fprintf(cmd.OutOrStdout(), "no checkpoint for %q\n", f.job)
				return nil
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(checkpoint)
		},
	}
	f.bind(cmd)
	return cmd
}

func newResetCommand() *cobra.Command {
	f := &flags{}
	var cmd = &cobra.Command{
		Use:   "reset",
		Short: "Deletes the checkpoint of a run so the next run starts fresh",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := config.NewPimsyncFromFile(f.configPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			ctx := cmd.Context()
			checkpointer, closeFn, err := config.InitializeCheckpointer(ctx, p, zap.NewNop())
			if err != nil {
				return err
			}
			defer closeFn(ctx)

			if err := checkpointer.Delete(ctx, f.job); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint for %q reset\n", f.job)
			return nil
		},
	}
	f.bind(cmd)
	return cmd
}
