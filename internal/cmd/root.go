package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turbolytics/pimsync/internal/cmd/fixtures"
	"github.com/turbolytics/pimsync/internal/cmd/inspect"
	"github.com/turbolytics/pimsync/internal/cmd/jobs"
	"github.com/turbolytics/pimsync/internal/cmd/serve"
	"github.com/turbolytics/pimsync/internal/cmd/state"
)

func NewRootCommand() *cobra.Command {
	var cmd = &cobra.Command{
		Use:   "pimsync",
		Short: "Imports inriver PIM entities into a customer data platform",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	cmd.AddCommand(jobs.NewCommand())
	cmd.AddCommand(serve.NewCommand())
	cmd.AddCommand(state.NewCommand())
	cmd.AddCommand(inspect.NewCommand())
	cmd.AddCommand(fixtures.NewCommand())

	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmd := NewRootCommand()
	if err := cmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
