package serve

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/internal/config"
	"github.com/turbolytics/pimsync/internal/scheduler"
	"github.com/turbolytics/pimsync/internal/server"
)

func NewCommand() *cobra.Command {
	var configPath string
	var runOnStart bool
	var noSchedule bool

	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Serves the inriver webhook and run API and schedules the nightly sync",
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
			l := logger.Named("pimsync.serve")

			ctx := cmd.Context()
			stack, err := config.InitializeStack(ctx, p, l)
			if err != nil {
				return err
			}
			defer stack.Close(context.WithoutCancel(ctx))

			job, err := config.InitializeJob(p, "nightly")
			if err != nil {
				return err
			}

			s := server.New(
				server.WithLogger(l.Named("server")),
				server.WithSink(stack.Sink),
				server.WithObjectType(job.ObjectType),
				server.WithMapping(p.Mapping),
				server.WithChannelID(p.Inriver.ChannelID),
			)

			if !noSchedule {
				nightly, err := config.InitializeImporter(p, stack, "nightly", "", l)
				if err != nil {
					return err
				}
				s.RegisterImporter(nightly)

				sched, err := scheduler.New(p.Jobs.Nightly.Schedule, func(ctx context.Context) error {
					_, err := nightly.Run(ctx, p.Sync.EntityTypes)
					return err
				}, scheduler.WithLogger(l.Named("scheduler")))
				if err != nil {
					return err
				}
				if err := sched.Start(ctx); err != nil {
					return err
				}
				defer sched.Stop()

				if runOnStart {
					sched.RunNow()
				}
			}

			l.Info("pimsync serving",
				zap.String("addr", p.Server.Addr),
				zap.Bool("scheduled", !noSchedule))

			return s.Start(ctx, p.Server.Addr)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to the pimsync config file")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Start a nightly sync immediately")
	cmd.Flags().BoolVar(&noSchedule, "no-schedule", false, "Only serve the webhook and run API")
	cmd.MarkFlagRequired("config")
	return cmd
}
