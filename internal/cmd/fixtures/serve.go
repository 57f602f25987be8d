package fixtures

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/internal/fixtures"
)

func newServeCommand() *cobra.Command {
	var addr string
	var apiKey string
	var channelID string
	var records map[string]int

	var cmd = &cobra.Command{
		Use:   "serve",
		Short: "Serves a fake inriver API with generated entities",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, _ := zap.NewDevelopment()
			defer logger.Sync()
			l := logger.Named("pimsync.fixtures")

			catalog := fixtures.NewCatalog(apiKey, channelID)
			firstID := int64(1)
			for entityType, n := range records {
				if n < 0 {
					return fmt.Errorf("invalid record count for %s: %d", entityType, n)
				}
				catalog.Generate(entityType, n, firstID)
				firstID += int64(n)
				l.Info("generated entities",
					zap.String("entity_type", entityType),
					zap.Int("count", n))
			}

			srv := &http.Server{
				Addr:              addr,
				Handler:           catalog.Routes(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()

			l.Info("serving fixtures",
				zap.String("addr", addr),
				zap.String("channel_id", channelID))

			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8081", "Address to listen on")
	cmd.Flags().StringVar(&apiKey, "api-key", "local-dev-key", "API key clients must send")
	cmd.Flags().StringVar(&channelID, "channel-id", "6614", "Channel the entities belong to")
	cmd.Flags().StringToIntVar(&records, "records", map[string]int{"Product": 250, "Item": 30}, "Entities to generate per entity type")
	return cmd
}
