package inspect

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/turbolytics/pimsync/internal/config"
	"github.com/turbolytics/pimsync/pkg/inriver"
)

// NewCommand returns read only commands for checking what inriver serves
// before running an import.
func NewCommand() *cobra.Command {
	var configPath string

	var cmd = &cobra.Command{
		Use:   "inriver",
		Short: "Inspects the configured inriver channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the pimsync config file")
	cmd.MarkPersistentFlagRequired("config")

	client := func() (*inriver.Client, *config.Pimsync, error) {
		p, err := config.NewPimsyncFromFile(configPath)
		if err != nil {
			return nil, nil, fmt.Errorf("loading config: %w", err)
		}
		c, err := config.InitializeClient(p, zap.NewNop())
		return c, p, err
	}

	cmd.AddCommand(newChannelCommand(client))
	cmd.AddCommand(newEntityCommand(client))
	cmd.AddCommand(newLinksCommand(client))
	return cmd
}

type clientFunc func() (*inriver.Client, *config.Pimsync, error)

func newChannelCommand(client clientFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "channel [id]",
		Short: "Prints channel metadata, defaults to the configured channel",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, _, err := client()
			if err != nil {
				return err
			}
			var id string
			if len(args) == 1 {
				id = args[0]
			}
			channel, err := c.GetChannel(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), channel)
		},
	}
}

func newEntityCommand(client clientFunc) *cobra.Command {
	var resourceID int64

	var cmd = &cobra.Command{
		Use:   "entity <id>",
		Short: "Prints an entity and the payload the webhook would write for it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q: %w", args[0], err)
			}
			c, p, err := client()
			if err != nil {
				return err
			}

			entity, err := c.GetEntity(cmd.Context(), id)
			if err != nil {
				return err
			}

			var imageURL string
			if resourceID > 0 {
				imageURL, _ = c.GetResourceURL(cmd.Context(), resourceID)
			}

			return printJSON(cmd.OutOrStdout(), map[string]any{
				"entity":  entity,
				"payload": p.Mapping.FromEntity(entity, imageURL, p.Inriver.ChannelID),
			})
		},
	}
	cmd.Flags().Int64Var(&resourceID, "resource-id", 0, "Resource entity to resolve as the image url")
	return cmd
}

func newLinksCommand(client clientFunc) *cobra.Command {
	var linkType string

	var cmd = &cobra.Command{
		Use:   "links <id>",
		Short: "Prints the links of an entity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid entity id %q: %w", args[0], err)
			}
			c, _, err := client()
			if err != nil {
				return err
			}
			links, err := c.GetEntityLinks(cmd.Context(), id, linkType)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), links)
		},
	}
	cmd.Flags().StringVar(&linkType, "link-type", "", "Only links of this type")
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
