package cli

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pixperk/roomkey/pkg/client"
	"github.com/pixperk/roomkey/pkg/config"
	"github.com/pixperk/roomkey/pkg/logging"
)

func dial(cfg *config.Config, opts ...client.Option) (*client.Client, error) {
	logger := logging.New("roomkey", cfg.Log.Level, cfg.Log.JSON)
	opts = append([]client.Option{client.WithLogger(logger)}, opts...)
	return client.NewClient(dialAddr(cfg.Server.GRPCAddr), opts...)
}

// NewSendCommand creates the send command.
func NewSendCommand(rootOpts *RootOptions) *cobra.Command {
	var retries int

	cmd := &cobra.Command{
		Use:   "send <room> <message...>",
		Short: "Resolve a room, creating it if needed, and post a message to it",
		Example: `  roomkey send general "deploy finished"
  roomkey send incidents db failover complete`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := rootOpts.Config
			c, err := dial(cfg, client.WithRetry(retries, cfg.Lock.RetryInterval))
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.Send(contextOf(cmd), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().IntVar(&retries, "retries", 3, "retries while the room is locked elsewhere")
	return cmd
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <room...>",
		Short: "Rewrite the cache entries of the named rooms from the system-of-record",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := dial(rootOpts.Config)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.SyncSubset(contextOf(cmd), args)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}
}

var errConfirmSyncAll = errors.New("sync-all rewrites every cache entry; pass --yes to confirm")

// NewSyncAllCommand creates the sync-all command.
func NewSyncAllCommand(rootOpts *RootOptions) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "sync-all",
		Short: "Rewrite every cache entry from the system-of-record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errConfirmSyncAll
			}

			c, err := dial(rootOpts.Config)
			if err != nil {
				return err
			}
			defer c.Close()

			resp, err := c.SyncAll(contextOf(cmd))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), resp)
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "confirm a full resync")
	return cmd
}

// keeps cmd.Context non-nil when commands run outside ExecuteContext
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
