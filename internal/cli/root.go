package cli

import (
	"github.com/spf13/cobra"

	"github.com/pixperk/roomkey/pkg/config"
)

// RootOptions holds global flags and the configuration they resolve to.
type RootOptions struct {
	ConfigPath string
	Config     *config.Config
}

// NewRootCommand creates the root command for the roomkey CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}
	defaults := config.Default()

	cmd := &cobra.Command{
		Use:   "roomkey",
		Short: "roomkey - resolve room names to ids exactly once",
		Long: `roomkey maps room names to stable identifiers. Reads are served from a
cache; a per-name distributed lock guarantees a name is created at most once
in the system-of-record.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.ConfigPath, cmd.Flags())
			if err != nil {
				return err
			}
			opts.Config = cfg
			return nil
		},
	}

	// Global flags; names match the config keys so viper can bind them
	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	pf.String("server.grpc_addr", defaults.Server.GRPCAddr, "gRPC address to serve on or dial")
	pf.String("log.level", defaults.Log.Level, "log level (trace|debug|info|warn|error)")
	pf.Bool("log.json", defaults.Log.JSON, "log as JSON")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewSendCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewSyncAllCommand(opts))

	return cmd
}
