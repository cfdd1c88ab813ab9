package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/opted/inventory/internal/config"
)

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	v          *viper.Viper
	configFile string
	cfg        *config.Config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{v: config.New()}
	root := &cobra.Command{
		Use:   "inventory",
		Short: "Media ownership inventory",
		Long: `inventory stores media outlets, their owners and the countries they
serve in a Dgraph graph and serves them over a JSON API.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.v, a.configFile)
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
			slog.SetDefault(a.logger)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "", "config file (default: ./inventory.yaml or /etc/inventory/inventory.yaml)")
	flags.String("dgraph", "", "Dgraph alpha gRPC endpoint (host:port)")
	flags.Bool("memory", false, "serve from an in-process graph instead of Dgraph")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	bind(a.v, flags.Lookup("dgraph"), config.KeyDgraphEndpoint)
	bind(a.v, flags.Lookup("memory"), config.KeyStoreMemory)
	bind(a.v, flags.Lookup("log-level"), config.KeyLogLevel)

	root.AddCommand(newServeCmd(a), newSchemaCmd(a))
	return root
}
