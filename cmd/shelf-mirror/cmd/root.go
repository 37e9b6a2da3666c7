package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/service/server"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// root overrides the served release directory.
	root string
	// logLevel is the minimum log level.
	logLevel string

	// rootCmd represents the base command for running the mirror server.
	rootCmd = &cobra.Command{
		Use:   "shelf-mirror [listen-address]",
		Short: "Serve a local release directory as an update mirror.",
		Long: `Serves /{owner}/{repo}/releases/download/{tag}/{asset} from the directory the
packager's local host publishes to, with the same layout as hosted release
pages. Clients are rate limited per IP. The listen address can be provided as
argument to override the config (e.g., :9090, 0.0.0.0:8080).`,
		Args: cobra.MaximumNArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadOptional(configPath)
			if err != nil {
				return err
			}

			log := cfg.Log.Merge(logLevel, "")

			return logger.Configure(log.Level, log.File)
		},
		RunE: func(_ *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			// Use listen address argument if provided, otherwise rely on config.
			var listenAddress string
			if len(args) > 0 {
				listenAddress = args[0]
			}

			options := &server.Options{
				ConfigPath:    configPath,
				ListenAddress: listenAddress,
				Root:          root,
			}

			return server.Run(ctx, options)
		},
	}
)

// Execute runs the shelf-mirror CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVarP(&root, "root", "r", "", "release directory to serve (overrides mirror.root)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
}
