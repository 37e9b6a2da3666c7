package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/service/publisher"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// minor forces a minor bump.
	minor bool
	// patch forces a patch bump.
	patch bool
	// dryRun prints the plan only.
	dryRun bool
	// interactive asks when the bump is ambiguous.
	interactive bool
	// logLevel is the minimum log level.
	logLevel string

	// rootCmd represents the base command for publishing a release.
	rootCmd = &cobra.Command{
		Use:   "shelf-release",
		Short: "Bump the version, commit, tag and push a SteamShelf release.",
		Long: `Computes the next version from the commits since the last v-tag, writes it
to the canonical version file, commits "release: vX.Y.Z", creates an annotated
tag carrying the changelog and pushes both. Pushing the tag triggers the CI
build and publish pipeline.

Use --minor or --patch to choose the bump explicitly. When the commits do not
decide it and --interactive is not set, nothing is changed.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadOptional(configPath)
			if err != nil {
				return err
			}

			log := cfg.Log.Merge(logLevel, "")

			return logger.Configure(log.Level, log.File)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &publisher.RunOptions{
				ConfigPath:  configPath,
				Minor:       minor,
				Patch:       patch,
				DryRun:      dryRun,
				Interactive: interactive,
				In:          cmd.InOrStdin(),
				Out:         cmd.OutOrStdout(),
			}

			return publisher.Run(ctx, options)
		},
	}
)

// Execute runs the shelf-release CLI and exits with non-zero status on error.
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
	rootCmd.Flags().BoolVar(&minor, "minor", false, "release a minor version")
	rootCmd.Flags().BoolVar(&patch, "patch", false, "release a patch version")
	rootCmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "print the release plan without changing anything")
	rootCmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "ask when the bump cannot be decided from the commits")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")

	rootCmd.MarkFlagsMutuallyExclusive("minor", "patch")
}
