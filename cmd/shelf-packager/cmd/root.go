package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/service/packager"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// notesFile overrides the tag message as changelog.
	notesFile string
	// logLevel is the minimum log level.
	logLevel string

	// rootCmd represents the base command for building and publishing a tagged release.
	rootCmd = &cobra.Command{
		Use:   "shelf-packager [tag]",
		Short: "Build, package and publish the artifacts of a release tag.",
		Long: `Runs every platform build of the matrix in parallel, packages each output as
SteamShelf-<version>-<platform>.zip, writes SHA256SUMS and uploads everything
to the configured release hosts.

The latest manifest is only replaced when every required platform built and
every upload succeeded. The tag defaults to GITHUB_REF_NAME, the changelog to
the annotated tag message.`,
		Args: cobra.MaximumNArgs(1),
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadOptional(configPath)
			if err != nil {
				return err
			}

			log := cfg.Log.Merge(logLevel, "")

			return logger.Configure(log.Level, log.File)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			var tag string
			if len(args) > 0 {
				tag = args[0]
			}

			options := &packager.RunOptions{
				ConfigPath: configPath,
				Tag:        tag,
				NotesFile:  notesFile,
				Out:        cmd.OutOrStdout(),
			}

			return packager.Run(ctx, options)
		},
	}
)

// Execute runs the shelf-packager CLI and exits with non-zero status on error.
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
	rootCmd.Flags().StringVar(&notesFile, "notes-file", "", "read the changelog from this file instead of the tag message")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
}
