package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/service/updater"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// installDir overrides the installation being updated.
	installDir string
	// platform overrides the detected platform key.
	platform string
	// logLevel is the minimum log level.
	logLevel string
	// logFile enables a rotating log file.
	logFile string

	// rootCmd represents the base command for checking, downloading and applying updates.
	rootCmd = &cobra.Command{
		Use:   "shelf-updater",
		Short: "Check for, download and apply SteamShelf updates.",
		Long: `Checks the configured update mirrors in order and installs the newest release.

The manifest is read from the first mirror that answers with a valid one.
The package is downloaded with progress, verified against its SHA-256 digest
(and minisign signature when a public key is configured), staged, and applied
while SteamShelf is not running. Replaced files are kept with an .old suffix
until the next cleanup.`,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			cfg, err := config.LoadOptional(configPath)
			if err != nil {
				return err
			}

			log := cfg.Log.Merge(logLevel, logFile)

			return logger.Configure(log.Level, log.File)
		},
	}

	// checkCmd reports whether an update is available.
	checkCmd = &cobra.Command{
		Use:   "check",
		Short: "Report whether a newer release is available.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return updater.Run(ctx, runOptions(true))
		},
	}

	// applyCmd downloads and installs the latest release.
	applyCmd = &cobra.Command{
		Use:   "apply",
		Short: "Download, verify and install the latest release.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return updater.Run(ctx, runOptions(false))
		},
	}

	// cleanupCmd removes leftovers of earlier updates.
	cleanupCmd = &cobra.Command{
		Use:   "cleanup",
		Short: "Remove replaced .old files and abandoned downloads.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			return updater.RunCleanup(ctx, runOptions(false))
		},
	}
)

func runOptions(checkOnly bool) *updater.RunOptions {
	return &updater.RunOptions{
		ConfigPath:       configPath,
		InstallDir:       installDir,
		Platform:         platform,
		CheckOnly:        checkOnly,
		ProgressInterval: time.Second,
	}
}

// Execute runs the shelf-updater CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&installDir, "install-dir", "", "installation to update (defaults to the executable's directory)")
	rootCmd.PersistentFlags().StringVar(&platform, "platform", "", "platform key to install (win32, darwin, linux or source)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "minimum log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write logs to this rotating file")

	rootCmd.AddCommand(checkCmd, applyCmd, cleanupCmd)
}
