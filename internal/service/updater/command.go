package updater

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/repository/state"
	"github.com/dtq1997/steamshelf-updater/internal/service/checker"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

// errNoUpdate is returned by Run when there is nothing to install.
var errNoUpdate = errors.New("no update available")

// RunOptions are inputs accepted by the updater entry point.
type RunOptions struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// InstallDir overrides the configured installation directory.
	InstallDir string
	// Platform overrides the platform detected for this build.
	Platform string
	// CheckOnly stops after reporting whether an update is available.
	CheckOnly bool
	// ProgressInterval throttles progress log lines.
	ProgressInterval time.Duration
}

// Run performs the user-initiated update: a manual check, then download,
// verification, staging and apply.
func Run(ctx context.Context, opts *RunOptions) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "shelf-updater")

	cfg, err := config.LoadOptional(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	platform := release.CurrentPlatform(true)
	if opts.Platform != "" {
		if platform, err = release.ParsePlatform(opts.Platform); err != nil {
			return err
		}
	}

	installDir := cfg.Client.InstallDir
	if opts.InstallDir != "" {
		installDir = opts.InstallDir
	}

	current, err := release.ParseVersion(version.Short())
	if err != nil {
		return fmt.Errorf("running version: %w", err)
	}

	up, err := New(Options{
		InstallDir: installDir,
		Platform:   platform,
		UserAgent:  version.UserAgent(),
		Client:     http.DefaultClient,
		Timeout:    cfg.Client.DownloadTimeout,
		PublicKey:  cfg.Client.PublicKey,
	})
	if err != nil {
		return err
	}

	if _, err = Cleanup(ctx, up.InstallDir()); err != nil {
		logger.WarnKV(ctx, "Cleanup incomplete", "error", err)
	}

	check, err := checker.New(checker.Options{
		Sources:  checker.NewHTTPSources(cfg.Client.Mirrors, version.UserAgent(), http.DefaultClient),
		Current:  current,
		Platform: platform,
		Timeout:  cfg.Client.Timeout,
		State:    state.NewFileRepository(cfg.Client.StateFile),
	})
	if err != nil {
		return err
	}

	res := check.CheckNow(ctx)

	switch res.Status {
	case checker.StatusAvailable:
		logger.InfoKV(ctx, "Update available", "current", current.String(), "latest", res.Latest.String(),
			"mandatory", res.Mandatory, "changelog", res.Manifest.Changelog)
	case checker.StatusUpToDate:
		logger.InfoKV(ctx, "Already on the latest version", "version", current.String())
		return nil
	default:
		// Mirrors being unreachable is not an application error.
		logger.Info(ctx, "No update available")
		return nil
	}

	if opts.CheckOnly {
		return nil
	}

	return install(ctx, up, res.Manifest, opts.ProgressInterval)
}

func install(ctx context.Context, up *Updater, m *release.Manifest, interval time.Duration) error {
	if m == nil {
		return errNoUpdate
	}

	if interval <= 0 {
		interval = time.Second
	}

	job := up.StartJob(ctx, m)
	lastLogged := time.Time{}

	for p := range job.Progress() {
		if time.Since(lastLogged) < interval {
			continue
		}

		lastLogged = time.Now()

		logger.InfoKV(ctx, "Downloading", "downloaded", p.Downloaded, "total", p.Total)
	}

	staged, err := job.Wait()
	if err != nil {
		return err
	}

	if err = up.Apply(ctx, staged); err != nil {
		_ = staged.Discard()
		return err
	}

	if err = staged.Discard(); err != nil {
		logger.WarnKV(ctx, "Unable to remove staging directory", "error", err)
	}

	logger.InfoKV(ctx, "Update installed, restart SteamShelf to use it", "version", staged.Version.String())

	return nil
}

// RunCleanup removes leftovers of earlier updates from the installation.
func RunCleanup(ctx context.Context, opts *RunOptions) error {
	ctx = logger.WithName(ctx, "shelf-updater")

	cfg, err := config.LoadOptional(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	installDir := cfg.Client.InstallDir
	if opts.InstallDir != "" {
		installDir = opts.InstallDir
	}

	up, err := New(Options{InstallDir: installDir, Platform: release.CurrentPlatform(true)})
	if err != nil {
		return err
	}

	removed, err := Cleanup(ctx, up.InstallDir())
	if err != nil {
		return err
	}

	logger.InfoKV(ctx, "Cleanup finished", "install_dir", up.InstallDir(), "removed", removed)

	return nil
}
