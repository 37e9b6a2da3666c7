package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

// TestValidateDefaults checks that an empty Config is filled with the shipped defaults.
func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := new(Config)
	require.NoError(t, Validate(cfg))

	require.Equal(t, DefaultMirrors(), cfg.Client.Mirrors)
	require.Equal(t, DefaultTimeout, cfg.Client.Timeout)
	require.Equal(t, DefaultDownloadTimeout, cfg.Client.DownloadTimeout)
	require.Equal(t, "updater.py", cfg.Release.VersionFile)
	require.NotEmpty(t, cfg.Release.VersionPattern)
	require.Equal(t, "origin", cfg.Release.Remote)
	require.Equal(t, "SteamShelf", cfg.Package.Product)
	require.Equal(t, ":8080", cfg.Mirror.Listen)
}

// TestValidatePlainVersionFile keeps an empty pattern when a custom version file is set.
func TestValidatePlainVersionFile(t *testing.T) {
	t.Parallel()

	cfg := &Config{Release: ReleaseConfig{VersionFile: "VERSION"}}
	require.NoError(t, Validate(cfg))
	require.Empty(t, cfg.Release.VersionPattern)
}

// TestValidateRejects checks the format validations.
func TestValidateRejects(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))

	cfg := &Config{Client: ClientConfig{Mirrors: []string{"not a url"}}}
	require.Error(t, Validate(cfg))

	cfg = &Config{Package: PackageConfig{Builds: map[release.Platform]BuildConfig{"amiga": {}}}}
	require.Error(t, Validate(cfg))

	cfg = &Config{Package: PackageConfig{Hosts: []HostConfig{{Kind: "ftp"}}}}
	require.ErrorIs(t, Validate(cfg), errUnknownHostKind)

	cfg = &Config{Package: PackageConfig{Hosts: []HostConfig{{Kind: HostKindLocal, Owner: "o"}}}}
	require.ErrorIs(t, Validate(cfg), errHostIncomplete)
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")

	cfg := &Config{
		Client: ClientConfig{
			Mirrors: []string{"http://127.0.0.1:8080/o/r/releases/download/latest/version.json"},
			Timeout: 3 * time.Second,
		},
		Package: PackageConfig{
			Builds: map[release.Platform]BuildConfig{
				release.PlatformLinux: {Command: []string{"make", "linux"}, Output: "build/linux"},
			},
			Hosts: []HostConfig{{Kind: HostKindLocal, Root: dir, Owner: "o", Repo: "r", DownloadBaseURL: "http://127.0.0.1:8080"}},
		},
	}

	require.NoError(t, Save(path, cfg))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Client.Mirrors, loaded.Client.Mirrors)
	require.Equal(t, 3*time.Second, loaded.Client.Timeout)
	require.Equal(t, cfg.Package.Builds, loaded.Package.Builds)
	require.Equal(t, cfg.Package.Hosts, loaded.Package.Hosts)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())
}

// TestLoadOptional falls back to defaults only for a missing file.
func TestLoadOptional(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	cfg, err := LoadOptional(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, DefaultMirrors(), cfg.Client.Mirrors)

	broken := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("client: [\n"), 0o600))

	_, err = LoadOptional(broken)
	require.Error(t, err)
}

// TestLogConfigMerge keeps file settings unless a flag overrides them.
func TestLogConfigMerge(t *testing.T) {
	t.Parallel()

	file := LogConfig{Level: "warn", File: "logs/updater.log"}

	require.Equal(t, file, file.Merge("", ""))
	require.Equal(t, LogConfig{Level: "debug", File: "logs/updater.log"}, file.Merge("debug", ""))
	require.Equal(t, LogConfig{Level: "warn", File: "other.log"}, file.Merge("", "other.log"))

	dir := t.TempDir()
	path := filepath.Join(dir, DefaultConfigFilename)
	require.NoError(t, os.WriteFile(path, []byte("log:\n  level: error\n  file: shelf.log\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, LogConfig{Level: "error", File: "shelf.log"}, cfg.Log.Merge("", ""))
}
