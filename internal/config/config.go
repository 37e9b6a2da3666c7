package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

// Config holds the settings shared by the SteamShelf release and update binaries.
type Config struct {
	// Client configures the embedded update client.
	Client ClientConfig `yaml:"client"`
	// Release configures the release publisher.
	Release ReleaseConfig `yaml:"release"`
	// Package configures the tag-triggered build and publish pipeline.
	Package PackageConfig `yaml:"package"`
	// Mirror configures the self-hosted mirror server.
	Mirror MirrorConfig `yaml:"mirror"`
	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// ClientConfig configures update discovery, download and apply.
type ClientConfig struct {
	// Mirrors are manifest URLs in priority order.
	Mirrors []string `yaml:"mirrors"`
	// Timeout bounds a single mirror attempt.
	Timeout time.Duration `yaml:"timeout"`
	// DownloadTimeout bounds waiting for a download to start responding.
	DownloadTimeout time.Duration `yaml:"download_timeout"`
	// StateFile stores the dismissed-notification state.
	StateFile string `yaml:"state_file"`
	// InstallDir is the installation being updated; the executable's directory when empty.
	InstallDir string `yaml:"install_dir"`
	// PublicKey is an optional minisign public key; when set, artifacts must be signed.
	PublicKey string `yaml:"public_key"`
}

// ReleaseConfig configures how the publisher reads and writes the version and talks to git.
type ReleaseConfig struct {
	// RepoPath is the repository working tree.
	RepoPath string `yaml:"repo_path"`
	// VersionFile is the single canonical location of the version, relative to RepoPath.
	VersionFile string `yaml:"version_file"`
	// VersionPattern is a regular expression with one group capturing the version.
	// When empty, the whole trimmed file is the version.
	VersionPattern string `yaml:"version_pattern"`
	// Remote is the git remote to push to.
	Remote string `yaml:"remote"`
	// AuthorName overrides the commit and tag author name.
	AuthorName string `yaml:"author_name"`
	// AuthorEmail overrides the commit and tag author email.
	AuthorEmail string `yaml:"author_email"`
}

// PackageConfig configures the build matrix and the release hosts.
type PackageConfig struct {
	// Product prefixes artifact names.
	Product string `yaml:"product"`
	// DistDir receives packaged artifacts.
	DistDir string `yaml:"dist_dir"`
	// Builds maps a platform key to its build step.
	Builds map[release.Platform]BuildConfig `yaml:"builds"`
	// Hosts are the release hosts the artifacts and manifest are published to,
	// in the mirror order clients should try.
	Hosts []HostConfig `yaml:"hosts"`
	// SignCommand signs an artifact; "{file}" is replaced by its path and the
	// command must write "<file>.minisig". Signing is skipped when empty.
	SignCommand []string `yaml:"sign_command"`
	// MinVersion is copied into the manifest; builds below it must update.
	MinVersion string `yaml:"min_version"`
}

// BuildConfig describes how one platform artifact is produced.
type BuildConfig struct {
	// Command is the argv run to build the platform; skipped when empty.
	Command []string `yaml:"command"`
	// Dir is the working directory of Command.
	Dir string `yaml:"dir"`
	// Output is the directory or file produced by Command that gets packaged.
	Output string `yaml:"output"`
}

// HostConfig describes one release host.
type HostConfig struct {
	// Kind is "local" or "github".
	Kind string `yaml:"kind"`
	// Root is the directory of a local host.
	Root string `yaml:"root"`
	// Owner is the repository owner.
	Owner string `yaml:"owner"`
	// Repo is the repository name.
	Repo string `yaml:"repo"`
	// DownloadBaseURL is the public origin serving "/<owner>/<repo>/releases/download/...".
	// https://github.com for GitHub hosts when empty.
	DownloadBaseURL string `yaml:"download_base_url"`
	// APIURL overrides the GitHub API endpoint.
	APIURL string `yaml:"api_url"`
	// UploadURL overrides the GitHub uploads endpoint.
	UploadURL string `yaml:"upload_url"`
}

// MirrorConfig configures the mirror server.
type MirrorConfig struct {
	// Listen is the TCP listen address.
	Listen string `yaml:"listen"`
	// Root is the local host directory being served.
	Root string `yaml:"root"`
	// RequestsPerSecond is the per-client rate limit.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	// Burst is the per-client burst size.
	Burst int `yaml:"burst"`
}

// LogConfig configures the logger.
type LogConfig struct {
	// Level is the minimum level name.
	Level string `yaml:"level"`
	// File enables a rotating log file when set.
	File string `yaml:"file"`
}

// Merge returns the settings with non-empty command-line values taking precedence.
func (l LogConfig) Merge(level, file string) LogConfig {
	if level != "" {
		l.Level = level
	}

	if file != "" {
		l.File = file
	}

	return l
}

const (
	// DefaultConfigFilename is the default filename for settings.
	DefaultConfigFilename = "steamshelf-update.yaml"

	// DefaultStateFilename is the default filename for the notification state.
	DefaultStateFilename = "steamshelf-update-state.yaml"

	// DefaultTimeout bounds one mirror attempt.
	DefaultTimeout = 10 * time.Second

	// DefaultDownloadTimeout bounds waiting for a download response.
	DefaultDownloadTimeout = 60 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// HostKindLocal publishes into a directory.
	HostKindLocal = "local"
	// HostKindGitHub publishes to GitHub releases.
	HostKindGitHub = "github"

	defaultVersionFile    = "updater.py"
	defaultVersionPattern = `__version__\s*=\s*"([^"]*)"`
	defaultRemote         = "origin"
	defaultProduct        = "SteamShelf"
	defaultDistDir        = "dist"
	defaultListen         = ":8080"
	defaultRPS            = 5
	defaultBurst          = 20
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnknownHostKind is returned for hosts other than local and github.
	errUnknownHostKind = errors.New("unknown host kind")
	// errHostIncomplete is returned when a host misses required fields.
	errHostIncomplete = errors.New("host configuration is incomplete")
)

// DefaultMirrors returns the compiled-in manifest mirrors in priority order.
func DefaultMirrors() []string {
	return []string{
		"https://gitee.com/dtq1997/SteamShelf/releases/download/latest/version.json",
		"https://github.com/dtq1997/SteamShelf/releases/download/latest/version.json",
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Defaults alone always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOptional behaves like Load but returns the defaults when the file does not exist.
// The embedded client ships without a settings file.
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes Config to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the provided settings.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if err := validateClient(&cfg.Client); err != nil {
		return err
	}

	validateRelease(&cfg.Release)

	if err := validatePackage(&cfg.Package); err != nil {
		return err
	}

	if cfg.Mirror.Listen == "" {
		cfg.Mirror.Listen = defaultListen
	}

	if cfg.Mirror.RequestsPerSecond <= 0 {
		cfg.Mirror.RequestsPerSecond = defaultRPS
	}

	if cfg.Mirror.Burst <= 0 {
		cfg.Mirror.Burst = defaultBurst
	}

	return nil
}

func validateClient(c *ClientConfig) error {
	if len(c.Mirrors) == 0 {
		c.Mirrors = DefaultMirrors()
	}

	for _, mirror := range c.Mirrors {
		if _, err := url.ParseRequestURI(mirror); err != nil {
			return fmt.Errorf("invalid mirror URL %q: %w", mirror, err)
		}
	}

	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}

	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}

	if c.StateFile == "" {
		c.StateFile = DefaultStateFilename
	}

	return nil
}

func validateRelease(r *ReleaseConfig) {
	if r.RepoPath == "" {
		r.RepoPath = "."
	}

	if r.VersionFile == "" {
		r.VersionFile = defaultVersionFile
		if r.VersionPattern == "" {
			r.VersionPattern = defaultVersionPattern
		}
	}

	if r.Remote == "" {
		r.Remote = defaultRemote
	}
}

func validatePackage(p *PackageConfig) error {
	if p.Product == "" {
		p.Product = defaultProduct
	}

	if p.DistDir == "" {
		p.DistDir = defaultDistDir
	}

	if p.MinVersion != "" {
		if _, err := release.ParseVersion(p.MinVersion); err != nil {
			return fmt.Errorf("min_version: %w", err)
		}
	}

	for platform := range p.Builds {
		if _, err := release.ParsePlatform(string(platform)); err != nil {
			return fmt.Errorf("build matrix: %w", err)
		}
	}

	for i := range p.Hosts {
		if err := validateHost(&p.Hosts[i]); err != nil {
			return fmt.Errorf("host %d: %w", i, err)
		}
	}

	return nil
}

func validateHost(h *HostConfig) error {
	switch h.Kind {
	case HostKindLocal:
		if h.Root == "" || h.Owner == "" || h.Repo == "" || h.DownloadBaseURL == "" {
			return fmt.Errorf("%w: local host needs root, owner, repo and download_base_url", errHostIncomplete)
		}
	case HostKindGitHub:
		if h.Owner == "" || h.Repo == "" {
			return fmt.Errorf("%w: github host needs owner and repo", errHostIncomplete)
		}
	default:
		return fmt.Errorf("%w: %q", errUnknownHostKind, h.Kind)
	}

	if h.DownloadBaseURL == "" {
		return nil
	}

	if _, err := url.ParseRequestURI(h.DownloadBaseURL); err != nil {
		return fmt.Errorf("invalid download base URL: %w", err)
	}

	return nil
}
