package local

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/fileutil"
	"github.com/dtq1997/steamshelf-updater/internal/repository/manifest"
)

const (
	// LatestTag names the directory holding the current manifest.
	LatestTag = "latest"

	assetPermissions = 0o644
)

// ErrInvalidName is returned for tags or asset names that would escape the release directory.
var ErrInvalidName = errors.New("invalid release path segment")

// Options configures a local host.
type Options struct {
	// Root is the directory shared with the mirror server.
	Root string
	// Owner and Repo select the repository under Root.
	Owner string
	Repo  string
	// BaseURL is the public origin the mirror server answers on.
	BaseURL string
}

// Host is a release host backed by a local directory.
type Host struct {
	dir       string
	base      *url.URL
	owner     string
	repo      string
	manifests *manifest.FileRepository
}

// New creates a local host.
func New(opts Options) (*Host, error) {
	for _, segment := range []string{opts.Owner, opts.Repo} {
		if err := checkSegment(segment); err != nil {
			return nil, err
		}
	}

	base, err := url.Parse(strings.TrimRight(opts.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid base URL %q", opts.BaseURL)
	}

	dir := DownloadDir(opts.Root, opts.Owner, opts.Repo)

	return &Host{
		dir:       dir,
		base:      base,
		owner:     opts.Owner,
		repo:      opts.Repo,
		manifests: manifest.NewFileRepository(filepath.Join(dir, LatestTag, release.ManifestFilename)),
	}, nil
}

// DownloadDir returns the directory holding the releases of owner/repo under root.
func DownloadDir(root, owner, repo string) string {
	return filepath.Join(root, owner, repo, "releases", "download")
}

// Name identifies the host in logs.
func (h *Host) Name() string {
	return "local:" + h.dir
}

// EnsureRelease creates the tag directory. Notes travel in the manifest only.
func (h *Host) EnsureRelease(_ context.Context, tag, _ string) error {
	if err := checkSegment(tag); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(h.dir, tag), 0o755); err != nil {
		return fmt.Errorf("create release %s: %w", tag, err)
	}

	return nil
}

// Upload copies the file at path into the tag directory, replacing an existing asset.
func (h *Host) Upload(ctx context.Context, tag, path string) error {
	name := filepath.Base(path)
	if err := checkSegment(name); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := h.EnsureRelease(ctx, tag, ""); err != nil {
		return err
	}

	if err := fileutil.CopyAtomic(path, filepath.Join(h.dir, tag, name), assetPermissions); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	return nil
}

// DownloadURL returns the public URL of an asset.
func (h *Host) DownloadURL(tag, asset string) string {
	return h.base.JoinPath(h.owner, h.repo, "releases", "download", tag, asset).String()
}

// ManifestURL returns the public URL of the current manifest.
func (h *Host) ManifestURL() string {
	return h.DownloadURL(LatestTag, release.ManifestFilename)
}

// PublishManifest atomically replaces the current manifest.
func (h *Host) PublishManifest(ctx context.Context, m *release.Manifest) error {
	return h.manifests.Save(ctx, m)
}

// Manifest reads the current manifest; manifest.ErrNotFound when nothing was published.
func (h *Host) Manifest(ctx context.Context) (*release.Manifest, error) {
	return h.manifests.Load(ctx)
}

func checkSegment(s string) error {
	if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	}

	return nil
}
