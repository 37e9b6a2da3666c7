package packager

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dtq1997/steamshelf-updater/internal/archive"
	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/fileutil"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/repository/manifest"
)

const (
	// ChecksumsFilename lists "<sha256>  <asset>" for every uploaded artifact.
	ChecksumsFilename = "SHA256SUMS"
	// SignatureSuffix is appended to an artifact name for its minisign signature.
	SignatureSuffix = ".minisig"

	distPermissions = 0o644
)

var (
	// ErrBuildFailed is returned when a required platform did not produce an artifact.
	// The latest manifest is left untouched.
	ErrBuildFailed = errors.New("build failed")
	// ErrPublishFailed is returned when an upload or a manifest write failed.
	ErrPublishFailed = errors.New("publish failed")

	errNotConfigured = errors.New("platform is not configured in the build matrix")
	errNoHosts       = errors.New("no release hosts configured")
	errMissingSig    = errors.New("sign command did not produce a signature")
)

// Host is a destination for release artifacts and the latest manifest.
type Host interface {
	// Name identifies the host in logs.
	Name() string
	// EnsureRelease creates or reuses the release entry for tag.
	EnsureRelease(ctx context.Context, tag, notes string) error
	// Upload attaches the file at path to the release of tag under its base name.
	Upload(ctx context.Context, tag, path string) error
	// DownloadURL is where clients fetch an uploaded asset.
	DownloadURL(tag, asset string) string
	// PublishManifest atomically replaces the latest manifest.
	PublishManifest(ctx context.Context, m *release.Manifest) error
}

// Options configures a packaging run.
type Options struct {
	// Tag is the pushed release tag, e.g. "v5.8.0".
	Tag string
	// Notes is the changelog written into the release and the manifest.
	Notes string
	// Product prefixes artifact names.
	Product string
	// DistDir receives artifacts and SHA256SUMS.
	DistDir string
	// BaseDir resolves relative build directories.
	BaseDir string
	// Builds is the build matrix.
	Builds map[release.Platform]config.BuildConfig
	// Builder runs build commands; CommandBuilder when nil.
	Builder Builder
	// SignCommand optionally signs each artifact, see config.PackageConfig.
	SignCommand []string
	// MinVersion is copied into the manifest.
	MinVersion string
	// Hosts receive the release in mirror order.
	Hosts []Host
	// Now stamps the manifest.
	Now func() time.Time
}

// BuildResult is the outcome for one platform.
type BuildResult struct {
	Platform release.Platform
	// Required reports whether the platform gates the manifest.
	Required bool
	// Artifact is filled on success.
	Artifact release.Artifact
	// Path is the packaged zip.
	Path string
	// SignaturePath is the minisign sidecar, if signed.
	SignaturePath string
	Duration      time.Duration
	Err           error
}

// Report summarizes a packaging run.
type Report struct {
	Version release.Version
	Tag     string
	Results []BuildResult
	// ChecksumsPath is the SHA256SUMS file, empty when nothing was packaged.
	ChecksumsPath string
	// Manifest is the published manifest, nil when it was withheld or a host refused it.
	Manifest *release.Manifest
	// ManifestHosts names the hosts now serving the new manifest. After a
	// partial failure they advertise the release while the others do not.
	ManifestHosts []string
}

// Failed returns the platforms that did not produce an artifact.
func (r *Report) Failed() []release.Platform {
	var failed []release.Platform

	for _, res := range r.Results {
		if res.Err != nil {
			failed = append(failed, res.Platform)
		}
	}

	return failed
}

// Packager builds, packages and publishes one release tag.
type Packager struct {
	opts    Options
	version release.Version
}

// New validates opts.
func New(opts Options) (*Packager, error) {
	v, err := release.ParseTag(opts.Tag)
	if err != nil {
		return nil, err
	}

	if len(opts.Hosts) == 0 {
		return nil, errNoHosts
	}

	if opts.Builder == nil {
		opts.Builder = CommandBuilder{}
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	if opts.Product == "" {
		opts.Product = "SteamShelf"
	}

	return &Packager{opts: opts, version: v}, nil
}

// ArtifactName returns "<product>-<version>-<platform>.zip".
func ArtifactName(product string, v release.Version, p release.Platform) string {
	return fmt.Sprintf("%s-%s-%s.zip", product, v, p)
}

// Run builds every platform, uploads what succeeded and publishes the manifest
// only when nothing required failed. The report is returned even on error.
func (p *Packager) Run(ctx context.Context) (*Report, error) {
	ctx = logger.WithKV(ctx, "tag", p.opts.Tag)

	report := &Report{Version: p.version, Tag: p.opts.Tag}

	if err := os.MkdirAll(p.opts.DistDir, 0o755); err != nil {
		return report, fmt.Errorf("create dist directory: %w", err)
	}

	report.Results = p.buildAll(ctx)

	built := make([]BuildResult, 0, len(report.Results))

	for _, res := range report.Results {
		if res.Err != nil {
			logger.ErrorKV(ctx, "Platform build failed", "platform", res.Platform, "error", res.Err)
			continue
		}

		logger.InfoKV(ctx, "Platform packaged",
			"platform", res.Platform,
			"artifact", res.Artifact.Name,
			"sha256", res.Artifact.SHA256,
			"duration", res.Duration)

		built = append(built, res)
	}

	var failedRequired []string

	for _, res := range report.Results {
		if res.Err != nil && res.Required {
			failedRequired = append(failedRequired, string(res.Platform))
		}
	}

	if len(built) == 0 {
		return report, fmt.Errorf("%w: %s", ErrBuildFailed, strings.Join(failedRequired, ", "))
	}

	checksums, err := p.writeChecksums(built)
	if err != nil {
		return report, err
	}

	report.ChecksumsPath = checksums

	if err = p.upload(ctx, built, checksums); err != nil {
		return report, err
	}

	if len(failedRequired) > 0 {
		logger.WarnKV(ctx, "Latest manifest withheld", "failed", failedRequired)

		return report, fmt.Errorf("%w: %s", ErrBuildFailed, strings.Join(failedRequired, ", "))
	}

	m := p.manifest(built)

	// A manifest no host would accept must not reach any of them.
	if _, err = manifest.Encode(m); err != nil {
		return report, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	if err = p.publishManifest(ctx, m, report); err != nil {
		return report, err
	}

	report.Manifest = m

	return report, nil
}

// publishManifest offers m to every host, even after one of them failed,
// and records the hosts that now serve it.
func (p *Packager) publishManifest(ctx context.Context, m *release.Manifest, report *Report) error {
	var errs []error

	for _, h := range p.opts.Hosts {
		if err := h.PublishManifest(ctx, m); err != nil {
			logger.ErrorKV(ctx, "Latest manifest not published", "host", h.Name(), "error", err)

			errs = append(errs, fmt.Errorf("manifest on %s: %w", h.Name(), err))

			continue
		}

		report.ManifestHosts = append(report.ManifestHosts, h.Name())

		logger.InfoKV(ctx, "Latest manifest published", "host", h.Name(), "version", m.Version)
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

// platforms returns the required targets first, then any extra configured ones.
func (p *Packager) platforms() []release.Platform {
	platforms := release.RequiredPlatforms()

	var extra []release.Platform

	for platform := range p.opts.Builds {
		if !slices.Contains(platforms, platform) {
			extra = append(extra, platform)
		}
	}

	slices.Sort(extra)

	return append(platforms, extra...)
}

// buildAll runs every platform concurrently. A failure is recorded in its
// result and never cancels the other builds.
func (p *Packager) buildAll(ctx context.Context) []BuildResult {
	platforms := p.platforms()
	results := make([]BuildResult, len(platforms))
	required := release.RequiredPlatforms()

	var g errgroup.Group

	for i, platform := range platforms {
		g.Go(func() error {
			started := time.Now()
			res := p.buildOne(logger.WithKV(ctx, "platform", platform), platform)
			res.Platform = platform
			res.Required = slices.Contains(required, platform)
			res.Duration = time.Since(started)
			results[i] = res

			return nil
		})
	}

	_ = g.Wait()

	return results
}

func (p *Packager) buildOne(ctx context.Context, platform release.Platform) BuildResult {
	step, ok := p.opts.Builds[platform]
	if !ok {
		return BuildResult{Err: errNotConfigured}
	}

	dir := step.Dir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(p.opts.BaseDir, dir)
	}

	if len(step.Command) > 0 {
		logger.InfoKV(ctx, "Building platform", "command", step.Command[0], "dir", dir)

		err := p.opts.Builder.Build(ctx, Step{
			Platform: platform,
			Version:  p.version,
			Command:  expand(step.Command, map[string]string{"version": p.version.String(), "platform": string(platform)}),
			Dir:      dir,
		})
		if err != nil {
			return BuildResult{Err: err}
		}
	}

	output := step.Output
	if !filepath.IsAbs(output) {
		output = filepath.Join(dir, output)
	}

	name := ArtifactName(p.opts.Product, p.version, platform)
	target := filepath.Join(p.opts.DistDir, name)

	if err := archive.CreateZip(output, target); err != nil {
		return BuildResult{Err: fmt.Errorf("package %s: %w", output, err)}
	}

	digest, size, err := fileutil.SHA256File(target)
	if err != nil {
		return BuildResult{Err: err}
	}

	res := BuildResult{
		Artifact: release.Artifact{Name: name, SHA256: digest, Size: size},
		Path:     target,
	}

	if len(p.opts.SignCommand) == 0 {
		return res
	}

	sig, err := p.sign(ctx, target)
	if err != nil {
		return BuildResult{Err: fmt.Errorf("sign %s: %w", name, err)}
	}

	res.Artifact.Signature = sig
	res.SignaturePath = target + SignatureSuffix

	return res
}

func (p *Packager) sign(ctx context.Context, path string) (string, error) {
	sigPath := path + SignatureSuffix
	_ = os.Remove(sigPath)

	if err := runCommand(ctx, expand(p.opts.SignCommand, map[string]string{"file": path}), p.opts.BaseDir, nil); err != nil {
		return "", err
	}

	data, err := os.ReadFile(sigPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", errMissingSig
		}

		return "", err
	}

	return string(data), nil
}

func (p *Packager) writeChecksums(built []BuildResult) (string, error) {
	var b strings.Builder

	sorted := slices.Clone(built)
	slices.SortFunc(sorted, func(a, b BuildResult) int {
		return strings.Compare(a.Artifact.Name, b.Artifact.Name)
	})

	for _, res := range sorted {
		b.WriteString(res.Artifact.SHA256)
		b.WriteString("  ")
		b.WriteString(res.Artifact.Name)
		b.WriteString("\n")
	}

	path := filepath.Join(p.opts.DistDir, ChecksumsFilename)
	if err := fileutil.WriteAtomic(path, []byte(b.String()), distPermissions); err != nil {
		return "", fmt.Errorf("write checksums: %w", err)
	}

	return path, nil
}

func (p *Packager) upload(ctx context.Context, built []BuildResult, checksums string) error {
	var errs []error

	for _, h := range p.opts.Hosts {
		hostCtx := logger.WithKV(ctx, "host", h.Name())

		if err := h.EnsureRelease(hostCtx, p.opts.Tag, p.opts.Notes); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
			continue
		}

		files := []string{checksums}
		for _, res := range built {
			files = append(files, res.Path)
			if res.SignaturePath != "" {
				files = append(files, res.SignaturePath)
			}
		}

		for _, path := range files {
			if err := h.Upload(hostCtx, p.opts.Tag, path); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", h.Name(), err))
				continue
			}

			logger.DebugKV(hostCtx, "Asset uploaded", "asset", filepath.Base(path))
		}
	}

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	return nil
}

func (p *Packager) manifest(built []BuildResult) *release.Manifest {
	m := &release.Manifest{
		Version:      p.version.String(),
		Changelog:    p.opts.Notes,
		MinVersion:   p.opts.MinVersion,
		PublishedAt:  p.opts.Now().UTC().Truncate(time.Second),
		DownloadURLs: release.DownloadURLs{ByPlatform: make(map[release.Platform][]string, len(built))},
		Artifacts:    make(map[release.Platform]release.Artifact, len(built)),
	}

	for _, res := range built {
		urls := make([]string, 0, len(p.opts.Hosts))
		for _, h := range p.opts.Hosts {
			urls = append(urls, h.DownloadURL(p.opts.Tag, res.Artifact.Name))
		}

		m.DownloadURLs.ByPlatform[res.Platform] = urls
		m.Artifacts[res.Platform] = res.Artifact
	}

	return m
}
