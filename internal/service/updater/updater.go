package updater

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jedisct1/go-minisign"
	"github.com/mitchellh/go-ps"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/fileutil"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/mirror"
)

// Options configure an Updater.
type Options struct {
	// InstallDir is the installation being updated.
	InstallDir string
	// Platform selects the manifest artifact; the source archive when empty.
	Platform release.Platform
	// UserAgent is sent with every download.
	UserAgent string
	// Client performs downloads; http.DefaultClient when nil.
	Client *http.Client
	// Timeout is how long a download may stall; DefaultDownloadTimeout when zero.
	Timeout time.Duration
	// PublicKey is an optional minisign public key. When set, unsigned or
	// badly signed artifacts are rejected.
	PublicKey string
	// Executable is the process name that must not be running during Apply.
	Executable string
	// Processes lists running processes; ps.Processes when nil.
	Processes ProcessLister
}

// Updater downloads, verifies, stages and applies releases.
type Updater struct {
	opts      Options
	publicKey *minisign.PublicKey
}

// Progress reports download progress. Total is zero when the size is unknown.
type Progress struct {
	// Downloaded is the number of bytes received so far.
	Downloaded int64
	// Total is the expected size in bytes.
	Total int64
}

// Download is a verified artifact on disk.
type Download struct {
	// Path is the downloaded file.
	Path string
	// URL is where it came from.
	URL string
	// Version is the release the artifact belongs to.
	Version release.Version
	// Artifact is the manifest entry the file was verified against.
	Artifact release.Artifact
}

// Remove deletes the downloaded file.
func (d *Download) Remove() error {
	if err := os.Remove(d.Path); err != nil && !os.IsNotExist(err) {
		return err
	}

	return nil
}

// New creates an Updater.
func New(opts Options) (*Updater, error) {
	if opts.InstallDir == "" {
		executable, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate installation: %w", err)
		}

		opts.InstallDir = filepath.Dir(executable)
	}

	installDir, err := filepath.Abs(opts.InstallDir)
	if err != nil {
		return nil, fmt.Errorf("resolve installation: %w", err)
	}

	opts.InstallDir = installDir

	if opts.Platform == "" {
		opts.Platform = release.PlatformSource
	}

	if opts.Timeout <= 0 {
		opts.Timeout = DefaultDownloadTimeout
	}

	if opts.Executable == "" {
		opts.Executable = Executable()
	}

	if opts.Processes == nil {
		opts.Processes = ps.Processes
	}

	u := &Updater{opts: opts}

	if opts.PublicKey != "" {
		if u.publicKey, err = parsePublicKey(opts.PublicKey); err != nil {
			return nil, err
		}
	}

	return u, nil
}

// InstallDir returns the absolute installation directory.
func (u *Updater) InstallDir() string {
	return u.opts.InstallDir
}

func (u *Updater) workDir() string {
	return filepath.Join(u.opts.InstallDir, WorkDirName)
}

// Download fetches the platform artifact of m, trying its URLs in order. A
// URL that fails, stalls or serves a file that does not verify is skipped.
// The installation is never touched; on failure or cancellation nothing is
// left on disk.
func (u *Updater) Download(ctx context.Context, m *release.Manifest, onProgress func(Progress)) (*Download, error) {
	ctx = logger.WithName(ctx, "updater")

	target, err := m.ParsedVersion()
	if err != nil {
		return nil, err
	}

	urls := m.URLsFor(u.opts.Platform)
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoArtifact, u.opts.Platform)
	}

	artifact, ok := m.ArtifactFor(u.opts.Platform)
	if !ok || artifact.SHA256 == "" {
		return nil, fmt.Errorf("%w: manifest has no checksum for %s", ErrIntegrity, u.opts.Platform)
	}

	if err = os.MkdirAll(u.workDir(), 0o755); err != nil {
		return nil, fmt.Errorf("create work directory: %w", err)
	}

	providers := make([]mirror.Provider[string], 0, len(urls))
	for _, rawURL := range urls {
		providers = append(providers, mirror.Func[string]{
			Label: rawURL,
			Fn: func(ctx context.Context) (string, error) {
				return u.fetch(ctx, rawURL, artifact, onProgress)
			},
		})
	}

	logger.InfoKV(ctx, "Downloading update", "version", target.String(), "platform", u.opts.Platform, "mirrors", len(urls))

	// Stalls are detected inside fetch, so attempts get no overall deadline.
	found, err := mirror.First(ctx, 0, providers...)
	if err != nil {
		return nil, fmt.Errorf("download update: %w", err)
	}

	logger.InfoKV(ctx, "Update downloaded and verified", "url", found.Provider, "path", found.Value)

	return &Download{Path: found.Value, URL: found.Provider, Version: target, Artifact: artifact}, nil
}

// fetch downloads one URL into the work directory and verifies it.
func (u *Updater) fetch(ctx context.Context, rawURL string, artifact release.Artifact, onProgress func(Progress)) (path string, err error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	stalled := fmt.Errorf("%w: no data for %s", errStalled, u.opts.Timeout)
	watchdog := time.AfterFunc(u.opts.Timeout, func() { cancel(stalled) })

	defer watchdog.Stop()

	response, err := mirror.Get(ctx, u.opts.Client, rawURL, u.opts.UserAgent)
	if err != nil {
		return "", contextCause(ctx, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	out, err := os.CreateTemp(u.workDir(), "download-*"+filepath.Ext(artifact.Name))
	if err != nil {
		return "", fmt.Errorf("create download file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = out.Close()
			_ = os.Remove(out.Name())
		}
	}()

	total := max(response.ContentLength, 0)
	hasher := sha256.New()
	counter := &progressWriter{total: total, onProgress: onProgress, reset: func() { watchdog.Reset(u.opts.Timeout) }}

	if onProgress != nil {
		onProgress(Progress{Total: total})
	}

	if _, err = io.Copy(io.MultiWriter(out, hasher, counter), response.Body); err != nil {
		return "", fmt.Errorf("download %s: %w", rawURL, contextCause(ctx, err))
	}

	if err = out.Close(); err != nil {
		return "", fmt.Errorf("close download file: %w", err)
	}

	if err = u.verify(out.Name(), hex.EncodeToString(hasher.Sum(nil)), counter.downloaded, artifact); err != nil {
		return "", err
	}

	return out.Name(), nil
}

// verify checks the digest, size and optional signature of a downloaded file.
func (u *Updater) verify(path, digest string, size int64, artifact release.Artifact) error {
	if want := fileutil.NormalizeDigest(artifact.SHA256); digest != want {
		return fmt.Errorf("%w: sha256 mismatch: expected %s, got %s", ErrIntegrity, want, digest)
	}

	if artifact.Size > 0 && artifact.Size != size {
		return fmt.Errorf("%w: size mismatch: expected %d, got %d", ErrIntegrity, artifact.Size, size)
	}

	if u.publicKey == nil {
		return nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return fmt.Errorf("read download: %w", err)
	}

	return verifySignature(u.publicKey, data, artifact.Signature)
}

// contextCause prefers the cancellation cause, such as a stall, over the raw error.
func contextCause(ctx context.Context, err error) error {
	if cause := context.Cause(ctx); cause != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", cause, err)
	}

	return err
}

// progressWriter counts bytes, reports progress and feeds the stall watchdog.
type progressWriter struct {
	downloaded int64
	total      int64
	onProgress func(Progress)
	reset      func()
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.downloaded += int64(len(p))
	w.reset()

	if w.onProgress != nil {
		w.onProgress(Progress{Downloaded: w.downloaded, Total: w.total})
	}

	return len(p), nil
}
