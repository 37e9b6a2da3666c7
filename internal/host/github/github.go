package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/repository/manifest"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com"
	// DefaultUploadURL is the public GitHub asset upload endpoint.
	DefaultUploadURL = "https://uploads.github.com"
	// DefaultDownloadBaseURL serves release assets.
	DefaultDownloadBaseURL = "https://github.com"
	// LatestTag is the release holding the current manifest.
	LatestTag = "latest"

	apiVersion     = "2022-11-28"
	requestTimeout = 5 * time.Minute
	tempInfix      = ".tmp-"
)

// TokenEnvVars are checked in order for an API token.
var TokenEnvVars = []string{"STEAMSHELF_GITHUB_TOKEN", "GITHUB_TOKEN"}

// ErrRequestFailed wraps every unexpected API response.
var ErrRequestFailed = errors.New("github request failed")

// StatusError describes an unexpected API response.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.URL, e.StatusCode, e.Message)
}

// Unwrap makes every StatusError match ErrRequestFailed.
func (e *StatusError) Unwrap() error {
	return ErrRequestFailed
}

// TokenFromEnv returns the first non-empty token from TokenEnvVars.
func TokenFromEnv() string {
	for _, name := range TokenEnvVars {
		if tok := strings.TrimSpace(os.Getenv(name)); tok != "" {
			return tok
		}
	}

	return ""
}

// Options configures a GitHub host.
type Options struct {
	Owner string
	Repo  string
	// Token authenticates API calls; TokenFromEnv when empty.
	Token string
	// APIURL, UploadURL and DownloadBaseURL override the public endpoints.
	APIURL          string
	UploadURL       string
	DownloadBaseURL string
	// UserAgent is sent with every request.
	UserAgent string
	// Client defaults to an http.Client with a generous timeout.
	Client *http.Client
}

// Host is a release host backed by GitHub releases.
type Host struct {
	opts   Options
	client *http.Client
}

type githubRelease struct {
	ID      int64         `json:"id"`
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// New creates a GitHub host, filling endpoint defaults.
func New(opts Options) *Host {
	if opts.APIURL == "" {
		opts.APIURL = DefaultAPIURL
	}

	if opts.UploadURL == "" {
		opts.UploadURL = DefaultUploadURL
	}

	if opts.DownloadBaseURL == "" {
		opts.DownloadBaseURL = DefaultDownloadBaseURL
	}

	if opts.Token == "" {
		opts.Token = TokenFromEnv()
	}

	opts.APIURL = strings.TrimRight(opts.APIURL, "/")
	opts.UploadURL = strings.TrimRight(opts.UploadURL, "/")
	opts.DownloadBaseURL = strings.TrimRight(opts.DownloadBaseURL, "/")

	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: requestTimeout}
	}

	return &Host{opts: opts, client: client}
}

// Name identifies the host in logs.
func (h *Host) Name() string {
	return "github:" + h.opts.Owner + "/" + h.opts.Repo
}

// EnsureRelease creates the release for tag unless it already exists.
func (h *Host) EnsureRelease(ctx context.Context, tag, notes string) error {
	_, err := h.release(ctx, tag, notes)

	return err
}

// Upload attaches the file at path to the release of tag, replacing an asset of the same name.
func (h *Host) Upload(ctx context.Context, tag, path string) error {
	rel, err := h.release(ctx, tag, "")
	if err != nil {
		return err
	}

	name := filepath.Base(path)

	for _, asset := range rel.Assets {
		if asset.Name != name {
			continue
		}

		logger.DebugKV(ctx, "Replacing existing release asset", "tag", tag, "asset", name)

		if err = h.deleteAsset(ctx, asset.ID); err != nil {
			return err
		}
	}

	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	defer func() {
		_ = f.Close()
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if _, err = h.uploadAsset(ctx, rel.ID, name, f, info.Size()); err != nil {
		return fmt.Errorf("upload %s: %w", name, err)
	}

	return nil
}

// DownloadURL returns the public URL of an asset.
func (h *Host) DownloadURL(tag, asset string) string {
	return h.opts.DownloadBaseURL + "/" + url.PathEscape(h.opts.Owner) + "/" + url.PathEscape(h.opts.Repo) +
		"/releases/download/" + url.PathEscape(tag) + "/" + url.PathEscape(asset)
}

// ManifestURL returns the public URL of the current manifest.
func (h *Host) ManifestURL() string {
	return h.DownloadURL(LatestTag, release.ManifestFilename)
}

// PublishManifest replaces the manifest asset of the "latest" release.
func (h *Host) PublishManifest(ctx context.Context, m *release.Manifest) error {
	data, err := manifest.Encode(m)
	if err != nil {
		return err
	}

	rel, err := h.release(ctx, LatestTag, "Current SteamShelf update manifest.")
	if err != nil {
		return err
	}

	tmpName := release.ManifestFilename + tempInfix + strconv.FormatInt(time.Now().UnixNano(), 10)

	uploaded, err := h.uploadAsset(ctx, rel.ID, tmpName, bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return fmt.Errorf("upload manifest: %w", err)
	}

	for _, asset := range rel.Assets {
		// Leftovers of interrupted runs go too.
		if asset.Name != release.ManifestFilename && !strings.HasPrefix(asset.Name, release.ManifestFilename+tempInfix) {
			continue
		}

		if err = h.deleteAsset(ctx, asset.ID); err != nil {
			return fmt.Errorf("remove previous manifest: %w", err)
		}
	}

	if err = h.renameAsset(ctx, uploaded.ID, release.ManifestFilename); err != nil {
		return fmt.Errorf("rename manifest: %w", err)
	}

	return nil
}

func (h *Host) release(ctx context.Context, tag, notes string) (*githubRelease, error) {
	var rel githubRelease

	err := h.do(ctx, http.MethodGet, h.repoURL("releases", "tags", tag), nil, &rel, http.StatusOK)
	if err == nil {
		return &rel, nil
	}

	var statusErr *StatusError
	if !errors.As(err, &statusErr) || statusErr.StatusCode != http.StatusNotFound {
		return nil, err
	}

	body := map[string]any{
		"tag_name": tag,
		"name":     tag,
		"body":     notes,
	}
	if tag == LatestTag {
		body["make_latest"] = "false"
	}

	if err = h.do(ctx, http.MethodPost, h.repoURL("releases"), body, &rel, http.StatusCreated); err != nil {
		return nil, fmt.Errorf("create release %s: %w", tag, err)
	}

	logger.InfoKV(ctx, "Created GitHub release", "repo", h.opts.Owner+"/"+h.opts.Repo, "tag", tag)

	return &rel, nil
}

func (h *Host) uploadAsset(ctx context.Context, releaseID int64, name string, body io.Reader, size int64) (*githubAsset, error) {
	target := h.opts.UploadURL + "/repos/" + url.PathEscape(h.opts.Owner) + "/" + url.PathEscape(h.opts.Repo) +
		"/releases/" + strconv.FormatInt(releaseID, 10) + "/assets?name=" + url.QueryEscape(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, body)
	if err != nil {
		return nil, err
	}

	req.ContentLength = size
	req.Header.Set("Content-Type", "application/octet-stream")

	var asset githubAsset
	if err = h.send(req, &asset, http.StatusCreated); err != nil {
		return nil, err
	}

	return &asset, nil
}

func (h *Host) deleteAsset(ctx context.Context, id int64) error {
	return h.do(ctx, http.MethodDelete, h.repoURL("releases", "assets", strconv.FormatInt(id, 10)), nil, nil, http.StatusNoContent)
}

func (h *Host) renameAsset(ctx context.Context, id int64, name string) error {
	return h.do(ctx, http.MethodPatch, h.repoURL("releases", "assets", strconv.FormatInt(id, 10)),
		map[string]string{"name": name}, nil, http.StatusOK)
}

func (h *Host) repoURL(segments ...string) string {
	var b strings.Builder

	b.WriteString(h.opts.APIURL)
	b.WriteString("/repos/")
	b.WriteString(url.PathEscape(h.opts.Owner))
	b.WriteString("/")
	b.WriteString(url.PathEscape(h.opts.Repo))

	for _, s := range segments {
		b.WriteString("/")
		b.WriteString(url.PathEscape(s))
	}

	return b.String()
}

func (h *Host) do(ctx context.Context, method, target string, in, out any, expected int) error {
	var body io.Reader

	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}

		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}

	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return h.send(req, out, expected)
}

func (h *Host) send(req *http.Request, out any, expected int) error {
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", apiVersion)

	if h.opts.UserAgent != "" {
		req.Header.Set("User-Agent", h.opts.UserAgent)
	}

	if h.opts.Token != "" {
		req.Header.Set("Authorization", "Bearer "+h.opts.Token)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != expected {
		var apiErr struct {
			Message string `json:"message"`
		}

		_ = json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&apiErr)

		return &StatusError{
			Method:     req.Method,
			URL:        req.URL.Redacted(),
			StatusCode: resp.StatusCode,
			Message:    apiErr.Message,
		}
	}

	if out == nil {
		return nil
	}

	if err = json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}

	return nil
}
