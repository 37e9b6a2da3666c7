package packager

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/host/github"
	"github.com/dtq1997/steamshelf-updater/internal/host/local"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
	"github.com/dtq1997/steamshelf-updater/internal/version"
)

var errUnknownHost = errors.New("unknown host kind")

// RunOptions contains inputs for the packager entry point.
type RunOptions struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Tag is the release tag; GITHUB_REF_NAME when empty.
	Tag string
	// NotesFile overrides the tag message as changelog.
	NotesFile string
	// Out receives the summary; stdout when nil.
	Out io.Writer
}

// Run executes the build and publish pipeline for one tag.
func Run(ctx context.Context, opts *RunOptions) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "shelf-packager")

	cfg, err := config.LoadOptional(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	tag, err := ResolveTag(opts.Tag)
	if err != nil {
		return err
	}

	notes, err := readNotes(ctx, cfg, tag, opts.NotesFile)
	if err != nil {
		return err
	}

	hosts, err := NewHosts(cfg.Package.Hosts)
	if err != nil {
		return err
	}

	p, err := New(Options{
		Tag:         tag,
		Notes:       notes,
		Product:     cfg.Package.Product,
		DistDir:     cfg.Package.DistDir,
		BaseDir:     cfg.Release.RepoPath,
		Builds:      cfg.Package.Builds,
		SignCommand: cfg.Package.SignCommand,
		MinVersion:  cfg.Package.MinVersion,
		Hosts:       hosts,
	})
	if err != nil {
		return err
	}

	report, err := p.Run(ctx)

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	PrintReport(out, report)

	if err != nil {
		return fmt.Errorf("packager failed: %w", err)
	}

	logger.Info(ctx, "Packager completed successfully")

	return nil
}

// NewHosts builds release hosts from configuration, preserving order.
func NewHosts(cfgs []config.HostConfig) ([]Host, error) {
	hosts := make([]Host, 0, len(cfgs))

	for _, c := range cfgs {
		switch c.Kind {
		case config.HostKindLocal:
			h, err := local.New(local.Options{Root: c.Root, Owner: c.Owner, Repo: c.Repo, BaseURL: c.DownloadBaseURL})
			if err != nil {
				return nil, err
			}

			hosts = append(hosts, h)
		case config.HostKindGitHub:
			hosts = append(hosts, github.New(github.Options{
				Owner:           c.Owner,
				Repo:            c.Repo,
				APIURL:          c.APIURL,
				UploadURL:       c.UploadURL,
				DownloadBaseURL: c.DownloadBaseURL,
				UserAgent:       version.UserAgentFor(version.Short() + " (packager)"),
			}))
		default:
			return nil, fmt.Errorf("%w: %q", errUnknownHost, c.Kind)
		}
	}

	return hosts, nil
}

func readNotes(ctx context.Context, cfg *config.Config, tag, notesFile string) (string, error) {
	if notesFile != "" {
		data, err := os.ReadFile(notesFile)
		if err != nil {
			return "", fmt.Errorf("read notes file: %w", err)
		}

		return strings.TrimSpace(string(data)), nil
	}

	notes, err := TagNotes(cfg.Release.RepoPath, tag)
	if err != nil {
		logger.WarnKV(ctx, "Release notes unavailable, publishing without changelog", "error", err)

		return "", nil
	}

	return notes, nil
}

// PrintReport writes a per-platform summary.
func PrintReport(w io.Writer, r *Report) {
	if r == nil {
		return
	}

	_, _ = fmt.Fprintf(w, "Release %s\n", r.Tag)

	for _, res := range r.Results {
		if res.Err != nil {
			_, _ = fmt.Fprintf(w, "  %-7s FAILED  %v\n", res.Platform, res.Err)
			continue
		}

		_, _ = fmt.Fprintf(w, "  %-7s ok      %s  %s\n", res.Platform, res.Artifact.Name, res.Artifact.SHA256)
	}

	switch {
	case r.Manifest != nil:
		_, _ = fmt.Fprintf(w, "Latest manifest now advertises %s\n", r.Manifest.Version)
	case len(r.ManifestHosts) > 0:
		_, _ = fmt.Fprintf(w, "Latest manifest updated only on %s\n", strings.Join(r.ManifestHosts, ", "))
	default:
		_, _ = fmt.Fprintln(w, "Latest manifest unchanged")
	}
}
