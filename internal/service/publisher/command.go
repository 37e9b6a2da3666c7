package publisher

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"

	"github.com/dtq1997/steamshelf-updater/internal/config"
	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/host/github"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

var errConflictingBump = errors.New("choose either --minor or --patch")

// RunOptions are inputs accepted by the publisher entry point.
type RunOptions struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// Minor forces a minor bump.
	Minor bool
	// Patch forces a patch bump.
	Patch bool
	// DryRun prints the plan and changes nothing.
	DryRun bool
	// Interactive asks on In/Out when the bump is ambiguous.
	Interactive bool
	// In and Out are the operator's terminal.
	In  io.Reader
	Out io.Writer
}

// Run publishes a release or, with DryRun, prints what it would do.
func Run(ctx context.Context, opts *RunOptions) error {
	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "shelf-release")

	cfg, err := config.LoadOptional(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	var bump release.BumpKind

	switch {
	case opts.Minor && opts.Patch:
		return errConflictingBump
	case opts.Minor:
		bump = release.BumpMinor
	case opts.Patch:
		bump = release.BumpPatch
	}

	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	publishOpts := Options{
		RepoPath:       cfg.Release.RepoPath,
		VersionFile:    cfg.Release.VersionFile,
		VersionPattern: cfg.Release.VersionPattern,
		Remote:         cfg.Release.Remote,
		Bump:           bump,
		AuthorName:     cfg.Release.AuthorName,
		AuthorEmail:    cfg.Release.AuthorEmail,
	}

	if opts.Interactive {
		publishOpts.Confirmer = &PromptConfirmer{In: opts.In, Out: out}
	}

	p, err := Open(publishOpts)
	if err != nil {
		return err
	}

	if token := github.TokenFromEnv(); token != "" {
		p.opts.Pusher = &GitPusher{Repo: p.repo, Auth: &githttp.BasicAuth{Username: "x-access-token", Password: token}}
	}

	if opts.DryRun {
		plan, err := p.Plan(ctx)
		if err != nil {
			return err
		}

		PrintPlan(out, plan)

		return nil
	}

	res, err := p.Publish(ctx)
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(out, "Released %s (%s)\n", res.Tag, res.Commit[:7])

	return nil
}

// PrintPlan writes a human-readable plan.
func PrintPlan(w io.Writer, plan *Plan) {
	previous := plan.PreviousTag
	if previous == "" {
		previous = "(none)"
	}

	next := "(undecided)"
	if !plan.Next.IsZero() {
		next = plan.Next.String()
	}

	_, _ = fmt.Fprintf(w, "Current version: %s\nLast release:    %s\nNext version:    %s\nBump:            %s (%s: %s)\nChangelog:\n%s\n",
		plan.Current, previous, next, plan.Bump, plan.Decision, plan.Reason, plan.Changelog)
}

// PromptConfirmer asks the operator on a terminal.
type PromptConfirmer struct {
	In  io.Reader
	Out io.Writer
}

// ConfirmBump prints the plan and reads "minor", "patch" or anything else to decline.
func (c *PromptConfirmer) ConfirmBump(_ context.Context, plan *Plan) (release.BumpKind, error) {
	in := c.In
	if in == nil {
		in = os.Stdin
	}

	PrintPlan(c.Out, plan)

	_, _ = fmt.Fprint(c.Out, "The bump is ambiguous. Release as [minor/patch/N]? ")

	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read answer: %w", err)
	}

	kind, err := release.ParseBumpKind(strings.TrimSpace(line))
	if err != nil {
		return "", ErrDeclined
	}

	return kind, nil
}
