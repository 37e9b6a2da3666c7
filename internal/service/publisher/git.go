package publisher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

// Pusher sends local references to a remote. Implementations must never force.
type Pusher interface {
	Push(ctx context.Context, remote string, refs ...plumbing.ReferenceName) error
}

// GitPusher pushes with go-git.
type GitPusher struct {
	// Repo is the local repository.
	Repo *git.Repository
	// Auth authenticates against the remote; nil for none.
	Auth transport.AuthMethod
}

// Push sends each reference to the same name on the remote, without force.
func (g *GitPusher) Push(ctx context.Context, remote string, refs ...plumbing.ReferenceName) error {
	specs := make([]config.RefSpec, 0, len(refs))
	for _, ref := range refs {
		specs = append(specs, config.RefSpec(ref.String()+":"+ref.String()))
	}

	err := g.Repo.PushContext(ctx, &git.PushOptions{
		RemoteName: remote,
		RefSpecs:   specs,
		Auth:       g.Auth,
	})
	if err != nil && !errors.Is(err, git.NoErrAlreadyUpToDate) {
		return err
	}

	return nil
}

// latestRelease returns the highest v-prefixed release tag and its commit.
func (p *Publisher) latestRelease() (release.Version, string, plumbing.Hash, error) {
	var (
		best     release.Version
		bestName string
		bestHash plumbing.Hash
		found    bool
	)

	tags, err := p.repo.Tags()
	if err != nil {
		return best, "", bestHash, fmt.Errorf("failed to get tags: %w", err)
	}

	err = tags.ForEach(func(ref *plumbing.Reference) error {
		v, err := release.ParseTag(ref.Name().Short())
		if err != nil {
			// Not a release tag.
			return nil
		}

		if found && !best.Less(v) {
			return nil
		}

		hash, err := p.commitOf(ref)
		if err != nil {
			return err
		}

		best, bestName, bestHash, found = v, ref.Name().Short(), hash, true

		return nil
	})
	if err != nil {
		return best, "", bestHash, err
	}

	return best, bestName, bestHash, nil
}

// commitOf peels annotated tags to their commit.
func (p *Publisher) commitOf(ref *plumbing.Reference) (plumbing.Hash, error) {
	tag, err := p.repo.TagObject(ref.Hash())

	switch {
	case err == nil:
		commit, err := tag.Commit()
		if err != nil {
			return plumbing.ZeroHash, fmt.Errorf("resolve tag %s: %w", ref.Name().Short(), err)
		}

		return commit.Hash, nil
	case errors.Is(err, plumbing.ErrObjectNotFound):
		// Lightweight tag.
		return ref.Hash(), nil
	default:
		return plumbing.ZeroHash, fmt.Errorf("resolve tag %s: %w", ref.Name().Short(), err)
	}
}

// subjectsSince lists the subjects of commits reachable from head but not
// from since, oldest first. Release and merge commits are skipped.
func (p *Publisher) subjectsSince(head, since plumbing.Hash) ([]string, error) {
	released := make(map[plumbing.Hash]struct{})

	if !since.IsZero() {
		if err := p.walk(since, func(c *object.Commit) {
			released[c.Hash] = struct{}{}
		}); err != nil {
			return nil, err
		}
	}

	var commits []*object.Commit

	if err := p.walk(head, func(c *object.Commit) {
		if _, ok := released[c.Hash]; ok {
			return
		}

		commits = append(commits, c)
	}); err != nil {
		return nil, err
	}

	// Log walks newest first.
	slices.Reverse(commits)
	slices.SortStableFunc(commits, func(a, b *object.Commit) int {
		return a.Committer.When.Compare(b.Committer.When)
	})

	subjects := make([]string, 0, len(commits))

	for _, c := range commits {
		subject := subjectOf(c.Message)
		if skipSubject(subject, c.NumParents()) {
			continue
		}

		subjects = append(subjects, subject)
	}

	return subjects, nil
}

func (p *Publisher) walk(from plumbing.Hash, visit func(*object.Commit)) error {
	iter, err := p.repo.Log(&git.LogOptions{From: from})
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	defer iter.Close()

	return iter.ForEach(func(c *object.Commit) error {
		visit(c)
		return nil
	})
}

func subjectOf(message string) string {
	subject, _, _ := strings.Cut(strings.TrimSpace(message), "\n")

	return strings.TrimSpace(subject)
}
