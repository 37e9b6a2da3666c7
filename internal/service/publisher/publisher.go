package publisher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/logger"
)

var (
	// ErrAmbiguousBump is returned when the bump cannot be decided without the operator.
	ErrAmbiguousBump = errors.New("version bump is ambiguous, choose --minor or --patch")
	// ErrDirtyWorktree is returned when tracked files have uncommitted changes.
	ErrDirtyWorktree = errors.New("working tree has uncommitted changes")
	// ErrVersionNotIncreasing is returned when the new version does not exceed the last release.
	ErrVersionNotIncreasing = errors.New("new version is not greater than the last release")
	// ErrTagExists is returned when the release tag is already present.
	ErrTagExists = errors.New("release tag already exists")
	// ErrPublishRejected is returned when the remote refuses the push.
	ErrPublishRejected = errors.New("push rejected by remote")
	// ErrDeclined is returned when the operator declines an ambiguous release.
	ErrDeclined = errors.New("release declined by operator")

	errDetachedHead = errors.New("HEAD is not on a branch")
)

const (
	defaultRemote      = "origin"
	defaultAuthorName  = "SteamShelf Release"
	defaultAuthorEmail = "release@steamshelf.invalid"
)

// Decision records how the bump was chosen.
type Decision string

const (
	// DecisionExplicit means the operator passed --minor or --patch.
	DecisionExplicit Decision = "explicit"
	// DecisionClassified means the commit history decided it.
	DecisionClassified Decision = "classified"
	// DecisionConfirmed means the operator chose through the Confirmer.
	DecisionConfirmed Decision = "confirmed"
	// DecisionUndecided means a Confirmer is still needed.
	DecisionUndecided Decision = "undecided"
)

// Confirmer resolves an ambiguous bump. Returning ErrDeclined aborts the release.
type Confirmer interface {
	ConfirmBump(ctx context.Context, plan *Plan) (release.BumpKind, error)
}

// ConfirmerFunc adapts a function into a Confirmer.
type ConfirmerFunc func(ctx context.Context, plan *Plan) (release.BumpKind, error)

// ConfirmBump calls f.
func (f ConfirmerFunc) ConfirmBump(ctx context.Context, plan *Plan) (release.BumpKind, error) {
	return f(ctx, plan)
}

// Options configure a Publisher.
type Options struct {
	// RepoPath is the working tree.
	RepoPath string
	// VersionFile is the canonical version file relative to RepoPath.
	VersionFile string
	// VersionPattern captures the version inside VersionFile; empty for a plain file.
	VersionPattern string
	// Remote is the git remote to push to.
	Remote string
	// Bump forces the bump kind; empty to classify the history.
	Bump release.BumpKind
	// Confirmer decides ambiguous bumps; without one they fail with ErrAmbiguousBump.
	Confirmer Confirmer
	// AuthorName and AuthorEmail sign the commit and the tag. Empty values come
	// from the git configuration, then from the local account.
	AuthorName  string
	AuthorEmail string
	// Pusher sends refs to the remote; a go-git push when nil.
	Pusher Pusher
	// Now returns the current time; time.Now when nil.
	Now func() time.Time
}

// Plan is what a release would do.
type Plan struct {
	// Current is the version in the version file.
	Current release.Version
	// Previous is the highest released version; zero without tags.
	Previous release.Version
	// PreviousTag is the tag of Previous.
	PreviousTag string
	// Bump is the chosen bump; empty while undecided.
	Bump release.BumpKind
	// Decision says how Bump was chosen.
	Decision Decision
	// Reason explains the classification.
	Reason string
	// Next is the version to release; zero while undecided.
	Next release.Version
	// Subjects are the commit subjects since PreviousTag, oldest first.
	Subjects []string
	// Changelog is the summarized history.
	Changelog string
	// Branch is the branch being released.
	Branch string
}

// Tag returns the tag the plan creates.
func (p *Plan) Tag() string {
	return p.Next.Tag()
}

// Result describes a published release.
type Result struct {
	// Plan is the executed plan.
	Plan *Plan
	// Commit is the release commit hash.
	Commit string
	// Tag is the created tag.
	Tag string
}

// Publisher releases a new version from a local repository.
type Publisher struct {
	opts    Options
	repo    *git.Repository
	file    *VersionFile
	relFile string
}

// Open opens the repository at opts.RepoPath.
func Open(opts Options) (*Publisher, error) {
	if opts.RepoPath == "" {
		opts.RepoPath = "."
	}

	if opts.Remote == "" {
		opts.Remote = defaultRemote
	}

	if opts.Now == nil {
		opts.Now = time.Now
	}

	repo, err := git.PlainOpen(opts.RepoPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open repo: %w", err)
	}

	opts.AuthorName, opts.AuthorEmail = resolveAuthor(repo, opts.AuthorName, opts.AuthorEmail)

	file, err := NewVersionFile(filepath.Join(opts.RepoPath, opts.VersionFile), opts.VersionPattern)
	if err != nil {
		return nil, err
	}

	if opts.Pusher == nil {
		opts.Pusher = &GitPusher{Repo: repo}
	}

	return &Publisher{
		opts:    opts,
		repo:    repo,
		file:    file,
		relFile: filepath.ToSlash(filepath.Clean(opts.VersionFile)),
	}, nil
}

// Plan computes the release without changing anything.
func (p *Publisher) Plan(ctx context.Context) (*Plan, error) {
	ctx = logger.WithName(ctx, "publisher")

	current, err := p.file.Read()
	if err != nil {
		return nil, err
	}

	head, err := p.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}

	if !head.Name().IsBranch() {
		return nil, errDetachedHead
	}

	previous, previousTag, previousCommit, err := p.latestRelease()
	if err != nil {
		return nil, err
	}

	subjects, err := p.subjectsSince(head.Hash(), previousCommit)
	if err != nil {
		return nil, err
	}

	plan := &Plan{
		Current:     current,
		Previous:    previous,
		PreviousTag: previousTag,
		Subjects:    subjects,
		Changelog:   Summarize(subjects),
		Branch:      head.Name().Short(),
	}

	if p.opts.Bump != "" {
		plan.Bump = p.opts.Bump
		plan.Decision = DecisionExplicit
		plan.Reason = "requested by the operator"
	} else if kind, reason, ok := Classify(subjects); ok {
		plan.Bump = kind
		plan.Decision = DecisionClassified
		plan.Reason = reason
	} else {
		plan.Decision = DecisionUndecided
		plan.Reason = reason
	}

	if plan.Bump != "" {
		if plan.Next, err = current.Bump(plan.Bump); err != nil {
			return nil, err
		}
	}

	logger.InfoKV(ctx, "Release planned",
		"current", current.String(), "previous_tag", previousTag, "commits", len(subjects),
		"bump", plan.Bump, "decision", plan.Decision, "reason", plan.Reason)

	return plan, nil
}

// Publish bumps the version, commits, tags and pushes. Nothing is written
// before every check passed; a rejected push leaves the local commit and
// tag in place for the operator.
func (p *Publisher) Publish(ctx context.Context) (*Result, error) {
	ctx = logger.WithName(ctx, "publisher")

	plan, err := p.Plan(ctx)
	if err != nil {
		return nil, err
	}

	if err = p.decide(ctx, plan); err != nil {
		return nil, err
	}

	if err = p.check(plan); err != nil {
		return nil, err
	}

	worktree, err := p.repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}

	if err = p.file.Write(plan.Next); err != nil {
		return nil, err
	}

	if _, err = worktree.Add(p.relFile); err != nil {
		return nil, fmt.Errorf("stage version file: %w", err)
	}

	signature := p.signature()

	commit, err := worktree.Commit("release: "+plan.Tag(), &git.CommitOptions{
		Author:    signature,
		Committer: signature,
	})
	if err != nil {
		return nil, fmt.Errorf("commit release: %w", err)
	}

	if _, err = p.repo.CreateTag(plan.Tag(), commit, &git.CreateTagOptions{
		Tagger:  signature,
		Message: plan.Changelog,
	}); err != nil {
		return nil, fmt.Errorf("create tag: %w", err)
	}

	logger.InfoKV(ctx, "Release committed and tagged", "tag", plan.Tag(), "commit", commit.String())

	branchRef := plumbing.NewBranchReferenceName(plan.Branch)
	tagRef := plumbing.NewTagReferenceName(plan.Tag())

	if err = p.opts.Pusher.Push(ctx, p.opts.Remote, branchRef, tagRef); err != nil {
		return nil, fmt.Errorf("%w: %w (local commit %s and tag %s were kept)",
			ErrPublishRejected, err, commit.String()[:7], plan.Tag())
	}

	logger.InfoKV(ctx, "Release pushed", "remote", p.opts.Remote, "branch", plan.Branch, "tag", plan.Tag())

	return &Result{Plan: plan, Commit: commit.String(), Tag: plan.Tag()}, nil
}

// decide resolves an undecided bump through the Confirmer.
func (p *Publisher) decide(ctx context.Context, plan *Plan) error {
	if plan.Bump != "" {
		return nil
	}

	if p.opts.Confirmer == nil {
		return fmt.Errorf("%w: %s", ErrAmbiguousBump, plan.Reason)
	}

	kind, err := p.opts.Confirmer.ConfirmBump(ctx, plan)
	if err != nil {
		return err
	}

	if kind, err = release.ParseBumpKind(string(kind)); err != nil {
		return err
	}

	next, err := plan.Current.Bump(kind)
	if err != nil {
		return err
	}

	plan.Bump = kind
	plan.Next = next
	plan.Decision = DecisionConfirmed

	return nil
}

// check enforces the release preconditions.
func (p *Publisher) check(plan *Plan) error {
	if _, err := p.repo.Reference(plumbing.NewTagReferenceName(plan.Tag()), false); err == nil {
		return fmt.Errorf("%w: %s", ErrTagExists, plan.Tag())
	} else if !errors.Is(err, plumbing.ErrReferenceNotFound) {
		return fmt.Errorf("look up tag: %w", err)
	}

	if !plan.Previous.IsZero() && !plan.Previous.Less(plan.Next) {
		return fmt.Errorf("%w: %s <= %s", ErrVersionNotIncreasing, plan.Next, plan.Previous)
	}

	return p.ensureClean()
}

// ensureClean fails when any tracked file changed, the version file included,
// so the release commit carries nothing but the version bump.
// Untracked files are not part of the release and are ignored.
func (p *Publisher) ensureClean() error {
	worktree, err := p.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}

	status, err := worktree.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}

	var dirty []string

	for name, s := range status {
		if s.Staging == git.Untracked && s.Worktree == git.Untracked {
			continue
		}

		if s.Staging != git.Unmodified || s.Worktree != git.Unmodified {
			dirty = append(dirty, name)
		}
	}

	if len(dirty) > 0 {
		return fmt.Errorf("%w: %v", ErrDirtyWorktree, dirty)
	}

	return nil
}

func (p *Publisher) signature() *object.Signature {
	return &object.Signature{
		Name:  p.opts.AuthorName,
		Email: p.opts.AuthorEmail,
		When:  p.opts.Now(),
	}
}
