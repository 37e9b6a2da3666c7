package publisher

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

const versionPattern = `__version__\s*=\s*"([^"]*)"`

var baseTime = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type fakePusher struct {
	err    error
	remote string
	refs   []plumbing.ReferenceName
}

func (f *fakePusher) Push(_ context.Context, remote string, refs ...plumbing.ReferenceName) error {
	f.remote = remote
	f.refs = refs

	return f.err
}

type testRepo struct {
	dir   string
	repo  *git.Repository
	clock time.Time
}

// newTestRepo creates a repository released as v5.7.2.
func newTestRepo(t *testing.T) *testRepo {
	t.Helper()

	dir := t.TempDir()

	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)

	r := &testRepo{dir: dir, repo: repo, clock: baseTime}
	r.write(t, "updater.py", "import sys\n\n__version__ = \"5.7.2\"\n\nUPDATE_SOURCES = []\n")
	r.write(t, "README.md", "SteamShelf\n")
	hash := r.commit(t, "release: v5.7.2", "updater.py", "README.md")

	_, err = repo.CreateTag("v5.7.2", hash, &git.CreateTagOptions{
		Tagger:  r.signature(),
		Message: "- previous release",
	})
	require.NoError(t, err)

	return r
}

func (r *testRepo) signature() *object.Signature {
	r.clock = r.clock.Add(time.Minute)

	return &object.Signature{Name: "Dev", Email: "dev@example.com", When: r.clock}
}

func (r *testRepo) write(t *testing.T, name, body string) {
	t.Helper()

	p := filepath.Join(r.dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
}

func (r *testRepo) commit(t *testing.T, message string, files ...string) plumbing.Hash {
	t.Helper()

	worktree, err := r.repo.Worktree()
	require.NoError(t, err)

	for _, f := range files {
		_, err = worktree.Add(f)
		require.NoError(t, err)
	}

	sig := r.signature()

	hash, err := worktree.Commit(message, &git.CommitOptions{Author: sig, Committer: sig})
	require.NoError(t, err)

	return hash
}

// change commits a new file with the given subject.
func (r *testRepo) change(t *testing.T, subject string) {
	t.Helper()

	name := "src/" + strings.NewReplacer(" ", "_", ":", "", "(", "", ")", "", "!", "").Replace(subject) + ".txt"
	r.write(t, name, subject)
	r.commit(t, subject, name)
}

func (r *testRepo) open(t *testing.T, mutate ...func(*Options)) (*Publisher, *fakePusher) {
	t.Helper()

	pusher := new(fakePusher)
	opts := Options{
		RepoPath:       r.dir,
		VersionFile:    "updater.py",
		VersionPattern: versionPattern,
		Pusher:         pusher,
		Now:            func() time.Time { return baseTime.Add(24 * time.Hour) },
	}

	for _, m := range mutate {
		m(&opts)
	}

	p, err := Open(opts)
	require.NoError(t, err)

	return p, pusher
}

func (r *testRepo) readVersion(t *testing.T) string {
	t.Helper()

	f, err := NewVersionFile(filepath.Join(r.dir, "updater.py"), versionPattern)
	require.NoError(t, err)

	v, err := f.Read()
	require.NoError(t, err)

	return v.String()
}

// TestClassify maps conventional commit types to bumps.
func TestClassify(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		subjects []string
		want     release.BumpKind
		ok       bool
	}{
		{name: "features", subjects: []string{"feat(ui): grid view", "fix: crash"}, want: release.BumpMinor, ok: true},
		{name: "perf", subjects: []string{"perf: faster scan"}, want: release.BumpMinor, ok: true},
		{name: "refactor", subjects: []string{"refactor(sync)!: x"}, ok: false},
		{name: "maintenance", subjects: []string{"fix: a", "docs: b", "chore: c", "test: d"}, want: release.BumpPatch, ok: true},
		{name: "unknown type", subjects: []string{"feat: a", "style: b"}, ok: false},
		{name: "free text", subjects: []string{"update stuff"}, ok: false},
		{name: "empty", subjects: nil, ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, reason, ok := Classify(tt.subjects)
			require.Equal(t, tt.ok, ok, reason)
			require.Equal(t, tt.want, got)
			require.NotEmpty(t, reason)
		})
	}
}

// TestSummarize keeps the changelog between three and five lines.
func TestSummarize(t *testing.T) {
	t.Parallel()

	require.Equal(t, "- a\n- b\n- c", Summarize([]string{"a", "b", "c"}))

	long := Summarize([]string{"a", "b", "c", "d", "e", "f", "g"})
	lines := strings.Split(long, "\n")
	require.Len(t, lines, 5)
	require.Equal(t, "- d", lines[3])
	require.Equal(t, "... and 3 more changes", lines[4])

	require.NotEmpty(t, Summarize(nil))
}

// TestVersionFile reads and rewrites only the version.
func TestVersionFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	py := filepath.Join(dir, "updater.py")
	require.NoError(t, os.WriteFile(py, []byte("x = 1\n__version__ = \"5.7.2\"\ny = 2\n"), 0o644))

	f, err := NewVersionFile(py, versionPattern)
	require.NoError(t, err)

	v, err := f.Read()
	require.NoError(t, err)
	require.Equal(t, "5.7.2", v.String())

	require.NoError(t, f.Write(release.MustParseVersion("5.8.0")))

	data, err := os.ReadFile(py)
	require.NoError(t, err)
	require.Equal(t, "x = 1\n__version__ = \"5.8.0\"\ny = 2\n", string(data))

	plain := filepath.Join(dir, "VERSION")
	require.NoError(t, os.WriteFile(plain, []byte("1.2.3\n"), 0o644))

	f, err = NewVersionFile(plain, "")
	require.NoError(t, err)
	require.NoError(t, f.Write(release.MustParseVersion("1.3.0")))

	v, err = f.Read()
	require.NoError(t, err)
	require.Equal(t, "1.3.0", v.String())

	missing := filepath.Join(dir, "other.py")
	require.NoError(t, os.WriteFile(missing, []byte("print()\n"), 0o644))

	f, err = NewVersionFile(missing, versionPattern)
	require.NoError(t, err)

	_, err = f.Read()
	require.ErrorIs(t, err, ErrVersionNotFound)

	_, err = NewVersionFile(missing, `__version__`)
	require.Error(t, err)
}

// TestPublish_FeatureRelease bumps minor, commits, tags and pushes.
func TestPublish_FeatureRelease(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.change(t, "feat(ui): library grid view")
	r.change(t, "feat(sync): merge cloud collections")
	r.change(t, "fix: crash on empty shelf")

	p, pusher := r.open(t)

	plan, err := p.Plan(context.Background())
	require.NoError(t, err)
	require.Equal(t, DecisionClassified, plan.Decision)
	require.Equal(t, "v5.7.2", plan.PreviousTag)
	require.Equal(t, "5.8.0", plan.Next.String())
	require.Equal(t, []string{
		"feat(ui): library grid view",
		"feat(sync): merge cloud collections",
		"fix: crash on empty shelf",
	}, plan.Subjects)

	// Planning has no side effects.
	require.Equal(t, "5.7.2", r.readVersion(t))

	res, err := p.Publish(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v5.8.0", res.Tag)
	require.Equal(t, "5.8.0", r.readVersion(t))

	head, err := r.repo.Head()
	require.NoError(t, err)
	require.Equal(t, res.Commit, head.Hash().String())

	commit, err := r.repo.CommitObject(head.Hash())
	require.NoError(t, err)
	require.Equal(t, "release: v5.8.0", strings.TrimSpace(commit.Message))

	ref, err := r.repo.Tag("v5.8.0")
	require.NoError(t, err)

	tag, err := r.repo.TagObject(ref.Hash())
	require.NoError(t, err)
	require.Equal(t, head.Hash(), tag.Target)
	require.Equal(t, plan.Changelog, strings.TrimSpace(tag.Message))

	require.Equal(t, "origin", pusher.remote)
	require.Equal(t, []plumbing.ReferenceName{"refs/heads/master", "refs/tags/v5.8.0"}, pusher.refs)

	next, err := p.Plan(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v5.8.0", next.PreviousTag)
	require.Empty(t, next.Subjects)
	require.Equal(t, DecisionUndecided, next.Decision)
}

// TestPublish_Ambiguous halts without a confirmer and uses one when present.
func TestPublish_Ambiguous(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.change(t, "update stuff")

	p, pusher := r.open(t)

	_, err := p.Publish(context.Background())
	require.ErrorIs(t, err, ErrAmbiguousBump)
	require.Equal(t, "5.7.2", r.readVersion(t))
	require.Nil(t, pusher.refs)

	declined, _ := r.open(t, func(o *Options) {
		o.Confirmer = ConfirmerFunc(func(context.Context, *Plan) (release.BumpKind, error) {
			return "", ErrDeclined
		})
	})

	_, err = declined.Publish(context.Background())
	require.ErrorIs(t, err, ErrDeclined)

	confirmed, _ := r.open(t, func(o *Options) {
		o.Confirmer = ConfirmerFunc(func(_ context.Context, plan *Plan) (release.BumpKind, error) {
			require.Equal(t, DecisionUndecided, plan.Decision)
			return release.BumpPatch, nil
		})
	})

	res, err := confirmed.Publish(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v5.7.3", res.Tag)
	require.Equal(t, DecisionConfirmed, res.Plan.Decision)
}

// TestPublish_ExplicitBump overrides the history.
func TestPublish_ExplicitBump(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.change(t, "feat: big thing")

	p, _ := r.open(t, func(o *Options) { o.Bump = release.BumpPatch })

	res, err := p.Publish(context.Background())
	require.NoError(t, err)
	require.Equal(t, "v5.7.3", res.Tag)
	require.Equal(t, DecisionExplicit, res.Plan.Decision)
}

// TestPublish_DirtyWorktree refuses unrelated uncommitted changes.
func TestPublish_DirtyWorktree(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.change(t, "feat: something")
	r.write(t, "README.md", "edited\n")
	r.write(t, "notes.txt", "untracked files are fine\n")

	p, _ := r.open(t)

	_, err := p.Publish(context.Background())
	require.ErrorIs(t, err, ErrDirtyWorktree)
	require.Contains(t, err.Error(), "README.md")
	require.Equal(t, "5.7.2", r.readVersion(t))
}

// TestPublish_DirtyVersionFile refuses uncommitted edits in the version file itself.
func TestPublish_DirtyVersionFile(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.change(t, "feat: something")
	r.write(t, "updater.py", "import sys\n\n__version__ = \"5.7.2\"\n\nUPDATE_SOURCES = [\"https://other.example/version.json\"]\n")

	p, pusher := r.open(t, func(o *Options) { o.Bump = release.BumpMinor })

	_, err := p.Publish(context.Background())
	require.ErrorIs(t, err, ErrDirtyWorktree)
	require.Contains(t, err.Error(), "updater.py")
	require.Equal(t, "5.7.2", r.readVersion(t))
	require.Empty(t, pusher.refs)

	_, err = r.repo.Reference(plumbing.NewTagReferenceName("v5.8.0"), false)
	require.ErrorIs(t, err, plumbing.ErrReferenceNotFound)
}

// TestPublish_TagAndVersionConflicts rejects existing tags and non-increasing versions.
func TestPublish_TagAndVersionConflicts(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.write(t, "README.md", "parallel scan\n")
	head := r.commit(t, "feat: parallel scan", "README.md")
	r.change(t, "feat: another")

	_, err := r.repo.CreateTag("v5.8.0", head, nil)
	require.NoError(t, err)

	p, _ := r.open(t)

	_, err = p.Publish(context.Background())
	require.ErrorIs(t, err, ErrTagExists)

	other := newTestRepo(t)
	other.write(t, "README.md", "bumped\n")
	tagged := other.commit(t, "chore: bump", "README.md")
	other.change(t, "feat: thing")

	_, err = other.repo.CreateTag("v6.0.0", tagged, nil)
	require.NoError(t, err)

	q, _ := other.open(t)

	_, err = q.Publish(context.Background())
	require.ErrorIs(t, err, ErrVersionNotIncreasing)
}

// TestPublish_PushRejected surfaces the rejection and keeps the local tag.
func TestPublish_PushRejected(t *testing.T) {
	t.Parallel()

	r := newTestRepo(t)
	r.change(t, "fix: typo")

	p, pusher := r.open(t)
	pusher.err = errors.New("non-fast-forward update: refs/heads/master")

	_, err := p.Publish(context.Background())
	require.ErrorIs(t, err, ErrPublishRejected)

	_, err = r.repo.Tag("v5.7.3")
	require.NoError(t, err)
}

// TestGitPusher pushes branch and tag to a bare remote.
func TestGitPusher(t *testing.T) {
	t.Parallel()

	if _, err := exec.LookPath("git-receive-pack"); err != nil {
		t.Skip("git-receive-pack is not installed")
	}

	remoteDir := t.TempDir()

	remote, err := git.PlainInit(remoteDir, true)
	require.NoError(t, err)

	r := newTestRepo(t)
	r.change(t, "feat: remote release")

	_, err = r.repo.CreateRemote(&config.RemoteConfig{Name: "origin", URLs: []string{remoteDir}})
	require.NoError(t, err)

	p, err := Open(Options{
		RepoPath:       r.dir,
		VersionFile:    "updater.py",
		VersionPattern: versionPattern,
	})
	require.NoError(t, err)

	res, err := p.Publish(context.Background())
	require.NoError(t, err)

	ref, err := remote.Reference(plumbing.NewTagReferenceName(res.Tag), false)
	require.NoError(t, err)
	require.False(t, ref.Hash().IsZero())
}

// TestPromptConfirmer reads the operator's choice.
func TestPromptConfirmer(t *testing.T) {
	t.Parallel()

	plan := &Plan{Current: release.MustParseVersion("5.7.2"), Decision: DecisionUndecided, Changelog: "- x"}

	var out strings.Builder

	kind, err := (&PromptConfirmer{In: strings.NewReader("minor\n"), Out: &out}).ConfirmBump(context.Background(), plan)
	require.NoError(t, err)
	require.Equal(t, release.BumpMinor, kind)
	require.Contains(t, out.String(), "Current version: 5.7.2")

	_, err = (&PromptConfirmer{In: strings.NewReader("n\n"), Out: &out}).ConfirmBump(context.Background(), plan)
	require.ErrorIs(t, err, ErrDeclined)
}

// TestResolveAuthor prefers explicit values, then the repository configuration.
func TestResolveAuthor(t *testing.T) {
	t.Parallel()

	repo, err := git.PlainInit(t.TempDir(), false)
	require.NoError(t, err)

	name, email := resolveAuthor(repo, "Explicit", "explicit@example.com")
	require.Equal(t, "Explicit", name)
	require.Equal(t, "explicit@example.com", email)

	cfg, err := repo.Config()
	require.NoError(t, err)

	cfg.User.Name = "Repo Maintainer"
	cfg.User.Email = "maintainer@example.com"
	require.NoError(t, repo.SetConfig(cfg))

	name, email = resolveAuthor(repo, "", "")
	require.Equal(t, "Repo Maintainer", name)
	require.Equal(t, "maintainer@example.com", email)

	name, _ = resolveAuthor(repo, "Explicit", "")
	require.Equal(t, "Explicit", name)
}
