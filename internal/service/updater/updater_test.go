package updater

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mitchellh/go-ps"
	"github.com/stretchr/testify/require"

	"github.com/dtq1997/steamshelf-updater/internal/archive"
	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/fileutil"
	"github.com/dtq1997/steamshelf-updater/internal/mirror"
)

type fakeProcess struct {
	pid  int
	name string
}

func (p fakeProcess) Pid() int           { return p.pid }
func (p fakeProcess) PPid() int          { return 1 }
func (p fakeProcess) Executable() string { return p.name }

func noProcesses() ([]ps.Process, error) {
	return nil, nil
}

// buildPackage zips files and returns the archive bytes and its digest.
func buildPackage(t *testing.T, files map[string]string) ([]byte, string) {
	t.Helper()

	src := t.TempDir()
	for name, body := range files {
		p := filepath.Join(src, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o755))
	}

	target := filepath.Join(t.TempDir(), "SteamShelf-5.8.0-linux.zip")
	require.NoError(t, archive.CreateZip(src, target))

	digest, _, err := fileutil.SHA256File(target)
	require.NoError(t, err)

	data, err := os.ReadFile(target)
	require.NoError(t, err)

	return data, digest
}

func serve(t *testing.T, data []byte) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/missing") {
			http.NotFound(w, r)
			return
		}

		_, _ = w.Write(data)
	}))
	t.Cleanup(srv.Close)

	return srv
}

func manifestFor(urls []string, digest string) *release.Manifest {
	return &release.Manifest{
		Version:      "5.8.0",
		DownloadURLs: release.DownloadURLs{ByPlatform: map[release.Platform][]string{release.PlatformLinux: urls}},
		Artifacts: map[release.Platform]release.Artifact{
			release.PlatformLinux: {Name: "SteamShelf-5.8.0-linux.zip", SHA256: digest},
		},
	}
}

func newUpdater(t *testing.T, installDir string, mutate ...func(*Options)) *Updater {
	t.Helper()

	opts := Options{
		InstallDir: installDir,
		Platform:   release.PlatformLinux,
		UserAgent:  "SteamShelf/5.7.2",
		Processes:  noProcesses,
	}

	for _, m := range mutate {
		m(&opts)
	}

	u, err := New(opts)
	require.NoError(t, err)

	return u
}

func workFiles(t *testing.T, u *Updater) []string {
	t.Helper()

	entries, err := os.ReadDir(u.workDir())
	if os.IsNotExist(err) {
		return nil
	}

	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}

	return names
}

// TestDownload_FallsBackAndReportsProgress skips a failing URL and reports byte progress.
func TestDownload_FallsBackAndReportsProgress(t *testing.T) {
	t.Parallel()

	data, digest := buildPackage(t, map[string]string{"SteamShelf": "new"})
	srv := serve(t, data)
	u := newUpdater(t, t.TempDir())

	var last Progress

	d, err := u.Download(context.Background(),
		manifestFor([]string{srv.URL + "/missing/pkg.zip", srv.URL + "/ok/pkg.zip"}, digest),
		func(p Progress) { last = p })
	require.NoError(t, err)

	require.Equal(t, srv.URL+"/ok/pkg.zip", d.URL)
	require.Equal(t, release.MustParseVersion("5.8.0"), d.Version)
	require.Equal(t, int64(len(data)), last.Downloaded)
	require.Equal(t, int64(len(data)), last.Total)

	got, _, err := fileutil.SHA256File(d.Path)
	require.NoError(t, err)
	require.Equal(t, digest, got)

	require.NoError(t, d.Remove())
	require.Empty(t, workFiles(t, u))
}

// TestDownload_IntegrityMismatch rejects a corrupted artifact and leaves nothing behind.
func TestDownload_IntegrityMismatch(t *testing.T) {
	t.Parallel()

	data, _ := buildPackage(t, map[string]string{"SteamShelf": "new"})
	srv := serve(t, data)
	u := newUpdater(t, t.TempDir())

	_, err := u.Download(context.Background(), manifestFor([]string{srv.URL + "/pkg.zip"}, strings.Repeat("0", 64)), nil)
	require.ErrorIs(t, err, ErrIntegrity)
	require.ErrorIs(t, err, mirror.ErrExhausted)
	require.Empty(t, workFiles(t, u))
}

// TestDownload_RequiresChecksumAndURLs fails before any request.
func TestDownload_RequiresChecksumAndURLs(t *testing.T) {
	t.Parallel()

	u := newUpdater(t, t.TempDir())

	_, err := u.Download(context.Background(), manifestFor([]string{"http://127.0.0.1:1/pkg.zip"}, ""), nil)
	require.ErrorIs(t, err, ErrIntegrity)

	_, err = u.Download(context.Background(), &release.Manifest{Version: "5.8.0"}, nil)
	require.ErrorIs(t, err, ErrNoArtifact)
}

// TestDownload_Stalled moves on when a mirror stops sending data.
func TestDownload_Stalled(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	u := newUpdater(t, t.TempDir(), func(o *Options) { o.Timeout = 50 * time.Millisecond })

	started := time.Now()
	_, err := u.Download(context.Background(), manifestFor([]string{srv.URL + "/pkg.zip"}, strings.Repeat("a", 64)), nil)
	require.ErrorIs(t, err, errStalled)
	require.Less(t, time.Since(started), 5*time.Second)
	require.Empty(t, workFiles(t, u))
}

// TestJob_Cancel stops a download and leaves the installation untouched.
func TestJob_Cancel(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	install := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(install, "SteamShelf"), []byte("old"), 0o755))

	u := newUpdater(t, install)
	job := u.StartJob(context.Background(), manifestFor([]string{srv.URL + "/pkg.zip"}, strings.Repeat("a", 64)))

	<-job.Progress()
	job.Cancel()
	job.Cancel()

	_, err := job.Wait()
	require.ErrorIs(t, err, context.Canceled)
	require.Empty(t, workFiles(t, u))

	data, err := os.ReadFile(filepath.Join(install, "SteamShelf"))
	require.NoError(t, err)
	require.Equal(t, "old", string(data))
}

// TestJobStageApplyCleanup runs the whole user-initiated flow.
func TestJobStageApplyCleanup(t *testing.T) {
	t.Parallel()

	data, digest := buildPackage(t, map[string]string{
		"SteamShelf": "new binary",
		"lib/a.txt":  "new a",
		"lib/b.txt":  "brand new",
	})
	srv := serve(t, data)

	install := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(install, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(install, "SteamShelf"), []byte("old binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(install, "lib", "a.txt"), []byte("old a"), 0o644))

	u := newUpdater(t, install)
	job := u.StartJob(context.Background(), manifestFor([]string{srv.URL + "/pkg.zip"}, digest))

	for range job.Progress() {
	}

	staged, err := job.Wait()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"SteamShelf", "lib/a.txt", "lib/b.txt"}, staged.Files)

	// Nothing is installed before Apply.
	current, err := os.ReadFile(filepath.Join(install, "SteamShelf"))
	require.NoError(t, err)
	require.Equal(t, "old binary", string(current))

	require.NoError(t, u.Apply(context.Background(), staged))
	require.NoError(t, staged.Discard())

	for name, want := range map[string]string{
		"SteamShelf":     "new binary",
		"SteamShelf.old": "old binary",
		"lib/a.txt":      "new a",
		"lib/b.txt":      "brand new",
	} {
		got, err := os.ReadFile(filepath.Join(install, filepath.FromSlash(name)))
		require.NoError(t, err, name)
		require.Equal(t, want, string(got), name)
	}

	removed, err := Cleanup(context.Background(), install)
	require.NoError(t, err)
	require.GreaterOrEqual(t, removed, 2)

	_, err = os.Stat(filepath.Join(install, "SteamShelf.old"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(install, WorkDirName))
	require.True(t, os.IsNotExist(err))
}

// TestApply_RefusesWhileRunning keeps files in place while the application runs.
func TestApply_RefusesWhileRunning(t *testing.T) {
	t.Parallel()

	install := t.TempDir()
	u := newUpdater(t, install, func(o *Options) {
		o.Executable = "SteamShelf.exe"
		o.Processes = func() ([]ps.Process, error) {
			return []ps.Process{fakeProcess{pid: 999999, name: "steamshelf.EXE"}}, nil
		}
	})

	err := u.Apply(context.Background(), &Staged{Dir: t.TempDir(), Files: []string{"SteamShelf.exe"}})
	require.ErrorIs(t, err, ErrAppRunning)
}

// TestApply_RollsBack restores replaced files when a later file fails.
func TestApply_RollsBack(t *testing.T) {
	t.Parallel()

	install := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(install, "SteamShelf"), []byte("old binary"), 0o755))

	stagingDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "SteamShelf"), []byte("new binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "added.txt"), []byte("added"), 0o644))

	u := newUpdater(t, install)

	err := u.Apply(context.Background(), &Staged{
		Dir:   stagingDir,
		Files: []string{"SteamShelf", "added.txt", "vanished.txt"},
	})
	require.Error(t, err)

	data, err := os.ReadFile(filepath.Join(install, "SteamShelf"))
	require.NoError(t, err)
	require.Equal(t, "old binary", string(data))

	for _, name := range []string{"SteamShelf.old", "added.txt", "added.txt.old", "vanished.txt"} {
		_, err = os.Stat(filepath.Join(install, name))
		require.True(t, os.IsNotExist(err), name)
	}
}

// signer produces minisign keys and signatures for tests.
type signer struct {
	keyID   [8]byte
	public  ed25519.PublicKey
	private ed25519.PrivateKey
}

func newSigner(t *testing.T) *signer {
	t.Helper()

	public, private, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	s := &signer{public: public, private: private}
	_, err = rand.Read(s.keyID[:])
	require.NoError(t, err)

	return s
}

func (s *signer) publicKey() string {
	bin := append([]byte("Ed"), s.keyID[:]...)
	bin = append(bin, s.public...)

	return "untrusted comment: minisign public key\n" + base64.StdEncoding.EncodeToString(bin) + "\n"
}

func (s *signer) sign(data []byte) string {
	sig := ed25519.Sign(s.private, data)

	bin := append([]byte("Ed"), s.keyID[:]...)
	bin = append(bin, sig...)

	trusted := "SteamShelf-5.8.0-linux.zip"
	global := ed25519.Sign(s.private, append(append([]byte{}, sig...), trusted...))

	return "untrusted comment: signature from minisign secret key\n" +
		base64.StdEncoding.EncodeToString(bin) + "\n" +
		"trusted comment: " + trusted + "\n" +
		base64.StdEncoding.EncodeToString(global) + "\n"
}

// TestDownload_Signature requires a valid minisign signature once a key is configured.
func TestDownload_Signature(t *testing.T) {
	t.Parallel()

	data, digest := buildPackage(t, map[string]string{"SteamShelf": "new"})
	srv := serve(t, data)
	keys := newSigner(t)

	u := newUpdater(t, t.TempDir(), func(o *Options) { o.PublicKey = keys.publicKey() })
	m := manifestFor([]string{srv.URL + "/pkg.zip"}, digest)

	_, err := u.Download(context.Background(), m, nil)
	require.ErrorIs(t, err, ErrIntegrity)

	artifact := m.Artifacts[release.PlatformLinux]
	artifact.Signature = keys.sign([]byte("something else"))
	m.Artifacts[release.PlatformLinux] = artifact

	_, err = u.Download(context.Background(), m, nil)
	require.ErrorIs(t, err, ErrIntegrity)

	artifact.Signature = keys.sign(data)
	m.Artifacts[release.PlatformLinux] = artifact

	d, err := u.Download(context.Background(), m, nil)
	require.NoError(t, err)
	require.NoError(t, d.Remove())
}

// TestNew_RejectsBadPublicKey fails fast on an unusable key.
func TestNew_RejectsBadPublicKey(t *testing.T) {
	t.Parallel()

	_, err := New(Options{InstallDir: t.TempDir(), PublicKey: "not-a-key"})
	require.ErrorIs(t, err, errInvalidPublicKey)
}
