package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

var testDigest = strings.Repeat("ab", 32)

// TestDecode_Valid accepts the minimal manifest and the full published form.
func TestDecode_Valid(t *testing.T) {
	t.Parallel()

	m, err := Decode([]byte(`{"version":"9.9.9"}`))
	require.NoError(t, err)
	require.Equal(t, "9.9.9", m.Version)

	full := `{
		"version": "5.8.0",
		"min_version": "5.0.0",
		"changelog": "- collections sync",
		"published_at": "2026-10-14T10:00:00Z",
		"download_urls": {"win32": ["https://example.com/a.zip"]},
		"artifacts": {"win32": {"name": "a.zip", "sha256": "` + testDigest + `", "size": 12}},
		"extra": true
	}`

	m, err = Decode([]byte(full))
	require.NoError(t, err)
	require.Equal(t, "5.0.0", m.MinVersion)
	require.Equal(t, []string{"https://example.com/a.zip"}, m.URLsFor(release.PlatformWindows))
	require.Equal(t, int64(12), m.Artifacts[release.PlatformWindows].Size)
}

// TestDecode_Malformed rejects every body that cannot drive an update decision.
func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"empty":           ``,
		"not json":        `<html>rate limited</html>`,
		"null":            `null`,
		"array":           `["5.8.0"]`,
		"missing version": `{"changelog":"x"}`,
		"number version":  `{"version":580}`,
		"short version":   `{"version":"5.8"}`,
		"prefixed":        `{"version":"v5.8.0"}`,
		"bad min":         `{"version":"5.8.0","min_version":"latest"}`,
		"bad urls":        `{"version":"5.8.0","download_urls":"https://x"}`,
		"bad digest":      `{"version":"5.8.0","artifacts":{"win32":{"name":"a.zip","sha256":"XYZ"}}}`,
		"trailing":        `{"version":"5.8.0"} {}`,
	}

	for name, body := range cases {
		_, err := Decode([]byte(body))
		require.ErrorIs(t, err, ErrMalformed, name)
	}
}

// TestEncode_RejectsInvalid refuses to produce a manifest clients would drop.
func TestEncode_RejectsInvalid(t *testing.T) {
	t.Parallel()

	_, err := Encode(&release.Manifest{Version: "five"})
	require.ErrorIs(t, err, ErrMalformed)
}

// TestFileRepository_NotFound verifies Load returns ErrNotFound for a missing file.
func TestFileRepository_NotFound(t *testing.T) {
	t.Parallel()

	repo := NewFileRepository(filepath.Join(t.TempDir(), "missing.json"))

	m, err := repo.Load(context.Background())
	require.ErrorIs(t, err, ErrNotFound)
	require.Nil(t, m)
}

// TestFileRepository_SaveLoad ensures Save followed by Load returns the same manifest.
func TestFileRepository_SaveLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "latest", release.ManifestFilename)
	repo := NewFileRepository(path)

	want := &release.Manifest{
		Version:     "5.8.0",
		Changelog:   "- faster library refresh",
		PublishedAt: time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC),
		DownloadURLs: release.DownloadURLs{ByPlatform: map[release.Platform][]string{
			release.PlatformLinux: {"https://example.com/linux.zip"},
		}},
		Artifacts: map[release.Platform]release.Artifact{
			release.PlatformLinux: {Name: "linux.zip", SHA256: testDigest, Size: 3},
		},
	}

	require.NoError(t, repo.Save(context.Background(), want))

	got, err := repo.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Version, got.Version)
	require.True(t, want.PublishedAt.Equal(got.PublishedAt))
	require.Equal(t, want.Artifacts, got.Artifacts)
	require.Equal(t, want.URLsFor(release.PlatformLinux), got.URLsFor(release.PlatformLinux))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(filePermissions), info.Mode().Perm())
}
