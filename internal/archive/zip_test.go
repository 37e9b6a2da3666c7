package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()

	for name, body := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
}

// TestCreateZip_Deterministic packages the same tree twice and gets identical bytes.
func TestCreateZip_Deterministic(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{
		"SteamShelf.exe":     "binary",
		"lib/core.dll":       "core",
		"assets/icon.png":    "png",
		".git/HEAD":          "ref",
		".github/ci.yml":     "ci",
		"assets/.gitkeep":    "",
		"docs/.github-notes": "kept",
	})

	out := t.TempDir()
	first := filepath.Join(out, "a.zip")
	second := filepath.Join(out, "b.zip")

	require.NoError(t, CreateZip(src, first))
	require.NoError(t, os.Chtimes(filepath.Join(src, "lib", "core.dll"), fixedModTime.AddDate(3, 0, 0), fixedModTime.AddDate(3, 0, 0)))
	require.NoError(t, CreateZip(src, second))

	a, err := os.ReadFile(first)
	require.NoError(t, err)
	b, err := os.ReadFile(second)
	require.NoError(t, err)
	require.True(t, bytes.Equal(a, b))

	reader, err := zip.OpenReader(first)
	require.NoError(t, err)

	defer func() {
		_ = reader.Close()
	}()

	names := make([]string, 0, len(reader.File))
	for _, f := range reader.File {
		names = append(names, f.Name)
	}

	require.Equal(t, []string{
		"SteamShelf.exe",
		"assets/.gitkeep",
		"assets/icon.png",
		"docs/.github-notes",
		"lib/core.dll",
	}, names)
}

// TestCreateZip_SingleFile packages a lone build output.
func TestCreateZip_SingleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	src := filepath.Join(dir, "SteamShelf")
	require.NoError(t, os.WriteFile(src, []byte("elf"), 0o755))

	target := filepath.Join(dir, "dist", "pkg.zip")
	require.NoError(t, CreateZip(src, target))

	dest := t.TempDir()
	files, err := Extract(target, dest)
	require.NoError(t, err)
	require.Equal(t, []string{"SteamShelf"}, files)

	info, err := os.Stat(filepath.Join(dest, "SteamShelf"))
	require.NoError(t, err)
	require.NotZero(t, info.Mode().Perm()&0o100)
}

// TestCreateZip_Empty refuses to package an empty directory.
func TestCreateZip_Empty(t *testing.T) {
	t.Parallel()

	err := CreateZip(t.TempDir(), filepath.Join(t.TempDir(), "x.zip"))
	require.ErrorIs(t, err, ErrEmptySource)
}

// TestExtract_Roundtrip restores every packaged file.
func TestExtract_Roundtrip(t *testing.T) {
	t.Parallel()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "A", "nested/b.txt": "B"})

	target := filepath.Join(t.TempDir(), "pkg.zip")
	require.NoError(t, CreateZip(src, target))

	dest := t.TempDir()
	files, err := Extract(target, dest)
	require.NoError(t, err)
	require.Equal(t, []string{"a.txt", "nested/b.txt"}, files)

	data, err := os.ReadFile(filepath.Join(dest, "nested", "b.txt"))
	require.NoError(t, err)
	require.Equal(t, "B", string(data))
}

// TestExtract_ZipSlip rejects entries that escape the destination.
func TestExtract_ZipSlip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"../evil.txt", "a/../../evil.txt", "/etc/evil", "..\\evil.txt"} {
		target := filepath.Join(t.TempDir(), "evil.zip")

		var buf bytes.Buffer
		w := zip.NewWriter(&buf)
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write([]byte("x"))
		require.NoError(t, err)
		require.NoError(t, w.Close())
		require.NoError(t, os.WriteFile(target, buf.Bytes(), 0o644))

		dest := filepath.Join(t.TempDir(), "stage")
		_, err = Extract(target, dest)
		require.ErrorIs(t, err, ErrUnsafePath, name)

		_, err = os.Stat(filepath.Join(filepath.Dir(dest), "evil.txt"))
		require.True(t, os.IsNotExist(err))
	}
}
