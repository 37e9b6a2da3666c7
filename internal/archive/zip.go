package archive

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// ExcludePaths contains top-level paths that are never packaged.
var ExcludePaths = []string{
	".git",
	".github",
}

var (
	// ErrUnsafePath is returned for archive entries escaping the destination.
	ErrUnsafePath = errors.New("unsafe path in archive")
	// ErrEmptySource is returned when there is nothing to package.
	ErrEmptySource = errors.New("nothing to package")
)

// fixedModTime is stamped on every entry so equal inputs give equal archives.
var fixedModTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// CreateZip packages source (a directory or a single file) into target.
// Entries are sorted and carry fixed timestamps and normalized modes, so the
// same tree always produces byte-identical archives. The archive is written
// to a temporary file and renamed into place.
func CreateZip(source, target string) (err error) {
	entries, err := collect(source)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		return fmt.Errorf("%s: %w", source, ErrEmptySource)
	}

	if err = os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), "."+filepath.Base(target)+".*")
	if err != nil {
		return fmt.Errorf("failed to create zip file: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	writer := zip.NewWriter(tmp)

	for _, e := range entries {
		if err = addFile(writer, e); err != nil {
			return err
		}
	}

	if err = writer.Close(); err != nil {
		return fmt.Errorf("finish zip: %w", err)
	}

	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync zip: %w", err)
	}

	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}

	if err = os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("move zip into place: %w", err)
	}

	return nil
}

type entry struct {
	// name is the slash-separated archive path.
	name string
	// path is the file on disk.
	path string
	// mode is the source file mode.
	mode fs.FileMode
}

func collect(source string) ([]entry, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("stat source: %w", err)
	}

	if !info.IsDir() {
		return []entry{{name: filepath.Base(source), path: source, mode: info.Mode()}}, nil
	}

	var entries []entry

	err = filepath.WalkDir(source, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(source, p)
		if err != nil {
			return err
		}

		if rel != "." && shouldExclude(filepath.ToSlash(rel)) {
			if d.IsDir() {
				return fs.SkipDir
			}

			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return err
		}

		entries = append(entries, entry{name: filepath.ToSlash(rel), path: p, mode: fi.Mode()})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk source: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	return entries, nil
}

func addFile(writer *zip.Writer, e entry) error {
	header := &zip.FileHeader{
		Name:     e.name,
		Method:   zip.Deflate,
		Modified: fixedModTime,
	}

	// Only the executable bit survives.
	if e.mode&0o111 != 0 {
		header.SetMode(0o755)
	} else {
		header.SetMode(0o644)
	}

	w, err := writer.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("failed to create file in zip: %w", err)
	}

	src, err := os.Open(e.path)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}

	defer func() {
		_ = src.Close()
	}()

	if _, err = io.Copy(w, src); err != nil {
		return fmt.Errorf("failed to copy file contents: %w", err)
	}

	return nil
}

// shouldExclude checks if a path should be excluded from the zip file.
func shouldExclude(rel string) bool {
	for _, exclude := range ExcludePaths {
		if rel == exclude || strings.HasPrefix(rel, exclude+"/") {
			return true
		}
	}

	return false
}

// Extract unpacks the zip archive src into dest and returns the extracted
// file names, slash-separated and relative to dest. Entries with absolute
// paths or paths leaving dest abort the extraction with ErrUnsafePath.
func Extract(src, dest string) ([]string, error) {
	reader, err := zip.OpenReader(src)
	if errors.Is(err, zip.ErrInsecurePath) {
		_ = reader.Close()

		return nil, fmt.Errorf("%w: %w", ErrUnsafePath, err)
	}

	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	defer func() {
		_ = reader.Close()
	}()

	var files []string

	for _, f := range reader.File {
		rel, err := safeName(f.Name)
		if err != nil {
			return files, err
		}

		target := filepath.Join(dest, filepath.FromSlash(rel))

		if f.FileInfo().IsDir() {
			if err = os.MkdirAll(target, 0o755); err != nil {
				return files, fmt.Errorf("create directory: %w", err)
			}

			continue
		}

		if !f.Mode().IsRegular() {
			continue
		}

		if err = extractFile(f, target); err != nil {
			return files, err
		}

		files = append(files, rel)
	}

	return files, nil
}

func safeName(name string) (string, error) {
	if name == "" || strings.Contains(name, "\\") || path.IsAbs(name) || filepath.IsAbs(name) || filepath.VolumeName(name) != "" {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	rel := path.Clean(name)
	if rel == ".." || strings.HasPrefix(rel, "../") {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}

	return rel, nil
}

func extractFile(f *zip.File, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", f.Name, err)
	}

	defer func() {
		_ = rc.Close()
	}()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, f.Mode().Perm()|0o600)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}

	if _, err = io.Copy(out, rc); err != nil {
		_ = out.Close()

		return fmt.Errorf("extract %s: %w", f.Name, err)
	}

	if err = out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", f.Name, err)
	}

	return nil
}
