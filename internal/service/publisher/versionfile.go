package publisher

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
)

// ErrVersionNotFound is returned when the version file does not contain a version.
var ErrVersionNotFound = errors.New("version not found in version file")

// VersionFile is the single canonical location of the application version.
type VersionFile struct {
	path    string
	pattern *regexp.Regexp
}

// NewVersionFile binds path to a pattern whose first group captures the
// version. An empty pattern means the whole trimmed file is the version.
func NewVersionFile(path, pattern string) (*VersionFile, error) {
	f := &VersionFile{path: filepath.Clean(path)}

	if pattern == "" {
		return f, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("compile version pattern: %w", err)
	}

	if re.NumSubexp() < 1 {
		return nil, fmt.Errorf("version pattern %q has no capture group", pattern)
	}

	f.pattern = re

	return f, nil
}

// Path returns the file location.
func (f *VersionFile) Path() string {
	return f.path
}

// Read returns the version stored in the file.
func (f *VersionFile) Read() (release.Version, error) {
	contents, err := os.ReadFile(f.path)
	if err != nil {
		return release.Version{}, fmt.Errorf("read version file: %w", err)
	}

	raw, _, _, err := f.locate(contents)
	if err != nil {
		return release.Version{}, err
	}

	v, err := release.ParseVersion(raw)
	if err != nil {
		return release.Version{}, fmt.Errorf("%s: %w", f.path, err)
	}

	return v, nil
}

// Write replaces the stored version and leaves the rest of the file untouched.
func (f *VersionFile) Write(v release.Version) error {
	info, err := os.Stat(f.path)
	if err != nil {
		return fmt.Errorf("stat version file: %w", err)
	}

	contents, err := os.ReadFile(f.path)
	if err != nil {
		return fmt.Errorf("read version file: %w", err)
	}

	_, start, end, err := f.locate(contents)
	if err != nil {
		return err
	}

	var updated []byte

	if f.pattern == nil {
		updated = []byte(v.String() + "\n")
	} else {
		updated = make([]byte, 0, len(contents))
		updated = append(updated, contents[:start]...)
		updated = append(updated, v.String()...)
		updated = append(updated, contents[end:]...)
	}

	if err = os.WriteFile(f.path, updated, info.Mode().Perm()); err != nil {
		return fmt.Errorf("write version file: %w", err)
	}

	return nil
}

// locate returns the version text and its byte span.
func (f *VersionFile) locate(contents []byte) (string, int, int, error) {
	if f.pattern == nil {
		raw := strings.TrimSpace(string(contents))
		if raw == "" {
			return "", 0, 0, fmt.Errorf("%s: %w", f.path, ErrVersionNotFound)
		}

		return raw, 0, len(contents), nil
	}

	loc := f.pattern.FindSubmatchIndex(contents)
	if loc == nil || loc[2] < 0 {
		return "", 0, 0, fmt.Errorf("%s: %w", f.path, ErrVersionNotFound)
	}

	return string(contents[loc[2]:loc[3]]), loc[2], loc[3], nil
}
