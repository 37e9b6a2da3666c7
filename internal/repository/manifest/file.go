package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/dtq1997/steamshelf-updater/internal/domain/release"
	"github.com/dtq1997/steamshelf-updater/internal/fileutil"
)

// filePermissions applies to published manifests, which are world-readable.
const filePermissions = 0o644

// ErrNotFound is returned when no manifest has been published at the path yet.
var ErrNotFound = errors.New("manifest not found")

// Repository defines persistence operations for a published manifest.
type Repository interface {
	Load(ctx context.Context) (*release.Manifest, error)
	Save(ctx context.Context, m *release.Manifest) error
}

// FileRepository keeps a manifest in a single file that is replaced atomically on Save.
type FileRepository struct {
	// path is the filesystem location of the manifest.
	path string
	// mu serializes writers within the process.
	mu sync.Mutex
}

// NewFileRepository creates a repository for the manifest at path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Path returns the manifest location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads and validates the manifest.
func (r *FileRepository) Load(_ context.Context) (*release.Manifest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return Decode(contents)
}

// Save encodes m and swaps it into place.
func (r *FileRepository) Save(_ context.Context, m *release.Manifest) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := Encode(m)
	if err != nil {
		return err
	}

	if err = fileutil.WriteAtomic(r.path, data, filePermissions); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}

	return nil
}
