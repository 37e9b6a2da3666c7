package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dtq1997/steamshelf-updater/internal/fileutil"
)

// filePermissions restricts the state file to the current user.
const filePermissions = 0o600

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state not found")

// Notification is what the client remembers between sessions.
type Notification struct {
	// DismissedVersion is the release the user chose to ignore.
	DismissedVersion string `yaml:"dismissed_version,omitempty"`
	// LastNotified is the most recent release a notice was shown for.
	LastNotified string `yaml:"last_notified,omitempty"`
	// LastCheck is when a check last resolved.
	LastCheck time.Time `yaml:"last_check,omitempty"`
}

// Repository defines persistence operations for the notification state.
type Repository interface {
	Load(ctx context.Context) (*Notification, error)
	Save(ctx context.Context, n *Notification) error
}

// FileRepository persists the notification state to a YAML file on disk.
type FileRepository struct {
	// path is the filesystem location of the YAML state file.
	path string
	// mu protects concurrent access to the state file.
	mu sync.Mutex
}

// NewFileRepository creates a repository that reads/writes YAML at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path: filepath.Clean(path),
	}
}

// Load reads the state from disk.
func (r *FileRepository) Load(_ context.Context) (*Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}

		return nil, fmt.Errorf("read state file: %w", err)
	}

	var n Notification
	if err = yaml.Unmarshal(contents, &n); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}

	return &n, nil
}

// Save writes the state to disk.
func (r *FileRepository) Save(_ context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := yaml.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	if err = fileutil.WriteAtomic(r.path, data, filePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	return nil
}
