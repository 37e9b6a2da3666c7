package updater

import (
	"crypto"
	"errors"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/jedisct1/go-minisign"
	"github.com/mitchellh/go-ps"

	// Ensure SHA256 available for the go-update checksum.
	_ "crypto/sha256"
)

var (
	// ErrIntegrity is returned when an artifact is missing its digest or fails verification.
	ErrIntegrity = errors.New("artifact failed integrity verification")
	// ErrNoArtifact is returned when the manifest has no download for this platform.
	ErrNoArtifact = errors.New("no artifact for this platform")
	// ErrAppRunning is returned when other instances of the application are still running.
	ErrAppRunning = errors.New("the application is still running")
	// ErrNothingStaged is returned when an archive contains no files.
	ErrNothingStaged = errors.New("update archive is empty")

	errInvalidPublicKey = errors.New("invalid minisign public key")
	errStalled          = errors.New("download stalled")
)

const (
	// DefaultDownloadTimeout is how long a download may stall before the next URL is tried.
	DefaultDownloadTimeout = 60 * time.Second

	// OldSuffix is appended to replaced files until the next start removes them.
	OldSuffix = ".old"

	// WorkDirName holds downloads and staging directories inside the installation.
	WorkDirName = ".steamshelf-update"

	// DefaultFileMode is used for staged files without a mode.
	DefaultFileMode os.FileMode = 0o755

	// ChecksumFunction is used by go-update to verify every replaced file.
	ChecksumFunction crypto.Hash = crypto.SHA256

	// baseExecutable is the application process name without the platform extension.
	baseExecutable = "SteamShelf"

	// progressBuffer is the capacity of a job progress channel.
	progressBuffer = 64
)

// Executable returns the application executable name for the current platform.
func Executable() string {
	return baseExecutable + getExecutableExtension()
}

// getExecutableExtension returns ".exe" on Windows and "" elsewhere.
func getExecutableExtension() string {
	if strings.Contains(strings.ToLower(runtime.GOOS), "windows") {
		return ".exe"
	}

	return ""
}

// ProcessLister returns the processes of the machine.
type ProcessLister func() ([]ps.Process, error)

// runningInstances lists other processes running the named executable.
// The current process and its parent (the application that launched the
// updater) are not counted.
func runningInstances(list ProcessLister, processName string) ([]int, error) {
	processList, err := list()
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	thisProcessID := os.Getpid()
	parentProcessID := os.Getppid()

	var pids []int

	for _, process := range processList {
		if process.Pid() == thisProcessID || process.Pid() == parentProcessID {
			continue
		}

		if !strings.EqualFold(process.Executable(), processName) {
			continue
		}

		pids = append(pids, process.Pid())
	}

	return pids, nil
}

// parsePublicKey accepts either the base64 key line or the whole minisign.pub file.
func parsePublicKey(text string) (*minisign.PublicKey, error) {
	var keyLine string

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "untrusted comment:") {
			continue
		}

		keyLine = line
	}

	key, err := minisign.NewPublicKey(keyLine)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInvalidPublicKey, err)
	}

	return &key, nil
}

// verifySignature checks a minisign signature over data.
func verifySignature(key *minisign.PublicKey, data []byte, signature string) error {
	if strings.TrimSpace(signature) == "" {
		return fmt.Errorf("%w: signature missing", ErrIntegrity)
	}

	sig, err := minisign.DecodeSignature(signature)
	if err != nil {
		return fmt.Errorf("%w: decode signature: %w", ErrIntegrity, err)
	}

	valid, err := key.Verify(data, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}

	if !valid {
		return fmt.Errorf("%w: signature verification failed", ErrIntegrity)
	}

	return nil
}
