package fileutil

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// SHA256File returns the lower-case hex SHA-256 digest and the size of a file.
func SHA256File(path string) (string, int64, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", 0, err
	}

	defer func() {
		_ = f.Close()
	}()

	hasher := sha256.New()

	size, err := io.Copy(hasher, f)
	if err != nil {
		return "", 0, fmt.Errorf("calculate checksum: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), size, nil
}

// NormalizeDigest lower-cases a hex digest and strips an optional "sha256:" prefix.
func NormalizeDigest(digest string) string {
	digest = strings.ToLower(strings.TrimSpace(digest))

	return strings.TrimPrefix(digest, "sha256:")
}
