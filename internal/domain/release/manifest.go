package release

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ManifestFilename is the name of the manifest under a mirror's "latest" location.
const ManifestFilename = "version.json"

// Manifest advertises the latest published release.
type Manifest struct {
	// Version is the latest release in X.Y.Z form.
	Version string `json:"version"`
	// Changelog is the human-readable summary shown in the update dialog.
	Changelog string `json:"changelog,omitempty"`
	// MinVersion marks every build below it as requiring the update.
	MinVersion string `json:"min_version,omitempty"`
	// PublishedAt is when the CI pipeline wrote this manifest.
	PublishedAt time.Time `json:"published_at,omitzero"`
	// DownloadURLs lists artifact locations, tried in order.
	DownloadURLs DownloadURLs `json:"download_urls,omitzero"`
	// Artifacts describes the per-platform package and its digest.
	Artifacts map[Platform]Artifact `json:"artifacts,omitempty"`
}

// Artifact describes one platform package attached to a release.
type Artifact struct {
	// Name is the asset file name.
	Name string `json:"name"`
	// SHA256 is the lower-case hex digest of the asset.
	SHA256 string `json:"sha256"`
	// Size is the asset size in bytes.
	Size int64 `json:"size,omitempty"`
	// Signature is an optional minisign signature over the asset.
	Signature string `json:"signature,omitempty"`
}

// ParsedVersion returns the strictly parsed manifest version.
func (m *Manifest) ParsedVersion() (Version, error) {
	return ParseVersion(m.Version)
}

// ParsedMinVersion returns the minimum supported version when one is set.
func (m *Manifest) ParsedMinVersion() (Version, bool, error) {
	if m.MinVersion == "" {
		return Version{}, false, nil
	}

	v, err := ParseVersion(m.MinVersion)
	if err != nil {
		return Version{}, false, err
	}

	return v, true, nil
}

// URLsFor returns the download URLs for p, falling back to the source archive.
func (m *Manifest) URLsFor(p Platform) []string {
	return m.DownloadURLs.For(p)
}

// ArtifactFor returns the artifact for p, falling back to the source archive.
func (m *Manifest) ArtifactFor(p Platform) (Artifact, bool) {
	if a, ok := m.Artifacts[p]; ok {
		return a, true
	}

	a, ok := m.Artifacts[PlatformSource]

	return a, ok
}

// DownloadURLs accepts both manifest forms: a flat list shared by every
// platform, or an object keyed by platform.
type DownloadURLs struct {
	// All is the flat list form.
	All []string
	// ByPlatform is the keyed form.
	ByPlatform map[Platform][]string
}

// For returns the ordered URLs for p.
func (d DownloadURLs) For(p Platform) []string {
	if d.ByPlatform == nil {
		return d.All
	}

	if urls := d.ByPlatform[p]; len(urls) > 0 {
		return urls
	}

	return d.ByPlatform[PlatformSource]
}

// IsZero reports whether no URLs are set.
func (d DownloadURLs) IsZero() bool {
	return len(d.All) == 0 && len(d.ByPlatform) == 0
}

// MarshalJSON emits the keyed form when present, the flat list otherwise.
func (d DownloadURLs) MarshalJSON() ([]byte, error) {
	if len(d.ByPlatform) > 0 {
		return json.Marshal(d.ByPlatform)
	}

	if d.All == nil {
		return []byte("[]"), nil
	}

	return json.Marshal(d.All)
}

// UnmarshalJSON decodes either form.
func (d *DownloadURLs) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)

	switch {
	case bytes.Equal(trimmed, []byte("null")):
		*d = DownloadURLs{}
		return nil
	case len(trimmed) > 0 && trimmed[0] == '[':
		var all []string
		if err := json.Unmarshal(trimmed, &all); err != nil {
			return fmt.Errorf("decode download_urls list: %w", err)
		}

		*d = DownloadURLs{All: all}

		return nil
	default:
		var keyed map[Platform][]string
		if err := json.Unmarshal(trimmed, &keyed); err != nil {
			return fmt.Errorf("decode download_urls object: %w", err)
		}

		*d = DownloadURLs{ByPlatform: keyed}

		return nil
	}
}
