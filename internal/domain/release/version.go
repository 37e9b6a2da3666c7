package release

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// TagPrefix is prepended to a version to form its release tag name.
const TagPrefix = "v"

// BumpKind selects which component of a version a release increments.
type BumpKind string

const (
	// BumpMinor increments the minor component and resets patch, for behavior-affecting changes.
	BumpMinor BumpKind = "minor"
	// BumpPatch increments the patch component, for fixes only.
	BumpPatch BumpKind = "patch"
)

var (
	// ErrInvalidVersion is returned when a string is not a strict X.Y.Z version.
	ErrInvalidVersion = errors.New("invalid version")
	// ErrInvalidTag is returned when a tag name is not v-prefixed.
	ErrInvalidTag = errors.New("invalid release tag")
	// ErrUnknownBump is returned for an unsupported BumpKind.
	ErrUnknownBump = errors.New("unknown bump kind")
)

// Version is a release identifier ordered lexicographically by (Major, Minor, Patch).
type Version struct {
	Major uint64
	Minor uint64
	Patch uint64
}

// ParseVersion parses a strict "X.Y.Z" string. Leading "v", prerelease and
// build metadata are rejected.
func ParseVersion(s string) (Version, error) {
	trimmed := strings.TrimSpace(s)

	parsed, err := semver.StrictNewVersion(trimmed)
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %w", ErrInvalidVersion, s, err)
	}

	if parsed.Prerelease() != "" || parsed.Metadata() != "" {
		return Version{}, fmt.Errorf("%w %q: prerelease and build metadata are not allowed", ErrInvalidVersion, s)
	}

	return Version{
		Major: parsed.Major(),
		Minor: parsed.Minor(),
		Patch: parsed.Patch(),
	}, nil
}

// MustParseVersion is like ParseVersion but panics on error. Intended for constants and tests.
func MustParseVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}

	return v
}

// ParseTag parses a "vX.Y.Z" tag name.
func ParseTag(tag string) (Version, error) {
	trimmed := strings.TrimSpace(tag)
	if !strings.HasPrefix(trimmed, TagPrefix) {
		return Version{}, fmt.Errorf("%w %q: missing %q prefix", ErrInvalidTag, tag, TagPrefix)
	}

	v, err := ParseVersion(strings.TrimPrefix(trimmed, TagPrefix))
	if err != nil {
		return Version{}, fmt.Errorf("%w %q: %w", ErrInvalidTag, tag, err)
	}

	return v, nil
}

// String renders the version as "X.Y.Z".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Tag renders the release tag name "vX.Y.Z".
func (v Version) Tag() string {
	return TagPrefix + v.String()
}

// IsZero reports whether v is 0.0.0.
func (v Version) IsZero() bool {
	return v == Version{}
}

// Compare returns -1, 0 or 1 when v is lower than, equal to or greater than other.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return compareUint(v.Major, other.Major)
	case v.Minor != other.Minor:
		return compareUint(v.Minor, other.Minor)
	default:
		return compareUint(v.Patch, other.Patch)
	}
}

// Less reports whether v sorts before other.
func (v Version) Less(other Version) bool {
	return v.Compare(other) < 0
}

// Equal reports whether v and other name the same release.
func (v Version) Equal(other Version) bool {
	return v.Compare(other) == 0
}

// Bump returns the next release version for the given kind.
func (v Version) Bump(kind BumpKind) (Version, error) {
	current := semver.New(v.Major, v.Minor, v.Patch, "", "")

	var next semver.Version

	switch kind {
	case BumpMinor:
		next = current.IncMinor()
	case BumpPatch:
		next = current.IncPatch()
	default:
		return Version{}, fmt.Errorf("%w: %q", ErrUnknownBump, kind)
	}

	return Version{Major: next.Major(), Minor: next.Minor(), Patch: next.Patch()}, nil
}

// ParseBumpKind converts user input into a BumpKind.
func ParseBumpKind(s string) (BumpKind, error) {
	switch kind := BumpKind(strings.ToLower(strings.TrimSpace(s))); kind {
	case BumpMinor, BumpPatch:
		return kind, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownBump, s)
	}
}

func compareUint(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
