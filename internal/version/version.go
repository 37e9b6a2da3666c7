package version

import "fmt"

// productName prefixes the user agent sent to update mirrors.
const productName = "SteamShelf"

var (
	// Version is the release version of the build in X.Y.Z form. It can be overridden via ldflags.
	Version = "5.7.2"
	// Commit is the short git SHA embedded at build time (or "none").
	Commit = "none"
	// BuildTime is the UTC build timestamp embedded at build time.
	BuildTime = "unknown"
)

// Short returns only the version string.
func Short() string {
	return Version
}

// Full returns a human-readable version string with commit and build time.
func Full() string {
	return fmt.Sprintf("version: %s, commit: %s, built at: %s", Version, Commit, BuildTime)
}

// UserAgent returns the User-Agent header value used for mirror requests.
func UserAgent() string {
	return UserAgentFor(Version)
}

// UserAgentFor returns the User-Agent header value for a given running version.
func UserAgentFor(v string) string {
	return productName + "/" + v
}
