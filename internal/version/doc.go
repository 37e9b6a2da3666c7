// Package version exposes build metadata for the SteamShelf binaries.
//
// Variables Version, Commit, and BuildTime are injected at build time via
// Go ldflags. Version is the running build's release version that the update
// client compares against the published manifest.
package version
