// Package updater downloads and applies SteamShelf releases.
//
// Nothing here runs on its own: every step follows an explicit user action.
// Download tries the manifest URLs of the current platform in order and
// verifies the SHA-256 digest (and the minisign signature when a public key
// is configured) before handing the file out. Stage extracts the archive into
// the installation's work directory, Apply swaps the files in with go-update
// and rolls back on failure, and Cleanup removes the leftovers at the next
// start.
package updater
