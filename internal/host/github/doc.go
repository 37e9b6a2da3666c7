// Package github publishes releases through the GitHub REST API.
//
// Artifacts are attached to the release of their tag. The current manifest
// is an asset of a release tagged "latest"; it is replaced by uploading under
// a temporary name, deleting the old asset and renaming the new one, so a
// reader sees the old manifest, a 404 or the new manifest, never a partial body.
package github
