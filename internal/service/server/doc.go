// Package server implements shelf-mirror, an HTTP mirror for a local release host.
//
// It serves "/{owner}/{repo}/releases/download/{tag}/{asset}" from the same
// directory the packager's local host writes to, so a self-hosted mirror can
// be listed next to the public ones in the client configuration. The latest
// manifest is served with "Cache-Control: no-cache".
package server
