// Package packager turns a pushed release tag into published artifacts.
//
// Every platform of the build matrix is built in parallel and packaged as a
// deterministic zip with its SHA-256 digest. Successful artifacts and a
// SHA256SUMS file are uploaded to every release host. The "latest" manifest
// is only replaced when all required platforms built and every upload
// succeeded, so clients never see a release with missing packages.
package packager
