// Package release contains the core domain types of the update pipeline.
//
// It defines Version (a strict X.Y.Z release identifier with a total order),
// Platform (the desktop targets a release ships for), and Manifest (the
// small JSON document published at the "latest" location of every mirror).
package release
