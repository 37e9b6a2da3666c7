// Package archive builds reproducible zip packages of platform builds and
// unpacks downloaded packages into a staging directory.
package archive
