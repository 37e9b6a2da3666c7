// Package fileutil holds small filesystem helpers shared by the repositories
// and the release hosts.
package fileutil
