// Package local publishes releases into a directory that mirrors the hosted
// release URL layout, "<root>/<owner>/<repo>/releases/download/<tag>/<asset>".
// The mirror server serves the same root over HTTP.
package local
