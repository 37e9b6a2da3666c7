// Package manifest decodes, validates and persists the release manifest.
//
// Decoding checks the body against an embedded JSON Schema before the strict
// version parse, so anything a mirror serves that is not a usable manifest is
// reported as ErrMalformed. The FileRepository replaces the manifest with a
// write-then-rename so readers never observe a torn document.
package manifest
