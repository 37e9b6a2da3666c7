// Package config defines the settings used by the SteamShelf release and
// update binaries and provides helpers to load, validate and save them in
// YAML format.
//
// Validate fills defaults in place, so a zero Config describes the shipped
// client: the compiled-in mirrors, a 10 second per-mirror timeout and the
// canonical version file of the repository.
package config
