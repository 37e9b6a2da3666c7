// Package publisher cuts SteamShelf releases from a git working tree.
//
// A release reads the version from its one canonical file, decides the next
// version from the operator's choice or the conventional-commit history since
// the last v-prefixed tag, writes it back, commits "release: vX.Y.Z", creates
// an annotated tag carrying the changelog and pushes branch and tag. Pushes
// are never forced and never retried; ambiguous histories need the operator.
package publisher
