// Package checker implements the update check of the SteamShelf client.
//
// A Checker asks the configured mirrors for the release manifest in priority
// order and compares the advertised version with the running one. Checks run
// off the caller's goroutine via Start, results reach the host through the
// Deliver callback, and a manual CheckNow joins a check already in flight.
// Failures never escape: an exhausted mirror list is reported as
// StatusUnknown, which hosts show as "no update available".
package checker
