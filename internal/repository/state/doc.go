// Package state persists the update client's notification state.
//
// The FileRepository stores which release the user dismissed and when the
// last check ran, so a dismissed notice is not raised again on the next start.
package state
