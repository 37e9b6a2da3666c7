// Package mirror implements ordered first-success lookups over several
// independent sources.
//
// First tries each provider in priority order under its own bounded
// timeout and stops at the first success; results from different providers
// are never merged. HTTPSource is the provider used for manifest mirrors.
package mirror
