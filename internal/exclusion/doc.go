// Package exclusion holds the configuration-driven filter that suppresses
// known-acceptable findings: exact signatures, path globs and per-path
// content regexes.
package exclusion
