// Package engine runs the classifier over documents, derives signatures and
// applies the active exclusion snapshot. Engine scans single documents,
// Documents tracks open editor buffers and publishes results, and
// ScanWorkspace walks a tree and scans it concurrently. External consumers
// should use the facade in pkg/core.
package engine
