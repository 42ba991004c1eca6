// Package harness drives one stress session against a debug adapter.
//
// Ownership boundary:
// - the session phase machine (initialize through teardown)
// - the per-stop inspection sweep
// - run counters, stop fingerprints and the final summary
//
// A Session is driven from a single goroutine. Snapshot is the only method
// safe to call concurrently with Run.
package harness
