// Package supervisor owns the debug adapter child process.
//
// Ownership boundary:
// - spawn with piped stdin/stdout and a bounded stderr tail
// - liveness (exit code once reaped) and RSS sampling
// - staged teardown: disconnect, terminate, kill
//
// The reaper goroutine is the only concurrent actor; every other method is
// called from the orchestrator's goroutine.
package supervisor
