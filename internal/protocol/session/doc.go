// Package session owns the harness side of one debug adapter connection.
//
// Ownership boundary:
// - request seq allocation and framed writes
// - response/event routing (pending table, event queue, overflow)
// - bounded waits and pumping in fixed slices
//
// Everything here is single-owner: the orchestrator drives one Conn from
// one goroutine and no other writer touches the adapter's stdin.
package session
