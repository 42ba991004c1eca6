// Package protocol owns the debug adapter wire contract.
//
// Ownership boundary:
// - message model and classification (request/response/event/other)
// - protocol failure and timeout sentinels
//
// Framing lives in protocol/frame; request correlation and bounded waits
// live in protocol/session.
package protocol
