// Package tools provides host helpers shared by the harness.
//
// Ownership boundary:
// - external command execution (compiler invocations for sample targets)
package tools
