// Package operations tracks comparison runs while and after they execute.
//
// MemoryRunStore keeps the most recent runs in memory for the HTTP API and
// ProgressTracker turns per-file assembler callbacks into percent-complete
// events. Nothing here is persisted; a restart forgets every run.
package operations
