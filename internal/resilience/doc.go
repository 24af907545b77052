// Package resilience groups the fault-tolerance building blocks that gate
// outbound fetches: per-source health scoring and circuit breaking.
//
// The subpackages are deliberately passive. They compute decisions and state
// transitions; the ingest controller owns when to consult them and when to
// act on what they say. Failed fetches are never retried inline - a failure
// updates health and scheduling state, and the source simply comes up again
// on a later scheduling pass.
package resilience
