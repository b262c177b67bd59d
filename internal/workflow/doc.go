// Package workflow holds the ticket status graph.
//
// The graph is static and the package has no mutable state: CanTransition is a
// total function over Status x Status. Anything not listed in the table is
// illegal, including self-transitions and any status outside the enumeration.
//
// Two cycles are first-class:
//   - feedback loop: IN_PROGRESS -> NEEDS_FEEDBACK -> READY_TO_RESUME -> IN_PROGRESS
//   - review rejection: REVIEW -> IN_PROGRESS
//
// DONE is terminal. CANCELLED only reopens into BACKLOG so cancelled work is
// always re-triaged before anyone picks it up again.
package workflow
