// Package cluster holds the HTTP wire vocabulary shared by the coordinator
// (rank 0) and the workers of a networked gather group, plus the health
// monitor workers use to watch the coordinator.
//
// # Overview
//
// A networked group is one coordinator process and one worker process per
// remaining rank. Workers never talk to each other:
//
//	            ┌──────────────────┐
//	            │   Coordinator    │
//	            │     (rank 0)     │
//	            │ - /collective/N  │
//	            │ - /health        │
//	            │ - /metrics       │
//	            └────────┬─────────┘
//	                     │ POST contributions, GET /health
//	      ┌──────────────┼──────────────┐
//	      │              │              │
//	┌─────┴─────┐  ┌─────┴─────┐  ┌─────┴─────┐
//	│  rank 1   │  │  rank 2   │  │  rank 3   │
//	└───────────┘  └───────────┘  └───────────┘
//
// # Protocol
//
// Contribution (POST /collective/{seq}):
//   - One request per worker per collective round, numbered from 0
//   - The body is raw bytes: a little-endian scalar, a float vector, or a payload
//   - HeaderRank, HeaderOp and HeaderSession identify the sender and the operation
//   - The coordinator answers 200 once the round completes, 410 when the group
//     was aborted, 409 on a duplicate or mismatched contribution, and 400 on a
//     malformed request
//
// Abort (POST /collective/abort):
//   - JSON AbortRequest; every pending and later round fails with the reason
//
// Health (GET /health):
//   - 200 while the coordinator serves; workers poll it before the first round
//     and, through HealthMonitor, while a run is in progress
//
// # Failure Handling
//
// Workers bound each round with an HTTP client timeout when configured. The
// health monitor marks the coordinator unhealthy after 3 consecutive failed
// checks and invokes a callback, which the worker command uses to cancel its
// run.
//
// # See Also
//
// Related packages:
//   - internal/collective: the Channel implementations built on this protocol
//   - internal/orchestrator: the run state machine driving the rounds
package cluster
