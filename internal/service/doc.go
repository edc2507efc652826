// Package service runs the diskbench executable on behalf of control surfaces.
//
// Overview
// The Orchestrator accepts a flat request mapping, validates it (test type,
// limits of the profile, disk availability and free space), registers a
// RunRecord in the starting status and launches the run in the background.
// StartTest returns right after the registration; callers poll GetStatus,
// GetLiveStatus or block in Wait.
//
// Only one run may be starting or running at a time. A second StartTest
// fails with "a benchmark is already running" and leaves the active record
// untouched.
//
// Runner is a thin wrapper around os/exec:
//   - starts the process with an augmented environment
//   - captures stdout and stderr, stderr optionally line by line
//   - kills the process after the timeout
//
// Data flow:
//
//	StartTest            background task             Runner{cmd}
//	    |                      |                          |
//	    | Register(starting)   |                          |
//	    |--------------------->| Run() ------------------>| Start()
//	    |                      |<------ OnStart ----------| running
//	    |                      |<------ Output -----------| Wait()
//	    |                      | ExtractJSON, ParseResult |
//	    |                      | completed | failed       |
//	    |                      | history, uploaders       |
//
// Invariants:
//   - Validation errors are returned by StartTest, nothing is registered.
//   - Every launched run ends completed or failed, panics included.
//   - completed means a result object was recovered, its own success field
//     is not interpreted.
//   - There is no cancellation. A run ends by exit or by the timeout.
//
// The Scheduler starts the configured request periodically through
// StartTest, ticks during an active run are skipped.
package service
