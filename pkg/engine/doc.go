/*
Package engine orchestrates ingestion runs: it connects drivers to sinks,
owns run state, schedules interval units and enforces checkpoint
consistency.

	            ┌─────────────────────────────────────────┐
	            │                 Engine                  │
	            │                                         │
	 StartRun ──┼─▶ preconditions ─▶ run record ─▶ spawn  │
	            │                                   │     │
	            │   scheduler tick ──▶ due units ───┘     │
	            │                                         │
	            │   executeRun:                           │
	            │     read checkpoint (CAS version)       │
	            │     sink.Begin                          │
	            │     driver.SyncUnit ──▶ batches         │
	            │     sink.WriteBatch per batch           │
	            │     sink.Commit                         │
	            │     write checkpoint (CAS)              │
	            └─────────────────────────────────────────┘

# Run Lifecycle

A run moves RUNNING -> SUCCEEDED, FAILED or PAUSED and never leaves a
terminal state. The checkpoint stored for a unit is always one a driver
returned after a committed sink: on any failure or pause the pre-run
checkpoint stands, so the next run replays from a consistent point.
Retriable sync failures (network, 5xx, 429) are retried in-run with
exponential backoff; everything else fails the run with a sanitized error.

At most one run per (endpoint, unit) is in flight. StartRun refuses with
ErrAlreadyRunning while one is active; PauseRun requests cooperative
cancellation between batches, so the current batch always lands or rolls
back whole.

# Scheduling

Interval units run at most once per interval, counted from the end of the
last successful run. A manual StartRun resets that clock. Attempts that
fail also hold the unit for a full interval, so a broken source does not
spin the scheduler. Pausing a run does not disable the unit; flip
Enabled off to stop scheduling.

# Checkpoints

Checkpoints live in the versioned KV store under

	{scopePrefix}/{endpointId}/{unitId}/checkpoint

and are written with compare-and-swap against the version read when the
run started. A conflict means another writer advanced the unit first; the
run fails rather than clobbering newer progress.

# Retention

Staged batch files carry a trailing nanosecond stamp in their key. The
retention sweeper ages those out after RetentionDays; manifests and
anything else without a stamp are left alone.
*/
package engine
