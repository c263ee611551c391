/*
Package log provides structured logging for Tapestry using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging
with component-specific loggers, configurable log levels, and helper functions
for common logging patterns. All logs include timestamps and support filtering
by severity level for production debugging.

# Architecture

Tapestry's logging system provides structured JSON logging with minimal
overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │            Global Logger                   │           │
	│  │  - Zerolog instance                        │           │
	│  │  - Initialized via log.Init()              │           │
	│  │  - Thread-safe for concurrent use          │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Configuration                    │           │
	│  │  - Level: debug/info/warn/error            │           │
	│  │  - Format: JSON or console (human)         │           │
	│  │  - Output: stdout, file, or custom writer  │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │         Context Loggers                    │           │
	│  │  - WithComponent("engine")                 │           │
	│  │  - WithTenant("acme")                      │           │
	│  │  - WithUnit("ep-1", "issues")              │           │
	│  │  - WithRunID("run-abc123")                 │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Usage

Initializing the Logger:

	import "github.com/tapestryhq/tapestry/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

Simple Logging:

	log.Info("Engine started")
	log.Warn("Checkpoint version conflict, retrying")
	log.Error("Failed to reach source endpoint")

Structured Logging:

	log.Logger.Info().
		Str("endpoint_id", "ep-1").
		Str("unit_id", "issues").
		Int("records", 50).
		Msg("Run succeeded")

Context Loggers:

	runLog := log.WithRunID(run.ID)
	runLog.Info().Msg("Applying batch")
	runLog.Error().Err(err).Msg("Sink write failed")

	engineLog := log.WithComponent("engine")
	engineLog.Debug().Str("unit_id", unitID).Msg("Unit due for interval run")

# Integration Points

This package integrates with:

  - pkg/engine: Logs run lifecycle, scheduling decisions, checkpoint writes
  - pkg/driver: Logs sync calls and transport retries
  - pkg/sink: Logs batch application and commit/abort outcomes
  - pkg/graph: Logs upsert conflicts and cross-scope rejections
  - pkg/rag: Logs context build phases and cache activity
  - pkg/api: Logs HTTP requests and error replies

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"engine","run_id":"run-1","time":"2026-02-10T10:30:00Z","message":"Run succeeded"}
	{"level":"error","component":"driver","endpoint_id":"ep-1","error":"connection refused","time":"2026-02-10T10:30:02Z","message":"Sync failed"}

Console Format (Development):

	10:30:00 INF Run succeeded component=engine run_id=run-1
	10:30:02 ERR Sync failed component=driver endpoint_id=ep-1 error="connection refused"

# Best Practices

Do:
  - Use Info level for production
  - Use structured fields for queryable data
  - Create component-specific loggers
  - Log errors with .Err() so error chains survive aggregation
  - Include context (tenant, endpoint, unit, run)

Don't:
  - Log secret material (tokens, auth headers)
  - Use Debug level in production
  - Log per-record in ingestion hot paths (log per-batch)
  - Concatenate strings (use .Str, .Int)

# See Also

  - Zerolog documentation: https://github.com/rs/zerolog
  - 12-Factor App Logs: https://12factor.net/logs
*/
package log
