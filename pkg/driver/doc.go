/*
Package driver defines the source plugin contract and the built-in drivers.

A driver translates one kind of upstream into the two things the ingestion
engine understands: unit listings and normalized batches. The engine looks
drivers up by id through the Registry; an endpoint selects its driver with
the verb field.

	┌──────────────────────────────────────────────────────┐
	│                      Engine                          │
	└──────────┬───────────────────────────────────────────┘
	           │ registry.Get(endpoint.Verb)
	           ▼
	┌──────────────────────────────────────────────────────┐
	│                     Registry                         │
	│     "http" ──► HTTPDriver (REST sources)             │
	│     "replay" ─► ReplayDriver (staged JSONL)          │
	│     "mock" ──► MockDriver (scripted fixtures)        │
	└──────────────────────────────────────────────────────┘

# Contract

ListUnits reports what can be ingested; SyncUnit pulls one increment. The
checkpoint a driver returns is stored verbatim and handed back verbatim on
the next sync. Drivers own the checkpoint format completely; the engine
never looks inside it and never wraps it.

Optional capabilities are separate interfaces. A driver that can check
reachability implements Prober; one that can report backlog implements
LagEstimator. Callers type-assert.

# Error Mapping

Drivers classify failures with the platform taxonomy so the scheduler can
tell retriable from fatal. The HTTP driver maps upstream statuses
(401/403 to PERMISSION_DENIED, 404 to NOT_FOUND, 429 to RATE_LIMITED,
5xx and network failures to RETRIABLE_TRANSPORT) and trips a per-endpoint
circuit breaker on consecutive retriable failures.
*/
package driver
