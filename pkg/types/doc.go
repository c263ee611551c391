/*
Package types defines the core data structures used throughout Tapestry.

This package contains all fundamental types that represent Tapestry's domain
model, including endpoints, ingestion units, runs, checkpoints, graph nodes,
graph edges, observations, and normalized records. These types are used by all
other packages for state management, API communication, and ingestion logic.

# Architecture

The types package is the foundation of Tapestry's data model. It defines:

  - Source topology (endpoints, ingestion units, unit configuration)
  - Run execution state and lifecycle
  - Checkpoint envelopes persisted between runs
  - The tenant-scoped knowledge graph (scopes, nodes, edges, embeddings)
  - Entity extraction and cross-source observation records
  - The normalized record format drivers emit and sinks consume

All types are designed to be:
  - Serializable (JSON, camelCase wire names)
  - Immutable where possible (use pointers for updates)
  - Self-documenting (clear field names and comments)
  - Validated (constants for enums, validation helpers)

# Core Types

Source Management:
  - Endpoint: A configured source instance (ticket tracker, code host, wiki)
  - UnitDescriptor: An independently ingestable slice of an endpoint
  - UnitConfig: Per-unit overrides (mode, sink, schedule, policy, filter)
  - UnitStatus: Projection of the latest run for a unit

Run Execution:
  - Run: One ingestion run with per-stage statistics
  - RunState: IDLE, RUNNING, SUCCEEDED, FAILED, PAUSED
  - RunMode: FULL or INCREMENTAL
  - ScheduleKind: MANUAL or INTERVAL

Knowledge Graph:
  - Scope: The four-level tenancy key {orgId, domainId?, projectId?, teamId?}
  - Node: A canonical entity with a deterministic logical key
  - Edge: A typed directed connection between two nodes
  - Embedding: A stored vector for one entity under one model

Extraction:
  - ExtractedEntity: One entity mention found in free text
  - EntityType: The closed set of recognized entity types
  - Observation: A per-source mention awaiting canonicalization

Ingestion Wire Format:
  - NormalizedRecord: The unit of data flowing from drivers to sinks
  - Batch: An ordered group of normalized records
  - SyncResult: What a driver returns from one sync call

# Usage Example

	unit := types.UnitConfig{
		EndpointID:      "ep-1",
		UnitID:          "issues",
		Enabled:         true,
		RunMode:         types.RunModeIncremental,
		Mode:            types.SinkModeRaw,
		SinkID:          "graph",
		ScheduleKind:    types.ScheduleInterval,
		IntervalMinutes: 30,
	}
	if err := unit.Validate(); err != nil {
		// reject before persisting
	}

# Design Principles

1. No behavior: types carry data; components own logic.
2. Tenancy first: every graph object carries its Scope, and every read
   path filters on Scope.OrgID before anything else.
3. Opaque checkpoints: checkpoint payloads are raw bytes the engine never
   inspects and never wraps.
4. Callers keep their memory: helpers copy maps and slices so no component
   mutates caller-provided values.
*/
package types
