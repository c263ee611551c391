// Package store provides the durable metadata store behind the ingestion
// engine and the graph layer.
//
// # Overview
//
// Everything the control plane knows lives here: configured endpoints, the
// per-unit configuration and status records the engine maintains, run
// history, the graph of canonical nodes and edges with their logical-key
// indexes, embeddings for vector search, and raw entity observations from the
// extraction pipeline.
//
//	┌─────────────────────────────────────────────────┐
//	│                    Store                        │
//	├─────────────┬──────────────┬────────────────────┤
//	│ endpoints   │ unit_configs │ runs               │
//	│             │ unit_status  │                    │
//	├─────────────┼──────────────┼────────────────────┤
//	│ nodes       │ edges        │ embeddings         │
//	│ node_keys   │ edge_keys    │                    │
//	├─────────────┴──────────────┼────────────────────┤
//	│ observations               │ entity_index       │
//	└────────────────────────────┴────────────────────┘
//
// # Backends
//
//	NewBoltStore(dataDir)   BoltDB file, one bucket per record family
//	NewMemoryStore()        in-process, for tests
//
// Records are stored as JSON. The node_keys and edge_keys buckets map a
// logical key to the record id so upserts resolve identity without a scan.
//
// # Listing Semantics
//
// Node, edge, run, and observation listings are newest-first with a stable id
// tiebreak. Filters match the tenant id before any other field; a record from
// another tenant is never visible regardless of the rest of the filter.
//
// # Higher Layers
//
// This package is deliberately mechanical. Upsert merge rules, logical-key
// computation, version increments, and scope enforcement live in pkg/graph;
// run-lifecycle invariants live in pkg/engine.
package store
