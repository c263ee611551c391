// Package observer tracks per-source entity observations and resolves them
// to canonical graph entities.
//
// Every mention the NER pipeline extracts becomes an observation. The
// observer asks its matcher for canonical candidates and transitions the
// observation on the answer:
//
//	score >= auto-merge threshold  -> matched, canonical id set
//	0 < score < threshold          -> review, awaiting manual approval
//	no candidates                  -> created, a new canonical entity is made
//
// Architecture:
//
//	┌──────────┐   Record    ┌──────────┐   Match    ┌──────────┐
//	│ enricher ├────────────►│ Observer ├───────────►│ Matcher  │
//	└──────────┘             │          │◄───────────┴──────────┘
//	                         │  index   │  candidates
//	                         └────┬─────┘
//	                              │ created -> UpsertNode
//	                         ┌────▼─────┐
//	                         │  graph   │
//	                         └──────────┘
//
// The in-memory index maps bySource and byNormalized are tenant-prefixed;
// every mutator takes a tenant id and reports foreign observations exactly
// like missing ones, so one tenant can never enumerate another's entities.
package observer
