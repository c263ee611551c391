// Package search provides hybrid retrieval over the knowledge graph: a
// BM25 keyword index fused with cosine vector search through weighted
// reciprocal-rank fusion.
//
//	              query (+ optional embedding)
//	                        │
//	             ┌──────────┴──────────┐
//	             ▼                     ▼
//	      keyword index         embedding index
//	       (BM25, in-proc)       (graph store)
//	             │                     │
//	             └───────┬─────────────┘
//	                     ▼
//	             RRF fusion (weights)
//	                     ▼
//	              ranked nodes (topK, minScore)
//
// Tenancy and field filters apply to both legs before fusion, never after.
// When the caller supplies no embedding the fusion collapses to the keyword
// leg alone.
//
// The Indexer keeps the keyword index current by following node.upserted
// events; Reindex rebuilds it from the metadata store on startup.
package search
