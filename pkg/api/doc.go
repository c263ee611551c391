// Package api exposes the control plane, the graph, and the GraphRAG
// verbs over HTTP JSON.
//
// Route map:
//
//	/healthz /livez /readyz          process, liveness, readiness
//	/metrics                         Prometheus exposition
//	/api/v1
//	  /endpoints                     endpoint CRUD + discovery
//	  /endpoints/{id}/units          unit listing, configure, start,
//	                                 pause, reset-checkpoint, lag
//	  /graph/nodes /graph/edges      tenant-scoped listings and upserts
//	  /search                        hybrid search
//	  /rag/context|expand|answer     GraphRAG verbs
//	  /rag/communities               community membership
//	  /ner/extract /ner/classify     extraction and document classification
//	  /observations                  review queue: list, approve, reject
//	  /entities/view                 cross-source canonical view
//
// Every /api/v1 route requires the X-Tenant-ID header. Errors carry a
// JSON body {error, kind, requestId}; the status code derives from the
// error kind.
package api
