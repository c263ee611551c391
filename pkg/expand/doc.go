// Package expand performs bounded multi-hop BFS over the knowledge graph.
//
// Seeds enter at hop 0 only when the store can resolve them; unresolved
// seeds are dropped silently so no expanded edge can dangle. Each dequeued
// node asks the store for its neighborhood under the request's edge-type
// and direction filters, and new nodes join the frontier only while the
// per-hop and global budgets allow. An edge appears in the result only
// when both of its endpoints were admitted.
//
// The graph is cyclic; traversal keys its visited set by node id and never
// follows object references.
package expand
