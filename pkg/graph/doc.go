/*
Package graph is the tenant-scoped identity layer of the knowledge graph.

It sits between callers (sinks, the observer, the API) and the metadata
store, and owns everything the store deliberately does not: deterministic
logical keys, upsert merge rules, version counters, scope enforcement, and
the embedding index. The store persists what this package decides.

# Architecture

	┌─────────────────────────────────────────────────────────┐
	│                       Callers                           │
	│     graph sink │ observer │ RAG service │ HTTP API      │
	└───────────────┬─────────────────────────────────────────┘
	                │
	                ▼
	┌─────────────────────────────────────────────────────────┐
	│                     graph.Graph                         │
	│                                                         │
	│  UpsertNode ──► logical key ──► stripe lock ──► merge   │
	│  UpsertEdge ──► endpoint resolution ──► org check       │
	│  PutEmbedding ──► vector digest ──► entityId||hash      │
	│  SearchEmbeddings ──► cosine over model subset          │
	└───────────────┬─────────────────────────────────────────┘
	                │
	                ▼
	┌─────────────────────────────────────────────────────────┐
	│                     store.Store                         │
	│        (bbolt buckets or the in-memory backend)         │
	└─────────────────────────────────────────────────────────┘

# Logical Keys

Every node and edge carries a deterministic 256-bit key derived from its
identity tuple. Two syncs that see the same entity through the same origin
compute the same key and land on the same record:

	key := graph.NodeKey("repository", scope, endpointID, "github",
	        "acme/api-server", "", map[string]any{"repoId": 4211})

The tuple order is fixed. Changing it would silently re-identify every
stored entity, so treat the key functions as a wire format.

# Upsert Semantics

UpsertNode locates its target by explicit id first, then by logical key.
A hit increments the version and merges the input: caller-provided fields
win, previous origin and provenance survive unless overridden. A miss
creates the node at version 1. Writers to the same logical key serialize
on a striped mutex, so two concurrent syncs of one entity produce two
versions, never a lost update.

UpsertEdge resolves both endpoints before writing and rejects any edge
whose endpoints live in a different org than the caller. Replacing an
edge keeps its createdAt.

# Tenant Isolation

Reads check tenant ownership after the store lookup; a node owned by
another tenant produces the same not-found error as a node that does not
exist. Callers cannot distinguish "absent" from "not yours".

# Embeddings

Vectors are content-addressed: the record key is the entity id plus the
SHA-256 of the vector bytes. Re-putting an unchanged vector is a no-op,
and a changed vector coexists with its predecessors until the entity's
embeddings are deleted. Search is a linear cosine scan over the
model-filtered candidate set, which is the right trade-off at the
per-tenant corpus sizes this system targets.
*/
package graph
