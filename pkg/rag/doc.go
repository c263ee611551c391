// Package rag composes retrieval into grounded context and answers.
//
// The context builder runs three phases, each independently skippable:
//
//	1. seed       hybrid search over the knowledge graph
//	2. expansion  bounded BFS out from the seeds
//	3. community  components covering any seed or expanded node
//
// A failing phase degrades the context instead of failing the request:
// search errors yield empty seeds, expansion errors yield no graph,
// community errors yield no communities. Results are cached under a key
// derived from every request field that shapes the output, with defaults
// applied first so equivalent requests share entries.
//
// The service wraps the builder with the request-level verbs BuildContext,
// ExpandGraph, GetEntityCommunities and GenerateAnswer. Answer generation
// goes through the configured chat provider, or falls back to a
// deterministic grounded answer whose citations carry exact substring
// offsets.
package rag
