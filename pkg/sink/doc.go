/*
Package sink defines where normalized batches land.

A sink is the transactional tail of one ingestion run. The engine opens a
fresh sink per run through the Registry, then drives the protocol:

	Begin ──► WriteBatch* ──► Commit
	                     └──► Abort

No batch reaches a sink before Begin. Commit happens at most once. Abort
may follow any number of writes.

# Built-in Sinks

The graph sink (id "graph", the default) upserts each record into the
knowledge graph and resolves the record's inline edges against everything
upserted since Begin. It cannot undo upserts on abort; instead the
deterministic logical keys guarantee a replayed run converges on the same
records.

The blob sink (id "blob") archives batches as JSONL files and is fully
transactional: Commit writes a {runId}.snapshot.json manifest, Abort
deletes every file written during the run.

# Writing a Sink

Register a Factory, not an instance; sinks carry per-run state. The
factory receives the endpoint and the unit configuration and may reject
the combination, which fails the run before the driver is asked for
anything.
*/
package sink
