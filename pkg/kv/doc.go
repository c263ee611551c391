// Package kv provides versioned key-value storage with compare-and-set
// semantics for checkpoints and small engine state.
//
// # Overview
//
// The engine persists sync checkpoints between runs and resumes incremental
// syncs from them. Two engine instances (or an engine and an operator using
// the CLI) must never silently overwrite each other's checkpoint, so every
// write carries the version the writer last observed:
//
//	entry, _ := store.Get(ctx, key)
//	newCheckpoint := advance(entry.Value)
//	_, err := store.Put(ctx, key, newCheckpoint, entry.Version)
//	if errdefs.Is(err, errdefs.KindConflict) {
//		// someone else wrote first: re-read and retry
//	}
//
// # Version Contract
//
// Versions start at 1 and increase by one per successful Put. The
// expectedVersion argument selects the write mode:
//
//	 0           create: fails with CONFLICT if the key exists
//	 >0          CAS: fails with CONFLICT unless the stored version matches
//	 AnyVersion  unconditional write
//
// Get on a missing key returns NOT_FOUND. Delete on a missing key succeeds,
// which keeps checkpoint resets idempotent.
//
// # Backends
//
//	NewMemoryStore()        in-process, for tests and one-shot commands
//	NewBoltStore(dataDir)   embedded bbolt file, single-node deployments
//	NewRedisStore(url)      shared Redis, multi-replica deployments
//
// All backends store values inside a msgpack envelope carrying the version
// and update time, so the caller's bytes come back exactly as written.
//
// # Key Layout
//
// Checkpoint keys follow {scopePrefix}/{endpointID}/{unitID}/checkpoint, so
// List with a scope or endpoint prefix enumerates the checkpoints below it.
package kv
