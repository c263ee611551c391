// Package blob provides opaque byte storage for staged batches and run
// snapshots.
//
// # Overview
//
// The ingestion engine stages every batch it pulls before handing it to a
// sink, so a failed run can be replayed without hitting the source again.
// Staged batches are newline-delimited JSON, one normalized record per line,
// named {runId}-{nanos}.jsonl; run snapshots are {runId}.snapshot.json. The
// store itself never interprets the bytes.
//
// # Backends
//
//	NewMemoryStore()          in-process, for tests
//	NewLocalStore(root)       plain files under a root directory
//	NewS3Store(ctx, cfg)      S3 or any S3-compatible endpoint (MinIO, R2)
//
// The S3 backend uses the default AWS credential chain and supports custom
// endpoints with path-style addressing for compatible providers.
//
// # Presign
//
// Presign hands out a URL an external client can fetch directly, so large
// staged batches never stream through the API process. S3 URLs expire after
// the requested duration; local URLs are file:// paths for co-located
// clients.
//
// # Retention
//
// PruneExpired deletes staged batches whose filename stamp is older than the
// retention window. Snapshots carry no stamp and are kept until their run is
// deleted.
package blob
