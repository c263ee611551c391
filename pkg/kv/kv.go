package kv

import (
	"context"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
)

// AnyVersion skips the CAS check on Put and Delete.
const AnyVersion int64 = -1

// Entry is a stored value together with its CAS version. Versions start at 1
// and increase by one on every successful Put.
type Entry struct {
	Value     []byte
	Version   int64
	UpdatedAt time.Time
}

// Store is versioned, CAS-capable per-key storage for checkpoints and small
// state. Writers pass the version they last observed; a stale version fails
// with a CONFLICT error and the caller re-reads.
//
// expectedVersion semantics:
//   - 0: the key must not exist yet (create)
//   - >0: the stored version must match exactly
//   - AnyVersion: unconditional write
//
// Delete of a missing key succeeds so checkpoint resets stay idempotent.
type Store interface {
	Get(ctx context.Context, key string) (*Entry, error)
	Put(ctx context.Context, key string, value []byte, expectedVersion int64) (int64, error)
	Delete(ctx context.Context, key string, expectedVersion int64) error
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// envelope is the on-disk/on-wire encoding of an Entry.
type envelope struct {
	Version   int64  `msgpack:"v"`
	Value     []byte `msgpack:"d"`
	UpdatedAt int64  `msgpack:"t"` // unix nanos
}

func encodeEnvelope(e envelope) ([]byte, error) {
	return msgpack.Marshal(&e)
}

func decodeEnvelope(data []byte) (envelope, error) {
	var e envelope
	if err := msgpack.Unmarshal(data, &e); err != nil {
		return envelope{}, err
	}
	return e, nil
}

func (e envelope) entry() *Entry {
	return &Entry{
		Value:     e.Value,
		Version:   e.Version,
		UpdatedAt: time.Unix(0, e.UpdatedAt),
	}
}

// checkCAS validates expectedVersion against the current version (0 when the
// key does not exist).
func checkCAS(key string, current, expected int64) error {
	if expected == AnyVersion {
		return nil
	}
	if current != expected {
		return errdefs.New(errdefs.KindConflict,
			"version conflict on %s: have %d, expected %d", key, current, expected)
	}
	return nil
}

func notFound(key string) error {
	return errdefs.New(errdefs.KindNotFound, "key not found: %s", key)
}
