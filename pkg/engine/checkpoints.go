package engine

import (
	"context"
	"encoding/json"
	"path"

	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// unitCheckpointKey builds the storage key for a unit's checkpoint. The
// endpoint's scope prefix keeps tenants apart in a shared store:
//
//	org-1/eng/proj-1/ep-42/issues/checkpoint
func unitCheckpointKey(ep *types.Endpoint, unitID string) string {
	return path.Join(ep.Scope().Prefix(), ep.ID, unitID, "checkpoint")
}

// ReadCheckpoint returns the stored checkpoint and its CAS version. A unit
// that has never run has no checkpoint; that is (nil, 0, nil), not an error.
func (e *Engine) ReadCheckpoint(ctx context.Context, ep *types.Endpoint, unitID string) (json.RawMessage, int64, error) {
	entry, err := e.kv.Get(ctx, unitCheckpointKey(ep, unitID))
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	return json.RawMessage(entry.Value), entry.Version, nil
}

// WriteCheckpoint persists the checkpoint exactly as the driver returned it,
// guarded by the version observed at the start of the run. A version
// conflict means another writer got there first; the run must not clobber
// its checkpoint.
func (e *Engine) WriteCheckpoint(ctx context.Context, ep *types.Endpoint, unitID string, value json.RawMessage, expectedVersion int64) (int64, error) {
	version, err := e.kv.Put(ctx, unitCheckpointKey(ep, unitID), value, expectedVersion)
	if err != nil {
		if errdefs.Is(err, errdefs.KindConflict) {
			metrics.CheckpointConflicts.Inc()
		}
		return 0, err
	}
	return version, nil
}
