package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/types"
)

const replayDriverID = "replay"

// ReplayDriver re-ingests batches previously staged as JSONL files. An
// endpoint points it at a staging prefix through config["prefix"]; every
// staged run under that prefix becomes one unit. Useful for backfills and
// for rebuilding a graph from retained staging data.
type ReplayDriver struct {
	staging blob.Store
}

// NewReplayDriver creates a replay driver over the given staging store.
func NewReplayDriver(staging blob.Store) *ReplayDriver {
	return &ReplayDriver{staging: staging}
}

func (d *ReplayDriver) ID() string {
	return replayDriverID
}

// replayCheckpoint counts staged files already replayed for a unit.
type replayCheckpoint struct {
	Offset int `json:"offset"`
}

// ListUnits groups staged files by run id. Snapshots and foreign files are
// skipped.
func (d *ReplayDriver) ListUnits(ctx context.Context, endpoint *types.Endpoint) ([]types.UnitDescriptor, error) {
	runs, err := d.stagedRuns(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	runIDs := make([]string, 0, len(runs))
	for runID := range runs {
		runIDs = append(runIDs, runID)
	}
	sort.Strings(runIDs)

	units := make([]types.UnitDescriptor, 0, len(runIDs))
	for _, runID := range runIDs {
		units = append(units, types.UnitDescriptor{
			ID:                  runID,
			Kind:                "staged-run",
			Name:                fmt.Sprintf("replay %s (%d files)", runID, len(runs[runID])),
			DefaultMode:         types.RunModeFull,
			SupportedModes:      []types.RunMode{types.RunModeFull},
			DefaultSinkID:       "graph",
			DefaultScheduleKind: types.ScheduleManual,
		})
	}
	return units, nil
}

// SyncUnit replays the unit's staged files in staging order, whole files at
// a time. The checkpoint is the count of files already replayed, so an
// aborted replay resumes at the first unconsumed file.
func (d *ReplayDriver) SyncUnit(ctx context.Context, req SyncRequest) (*types.SyncResult, error) {
	runs, err := d.stagedRuns(ctx, req.Endpoint)
	if err != nil {
		return nil, err
	}
	keys, ok := runs[req.UnitID]
	if !ok {
		return nil, errdefs.New(errdefs.KindNotFound, "staged run not found: %s", req.UnitID)
	}
	sort.Strings(keys)

	var cp replayCheckpoint
	if len(req.Checkpoint) > 0 {
		if err := json.Unmarshal(req.Checkpoint, &cp); err != nil {
			return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "malformed replay checkpoint")
		}
	}
	if cp.Offset < 0 || cp.Offset > len(keys) {
		return nil, errdefs.New(errdefs.KindInvalidInput, "replay checkpoint out of range: %d", cp.Offset)
	}

	result := &types.SyncResult{}
	records := 0
	offset := cp.Offset
	for _, key := range keys[cp.Offset:] {
		if req.Limit > 0 && records >= req.Limit {
			break
		}
		data, err := d.staging.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		batch, lineErrors := parseJSONL(data)
		result.Batches = append(result.Batches, batch)
		result.Errors = append(result.Errors, lineErrors...)
		records += len(batch.Records)
		offset++
	}

	checkpoint, err := json.Marshal(replayCheckpoint{Offset: offset})
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindInternal, err, "failed to encode replay checkpoint")
	}
	result.NewCheckpoint = checkpoint
	result.Stats = map[string]float64{
		"files":   float64(offset - cp.Offset),
		"records": float64(records),
	}
	return result, nil
}

// stagedRuns lists the endpoint's staging prefix and groups JSONL keys by
// run id. File names follow {runId}-{nanos}.jsonl.
func (d *ReplayDriver) stagedRuns(ctx context.Context, endpoint *types.Endpoint) (map[string][]string, error) {
	prefix := endpoint.Config["prefix"]
	objects, err := d.staging.List(ctx, prefix)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUpstream, err, "failed to list staged files")
	}

	runs := make(map[string][]string)
	for _, obj := range objects {
		base := path.Base(obj.Key)
		if !strings.HasSuffix(base, ".jsonl") {
			continue
		}
		stem := strings.TrimSuffix(base, ".jsonl")
		i := strings.LastIndexByte(stem, '-')
		if i <= 0 {
			continue
		}
		runID := stem[:i]
		runs[runID] = append(runs[runID], obj.Key)
	}
	return runs, nil
}

// parseJSONL decodes one staged file into a batch. A bad line is reported,
// not fatal; the rest of the file still replays.
func parseJSONL(data []byte) (types.Batch, []types.SyncError) {
	var batch types.Batch
	var errs []types.SyncError
	for _, line := range bytes.Split(data, []byte("\n")) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}
		var rec types.NormalizedRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			errs = append(errs, types.SyncError{
				Code:    "MALFORMED_LINE",
				Message: err.Error(),
				Sample:  sample(line),
			})
			continue
		}
		batch.Records = append(batch.Records, rec)
	}
	return batch, errs
}

func sample(line []byte) string {
	const max = 120
	if len(line) <= max {
		return string(line)
	}
	return string(line[:max]) + "..."
}

var _ Driver = (*ReplayDriver)(nil)
