package driver

import (
	"context"
	"sync"

	"github.com/tapestryhq/tapestry/pkg/types"
)

// MockDriver is a scripted driver for tests and local development. Sync
// results are consumed in script order; once the script runs out, further
// syncs return an empty result carrying the checkpoint unchanged. Fail
// makes every call fail; FailTimes makes only the first n sync calls fail.
type MockDriver struct {
	DriverID  string
	Units     []types.UnitDescriptor
	Script    []*types.SyncResult
	Fail      error
	FailTimes int

	mu     sync.Mutex
	cursor int
	calls  []SyncRequest
}

func (d *MockDriver) ID() string {
	if d.DriverID != "" {
		return d.DriverID
	}
	return "mock"
}

func (d *MockDriver) ListUnits(ctx context.Context, endpoint *types.Endpoint) ([]types.UnitDescriptor, error) {
	if d.Fail != nil {
		return nil, d.Fail
	}
	return append([]types.UnitDescriptor(nil), d.Units...), nil
}

func (d *MockDriver) SyncUnit(ctx context.Context, req SyncRequest) (*types.SyncResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, req)

	if d.Fail != nil && (d.FailTimes == 0 || len(d.calls) <= d.FailTimes) {
		return nil, d.Fail
	}
	if d.cursor >= len(d.Script) {
		return &types.SyncResult{NewCheckpoint: req.Checkpoint}, nil
	}
	result := d.Script[d.cursor]
	d.cursor++
	return result, nil
}

// SyncCalls returns the recorded sync requests.
func (d *MockDriver) SyncCalls() []SyncRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]SyncRequest(nil), d.calls...)
}

var _ Driver = (*MockDriver)(nil)
