package driver

import (
	"context"
	"encoding/json"

	"github.com/tapestryhq/tapestry/pkg/types"
)

// SyncRequest carries everything a driver needs for one sync call. The
// checkpoint is the raw value stored after the previous successful run,
// handed over without any wrapping.
type SyncRequest struct {
	Endpoint   *types.Endpoint
	UnitID     string
	Mode       types.RunMode
	Checkpoint json.RawMessage
	Limit      int
	Config     *types.UnitConfig
}

// Driver is the source plugin contract. Implementations translate one kind
// of upstream (a REST source, staged files, a fixture script) into unit
// listings and normalized batches.
type Driver interface {
	// ID returns the registry id endpoints select with their verb field.
	ID() string

	// ListUnits reports the independently ingestable slices of the endpoint.
	ListUnits(ctx context.Context, endpoint *types.Endpoint) ([]types.UnitDescriptor, error)

	// SyncUnit pulls one increment of records. The returned checkpoint is
	// persisted as-is and handed back verbatim on the next call.
	SyncUnit(ctx context.Context, req SyncRequest) (*types.SyncResult, error)
}

// Prober is implemented by drivers that can check endpoint reachability
// and detect the upstream version.
type Prober interface {
	Probe(ctx context.Context, endpoint *types.Endpoint) (*ProbeResult, error)
}

// ProbeResult is what a reachability probe learns about an endpoint.
type ProbeResult struct {
	Version      string   `json:"version,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// LagEstimator is implemented by drivers that can report how far behind a
// unit's checkpoint is. A nil lag means the driver cannot tell.
type LagEstimator interface {
	EstimateLag(ctx context.Context, endpoint *types.Endpoint, unitID string) (*float64, error)
}
