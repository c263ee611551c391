package engine

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/filter"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/sink"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// CreateEndpoint registers a source endpoint. When the driver can probe,
// the detected version and capabilities are recorded on the endpoint.
func (e *Engine) CreateEndpoint(ctx context.Context, ep *types.Endpoint) (*types.Endpoint, error) {
	if ep.TenantID == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "endpoint requires a tenantId")
	}
	if ep.Name == "" {
		return nil, errdefs.New(errdefs.KindInvalidInput, "endpoint requires a name")
	}
	if _, err := e.drivers.Get(ep.Verb); err != nil {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, err, "unknown driver")
	}
	if ep.ID == "" {
		ep.ID = uuid.New().String()
	}

	now := time.Now().UTC()
	ep.CreatedAt = now
	ep.UpdatedAt = now

	d, _ := e.drivers.Get(ep.Verb)
	if prober, ok := d.(driver.Prober); ok {
		probe, err := prober.Probe(ctx, ep)
		if err != nil {
			logger := log.WithComponent("engine")
			logger.Warn().Err(err).
				Str("endpoint_id", ep.ID).Msg("Endpoint probe failed")
		} else {
			ep.Version = probe.Version
			ep.Capabilities = probe.Capabilities
		}
	}

	if err := e.meta.CreateEndpoint(ep); err != nil {
		return nil, err
	}
	e.publish(&events.Event{
		Type:       events.EventEndpointCreated,
		TenantID:   ep.TenantID,
		EndpointID: ep.ID,
		Message:    ep.Name,
	})
	return ep, nil
}

// DeleteEndpoint soft-deletes an endpoint. Its units stop scheduling but
// their configuration and history remain.
func (e *Engine) DeleteEndpoint(ctx context.Context, endpointID, reason string) error {
	ep, err := e.activeEndpoint(endpointID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	ep.DeletedAt = &now
	ep.DeleteReason = reason
	ep.UpdatedAt = now
	if err := e.meta.UpdateEndpoint(ep); err != nil {
		return err
	}
	e.publish(&events.Event{
		Type:       events.EventEndpointDeleted,
		TenantID:   ep.TenantID,
		EndpointID: ep.ID,
		Message:    reason,
	})
	return nil
}

// Discover asks the endpoint's driver for its unit listing.
func (e *Engine) Discover(ctx context.Context, endpointID string) ([]types.UnitDescriptor, error) {
	ep, err := e.activeEndpoint(endpointID)
	if err != nil {
		return nil, err
	}
	d, err := e.drivers.Get(ep.Verb)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUpstream, err, "driver unavailable")
	}
	units, err := d.ListUnits(ctx, ep)
	if err != nil {
		if errdefs.Retriable(err) {
			return nil, errdefs.Wrap(errdefs.KindUpstream, err, "driver unavailable")
		}
		return nil, err
	}
	return units, nil
}

// Configure validates and persists a unit configuration. Bad filters, bad
// schedules and dangling cdm sink references all fail here rather than at
// run time.
func (e *Engine) Configure(ctx context.Context, cfg *types.UnitConfig) error {
	if cfg == nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, errdefs.ErrInvalidConfig, "missing config")
	}
	if err := cfg.Validate(); err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "invalid unit configuration")
	}
	if _, err := filter.Compile(cfg.Filter); err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, err, "invalid unit configuration")
	}

	ep, err := e.activeEndpoint(cfg.EndpointID)
	if err != nil {
		return err
	}

	if cfg.Mode == types.SinkModeCDM {
		if err := e.checkCDM(ctx, ep, cfg); err != nil {
			return err
		}
	}

	cfg.UpdatedAt = time.Now().UTC()
	return e.meta.PutUnitConfig(cfg)
}

// checkCDM verifies that the unit's descriptor declares a CDM model and
// that the configured sink endpoint exists and is alive.
func (e *Engine) checkCDM(ctx context.Context, ep *types.Endpoint, cfg *types.UnitConfig) error {
	units, err := e.Discover(ctx, ep.ID)
	if err != nil {
		return err
	}
	var unit *types.UnitDescriptor
	for i := range units {
		if units[i].ID == cfg.UnitID {
			unit = &units[i]
			break
		}
	}
	if unit == nil || unit.CDMModelID == "" {
		return errdefs.Wrap(errdefs.KindInvalidInput, errdefs.ErrInvalidConfig,
			"cdm mode requires a unit with a cdm model")
	}

	sinkEp, err := e.meta.GetEndpoint(cfg.SinkEndpointID)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, errdefs.ErrInvalidConfig,
			"cdm sink endpoint not found")
	}
	if sinkEp.Deleted() {
		return errdefs.Wrap(errdefs.KindInvalidInput, errdefs.ErrInvalidConfig,
			"cdm sink endpoint is deleted")
	}
	return nil
}

// StartRun validates preconditions, creates the run record and launches
// the executor.
func (e *Engine) StartRun(ctx context.Context, endpointID, unitID string) (*types.Run, error) {
	ep, err := e.activeEndpoint(endpointID)
	if err != nil {
		return nil, err
	}

	cfg, err := e.meta.GetUnitConfig(endpointID, unitID)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, errdefs.ErrNotConfigured
		}
		return nil, err
	}
	if !cfg.Enabled {
		return nil, errdefs.Wrap(errdefs.KindInvalidInput, errdefs.ErrNotConfigured, "unit is disabled")
	}
	if cfg.SinkID == "" {
		return nil, errdefs.ErrMissingSink
	}
	if cfg.SinkID == sink.BlobSinkID || cfg.StagingProviderID() != "" {
		if _, err := e.stagingFor(cfg.StagingProviderID()); err != nil {
			return nil, err
		}
	}

	key := unitKey(endpointID, unitID)

	run := &types.Run{
		ID:         uuid.New().String(),
		EndpointID: endpointID,
		UnitID:     unitID,
		Mode:       cfg.RunMode,
		State:      types.RunStateRunning,
		StartedAt:  time.Now().UTC(),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	handle := &runHandle{runID: run.ID, cancel: cancel}

	// Reserve the unit key before the persisted-run check so two
	// concurrent starts cannot both pass it. The reservation holds at
	// most one non-terminal run per (endpoint, unit).
	e.mu.Lock()
	if _, inFlight := e.running[key]; inFlight {
		e.mu.Unlock()
		cancel()
		return nil, errdefs.ErrAlreadyRunning
	}
	e.running[key] = handle
	e.lastAttempt[key] = run.StartedAt
	e.mu.Unlock()

	release := func() {
		cancel()
		e.mu.Lock()
		delete(e.running, key)
		e.mu.Unlock()
	}

	if active, err := e.meta.GetActiveRun(endpointID, unitID); err == nil && active != nil {
		release()
		return nil, errdefs.ErrAlreadyRunning
	} else if err != nil && !errdefs.Is(err, errdefs.KindNotFound) {
		release()
		return nil, err
	}

	if err := e.meta.CreateRun(run); err != nil {
		release()
		return nil, err
	}
	e.putStatus(endpointID, unitID, func(st *types.UnitStatus) {
		st.State = types.RunStateRunning
		st.LastRunID = run.ID
		st.LastError = ""
	})

	metrics.RunsInFlight.Inc()
	e.publish(&events.Event{
		Type:       events.EventRunStarted,
		TenantID:   ep.TenantID,
		EndpointID: endpointID,
		UnitID:     unitID,
		RunID:      run.ID,
	})

	e.wg.Add(1)
	go e.executeRun(runCtx, ep, cfg, run, handle)

	return run, nil
}

// PauseRun requests cooperative cancellation of the unit's active run. The
// current batch completes; the pre-run checkpoint is preserved.
func (e *Engine) PauseRun(ctx context.Context, endpointID, unitID string) (*types.Run, error) {
	key := unitKey(endpointID, unitID)

	e.mu.Lock()
	handle, inFlight := e.running[key]
	e.mu.Unlock()

	if inFlight {
		handle.pause.Store(true)
		run, err := e.meta.GetRun(handle.runID)
		if err != nil {
			return nil, err
		}
		return run, nil
	}

	// Not running in this process. A RUNNING record without an executor is
	// a crash leftover; flip it to PAUSED so the unit can start again.
	active, err := e.meta.GetActiveRun(endpointID, unitID)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil, errdefs.New(errdefs.KindConflict, "no run in progress for %s", key)
		}
		return nil, err
	}
	now := time.Now().UTC()
	active.State = types.RunStatePaused
	active.EndedAt = &now
	if err := e.meta.UpdateRun(active); err != nil {
		return nil, err
	}
	e.putStatus(endpointID, unitID, func(st *types.UnitStatus) {
		st.State = types.RunStatePaused
	})
	return active, nil
}

// ResetCheckpoint removes the unit's stored checkpoint. Resetting a unit
// that has no checkpoint succeeds.
func (e *Engine) ResetCheckpoint(ctx context.Context, endpointID, unitID string) error {
	ep, err := e.activeEndpoint(endpointID)
	if err != nil {
		return err
	}

	key := unitCheckpointKey(ep, unitID)
	entry, err := e.kv.Get(ctx, key)
	if err != nil {
		if errdefs.Is(err, errdefs.KindNotFound) {
			return nil
		}
		return err
	}
	if err := e.kv.Delete(ctx, key, entry.Version); err != nil {
		return err
	}
	e.putStatus(endpointID, unitID, func(st *types.UnitStatus) {
		st.Checkpoint = nil
	})
	return nil
}

// Status merges the driver's unit listing with persisted configuration and
// latest run status. Units the driver no longer reports but that carry
// configuration still appear.
func (e *Engine) Status(ctx context.Context, endpointID string) ([]types.UnitWithStatus, error) {
	if _, err := e.activeEndpoint(endpointID); err != nil {
		return nil, err
	}

	rows := make(map[string]*types.UnitWithStatus)

	units, err := e.Discover(ctx, endpointID)
	if err != nil {
		logger := log.WithComponent("engine")
		logger.Warn().Err(err).
			Str("endpoint_id", endpointID).Msg("Discovery failed, listing configured units only")
	}
	for _, u := range units {
		rows[u.ID] = &types.UnitWithStatus{Unit: u}
	}

	cfgs, err := e.meta.ListUnitConfigs(endpointID)
	if err != nil {
		return nil, err
	}
	for _, cfg := range cfgs {
		row, ok := rows[cfg.UnitID]
		if !ok {
			row = &types.UnitWithStatus{Unit: types.UnitDescriptor{ID: cfg.UnitID, Name: cfg.UnitID}}
			rows[cfg.UnitID] = row
		}
		row.Config = cfg
	}

	statuses, err := e.meta.ListUnitStatuses(endpointID)
	if err != nil {
		return nil, err
	}
	for _, st := range statuses {
		if row, ok := rows[st.UnitID]; ok {
			row.Status = st
		}
	}

	out := make([]types.UnitWithStatus, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Unit.ID < out[j].Unit.ID })
	return out, nil
}

// EstimateLag asks the driver how far behind a unit is, when it can tell.
func (e *Engine) EstimateLag(ctx context.Context, endpointID, unitID string) (*float64, error) {
	ep, err := e.activeEndpoint(endpointID)
	if err != nil {
		return nil, err
	}
	d, err := e.drivers.Get(ep.Verb)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.KindUpstream, err, "driver unavailable")
	}
	estimator, ok := d.(driver.LagEstimator)
	if !ok {
		return nil, nil
	}
	return estimator.EstimateLag(ctx, ep, unitID)
}

// activeEndpoint loads an endpoint and hides soft-deleted ones.
func (e *Engine) activeEndpoint(endpointID string) (*types.Endpoint, error) {
	ep, err := e.meta.GetEndpoint(endpointID)
	if err != nil {
		return nil, err
	}
	if ep.Deleted() {
		return nil, errdefs.New(errdefs.KindNotFound, "endpoint not found: %s", endpointID)
	}
	return ep, nil
}

// putStatus read-modify-writes the unit's status row.
func (e *Engine) putStatus(endpointID, unitID string, mutate func(*types.UnitStatus)) {
	st, err := e.meta.GetUnitStatus(endpointID, unitID)
	if err != nil {
		st = &types.UnitStatus{EndpointID: endpointID, UnitID: unitID, State: types.RunStateIdle}
	}
	mutate(st)
	if err := e.meta.PutUnitStatus(st); err != nil {
		logger := log.WithComponent("engine")
		logger.Error().Err(err).
			Str("endpoint_id", endpointID).Str("unit_id", unitID).
			Msg("Failed to persist unit status")
	}
}
