package engine

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/sink"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// errPaused signals cooperative cancellation between batches. It is never
// retried and never surfaces as a run error.
var errPaused = errors.New("run paused")

// executeRun drives one run to a terminal state, retrying retriable sync
// failures with exponential backoff. It owns the run record from RUNNING
// to SUCCEEDED, FAILED or PAUSED.
func (e *Engine) executeRun(ctx context.Context, ep *types.Endpoint, cfg *types.UnitConfig, run *types.Run, handle *runHandle) {
	logger := log.WithComponent("engine").With().
		Str("run_id", run.ID).
		Str("endpoint_id", ep.ID).
		Str("unit_id", cfg.UnitID).
		Logger()

	started := time.Now()
	defer func() {
		metrics.RunsInFlight.Dec()
		metrics.RunDuration.Observe(time.Since(started).Seconds())
		e.mu.Lock()
		delete(e.running, unitKey(ep.ID, cfg.UnitID))
		e.mu.Unlock()
		e.wg.Done()
	}()

	var (
		stats      map[string]float64
		checkpoint []byte
		err        error
	)
	for attempt := 0; ; attempt++ {
		stats, checkpoint, err = e.runOnce(ctx, ep, cfg, run, handle, logger)
		if err == nil {
			break
		}
		if errors.Is(err, errPaused) || ctx.Err() != nil {
			e.finishRun(ep, cfg, run, types.RunStatePaused, stats, nil, nil)
			logger.Info().Msg("Run paused")
			return
		}
		if !errdefs.Retriable(err) || attempt >= e.cfg.MaxRetries {
			e.finishRun(ep, cfg, run, types.RunStateFailed, stats, nil, err)
			logger.Error().Err(err).Int("attempts", attempt+1).Msg("Run failed")
			return
		}
		delay := e.cfg.RetryBase << uint(attempt)
		logger.Warn().Err(err).Dur("backoff", delay).Int("attempt", attempt+1).
			Msg("Sync failed, retrying")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			e.finishRun(ep, cfg, run, types.RunStatePaused, stats, nil, nil)
			return
		}
	}

	e.finishRun(ep, cfg, run, types.RunStateSucceeded, stats, checkpoint, nil)
	logger.Info().
		Float64("records", stats["records"]).
		Float64("batches", stats["batches"]).
		Msg("Run succeeded")
}

// runOnce performs a single sync attempt: read checkpoint, open the sink,
// call the driver, stream batches into the sink, commit, persist the new
// checkpoint under CAS. Any error aborts the sink and leaves the stored
// checkpoint untouched.
func (e *Engine) runOnce(ctx context.Context, ep *types.Endpoint, cfg *types.UnitConfig, run *types.Run, handle *runHandle, logger zerolog.Logger) (map[string]float64, []byte, error) {
	d, err := e.drivers.Get(ep.Verb)
	if err != nil {
		return nil, nil, errdefs.Wrap(errdefs.KindUpstream, err, "driver unavailable")
	}

	checkpoint, version, err := e.ReadCheckpoint(ctx, ep, cfg.UnitID)
	if err != nil {
		return nil, nil, err
	}

	sinkEp := ep
	if cfg.Mode == types.SinkModeCDM && cfg.SinkEndpointID != "" {
		sinkEp, err = e.activeEndpoint(cfg.SinkEndpointID)
		if err != nil {
			return nil, nil, err
		}
	}
	s, err := e.sinks.Open(cfg.SinkID, sinkEp, cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := s.Begin(ctx); err != nil {
		return nil, nil, err
	}

	result, err := d.SyncUnit(ctx, driver.SyncRequest{
		Endpoint:   ep,
		UnitID:     cfg.UnitID,
		Mode:       cfg.RunMode,
		Checkpoint: checkpoint,
		Limit:      e.cfg.SyncLimit,
		Config:     cfg,
	})
	if err != nil {
		e.abortSink(ctx, s, err, logger)
		return nil, nil, err
	}

	stats := types.CloneStats(result.Stats)
	if stats == nil {
		stats = make(map[string]float64)
	}
	for _, syncErr := range result.Errors {
		logger.Warn().Str("code", syncErr.Code).Str("sample", syncErr.Sample).
			Msg("Source reported a record error")
	}
	stats["syncErrors"] = float64(len(result.Errors))

	for i := range result.Batches {
		if handle.pause.Load() {
			e.abortSink(ctx, s, errPaused, logger)
			return stats, nil, errPaused
		}
		if ctx.Err() != nil {
			e.abortSink(ctx, s, ctx.Err(), logger)
			return stats, nil, errPaused
		}
		batch := &result.Batches[i]
		br, err := s.WriteBatch(ctx, batch)
		if err != nil {
			e.abortSink(ctx, s, err, logger)
			return stats, nil, err
		}
		stats["batches"]++
		stats["records"] += float64(len(batch.Records))
		if br != nil {
			stats["upserts"] += float64(br.Upserts)
			stats["edges"] += float64(br.Edges)
		}
		metrics.BatchesApplied.WithLabelValues(cfg.SinkID).Inc()
		metrics.RecordsIngested.Add(float64(len(batch.Records)))
	}

	if err := s.Commit(ctx, stats); err != nil {
		e.abortSink(ctx, s, err, logger)
		return stats, nil, err
	}

	// The driver's checkpoint is stored verbatim. A nil checkpoint means
	// the driver had nothing new to say; the stored one stands.
	if len(result.NewCheckpoint) > 0 {
		if _, err := e.WriteCheckpoint(ctx, ep, cfg.UnitID, result.NewCheckpoint, version); err != nil {
			return stats, nil, err
		}
		return stats, result.NewCheckpoint, nil
	}
	return stats, checkpoint, nil
}

// abortSink tells the sink to roll back and logs, but never masks the
// original error.
func (e *Engine) abortSink(ctx context.Context, s sink.Sink, cause error, logger zerolog.Logger) {
	if err := s.Abort(ctx, cause); err != nil {
		logger.Error().Err(err).Msg("Sink abort failed")
	}
}

// finishRun records the terminal state on the run and the unit status and
// publishes the matching event.
func (e *Engine) finishRun(ep *types.Endpoint, cfg *types.UnitConfig, run *types.Run, state types.RunState, stats map[string]float64, checkpoint []byte, runErr error) {
	now := time.Now().UTC()
	run.State = state
	run.EndedAt = &now
	run.Stats = stats
	if runErr != nil {
		run.Error = errdefs.Sanitize(runErr)
	}
	if err := e.meta.UpdateRun(run); err != nil {
		logger := log.WithComponent("engine")
		logger.Error().Err(err).
			Str("run_id", run.ID).Msg("Failed to persist run")
	}

	e.putStatus(ep.ID, cfg.UnitID, func(st *types.UnitStatus) {
		st.State = state
		st.LastRunID = run.ID
		st.Stats = types.AddStats(st.Stats, stats)
		switch state {
		case types.RunStateSucceeded:
			st.LastRunAt = &now
			st.LastError = ""
			if len(checkpoint) > 0 {
				st.Checkpoint = append([]byte(nil), checkpoint...)
			}
		case types.RunStateFailed:
			st.LastError = run.Error
		}
	})

	metrics.RunsTotal.WithLabelValues(string(state)).Inc()

	eventType := events.EventRunSucceeded
	switch state {
	case types.RunStateFailed:
		eventType = events.EventRunFailed
	case types.RunStatePaused:
		eventType = events.EventRunPaused
	}
	e.publish(&events.Event{
		Type:       eventType,
		TenantID:   ep.TenantID,
		EndpointID: ep.ID,
		UnitID:     cfg.UnitID,
		RunID:      run.ID,
		Message:    run.Error,
	})
}
