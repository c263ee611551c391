package engine

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// schedulerLoop wakes on every tick and starts runs for interval units that
// have gone a full interval without a successful run.
func (e *Engine) schedulerLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.SchedulerTick)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-e.stopCh:
			return
		}
	}
}

func (e *Engine) tick() {
	logger := log.WithComponent("scheduler")

	endpoints, err := e.meta.ListEndpoints(false)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to list endpoints")
		return
	}

	now := time.Now().UTC()
	for _, ep := range endpoints {
		cfgs, err := e.meta.ListUnitConfigs(ep.ID)
		if err != nil {
			logger.Error().Err(err).Str("endpoint_id", ep.ID).Msg("Failed to list unit configs")
			continue
		}
		for _, cfg := range cfgs {
			if !cfg.Enabled || cfg.ScheduleKind != types.ScheduleInterval {
				continue
			}
			if !e.due(ep.ID, cfg, now) {
				continue
			}
			if _, err := e.StartRun(context.Background(), ep.ID, cfg.UnitID); err != nil {
				if errors.Is(err, errdefs.ErrAlreadyRunning) {
					continue
				}
				logger.Warn().Err(err).
					Str("endpoint_id", ep.ID).
					Str("unit_id", cfg.UnitID).
					Msg("Scheduled run failed to start")
				e.stampAttempt(ep.ID, cfg.UnitID, now)
				continue
			}
			logger.Info().
				Str("endpoint_id", ep.ID).
				Str("unit_id", cfg.UnitID).
				Int("interval_minutes", cfg.IntervalMinutes).
				Msg("Starting scheduled run")
		}
	}
}

// due reports whether an interval unit should run now. The interval counts
// from the end of the last successful run; any recent attempt, manual or
// scheduled, also holds the unit for a full interval so failing units do
// not respin every tick.
func (e *Engine) due(endpointID string, cfg *types.UnitConfig, now time.Time) bool {
	interval := time.Duration(cfg.IntervalMinutes) * time.Minute

	e.mu.Lock()
	last, attempted := e.lastAttempt[unitKey(endpointID, cfg.UnitID)]
	e.mu.Unlock()
	if attempted && now.Sub(last) < interval {
		return false
	}

	st, err := e.meta.GetUnitStatus(endpointID, cfg.UnitID)
	if err != nil || st.LastRunAt == nil {
		return true
	}
	return now.Sub(*st.LastRunAt) >= interval
}

func (e *Engine) stampAttempt(endpointID, unitID string, at time.Time) {
	e.mu.Lock()
	e.lastAttempt[unitKey(endpointID, unitID)] = at
	e.mu.Unlock()
}

// retentionLoop periodically prunes staged batch files past the retention
// window.
func (e *Engine) retentionLoop() {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RetentionSweep)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.sweepStaging()
		case <-e.stopCh:
			return
		}
	}
}

// sweepStaging ages out staged files across all configured providers. Only
// keys carrying a trailing nanosecond stamp are aged; run manifests have no
// stamp and stay until removed explicitly.
func (e *Engine) sweepStaging() {
	if e.cfg.RetentionDays <= 0 {
		return
	}
	cutoff := time.Now().Add(-time.Duration(e.cfg.RetentionDays) * 24 * time.Hour)

	if e.staging != nil {
		e.sweepStore(context.Background(), e.staging, cutoff)
	}
	for _, s := range e.extra {
		e.sweepStore(context.Background(), s, cutoff)
	}
}

func (e *Engine) sweepStore(ctx context.Context, s blob.Store, cutoff time.Time) {
	logger := log.WithComponent("retention")

	objects, err := s.List(ctx, e.cfg.StagingPrefix)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to list staged files")
		return
	}

	removed := 0
	for _, obj := range objects {
		stamp, ok := fileStamp(obj.Key)
		if !ok || !stamp.Before(cutoff) {
			continue
		}
		if err := s.Delete(ctx, obj.Key); err != nil {
			logger.Warn().Err(err).Str("key", obj.Key).Msg("Failed to prune staged file")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.Info().Int("removed", removed).Msg("Pruned expired staged files")
	}
}

// fileStamp extracts the write time from staged batch keys, which end in
// "-{unixNanos}.jsonl".
func fileStamp(key string) (time.Time, bool) {
	base := path.Base(key)
	if !strings.HasSuffix(base, ".jsonl") {
		return time.Time{}, false
	}
	stem := strings.TrimSuffix(base, ".jsonl")
	i := strings.LastIndexByte(stem, '-')
	if i < 0 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(stem[i+1:], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
