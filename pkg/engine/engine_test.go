package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/kv"
	"github.com/tapestryhq/tapestry/pkg/sink"
	"github.com/tapestryhq/tapestry/pkg/store"
	"github.com/tapestryhq/tapestry/pkg/types"
)

type rig struct {
	eng     *Engine
	meta    *store.MemoryStore
	kv      *kv.MemoryStore
	staging *blob.MemoryStore
	mock    *driver.MockDriver
}

// newRig wires an engine over in-memory stores with the mock driver and
// both built-in sinks registered.
func newRig(t *testing.T, mock *driver.MockDriver, cfg Config) *rig {
	t.Helper()

	meta := store.NewMemoryStore()
	kvs := kv.NewMemoryStore()
	staging := blob.NewMemoryStore()
	g := graph.New(meta, nil)

	drivers := driver.NewRegistry()
	require.NoError(t, drivers.Register(mock))

	sinks := sink.NewRegistry()
	require.NoError(t, sinks.Register(sink.DefaultSinkID, sink.NewGraphFactory(g)))
	require.NoError(t, sinks.Register(sink.BlobSinkID, sink.NewBlobFactory(staging, nil, "staging")))

	eng, err := New(Options{
		Meta:    meta,
		KV:      kvs,
		Staging: staging,
		Drivers: drivers,
		Sinks:   sinks,
		Config:  cfg,
	})
	require.NoError(t, err)

	return &rig{eng: eng, meta: meta, kv: kvs, staging: staging, mock: mock}
}

func (r *rig) createEndpoint(t *testing.T) *types.Endpoint {
	t.Helper()
	ep, err := r.eng.CreateEndpoint(context.Background(), &types.Endpoint{
		TenantID:  "org-1",
		Name:      "tracker",
		Verb:      r.mock.ID(),
		ProjectID: "proj-1",
		Domain:    "eng",
	})
	require.NoError(t, err)
	return ep
}

func (r *rig) configure(t *testing.T, endpointID, unitID, sinkID string) *types.UnitConfig {
	t.Helper()
	cfg := &types.UnitConfig{
		EndpointID:   endpointID,
		UnitID:       unitID,
		Enabled:      true,
		RunMode:      types.RunModeIncremental,
		Mode:         types.SinkModeRaw,
		SinkID:       sinkID,
		ScheduleKind: types.ScheduleManual,
	}
	require.NoError(t, r.eng.Configure(context.Background(), cfg))
	return cfg
}

// waitTerminal polls until the run leaves RUNNING.
func (r *rig) waitTerminal(t *testing.T, runID string) *types.Run {
	t.Helper()
	var run *types.Run
	require.Eventually(t, func() bool {
		var err error
		run, err = r.meta.GetRun(runID)
		return err == nil && run.State.Terminal()
	}, 2*time.Second, 5*time.Millisecond)
	return run
}

func scriptedResult(checkpoint string, batches ...types.Batch) *types.SyncResult {
	return &types.SyncResult{
		NewCheckpoint: json.RawMessage(checkpoint),
		Batches:       batches,
	}
}

func issueBatch(ids ...string) types.Batch {
	var b types.Batch
	for _, id := range ids {
		b.Records = append(b.Records, types.NormalizedRecord{
			EntityType:  "issue",
			LogicalID:   id,
			DisplayName: id,
		})
	}
	return b
}

func TestCreateEndpointAssignsIdentity(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ep := r.createEndpoint(t)

	assert.NotEmpty(t, ep.ID)
	assert.False(t, ep.CreatedAt.IsZero())

	stored, err := r.meta.GetEndpoint(ep.ID)
	require.NoError(t, err)
	assert.Equal(t, "tracker", stored.Name)
}

func TestCreateEndpointValidation(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ctx := context.Background()

	tests := []struct {
		name string
		ep   *types.Endpoint
	}{
		{"missing tenant", &types.Endpoint{Name: "x", Verb: "mock"}},
		{"missing name", &types.Endpoint{TenantID: "org-1", Verb: "mock"}},
		{"unknown driver", &types.Endpoint{TenantID: "org-1", Name: "x", Verb: "nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.eng.CreateEndpoint(ctx, tt.ep)
			require.Error(t, err)
			assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
		})
	}
}

type probingDriver struct {
	*driver.MockDriver
	probeErr error
}

func (d *probingDriver) Probe(ctx context.Context, ep *types.Endpoint) (*driver.ProbeResult, error) {
	if d.probeErr != nil {
		return nil, d.probeErr
	}
	return &driver.ProbeResult{Version: "9.1.0", Capabilities: []string{"webhooks"}}, nil
}

func TestCreateEndpointProbes(t *testing.T) {
	probing := &probingDriver{MockDriver: &driver.MockDriver{DriverID: "probing"}}

	meta := store.NewMemoryStore()
	drivers := driver.NewRegistry()
	require.NoError(t, drivers.Register(probing))
	eng, err := New(Options{Meta: meta, KV: kv.NewMemoryStore(), Drivers: drivers, Sinks: sink.NewRegistry()})
	require.NoError(t, err)

	ep, err := eng.CreateEndpoint(context.Background(), &types.Endpoint{
		TenantID: "org-1", Name: "tracker", Verb: "probing",
	})
	require.NoError(t, err)
	assert.Equal(t, "9.1.0", ep.Version)
	assert.Equal(t, []string{"webhooks"}, ep.Capabilities)
}

func TestCreateEndpointSurvivesProbeFailure(t *testing.T) {
	probing := &probingDriver{
		MockDriver: &driver.MockDriver{DriverID: "probing"},
		probeErr:   errdefs.New(errdefs.KindRetriableTransport, "connection refused"),
	}

	drivers := driver.NewRegistry()
	require.NoError(t, drivers.Register(probing))
	eng, err := New(Options{Meta: store.NewMemoryStore(), KV: kv.NewMemoryStore(), Drivers: drivers, Sinks: sink.NewRegistry()})
	require.NoError(t, err)

	ep, err := eng.CreateEndpoint(context.Background(), &types.Endpoint{
		TenantID: "org-1", Name: "tracker", Verb: "probing",
	})
	require.NoError(t, err)
	assert.Empty(t, ep.Version)
}

func TestDeleteEndpointHidesItFromVerbs(t *testing.T) {
	r := newRig(t, &driver.MockDriver{Units: []types.UnitDescriptor{{ID: "issues"}}}, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	require.NoError(t, r.eng.DeleteEndpoint(ctx, ep.ID, "decommissioned"))

	_, err := r.eng.Discover(ctx, ep.ID)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

	_, err = r.eng.StartRun(ctx, ep.ID, "issues")
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))

	// The record survives for audit.
	stored, err := r.meta.GetEndpoint(ep.ID)
	require.NoError(t, err)
	assert.True(t, stored.Deleted())
	assert.Equal(t, "decommissioned", stored.DeleteReason)
}

func TestDiscoverListsDriverUnits(t *testing.T) {
	r := newRig(t, &driver.MockDriver{Units: []types.UnitDescriptor{
		{ID: "issues", Name: "Issues"},
		{ID: "repos", Name: "Repositories"},
	}}, Config{})
	ep := r.createEndpoint(t)

	units, err := r.eng.Discover(context.Background(), ep.ID)
	require.NoError(t, err)
	require.Len(t, units, 2)
	assert.Equal(t, "issues", units[0].ID)
}

func TestConfigureValidation(t *testing.T) {
	r := newRig(t, &driver.MockDriver{Units: []types.UnitDescriptor{{ID: "issues"}}}, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	base := func() *types.UnitConfig {
		return &types.UnitConfig{
			EndpointID:   ep.ID,
			UnitID:       "issues",
			Enabled:      true,
			RunMode:      types.RunModeIncremental,
			Mode:         types.SinkModeRaw,
			SinkID:       sink.DefaultSinkID,
			ScheduleKind: types.ScheduleManual,
		}
	}

	good := base()
	require.NoError(t, r.eng.Configure(ctx, good))
	assert.False(t, good.UpdatedAt.IsZero())

	badFilter := base()
	badFilter.Filter = `entityType ==`
	err := r.eng.Configure(ctx, badFilter)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	badInterval := base()
	badInterval.ScheduleKind = types.ScheduleInterval
	err = r.eng.Configure(ctx, badInterval)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	unknownEndpoint := base()
	unknownEndpoint.EndpointID = "nope"
	err = r.eng.Configure(ctx, unknownEndpoint)
	assert.True(t, errdefs.Is(err, errdefs.KindNotFound))
}

func TestConfigureCDMRequiresModelAndSinkEndpoint(t *testing.T) {
	mock := &driver.MockDriver{Units: []types.UnitDescriptor{
		{ID: "issues"},
		{ID: "tickets", CDMModelID: "ticket.v1"},
	}}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	sinkEp := r.createEndpoint(t)

	cdm := func(unitID string) *types.UnitConfig {
		return &types.UnitConfig{
			EndpointID:     ep.ID,
			UnitID:         unitID,
			Enabled:        true,
			RunMode:        types.RunModeFull,
			Mode:           types.SinkModeCDM,
			SinkID:         sink.DefaultSinkID,
			SinkEndpointID: sinkEp.ID,
			ScheduleKind:   types.ScheduleManual,
		}
	}

	require.NoError(t, r.eng.Configure(ctx, cdm("tickets")))

	err := r.eng.Configure(ctx, cdm("issues"))
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))

	require.NoError(t, r.eng.DeleteEndpoint(ctx, sinkEp.ID, "gone"))
	err = r.eng.Configure(ctx, cdm("tickets"))
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.KindInvalidInput))
}

func TestStartRunSucceeds(t *testing.T) {
	mock := &driver.MockDriver{
		Units: []types.UnitDescriptor{{ID: "issues"}},
		Script: []*types.SyncResult{
			scriptedResult(`{"cursor":"c1"}`, issueBatch("TAP-1", "TAP-2"), issueBatch("TAP-3")),
		},
	}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateRunning, run.State)

	done := r.waitTerminal(t, run.ID)
	assert.Equal(t, types.RunStateSucceeded, done.State)
	assert.Equal(t, float64(3), done.Stats["records"])
	assert.Equal(t, float64(2), done.Stats["batches"])
	assert.NotNil(t, done.EndedAt)

	// The driver's checkpoint lands verbatim under the unit key.
	cp, version, err := r.eng.ReadCheckpoint(ctx, ep, "issues")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":"c1"}`, string(cp))
	assert.Equal(t, int64(1), version)

	st, err := r.meta.GetUnitStatus(ep.ID, "issues")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateSucceeded, st.State)
	require.NotNil(t, st.LastRunAt)
	assert.JSONEq(t, `{"cursor":"c1"}`, string(st.Checkpoint))

	count, err := r.meta.CountNodes("org-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	assert.Equal(t, 0, r.eng.Running())
}

func TestStartRunPassesStoredCheckpoint(t *testing.T) {
	mock := &driver.MockDriver{
		Units:  []types.UnitDescriptor{{ID: "issues"}},
		Script: []*types.SyncResult{scriptedResult(`{"cursor":"c2"}`)},
	}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)

	_, err := r.eng.WriteCheckpoint(ctx, ep, "issues", json.RawMessage(`{"cursor":"c1"}`), 0)
	require.NoError(t, err)

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)
	r.waitTerminal(t, run.ID)

	calls := mock.SyncCalls()
	require.Len(t, calls, 1)
	assert.JSONEq(t, `{"cursor":"c1"}`, string(calls[0].Checkpoint))

	cp, version, err := r.eng.ReadCheckpoint(ctx, ep, "issues")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":"c2"}`, string(cp))
	assert.Equal(t, int64(2), version)
}

func TestStartRunPreconditions(t *testing.T) {
	mock := &driver.MockDriver{Units: []types.UnitDescriptor{{ID: "issues"}}}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	_, err := r.eng.StartRun(ctx, ep.ID, "issues")
	assert.True(t, errors.Is(err, errdefs.ErrNotConfigured))

	cfg := r.configure(t, ep.ID, "issues", sink.DefaultSinkID)
	cfg.Enabled = false
	require.NoError(t, r.meta.PutUnitConfig(cfg))
	_, err = r.eng.StartRun(ctx, ep.ID, "issues")
	assert.True(t, errors.Is(err, errdefs.ErrNotConfigured))

	cfg.Enabled = true
	cfg.Policy = map[string]any{"stagingProviderId": "cold"}
	require.NoError(t, r.meta.PutUnitConfig(cfg))
	_, err = r.eng.StartRun(ctx, ep.ID, "issues")
	assert.True(t, errors.Is(err, errdefs.ErrMissingStagingProvider))
}

func TestStartRunRefusesConcurrentRuns(t *testing.T) {
	mock := &driver.MockDriver{Units: []types.UnitDescriptor{{ID: "issues"}}}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)

	r.eng.mu.Lock()
	r.eng.running[unitKey(ep.ID, "issues")] = &runHandle{runID: "r-1"}
	r.eng.mu.Unlock()

	_, err := r.eng.StartRun(ctx, ep.ID, "issues")
	assert.True(t, errors.Is(err, errdefs.ErrAlreadyRunning))

	r.eng.mu.Lock()
	delete(r.eng.running, unitKey(ep.ID, "issues"))
	r.eng.mu.Unlock()

	// A RUNNING record from another process blocks too.
	require.NoError(t, r.meta.CreateRun(&types.Run{
		ID: "r-ghost", EndpointID: ep.ID, UnitID: "issues",
		State: types.RunStateRunning, StartedAt: time.Now().UTC(),
	}))
	_, err = r.eng.StartRun(ctx, ep.ID, "issues")
	assert.True(t, errors.Is(err, errdefs.ErrAlreadyRunning))
}

func TestStartRunAdmitsOneOfConcurrentStarts(t *testing.T) {
	mock := &driver.MockDriver{
		Units:  []types.UnitDescriptor{{ID: "issues"}},
		Script: []*types.SyncResult{scriptedResult(`{"cursor":"c1"}`, issueBatch("TAP-1"))},
	}
	r := newRig(t, mock, Config{})
	gate := newGateSink()
	require.NoError(t, r.eng.sinks.Register("gate", func(ep *types.Endpoint, cfg *types.UnitConfig) (sink.Sink, error) {
		return gate, nil
	}))

	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", "gate")

	// The gate sink keeps the winning run in flight while the rest race.
	const starters = 16
	var (
		mu      sync.Mutex
		started []string
		refused int
		begin   = make(chan struct{})
		done    sync.WaitGroup
	)
	done.Add(starters)
	for i := 0; i < starters; i++ {
		go func() {
			defer done.Done()
			<-begin
			run, err := r.eng.StartRun(ctx, ep.ID, "issues")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.True(t, errors.Is(err, errdefs.ErrAlreadyRunning))
				refused++
				return
			}
			started = append(started, run.ID)
		}()
	}
	close(begin)
	done.Wait()

	require.Len(t, started, 1)
	assert.Equal(t, starters-1, refused)

	<-gate.entered
	close(gate.release)
	final := r.waitTerminal(t, started[0])
	assert.Equal(t, types.RunStateSucceeded, final.State)
}

func TestRunFailurePreservesCheckpoint(t *testing.T) {
	mock := &driver.MockDriver{
		Units: []types.UnitDescriptor{{ID: "issues"}},
		Fail:  errdefs.New(errdefs.KindInvalidInput, "unit rejected by source"),
	}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)

	_, err := r.eng.WriteCheckpoint(ctx, ep, "issues", json.RawMessage(`{"cursor":"c1"}`), 0)
	require.NoError(t, err)

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)

	done := r.waitTerminal(t, run.ID)
	assert.Equal(t, types.RunStateFailed, done.State)
	assert.Contains(t, done.Error, "unit rejected")

	cp, version, err := r.eng.ReadCheckpoint(ctx, ep, "issues")
	require.NoError(t, err)
	assert.JSONEq(t, `{"cursor":"c1"}`, string(cp))
	assert.Equal(t, int64(1), version)

	st, err := r.meta.GetUnitStatus(ep.ID, "issues")
	require.NoError(t, err)
	assert.Equal(t, types.RunStateFailed, st.State)
	assert.NotEmpty(t, st.LastError)
	assert.Nil(t, st.LastRunAt)

	// Only one attempt: the failure is not retriable.
	assert.Len(t, mock.SyncCalls(), 1)
}

func TestRunRetriesRetriableFailures(t *testing.T) {
	mock := &driver.MockDriver{
		Units:     []types.UnitDescriptor{{ID: "issues"}},
		Fail:      errdefs.New(errdefs.KindRetriableTransport, "connection reset"),
		FailTimes: 2,
		Script:    []*types.SyncResult{scriptedResult(`{"cursor":"c1"}`, issueBatch("TAP-1"))},
	}
	r := newRig(t, mock, Config{RetryBase: time.Millisecond, MaxRetries: 3})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)

	done := r.waitTerminal(t, run.ID)
	assert.Equal(t, types.RunStateSucceeded, done.State)
	assert.Len(t, mock.SyncCalls(), 3)
}

func TestRunRetriesExhausted(t *testing.T) {
	mock := &driver.MockDriver{
		Units: []types.UnitDescriptor{{ID: "issues"}},
		Fail:  errdefs.New(errdefs.KindRetriableTransport, "connection reset"),
	}
	r := newRig(t, mock, Config{RetryBase: time.Millisecond, MaxRetries: 1})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)

	done := r.waitTerminal(t, run.ID)
	assert.Equal(t, types.RunStateFailed, done.State)
	assert.Len(t, mock.SyncCalls(), 2)
}

// gateSink blocks inside WriteBatch until released so tests can interleave
// pause requests with a run in flight.
type gateSink struct {
	entered chan struct{}
	release chan struct{}

	mu      sync.Mutex
	wrote   int
	aborted bool
}

func newGateSink() *gateSink {
	return &gateSink{entered: make(chan struct{}, 4), release: make(chan struct{})}
}

func (s *gateSink) ID() string                      { return "gate" }
func (s *gateSink) Begin(ctx context.Context) error { return nil }

func (s *gateSink) WriteBatch(ctx context.Context, batch *types.Batch) (*sink.BatchResult, error) {
	s.entered <- struct{}{}
	<-s.release
	s.mu.Lock()
	s.wrote++
	s.mu.Unlock()
	return &sink.BatchResult{Upserts: len(batch.Records)}, nil
}

func (s *gateSink) Commit(ctx context.Context, stats map[string]float64) error { return nil }

func (s *gateSink) Abort(ctx context.Context, cause error) error {
	s.mu.Lock()
	s.aborted = true
	s.mu.Unlock()
	return nil
}

func (s *gateSink) state() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wrote, s.aborted
}

func TestPauseRunBetweenBatches(t *testing.T) {
	mock := &driver.MockDriver{
		Units: []types.UnitDescriptor{{ID: "issues"}},
		Script: []*types.SyncResult{
			scriptedResult(`{"cursor":"c1"}`, issueBatch("TAP-1"), issueBatch("TAP-2")),
		},
	}
	r := newRig(t, mock, Config{})
	gate := newGateSink()
	require.NoError(t, r.eng.sinks.Register("gate", func(ep *types.Endpoint, cfg *types.UnitConfig) (sink.Sink, error) {
		return gate, nil
	}))

	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", "gate")

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)

	<-gate.entered
	_, err = r.eng.PauseRun(ctx, ep.ID, "issues")
	require.NoError(t, err)
	close(gate.release)

	done := r.waitTerminal(t, run.ID)
	assert.Equal(t, types.RunStatePaused, done.State)
	assert.Empty(t, done.Error)

	wrote, aborted := gate.state()
	assert.Equal(t, 1, wrote)
	assert.True(t, aborted)

	// The pre-run checkpoint state survives.
	cp, _, err := r.eng.ReadCheckpoint(ctx, ep, "issues")
	require.NoError(t, err)
	assert.Nil(t, cp)

	st, err := r.meta.GetUnitStatus(ep.ID, "issues")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatePaused, st.State)
}

func TestPauseRunAdoptsStaleRecord(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	require.NoError(t, r.meta.CreateRun(&types.Run{
		ID: "r-stale", EndpointID: ep.ID, UnitID: "issues",
		State: types.RunStateRunning, StartedAt: time.Now().UTC(),
	}))

	run, err := r.eng.PauseRun(ctx, ep.ID, "issues")
	require.NoError(t, err)
	assert.Equal(t, types.RunStatePaused, run.State)
	assert.NotNil(t, run.EndedAt)
}

func TestPauseRunWithoutRun(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ep := r.createEndpoint(t)

	_, err := r.eng.PauseRun(context.Background(), ep.ID, "issues")
	assert.True(t, errdefs.Is(err, errdefs.KindConflict))
}

func TestResetCheckpoint(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	_, err := r.eng.WriteCheckpoint(ctx, ep, "issues", json.RawMessage(`{"cursor":"c9"}`), 0)
	require.NoError(t, err)
	require.NoError(t, r.meta.PutUnitStatus(&types.UnitStatus{
		EndpointID: ep.ID, UnitID: "issues", State: types.RunStateSucceeded,
		Checkpoint: json.RawMessage(`{"cursor":"c9"}`),
	}))

	require.NoError(t, r.eng.ResetCheckpoint(ctx, ep.ID, "issues"))

	cp, version, err := r.eng.ReadCheckpoint(ctx, ep, "issues")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.Equal(t, int64(0), version)

	st, err := r.meta.GetUnitStatus(ep.ID, "issues")
	require.NoError(t, err)
	assert.Nil(t, st.Checkpoint)

	// Resetting again is a no-op, not an error.
	require.NoError(t, r.eng.ResetCheckpoint(ctx, ep.ID, "issues"))
}

func TestStatusMergesDriverAndStore(t *testing.T) {
	mock := &driver.MockDriver{Units: []types.UnitDescriptor{
		{ID: "issues", Name: "Issues"},
		{ID: "repos", Name: "Repositories"},
	}}
	r := newRig(t, mock, Config{})
	ctx := context.Background()
	ep := r.createEndpoint(t)

	r.configure(t, ep.ID, "issues", sink.DefaultSinkID)
	legacy := &types.UnitConfig{
		EndpointID: ep.ID, UnitID: "legacy", Enabled: false,
		RunMode: types.RunModeFull, Mode: types.SinkModeRaw,
		ScheduleKind: types.ScheduleManual,
	}
	require.NoError(t, r.meta.PutUnitConfig(legacy))
	require.NoError(t, r.meta.PutUnitStatus(&types.UnitStatus{
		EndpointID: ep.ID, UnitID: "issues", State: types.RunStateSucceeded,
	}))

	rows, err := r.eng.Status(ctx, ep.ID)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, "issues", rows[0].Unit.ID)
	require.NotNil(t, rows[0].Config)
	require.NotNil(t, rows[0].Status)
	assert.Equal(t, types.RunStateSucceeded, rows[0].Status.State)

	// Configured but no longer discoverable: still listed.
	assert.Equal(t, "legacy", rows[1].Unit.ID)
	require.NotNil(t, rows[1].Config)
	assert.Nil(t, rows[1].Status)

	assert.Equal(t, "repos", rows[2].Unit.ID)
	assert.Nil(t, rows[2].Config)
}

type laggingDriver struct {
	*driver.MockDriver
}

func (d *laggingDriver) EstimateLag(ctx context.Context, ep *types.Endpoint, unitID string) (*float64, error) {
	lag := 42.0
	return &lag, nil
}

func TestEstimateLag(t *testing.T) {
	lagging := &laggingDriver{MockDriver: &driver.MockDriver{DriverID: "lagging"}}
	drivers := driver.NewRegistry()
	require.NoError(t, drivers.Register(lagging))
	meta := store.NewMemoryStore()
	eng, err := New(Options{Meta: meta, KV: kv.NewMemoryStore(), Drivers: drivers, Sinks: sink.NewRegistry()})
	require.NoError(t, err)

	ep, err := eng.CreateEndpoint(context.Background(), &types.Endpoint{
		TenantID: "org-1", Name: "tracker", Verb: "lagging",
	})
	require.NoError(t, err)

	lag, err := eng.EstimateLag(context.Background(), ep.ID, "issues")
	require.NoError(t, err)
	require.NotNil(t, lag)
	assert.Equal(t, 42.0, *lag)
}

func TestEstimateLagUnsupported(t *testing.T) {
	r := newRig(t, &driver.MockDriver{}, Config{})
	ep := r.createEndpoint(t)

	lag, err := r.eng.EstimateLag(context.Background(), ep.ID, "issues")
	require.NoError(t, err)
	assert.Nil(t, lag)
}

func TestBlobSinkRunStagesFiles(t *testing.T) {
	mock := &driver.MockDriver{
		Units: []types.UnitDescriptor{{ID: "issues"}},
		Script: []*types.SyncResult{
			scriptedResult(`{"cursor":"c1"}`, issueBatch("TAP-1", "TAP-2")),
		},
	}
	r := newRig(t, mock, Config{StagingPrefix: "staging"})
	ctx := context.Background()
	ep := r.createEndpoint(t)
	r.configure(t, ep.ID, "issues", sink.BlobSinkID)

	run, err := r.eng.StartRun(ctx, ep.ID, "issues")
	require.NoError(t, err)
	done := r.waitTerminal(t, run.ID)
	require.Equal(t, types.RunStateSucceeded, done.State)

	objects, err := r.staging.List(ctx, "staging/"+ep.ID)
	require.NoError(t, err)
	require.Len(t, objects, 2)

	var batchFiles, manifests int
	for _, obj := range objects {
		if _, ok := fileStamp(obj.Key); ok {
			batchFiles++
		} else {
			manifests++
		}
	}
	assert.Equal(t, 1, batchFiles)
	assert.Equal(t, 1, manifests)
}
