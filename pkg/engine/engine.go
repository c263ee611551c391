package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/kv"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/sink"
	"github.com/tapestryhq/tapestry/pkg/store"
)

// DefaultStagingProviderID is the provider units get when their policy does
// not name one.
const DefaultStagingProviderID = "default"

// Config tunes the engine. Zero values get sensible defaults.
type Config struct {
	// SyncLimit caps the records requested from a driver per sync call.
	SyncLimit int
	// RetentionDays bounds the age of staged files. 0 disables pruning.
	RetentionDays int
	// StagingPrefix roots all staged files in the blob store.
	StagingPrefix string
	// SchedulerTick is how often interval units are checked for due runs.
	SchedulerTick time.Duration
	// RetentionSweep is how often expired staged files are pruned.
	RetentionSweep time.Duration
	// RetryBase is the first retry delay for retriable run failures; it
	// doubles per attempt.
	RetryBase time.Duration
	// MaxRetries bounds in-run retries of retriable failures. Zero means
	// the default of 2; a negative value disables retries.
	MaxRetries int
}

func (c Config) withDefaults() Config {
	if c.SyncLimit <= 0 {
		c.SyncLimit = 1000
	}
	if c.StagingPrefix == "" {
		c.StagingPrefix = "staging"
	}
	if c.SchedulerTick <= 0 {
		c.SchedulerTick = 30 * time.Second
	}
	if c.RetentionSweep <= 0 {
		c.RetentionSweep = time.Hour
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	return c
}

// Options carries the engine's collaborators. Meta, KV, Drivers and Sinks
// are required; Staging may be nil when no unit stages.
type Options struct {
	Meta    store.Store
	KV      kv.Store
	Staging blob.Store
	// StagingProviders holds additional named providers units can select
	// with the stagingProviderId policy key.
	StagingProviders map[string]blob.Store
	Drivers          *driver.Registry
	Sinks            *sink.Registry
	Broker           *events.Broker
	Config           Config
}

// Engine owns the per-unit ingestion state machine: discovery, unit
// configuration, run execution, checkpoints, interval scheduling and
// staging retention.
type Engine struct {
	meta     store.Store
	kv       kv.Store
	staging  blob.Store
	extra    map[string]blob.Store
	drivers  *driver.Registry
	sinks    *sink.Registry
	broker   *events.Broker
	cfg      Config

	mu          sync.Mutex
	running     map[string]*runHandle
	lastAttempt map[string]time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// runHandle tracks one in-flight run for pause and shutdown.
type runHandle struct {
	runID  string
	cancel context.CancelFunc
	pause  atomic.Bool
}

// New creates an engine. It does not start background loops; call Start.
func New(opts Options) (*Engine, error) {
	if opts.Meta == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "engine requires a metadata store")
	}
	if opts.KV == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "engine requires a kv store")
	}
	if opts.Drivers == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "engine requires a driver registry")
	}
	if opts.Sinks == nil {
		return nil, errdefs.New(errdefs.KindInvalidInput, "engine requires a sink registry")
	}
	return &Engine{
		meta:        opts.Meta,
		kv:          opts.KV,
		staging:     opts.Staging,
		extra:       opts.StagingProviders,
		drivers:     opts.Drivers,
		sinks:       opts.Sinks,
		broker:      opts.Broker,
		cfg:         opts.Config.withDefaults(),
		running:     make(map[string]*runHandle),
		lastAttempt: make(map[string]time.Time),
		stopCh:      make(chan struct{}),
	}, nil
}

// Start launches the interval scheduler and the retention sweeper.
func (e *Engine) Start() {
	logger := log.WithComponent("engine")
	logger.Info().
		Dur("scheduler_tick", e.cfg.SchedulerTick).
		Int("retention_days", e.cfg.RetentionDays).
		Msg("Starting ingestion engine")

	e.wg.Add(2)
	go e.schedulerLoop()
	go e.retentionLoop()
}

// Stop cancels in-flight runs and waits for everything to wind down.
func (e *Engine) Stop() {
	close(e.stopCh)

	e.mu.Lock()
	for _, h := range e.running {
		h.cancel()
	}
	e.mu.Unlock()

	e.wg.Wait()
	logger := log.WithComponent("engine")
	logger.Info().Msg("Ingestion engine stopped")
}

// Running returns the number of in-flight runs.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

func (e *Engine) publish(event *events.Event) {
	if e.broker != nil {
		e.broker.Publish(event)
	}
}

// stagingFor resolves the staging provider a unit's policy selects.
func (e *Engine) stagingFor(providerID string) (blob.Store, error) {
	if providerID == "" || providerID == DefaultStagingProviderID {
		if e.staging == nil {
			return nil, errdefs.ErrMissingStagingProvider
		}
		return e.staging, nil
	}
	if s, ok := e.extra[providerID]; ok {
		return s, nil
	}
	return nil, errdefs.Wrap(errdefs.KindInvalidInput, errdefs.ErrMissingStagingProvider,
		"unknown staging provider "+providerID)
}

func unitKey(endpointID, unitID string) string {
	return endpointID + "/" + unitID
}
