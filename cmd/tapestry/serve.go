package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tapestryhq/tapestry/pkg/api"
	"github.com/tapestryhq/tapestry/pkg/blob"
	"github.com/tapestryhq/tapestry/pkg/community"
	"github.com/tapestryhq/tapestry/pkg/config"
	"github.com/tapestryhq/tapestry/pkg/driver"
	"github.com/tapestryhq/tapestry/pkg/engine"
	"github.com/tapestryhq/tapestry/pkg/errdefs"
	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/expand"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/kv"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/metrics"
	"github.com/tapestryhq/tapestry/pkg/ner"
	"github.com/tapestryhq/tapestry/pkg/observer"
	"github.com/tapestryhq/tapestry/pkg/rag"
	"github.com/tapestryhq/tapestry/pkg/search"
	"github.com/tapestryhq/tapestry/pkg/sink"
	"github.com/tapestryhq/tapestry/pkg/store"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the tapestry server",
	Long: `Start the full platform: ingestion engine, knowledge graph, search
index, NER worker and the HTTP API, all in one process.

Configuration comes from a YAML file (see --config); every value has a
working default, so "tapestry serve" with no flags runs a local
single-node instance under ./tapestry-data.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringP("config", "c", "", "Path to a YAML config file")
	serveCmd.Flags().String("listen", "", "Override the listen address")
	serveCmd.Flags().String("data-dir", "", "Override the data directory")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
		cfg.Server.Listen = listen
	}
	if dataDir, _ := cmd.Flags().GetString("data-dir"); dataDir != "" {
		cfg.Data.Dir = dataDir
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
		Output:     os.Stderr,
	})
	logger := log.WithComponent("serve")
	logger.Info().Str("version", Version).Str("listen", cfg.Server.Listen).Msg("starting tapestry")
	metrics.SetVersion(Version)

	if err := os.MkdirAll(cfg.Data.Dir, 0o755); err != nil {
		return errdefs.Wrap(errdefs.KindInternal, err, "cannot create data directory")
	}

	// Metadata store.
	var meta store.Store
	boltMeta, err := store.NewBoltStore(cfg.Data.Dir)
	if err != nil {
		return err
	}
	defer boltMeta.Close()
	meta = boltMeta
	metrics.SetComponent("store", true, "")

	// Checkpoint KV.
	var checkpoints kv.Store
	switch cfg.KV.Backend {
	case "redis":
		redisURL := fmt.Sprintf("redis://%s/%d", cfg.KV.Redis.Addr, cfg.KV.Redis.DB)
		if cfg.KV.Redis.Password != "" {
			redisURL = fmt.Sprintf("redis://:%s@%s/%d", cfg.KV.Redis.Password, cfg.KV.Redis.Addr, cfg.KV.Redis.DB)
		}
		redisKV, err := kv.NewRedisStore(redisURL)
		if err != nil {
			return err
		}
		defer redisKV.Close()
		checkpoints = redisKV
	case "memory":
		checkpoints = kv.NewMemoryStore()
	default:
		boltKV, err := kv.NewBoltStore(cfg.Data.Dir)
		if err != nil {
			return err
		}
		defer boltKV.Close()
		checkpoints = boltKV
	}

	// Staging blob store.
	var staging blob.Store
	switch cfg.Blob.Backend {
	case "s3":
		staging, err = blob.NewS3Store(cmd.Context(), blob.S3Config{
			Bucket:   cfg.Blob.S3.Bucket,
			Prefix:   cfg.Blob.S3.Prefix,
			Region:   cfg.Blob.S3.Region,
			Endpoint: cfg.Blob.S3.Endpoint,
		})
		if err != nil {
			return err
		}
	case "memory":
		staging = blob.NewMemoryStore()
	default:
		root := cfg.Blob.Local.Path
		if root == "" {
			root = cfg.Data.Dir + "/staging"
		}
		staging, err = blob.NewLocalStore(root)
		if err != nil {
			return err
		}
	}

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	g := graph.New(meta, broker)

	// Search: keyword index fed by graph events, warmed from persisted nodes.
	index := search.NewIndex()
	if err := reindexAll(cmd.Context(), meta, index); err != nil {
		logger.Warn().Err(err).Msg("startup reindex failed, index starts cold")
	}
	indexer := search.NewIndexer(index, g, broker)
	indexer.Start()
	defer indexer.Stop()
	metrics.SetComponent("indexer", true, "")
	searcher := search.NewSearcher(g, index)

	// Ingestion.
	drivers := driver.NewRegistry()
	if err := drivers.Register(driver.NewHTTPDriver(&http.Client{Timeout: 30 * time.Second})); err != nil {
		return err
	}
	if err := drivers.Register(driver.NewReplayDriver(staging)); err != nil {
		return err
	}
	sinks := sink.NewRegistry()
	if err := sinks.Register(sink.DefaultSinkID, sink.NewGraphFactory(g)); err != nil {
		return err
	}
	if err := sinks.Register(sink.BlobSinkID, sink.NewBlobFactory(staging, nil, "archive")); err != nil {
		return err
	}
	eng, err := engine.New(engine.Options{
		Meta:    meta,
		KV:      checkpoints,
		Staging: staging,
		Drivers: drivers,
		Sinks:   sinks,
		Broker:  broker,
	})
	if err != nil {
		return err
	}
	eng.Start()
	defer eng.Stop()
	metrics.SetComponent("engine", true, "")

	// Model providers.
	var provider llm.ChatProvider
	var embedder llm.Embedder
	if cfg.LLM.Provider == "anthropic" {
		anthropicProvider, err := llm.NewAnthropic(llm.AnthropicConfig{Model: cfg.LLM.Model})
		if err != nil {
			return err
		}
		provider = anthropicProvider
		embedder = &llm.MockEmbedder{}
	} else {
		provider = &llm.MockProvider{}
		embedder = &llm.MockEmbedder{}
	}

	// Entity resolution and background enrichment.
	extractor := ner.NewExtractor(provider)
	classifier := ner.NewClassifier(provider)
	obs, err := observer.New(observer.Options{
		Meta:               meta,
		Graph:              g,
		Matcher:            observer.NewIndexMatcher(meta),
		Broker:             broker,
		AutoMergeThreshold: cfg.Observer.AutoMergeThreshold,
	})
	if err != nil {
		return err
	}
	if cfg.Worker.Enabled {
		worker := ner.NewWorker(g, extractor, obs, embedder, broker)
		worker.Start()
		defer worker.Stop()
	}

	// Retrieval.
	communities := community.NewDSUProvider(meta, 5*time.Minute)
	builder, err := rag.NewBuilder(rag.BuilderOptions{
		Searcher:    searcher,
		Expander:    expand.New(expand.NewGraphStore(g)),
		Communities: communities,
		Embedder:    embedder,
		CacheSize:   cfg.RAG.CacheSize,
	})
	if err != nil {
		return err
	}
	ragService, err := rag.NewService(rag.ServiceOptions{
		Builder:     builder,
		Expander:    expand.New(expand.NewGraphStore(g)),
		Communities: communities,
		Provider:    chatOrNil(cfg.LLM.Provider, provider),
		MaxTokens:   cfg.LLM.MaxTokens,
	})
	if err != nil {
		return err
	}

	collector := metrics.NewCollector(&inventorySource{meta: meta, observer: obs, engine: eng})
	collector.Start()
	defer collector.Stop()

	server, err := api.NewServer(api.Options{
		Engine:         eng,
		Meta:           meta,
		Graph:          g,
		Searcher:       searcher,
		RAG:            ragService,
		Communities:    communities,
		Observer:       obs,
		Extractor:      extractor,
		Classifier:     classifier,
		Listen:         cfg.Server.Listen,
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout.Duration,
	})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("server shutdown incomplete")
	}
	logger.Info().Msg("shutdown complete")
	return nil
}

// chatOrNil keeps the answer path in deterministic mock mode unless a real
// provider is configured. The mock chat provider is scripted and would
// error out on unscripted calls.
func chatOrNil(providerName string, p llm.ChatProvider) llm.ChatProvider {
	if providerName == "anthropic" {
		return p
	}
	return nil
}

// reindexAll warms the keyword index from persisted nodes so search works
// right after a restart, before any new upserts arrive.
func reindexAll(ctx context.Context, meta store.Store, index *search.Index) error {
	tenants, err := meta.NodeTenants()
	if err != nil {
		return err
	}
	for _, tenant := range tenants {
		nodes, err := meta.ListNodes(store.NodeFilter{TenantID: tenant})
		if err != nil {
			return err
		}
		if err := index.Reindex(ctx, tenant, nodes); err != nil {
			return err
		}
	}
	return nil
}

// inventorySource feeds the gauge collector from the metadata store.
type inventorySource struct {
	meta     store.Store
	observer *observer.Observer
	engine   *engine.Engine
}

func (s *inventorySource) Snapshot(ctx context.Context) (*metrics.Snapshot, error) {
	snap := &metrics.Snapshot{
		RunsInFlight:         s.engine.Running(),
		ObservationsByStatus: map[string]int{},
	}
	endpoints, err := s.meta.ListEndpoints(false)
	if err != nil {
		return nil, err
	}
	snap.Endpoints = len(endpoints)
	for _, ep := range endpoints {
		units, err := s.meta.ListUnitConfigs(ep.ID)
		if err != nil {
			return nil, err
		}
		for _, u := range units {
			if u.Enabled {
				snap.UnitsEnabled++
			}
		}
	}
	tenants, err := s.meta.NodeTenants()
	if err != nil {
		return nil, err
	}
	for _, tenant := range tenants {
		counts, err := s.observer.CountByStatus(ctx, tenant)
		if err != nil {
			return nil, err
		}
		for status, n := range counts {
			snap.ObservationsByStatus[status] += n
		}
	}
	return snap, nil
}
