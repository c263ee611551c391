/*
Package metrics provides Prometheus metrics collection and exposition for
Tapestry.

The metrics package defines and registers all Tapestry metrics using the
Prometheus client library, providing observability into ingestion throughput,
graph mutation rates, retrieval latency, and LLM usage. Metrics are exposed
via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │          Prometheus Registry               │           │
	│  │  - Global DefaultRegistry                  │           │
	│  │  - MustRegister at package init            │           │
	│  │  - Automatic Go runtime metrics            │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │           Metric Categories                │           │
	│  │                                            │           │
	│  │  Ingestion: runs, batches, records, bytes  │           │
	│  │  Graph: node/edge upserts, rejections      │           │
	│  │  Retrieval: search/context latency, cache  │           │
	│  │  LLM: calls by purpose and outcome         │           │
	│  │  API: request count, duration              │           │
	│  │  Inventory: endpoints, units, observations │           │
	│  └──────────────────┬─────────────────────────┘           │
	│                     │                                     │
	│  ┌──────────────────▼─────────────────────────┐           │
	│  │      /metrics endpoint (promhttp)          │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

Counters are incremented inline at the call sites that own the event (the
engine increments RunsTotal, the graph sink increments BatchesApplied, the
graph store increments NodeUpserts). Inventory gauges are sampled by the
Collector, which polls a Source adapter every 15 seconds.

# Usage

Inline instrumentation:

	metrics.RunsTotal.WithLabelValues(string(run.State)).Inc()
	metrics.RecordsIngested.Add(float64(result.RecordCount()))

Timing an operation:

	timer := metrics.NewTimer()
	results, err := searcher.Search(ctx, req)
	timer.ObserveDurationVec(metrics.SearchDuration, mode)

Running the collector:

	collector := metrics.NewCollector(source)
	collector.Start()
	defer collector.Stop()

Exposing metrics:

	mux.Handle("/metrics", metrics.Handler())

# Health Checking

The package also hosts the component-health registry behind /healthz.
Subsystems report their state via SetComponent as they start and degrade;
any unhealthy component flips the aggregate status to "degraded".

	metrics.SetComponent("engine", true, "")
	metrics.SetComponent("store", false, "bolt file locked")

# Alerting Examples

High run failure rate:

	rate(tapestry_runs_total{state="FAILED"}[10m])
	  / rate(tapestry_runs_total[10m]) > 0.2

Checkpoint conflicts (possible concurrent engines on one store):

	increase(tapestry_checkpoint_conflicts_total[5m]) > 0

Slow context builds:

	histogram_quantile(0.99,
	  rate(tapestry_context_build_duration_seconds_bucket[5m])) > 2
*/
package metrics
