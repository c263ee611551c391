package ner

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/llm"
	"github.com/tapestryhq/tapestry/pkg/log"
	"github.com/tapestryhq/tapestry/pkg/types"
)

// ObservationRecorder accepts freshly extracted observations. The observer
// package implements it.
type ObservationRecorder interface {
	Record(ctx context.Context, obs *types.Observation) (*types.Observation, error)
}

// contentProperties are the node properties mined for entity mentions.
var contentProperties = []string{"description", "body", "content", "text"}

// Worker enriches upserted nodes in the background: display names get
// embeddings, document-bearing nodes get entity extraction feeding the
// observer. Enrichment failures are logged and dropped; ingestion never
// waits on a model.
type Worker struct {
	graph     *graph.Graph
	extractor *Extractor
	recorder  ObservationRecorder
	embedder  llm.Embedder
	broker    *events.Broker

	sub    events.Subscriber
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewWorker(g *graph.Graph, extractor *Extractor, recorder ObservationRecorder, embedder llm.Embedder, broker *events.Broker) *Worker {
	return &Worker{
		graph:     g,
		extractor: extractor,
		recorder:  recorder,
		embedder:  embedder,
		broker:    broker,
		stopCh:    make(chan struct{}),
	}
}

func (w *Worker) Start() {
	w.sub = w.broker.Subscribe()
	w.wg.Add(1)
	go w.loop()
	logger := log.WithComponent("enrichment")
	logger.Info().Msg("Starting enrichment worker")
}

func (w *Worker) Stop() {
	close(w.stopCh)
	w.broker.Unsubscribe(w.sub)
	w.wg.Wait()
	logger := log.WithComponent("enrichment")
	logger.Info().Msg("Enrichment worker stopped")
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.sub:
			if !ok {
				return
			}
			if ev.Type != events.EventNodeUpserted {
				continue
			}
			w.enrich(context.Background(), ev)
		case <-w.stopCh:
			return
		}
	}
}

func (w *Worker) enrich(ctx context.Context, ev *events.Event) {
	logger := log.WithComponent("enrichment")

	node, err := w.graph.GetNode(ctx, ev.TenantID, ev.EntityID)
	if err != nil {
		logger.Debug().Err(err).Str("node_id", ev.EntityID).Msg("Node vanished before enrichment")
		return
	}

	if w.embedder != nil && node.DisplayName != "" {
		vec, err := w.embedder.Embed(ctx, node.DisplayName)
		if err != nil {
			logger.Warn().Err(err).Str("node_id", node.ID).Msg("Embedding failed")
		} else if _, err := w.graph.PutEmbedding(ctx, node.ID, vec, w.embedder.ModelID()); err != nil {
			logger.Warn().Err(err).Str("node_id", node.ID).Msg("Failed to store embedding")
		}
	}

	if w.extractor == nil || w.recorder == nil {
		return
	}
	text := documentText(node)
	if text == "" {
		return
	}

	entities, err := w.extractor.Extract(ctx, ExtractRequest{
		TenantID:   node.TenantID,
		Text:       text,
		SourceID:   node.ID,
		SourceType: node.EntityType,
	})
	if err != nil {
		logger.Warn().Err(err).Str("node_id", node.ID).Msg("Entity extraction failed")
		return
	}

	for i := range entities {
		obs := &types.Observation{
			TenantID:   node.TenantID,
			SourceType: node.EntityType,
			SourceID:   node.ID,
			Entity:     entities[i],
			ObservedAt: time.Now().UTC(),
		}
		if _, err := w.recorder.Record(ctx, obs); err != nil {
			logger.Warn().Err(err).Str("node_id", node.ID).
				Str("mention", entities[i].Text).Msg("Failed to record observation")
		}
	}
}

// documentText gathers the extractable prose on a node. Nodes without any
// content property are identity-only and skip extraction.
func documentText(node *types.Node) string {
	var parts []string
	for _, key := range contentProperties {
		if v, ok := node.Properties[key].(string); ok && v != "" {
			parts = append(parts, v)
		}
	}
	if len(parts) == 0 {
		return ""
	}
	if node.DisplayName != "" {
		parts = append([]string{node.DisplayName}, parts...)
	}
	return strings.Join(parts, "\n\n")
}
