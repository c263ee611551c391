package search

import (
	"context"
	"sync"

	"github.com/tapestryhq/tapestry/pkg/events"
	"github.com/tapestryhq/tapestry/pkg/graph"
	"github.com/tapestryhq/tapestry/pkg/log"
)

// Indexer keeps the keyword index current by following node.upserted
// events from the broker. Indexing failures are logged and skipped;
// ingestion never blocks on the index.
type Indexer struct {
	index  *Index
	graph  *graph.Graph
	broker *events.Broker

	sub    events.Subscriber
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func NewIndexer(index *Index, g *graph.Graph, broker *events.Broker) *Indexer {
	return &Indexer{
		index:  index,
		graph:  g,
		broker: broker,
		stopCh: make(chan struct{}),
	}
}

func (ix *Indexer) Start() {
	ix.sub = ix.broker.Subscribe()
	ix.wg.Add(1)
	go ix.loop()
	logger := log.WithComponent("search")
	logger.Info().Msg("Starting keyword indexer")
}

func (ix *Indexer) Stop() {
	close(ix.stopCh)
	ix.broker.Unsubscribe(ix.sub)
	ix.wg.Wait()
	logger := log.WithComponent("search")
	logger.Info().Msg("Keyword indexer stopped")
}

func (ix *Indexer) loop() {
	defer ix.wg.Done()
	for {
		select {
		case ev, ok := <-ix.sub:
			if !ok {
				return
			}
			if ev.Type != events.EventNodeUpserted {
				continue
			}
			ix.handle(ev)
		case <-ix.stopCh:
			return
		}
	}
}

func (ix *Indexer) handle(ev *events.Event) {
	node, err := ix.graph.GetNode(context.Background(), ev.TenantID, ev.EntityID)
	if err != nil {
		// Deleted between the event and now; drop any stale entry.
		ix.index.Remove(ev.EntityID)
		return
	}
	ix.index.Put(node)
}
