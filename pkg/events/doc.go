/*
Package events provides an in-memory event broker for Tapestry's pub/sub messaging.

The events package implements a lightweight event bus for broadcasting platform
events to interested subscribers. It supports asynchronous event delivery with
buffered channels, enabling loose coupling between the ingestion engine, the
graph layer, and the background workers that react to their state changes.

# Architecture

The broker fans every published event out to all subscribers without blocking
the publisher:

	┌──────────────────── EVENT BROKER ────────────────────────┐
	│                                                           │
	│  Publisher → Event Channel (buffer: 100)                  │
	│       ↓                                                   │
	│  Broadcast Loop                                           │
	│       ↓                                                   │
	│  Subscriber Channels (buffer: 50 each)                    │
	│                                                           │
	│  ┌────────────────────────────────────────────┐           │
	│  │           Event Types                      │           │
	│  │                                            │           │
	│  │  Run Events:                               │           │
	│  │    - run.started                           │           │
	│  │    - run.succeeded                         │           │
	│  │    - run.failed                            │           │
	│  │    - run.paused                            │           │
	│  │                                            │           │
	│  │  Graph Events:                             │           │
	│  │    - node.upserted                         │           │
	│  │    - edge.upserted                         │           │
	│  │    - observation.recorded                  │           │
	│  │                                            │           │
	│  │  Endpoint Events:                          │           │
	│  │    - endpoint.created, endpoint.deleted    │           │
	│  └────────────────────────────────────────────┘           │
	└───────────────────────────────────────────────────────────┘

# Subscribers

The keyword index subscribes to node.upserted so newly ingested entities
become searchable without a rebuild. The enrichment worker subscribes to the
same stream to queue extraction and embedding work. Tests subscribe to assert
that runs emit their lifecycle events in order.

# Usage

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	go func() {
		for event := range sub {
			fmt.Printf("[%s] %s %s\n", event.Type, event.TenantID, event.EntityID)
		}
	}()

	broker.Publish(&events.Event{
		Type:     events.EventNodeUpserted,
		TenantID: "acme",
		EntityID: nodeID,
	})

# Delivery Semantics

Publish never blocks: the broker buffers up to 100 events and each subscriber
another 50. A subscriber that stops draining loses events rather than stalling
the platform, so consumers needing completeness must reconcile from the store.
Events are delivered in publish order per subscriber. There is no replay and
no persistence; the broker is a change signal, not a log.
*/
package events
