package metrics

import (
	"context"
	"time"
)

// Snapshot carries the inventory counts the collector publishes as gauges.
type Snapshot struct {
	Endpoints            int
	UnitsEnabled         int
	RunsInFlight         int
	ObservationsByStatus map[string]int
}

// Source produces inventory snapshots. The serve command wires an adapter
// over the metadata store and observer.
type Source interface {
	Snapshot(ctx context.Context) (*Snapshot, error)
}

// Collector samples a Source on an interval and publishes gauge metrics
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source) *Collector {
	return &Collector{
		source:   source,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	snap, err := c.source.Snapshot(ctx)
	if err != nil || snap == nil {
		return
	}

	EndpointsTotal.Set(float64(snap.Endpoints))
	UnitsEnabledTotal.Set(float64(snap.UnitsEnabled))
	RunsInFlight.Set(float64(snap.RunsInFlight))

	for status, count := range snap.ObservationsByStatus {
		ObservationsTotal.WithLabelValues(status).Set(float64(count))
	}
}
