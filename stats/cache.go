package stats

import (
	"context"
	"log/slog"
	"sync"

	"github.com/poiesic/inkwell/core"
	"github.com/poiesic/inkwell/events"
)

// Cache memoizes Aggregator.Compute until the bus reports a change.
type Cache struct {
	aggregator  *Aggregator
	bus         *events.Bus
	logger      *slog.Logger
	unsubscribe func()
	done        chan struct{}

	mu         sync.Mutex
	stats      *core.EmbeddingStatistics
	generation uint64
	dropped    uint64
}

// NewCache creates a cache fed by bus. A nil bus never invalidates; call
// Invalidate directly in that case.
func NewCache(aggregator *Aggregator, bus *events.Bus, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Cache{
		aggregator:  aggregator,
		bus:         bus,
		logger:      logger.With("component", "stats-cache"),
		unsubscribe: func() {},
		done:        make(chan struct{}),
	}
	if bus == nil {
		close(c.done)
		return c
	}

	ch, unsubscribe := bus.Subscribe(64)
	c.unsubscribe = unsubscribe
	go func() {
		defer close(c.done)
		for ev := range ch {
			c.logger.Debug("invalidating statistics", "event", ev.Kind, "document", ev.DocumentID)
			c.Invalidate()
		}
	}()
	return c
}

// Get returns the cached statistics, computing them if needed.
// Callers must not modify the returned value.
func (c *Cache) Get(ctx context.Context) (*core.EmbeddingStatistics, error) {
	c.mu.Lock()
	// A dropped delivery may have been an invalidation
	if c.bus != nil && c.bus.Dropped() != c.dropped {
		c.dropped = c.bus.Dropped()
		c.stats = nil
		c.generation++
	}
	if c.stats != nil {
		stats := c.stats
		c.mu.Unlock()
		return stats, nil
	}
	gen := c.generation
	c.mu.Unlock()

	stats, err := c.aggregator.Compute(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	// Only keep the result if nothing changed while it was computed
	if c.generation == gen {
		c.stats = stats
	}
	c.mu.Unlock()
	return stats, nil
}

// Invalidate drops the cached statistics.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = nil
	c.generation++
}

// Close stops listening to the bus.
func (c *Cache) Close() {
	c.unsubscribe()
	<-c.done
}
