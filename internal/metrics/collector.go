package metrics

import (
	"context"
	"time"

	"github.com/oscmap/oscmap/internal/inbox"
)

// QueueStats reports counters of the currently installed inbox queue.
type QueueStats interface {
	QueueStats() inbox.Stats
}

// EngineStatus reports engine switches.
type EngineStatus interface {
	IsRunning() bool
	AutoKeyEnabled() bool
}

// MappingCounter reports the number of configured mappings.
type MappingCounter interface {
	Len() int
}

// CollectorConfig holds the sources the collector polls.
type CollectorConfig struct {
	Queue    QueueStats
	Engine   EngineStatus
	Mappings MappingCounter
}

// Collector periodically copies polled state into the engine metrics.
type Collector struct {
	metrics *EngineMetrics
	queue   QueueStats
	engine  EngineStatus
	maps    MappingCounter

	lastDropped uint64
}

// NewCollector creates a new metrics collector.
func NewCollector(m *EngineMetrics, cfg CollectorConfig) *Collector {
	return &Collector{
		metrics: m,
		queue:   cfg.Queue,
		engine:  cfg.Engine,
		maps:    cfg.Mappings,
	}
}

// Collect updates all polled metrics from the current state.
func (c *Collector) Collect() {
	c.collectQueueStats()
	c.collectEngineStatus()
	if c.maps != nil {
		c.metrics.Mappings.Set(float64(c.maps.Len()))
	}
}

func (c *Collector) collectQueueStats() {
	if c.queue == nil {
		return
	}
	stats := c.queue.QueueStats()
	c.metrics.QueueDepth.Set(float64(stats.Depth))

	// A restart installs a fresh queue whose counter starts over.
	switch {
	case stats.Dropped > c.lastDropped:
		c.metrics.QueueDropped.Add(float64(stats.Dropped - c.lastDropped))
	case stats.Dropped < c.lastDropped:
		c.metrics.QueueDropped.Add(float64(stats.Dropped))
	}
	c.lastDropped = stats.Dropped
}

func (c *Collector) collectEngineStatus() {
	if c.engine == nil {
		return
	}
	c.metrics.Running.Set(boolGauge(c.engine.IsRunning()))
	c.metrics.AutoKey.Set(boolGauge(c.engine.AutoKeyEnabled()))
}

// Run starts periodic metric collection.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.Collect()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Collect()
		}
	}
}
