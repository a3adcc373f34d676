package metrics

import (
	"time"

	"github.com/Lmdudester/Garcon/pkg/types"
)

// ServerLister is the slice of the manager the collector needs
type ServerLister interface {
	List() []*types.ServerState
}

// SubscriberCounter is the slice of the event hub the collector needs
type SubscriberCounter interface {
	SubscriberCount() int
}

// Collector polls the manager and event hub and exports gauge metrics
type Collector struct {
	servers     ServerLister
	subscribers SubscriberCounter
	interval    time.Duration
	stopCh      chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(servers ServerLister, subscribers SubscriberCounter) *Collector {
	return &Collector{
		servers:     servers,
		subscribers: subscribers,
		interval:    15 * time.Second,
		stopCh:      make(chan struct{}),
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
	counts := make(map[types.Status]int)
	for _, state := range c.servers.List() {
		counts[state.Status]++
	}

	// Reset so statuses with no servers read zero
	ServersTotal.Reset()
	for status, n := range counts {
		ServersTotal.WithLabelValues(string(status)).Set(float64(n))
	}

	SubscribersTotal.Set(float64(c.subscribers.SubscriberCount()))
}
