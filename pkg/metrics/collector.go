package metrics

import (
	"context"
	"time"

	"github.com/burrowctf/burrow/pkg/catalog"
	"github.com/burrowctf/burrow/pkg/instance"
	"github.com/burrowctf/burrow/pkg/log"
)

// DefaultCollectInterval is how often the collector samples fleet state.
const DefaultCollectInterval = 15 * time.Second

// Collector periodically samples the repository and catalog into the
// fleet gauges. Counters are incremented at the point of action by the
// scheduler and API; only the point-in-time values live here.
type Collector struct {
	repo    *instance.Repository
	catalog *catalog.Catalog
	stopCh  chan struct{}
}

// NewCollector creates a collector.
func NewCollector(repo *instance.Repository, cat *catalog.Catalog) *Collector {
	return &Collector{
		repo:    repo,
		catalog: cat,
		stopCh:  make(chan struct{}),
	}
}

// Start begins periodic collection.
func (c *Collector) Start(interval time.Duration) {
	go c.run(interval)
}

// Stop halts collection.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) run(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect immediately on start
	c.Collect()

	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-c.stopCh:
			return
		}
	}
}

// Collect samples everything once.
func (c *Collector) Collect() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	c.collectInstances(ctx)
	c.collectChallenges()
}

func (c *Collector) collectInstances(ctx context.Context) {
	logger := log.WithComponent("metrics")

	instances, err := c.repo.List(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sample instances")
		return
	}
	InstancesRunning.Set(float64(len(instances)))

	distinct := make(map[string]bool)
	for _, inst := range instances {
		for _, u := range inst.Users {
			distinct[u] = true
		}
	}
	UsersActive.Set(float64(len(distinct)))

	ports, err := c.repo.UsedPorts(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sample ports")
		return
	}
	PortsAllocated.Set(float64(len(ports)))

	queue, err := c.repo.PrewarmList(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to sample prewarm queue")
		return
	}
	PrewarmQueueDepth.Set(float64(len(queue)))
}

func (c *Collector) collectChallenges() {
	ChallengesDeployable.Set(float64(c.catalog.Len()))
	ChallengesBroken.Set(float64(len(c.catalog.Broken())))
}
