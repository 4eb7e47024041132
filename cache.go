package main

import (
	"context"
	"sync"
	"time"

	log "github.com/Financial-Times/go-logger"
	"golang.org/x/sync/errgroup"
)

const defaultRefreshConcurrency = 8

type prober interface {
	probe(ctx context.Context, d serviceDescriptor) probeResult
}

type statusMap struct {
	sync.RWMutex
	m map[string]healthStatus
}

// healthCache holds the last known availability of every registered service.
// A missing entry means the service has never been probed or set, and is
// reported as available.
type healthCache struct {
	registry    *serviceRegistry
	prober      prober
	statuses    statusMap
	metrics     *gateMetrics
	concurrency int
	now         func() time.Time
}

func newHealthCache(registry *serviceRegistry, p prober, metrics *gateMetrics) *healthCache {
	return &healthCache{
		registry:    registry,
		prober:      p,
		statuses:    statusMap{m: make(map[string]healthStatus)},
		metrics:     metrics,
		concurrency: defaultRefreshConcurrency,
		now:         time.Now,
	}
}

func (c *healthCache) get(name string) (healthStatus, bool, error) {
	if !c.registry.isRegistered(name) {
		return healthStatus{}, false, &unknownServiceError{name: name}
	}

	c.statuses.RLock()
	status, found := c.statuses.m[name]
	c.statuses.RUnlock()
	return status, found, nil
}

// isAvailable is false only for a service explicitly cached as unavailable.
func (c *healthCache) isAvailable(name string) bool {
	status, found, err := c.get(name)
	return err != nil || !found || status.Available
}

func (c *healthCache) set(name string, available bool, reason string) error {
	if !c.registry.isRegistered(name) {
		return &unknownServiceError{name: name}
	}
	c.store(healthStatus{
		ServiceName:   name,
		Available:     available,
		LastCheckedAt: c.now(),
		Reason:        reason,
	})
	return nil
}

// refresh probes one service and overwrites its entry with the result.
func (c *healthCache) refresh(ctx context.Context, name string) (bool, error) {
	d, err := c.registry.resolve(name)
	if err != nil {
		return false, err
	}

	result := c.prober.probe(ctx, d)
	if !result.available() && (result.outcome == outcomeCancelled || ctx.Err() != nil) {
		// the caller gave up, which says nothing about the service
		log.Debugf("Discarding probe of service %s: %s", name, result.reason())
		if ctx.Err() != nil {
			return c.isAvailable(name), ctx.Err()
		}
		return c.isAvailable(name), context.Canceled
	}

	c.store(healthStatus{
		ServiceName:   name,
		Available:     result.available(),
		LastCheckedAt: c.now(),
		Reason:        result.reason(),
	})
	return result.available(), nil
}

func (c *healthCache) refreshAll(ctx context.Context) map[string]bool {
	names := c.registry.names()
	results := make(map[string]bool, len(names))
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(c.concurrency)
	for _, name := range names {
		g.Go(func() error {
			available, err := c.refresh(ctx, name)
			if err != nil && ctx.Err() == nil {
				return err
			}
			mu.Lock()
			results[name] = available
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.WithError(err).Error("Cannot refresh every registered service")
	}
	return results
}

// snapshot reports every registered service, treating never-checked ones as available.
func (c *healthCache) snapshot() map[string]bool {
	names := c.registry.names()
	result := make(map[string]bool, len(names))

	c.statuses.RLock()
	defer c.statuses.RUnlock()
	for _, name := range names {
		status, found := c.statuses.m[name]
		result[name] = !found || status.Available
	}
	return result
}

func (c *healthCache) store(status healthStatus) {
	c.statuses.Lock()
	previous, found := c.statuses.m[status.ServiceName]
	c.statuses.m[status.ServiceName] = status
	c.statuses.Unlock()

	if found && previous.Available != status.Available {
		log.Infof("Availability of service %s changed from %t to %t", status.ServiceName, previous.Available, status.Available)
	}
	c.metrics.observeStatus(status.ServiceName, status.Available)
}
