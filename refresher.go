package main

import (
	"context"
	"time"

	log "github.com/Financial-Times/go-logger"
)

// periodicRefresher refreshes the whole cache on a fixed period. On-demand
// refreshes keep working alongside it.
type periodicRefresher struct {
	cache         *healthCache
	refreshPeriod time.Duration
	terminate     chan struct{}
	done          chan struct{}
}

func newPeriodicRefresher(cache *healthCache, refreshPeriod time.Duration) *periodicRefresher {
	return &periodicRefresher{
		cache:         cache,
		refreshPeriod: refreshPeriod,
		terminate:     make(chan struct{}),
		done:          make(chan struct{}),
	}
}

func (r *periodicRefresher) start(ctx context.Context) {
	go r.scheduleRefresh(ctx, time.NewTimer(0))
}

func (r *periodicRefresher) stop() {
	close(r.terminate)
	<-r.done
}

func (r *periodicRefresher) scheduleRefresh(ctx context.Context, timer *time.Timer) {
	defer close(r.done)
	for {
		select {
		case <-r.terminate:
			timer.Stop()
			return
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		statuses := r.cache.refreshAll(ctx)
		log.Debugf("Refreshed availability of %d services", len(statuses))
		timer.Reset(r.refreshPeriod)
	}
}
