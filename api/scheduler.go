/*
scheduler.go - Automatic event completion

PURPOSE:
  Periodically marks past events as completed once all of their stock has
  come back, so the event list reflects what is actually finished.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Considers in-progress events dated before today (UTC)
  - Completes only events with at least one allocation and nothing
    outstanding; events still holding stock are left for later runs

CONFIGURATION:
  - CheckInterval: How often to check (COMPLETION_INTERVAL, default 1h)
  - Enabled: Whether scheduler is active (COMPLETION_ENABLED, default true)

USAGE:
  scheduler := NewCompletionScheduler(handler.Catalog, log)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - inventory/catalog.go: CompleteSettledEvents
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/warp/event-stock/inventory"
)

// CompletionScheduler completes settled events in the background.
type CompletionScheduler struct {
	Catalog       *inventory.Catalog
	CheckInterval time.Duration
	Enabled       bool
	// Now is the clock used to decide what "before today" means.
	Now func() time.Time

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewCompletionScheduler creates a new scheduler.
func NewCompletionScheduler(catalog *inventory.Catalog, log zerolog.Logger) *CompletionScheduler {
	return &CompletionScheduler{
		Catalog:       catalog,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
		log:           log.With().Str("component", "completion_scheduler").Logger(),
	}
}

// Start begins the scheduler. It runs one check immediately.
func (cs *CompletionScheduler) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if !cs.Enabled {
		cs.log.Info().Msg("disabled, not starting")
		return
	}
	if cs.ticker != nil {
		return
	}

	cs.ticker = time.NewTicker(cs.CheckInterval)
	cs.stop = make(chan struct{})
	cs.wg.Add(1)
	go cs.run(cs.ticker, cs.stop)

	cs.log.Info().Dur("interval", cs.CheckInterval).Msg("started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (cs *CompletionScheduler) Stop() {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if cs.ticker == nil {
		return
	}
	cs.ticker.Stop()
	close(cs.stop)
	cs.wg.Wait()
	cs.ticker = nil
	cs.log.Info().Msg("stopped")
}

func (cs *CompletionScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer cs.wg.Done()

	cs.RunNow(context.Background())
	for {
		select {
		case <-ticker.C:
			cs.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow completes every settled event dated before today and returns them.
func (cs *CompletionScheduler) RunNow(ctx context.Context) []inventory.Event {
	now := cs.Now().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	completed, err := cs.Catalog.CompleteSettledEvents(ctx, today)
	if err != nil {
		cs.log.Error().Err(err).Msg("completion check failed")
		return nil
	}
	if len(completed) > 0 {
		cs.log.Info().Int("completed", len(completed)).Msg("completion check done")
	}
	return completed
}
