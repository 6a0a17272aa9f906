// Package history maintains the persisted transfer history: transfers
// orphaned by a previous process are closed out on start, and finished
// transfers older than the configured retention are pruned periodically.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudstash/internal/config"
)

const interruptedReason = "interrupted: process stopped before the transfer finished"

// Store is the part of the transfer repository the janitor needs.
type Store interface {
	CleanupOldTransfers(before time.Time) (int, error)
	FailInterruptedTransfers(reason string) (int, error)
}

type Janitor struct {
	store    Store
	config   *config.Config
	interval time.Duration

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New returns a janitor that prunes every interval; zero means hourly.
func New(store Store, cfg *config.Config, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{
		store:    store,
		config:   cfg,
		interval: interval,
	}
}

// Start closes out interrupted transfers, prunes once, then keeps pruning in
// the background until Stop or ctx is done.
func (j *Janitor) Start(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return fmt.Errorf("history janitor already running")
	}

	count, err := j.store.FailInterruptedTransfers(interruptedReason)
	if err != nil {
		return fmt.Errorf("failed to recover interrupted transfers: %w", err)
	}
	if count > 0 {
		slog.Warn("marked interrupted transfers as failed", "count", count)
	}

	j.Cleanup()

	loopCtx, cancel := context.WithCancel(ctx)
	j.cancel = cancel
	j.running = true

	j.wg.Add(1)
	go j.loop(loopCtx)

	slog.Info("history janitor started", "retention", j.config.GetTransfers().HistoryRetention)
	return nil
}

func (j *Janitor) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	j.cancel()
	j.mu.Unlock()

	j.wg.Wait()
	slog.Info("history janitor stopped")
}

func (j *Janitor) loop(ctx context.Context) {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			j.Cleanup()
		}
	}
}

// Cleanup removes finished transfers older than the retention and returns
// how many were removed.
func (j *Janitor) Cleanup() int {
	before := time.Now().Add(-j.config.GetTransfers().HistoryRetention)

	count, err := j.store.CleanupOldTransfers(before)
	if err != nil {
		slog.Error("failed to cleanup transfer history", "error", err)
		return 0
	}

	if count > 0 {
		slog.Info("cleaned up transfer history", "count", count)
	}
	return count
}
