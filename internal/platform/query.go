package platform

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
)

// query polls the item index for items matching a predicate. It posts
// DidStartGathering and DidFinishGathering around the first pass and
// DidUpdate whenever a later pass sees different results.
type query struct {
	platform  *Local
	predicate models.Predicate
	scopes    []models.SearchScope

	notifications chan interfaces.QueryNotification

	mu      sync.RWMutex
	results []models.ItemAttributes
	started bool
	stopped bool

	cancel      context.CancelFunc
	done        chan struct{}
	unsubscribe func()
	stopOnce    sync.Once
}

func newQuery(platform *Local, predicate models.Predicate, scopes []models.SearchScope) *query {
	if len(scopes) == 0 {
		scopes = models.AllScopes
	}
	return &query{
		platform:      platform,
		predicate:     predicate,
		scopes:        scopes,
		notifications: make(chan interfaces.QueryNotification, 16),
		done:          make(chan struct{}),
	}
}

func (q *query) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return fmt.Errorf("query already stopped")
	}
	if q.started {
		return fmt.Errorf("query already started")
	}
	q.started = true

	wake, unsubscribe := q.platform.notifier.subscribe()
	q.unsubscribe = unsubscribe

	var loopCtx context.Context
	loopCtx, q.cancel = context.WithCancel(ctx)

	interval := q.platform.config.GetPlatform().QueryInterval
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}

	go q.pollLoop(loopCtx, wake, interval)
	return nil
}

func (q *query) Notifications() <-chan interfaces.QueryNotification {
	return q.notifications
}

func (q *query) Results() []models.ItemAttributes {
	q.mu.RLock()
	defer q.mu.RUnlock()

	results := make([]models.ItemAttributes, len(q.results))
	copy(results, q.results)
	return results
}

func (q *query) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		cancel := q.cancel
		started := q.started
		q.mu.Unlock()

		if started {
			cancel()
			<-q.done
			q.unsubscribe()
		}
		close(q.notifications)
	})
}

func (q *query) pollLoop(ctx context.Context, wake <-chan struct{}, interval time.Duration) {
	defer close(q.done)

	q.post(interfaces.DidStartGathering)
	q.gather()
	q.post(interfaces.DidFinishGathering)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-wake:
		}

		if q.gather() {
			q.post(interfaces.DidUpdate)
		}
	}
}

// gather refreshes the result set and reports whether it changed.
func (q *query) gather() bool {
	items, err := q.platform.index.FindItems(q.predicate.Names, q.scopes)
	if err != nil {
		slog.Error("metadata query failed", "names", q.predicate.Names, "error", err)
		return false
	}

	results := make([]models.ItemAttributes, 0, len(items))
	for _, item := range items {
		if !q.predicate.Match(item) {
			continue
		}
		item.AbsPath = q.platform.container.Abs(item.Path)
		results = append(results, item)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	changed := !sameResults(q.results, results)
	q.results = results
	return changed
}

// post never blocks; a full buffer already holds a pending notification and
// observers always read the latest results.
func (q *query) post(n interfaces.QueryNotification) {
	select {
	case q.notifications <- n:
	default:
	}
}

func sameResults(a, b []models.ItemAttributes) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x := a[i]
		x.UpdatedAt = b[i].UpdatedAt
		if x != b[i] {
			return false
		}
	}
	return true
}
