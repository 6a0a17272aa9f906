package testutil

import (
	"context"
	"errors"
	"sync"

	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
)

// ScriptedQuery is a MetadataQuery whose notifications and results are
// pushed by the test.
type ScriptedQuery struct {
	StartErr error

	mu            sync.Mutex
	results       []models.ItemAttributes
	notifications chan interfaces.QueryNotification
	started       bool
	stops         int
	closeOnce     sync.Once
}

func NewScriptedQuery() *ScriptedQuery {
	return &ScriptedQuery{
		notifications: make(chan interfaces.QueryNotification, 64),
	}
}

func (q *ScriptedQuery) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.StartErr != nil {
		return q.StartErr
	}
	if q.started {
		return errors.New("already started")
	}
	q.started = true
	return nil
}

func (q *ScriptedQuery) Notifications() <-chan interfaces.QueryNotification {
	return q.notifications
}

func (q *ScriptedQuery) Results() []models.ItemAttributes {
	q.mu.Lock()
	defer q.mu.Unlock()

	results := make([]models.ItemAttributes, len(q.results))
	copy(results, q.results)
	return results
}

func (q *ScriptedQuery) Stop() {
	q.mu.Lock()
	q.stops++
	q.mu.Unlock()

	q.closeOnce.Do(func() {
		close(q.notifications)
	})
}

// Push replaces the result set and posts n. It is a no-op after Stop.
func (q *ScriptedQuery) Push(n interfaces.QueryNotification, results ...models.ItemAttributes) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stops > 0 {
		return
	}
	q.results = results
	q.notifications <- n
}

func (q *ScriptedQuery) Started() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.started
}

// Stops returns how many times Stop was called.
func (q *ScriptedQuery) Stops() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.stops
}
