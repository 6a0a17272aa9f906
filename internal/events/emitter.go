// Package events fans progress values out to subscribers of named streams.
package events

import (
	"log/slog"
	"sync"

	"cloudstash/internal/models"
)

const subscriberBuffer = 256

// Emitter delivers progress events without ever blocking the transfer that
// produced them. A subscriber that falls behind loses events.
type Emitter struct {
	mu     sync.RWMutex
	nextID int
	subs   map[models.ProgressStream]map[int]chan models.ProgressEvent
}

func NewEmitter() *Emitter {
	return &Emitter{
		subs: make(map[models.ProgressStream]map[int]chan models.ProgressEvent),
	}
}

func (e *Emitter) Emit(stream models.ProgressStream, value float64) {
	event := models.ProgressEvent{Stream: stream, Value: value}

	e.mu.RLock()
	defer e.mu.RUnlock()

	slog.Debug("progress", "stream", stream, "value", value, "subscribers", len(e.subs[stream]))

	for id, ch := range e.subs[stream] {
		select {
		case ch <- event:
		default:
			slog.Warn("dropping progress event for slow subscriber", "stream", stream, "subscriber", id)
		}
	}
}

// Subscribe returns a channel receiving every later event on stream and a
// function that unsubscribes and closes it.
func (e *Emitter) Subscribe(stream models.ProgressStream) (<-chan models.ProgressEvent, func()) {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++

	ch := make(chan models.ProgressEvent, subscriberBuffer)
	if e.subs[stream] == nil {
		e.subs[stream] = make(map[int]chan models.ProgressEvent)
	}
	e.subs[stream][id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			delete(e.subs[stream], id)
			close(ch)
		})
	}
}

// Subscribers returns the number of subscribers on stream.
func (e *Emitter) Subscribers(stream models.ProgressStream) int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.subs[stream])
}
