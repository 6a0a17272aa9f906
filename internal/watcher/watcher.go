// Package watcher observes one item in the cloud container through a
// MetadataQuery until the platform reports it uploaded, downloaded or failed.
package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloudstash/internal/interfaces"
	"cloudstash/internal/models"
)

type State int

const (
	StateIdle State = iota
	StateGathering
	StateUpdating
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateGathering:
		return "gathering"
	case StateUpdating:
		return "updating"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) IsTerminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Outcome is the terminal result of a watch. Err is nil on success, in which
// case Path is the absolute path of the item in the container.
type Outcome struct {
	Path string
	Err  error
}

type Options struct {
	Direction models.Direction
	Predicate models.Predicate
	Scopes    []models.SearchScope

	// Path restricts matches to one container-relative path when several
	// items share a display name.
	Path string

	// Timeout bounds the whole watch. Zero waits indefinitely.
	Timeout time.Duration

	// OnSnapshot receives one snapshot per matched item per notification.
	OnSnapshot func(models.Snapshot)

	// Readable verifies a downloaded item before the watch succeeds.
	Readable func(item models.ItemAttributes) error
}

type Watcher struct {
	query interfaces.MetadataQuery
	opts  Options

	mu    sync.RWMutex
	state State

	completeOnce sync.Once
	done         chan struct{}
	outcome      Outcome

	// running tracks the observe loop so Wait never returns while a
	// snapshot callback is still executing.
	running sync.WaitGroup
}

func New(query interfaces.MetadataQuery, opts Options) *Watcher {
	return &Watcher{
		query: query,
		opts:  opts,
		state: StateIdle,
		done:  make(chan struct{}),
	}
}

// Start starts the query and observes it in the background. A query that
// fails to start completes the watcher with that error.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.state != StateIdle {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.state = StateGathering
	w.mu.Unlock()

	if err := w.query.Start(ctx); err != nil {
		err = models.WrapError(models.CodeIOFailure, err, "failed to start metadata query")
		w.complete(Outcome{Err: err})
		return err
	}

	w.running.Add(1)
	go w.run(ctx)
	return nil
}

// Stop ends the watch. If it has not reached a terminal state it fails.
// Stop may be called any number of times.
func (w *Watcher) Stop() {
	w.complete(Outcome{Err: fmt.Errorf("watch stopped before completion")})
}

func (w *Watcher) Done() <-chan struct{} {
	return w.done
}

// Wait blocks until the watch is terminal or ctx is done. It returns only
// after the observe loop has exited, so no callback runs after Wait.
func (w *Watcher) Wait(ctx context.Context) Outcome {
	select {
	case <-w.done:
	case <-ctx.Done():
		w.complete(Outcome{Err: fmt.Errorf("watch abandoned: %w", ctx.Err())})
	}
	w.running.Wait()
	return w.Outcome()
}

func (w *Watcher) Outcome() Outcome {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.outcome
}

func (w *Watcher) State() State {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

func (w *Watcher) run(ctx context.Context) {
	defer w.running.Done()

	var timeout <-chan time.Time
	if w.opts.Timeout > 0 {
		timer := time.NewTimer(w.opts.Timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	notifications := w.query.Notifications()

	for {
		select {
		case <-w.done:
			return

		case n, ok := <-notifications:
			if !ok {
				w.complete(Outcome{Err: fmt.Errorf("metadata query ended before completion")})
				return
			}
			if w.handle(n) {
				return
			}

		case <-timeout:
			w.complete(Outcome{Err: models.NewError(models.CodeTimeout,
				fmt.Sprintf("transfer did not finish within %s", w.opts.Timeout))})
			return

		case <-ctx.Done():
			w.complete(Outcome{Err: fmt.Errorf("watch cancelled: %w", ctx.Err())})
			return
		}
	}
}

// handle evaluates the current result set and reports whether the watch
// reached a terminal state.
func (w *Watcher) handle(n interfaces.QueryNotification) bool {
	if n != interfaces.DidStartGathering {
		w.transition(StateUpdating)
	}

	for _, item := range w.query.Results() {
		if !w.matches(item) {
			continue
		}

		snapshot := w.snapshot(item)
		if w.opts.OnSnapshot != nil {
			w.opts.OnSnapshot(snapshot)
		}

		if outcome, terminal := w.evaluate(item); terminal {
			w.complete(outcome)
			return true
		}
	}

	return false
}

func (w *Watcher) matches(item models.ItemAttributes) bool {
	if !w.opts.Predicate.Match(item) {
		return false
	}
	return w.opts.Path == "" || item.Path == w.opts.Path
}

func (w *Watcher) snapshot(item models.ItemAttributes) models.Snapshot {
	s := models.Snapshot{
		Name:      item.Name,
		SizeBytes: item.SizeBytes,
		Path:      item.AbsPath,
	}

	if w.opts.Direction == models.DirectionUpload {
		s.Fraction = item.PercentUploaded
		s.IsComplete = item.IsUploaded
		if item.UploadError != "" {
			s.Err = fmt.Errorf("%s", item.UploadError)
		}
	} else {
		s.Fraction = item.PercentDownloaded
		s.IsComplete = item.DownloadingStatus == models.DownloadingStatusCurrent
		if item.DownloadError != "" {
			s.Err = fmt.Errorf("%s", item.DownloadError)
		}
	}

	return s
}

func (w *Watcher) evaluate(item models.ItemAttributes) (Outcome, bool) {
	if w.opts.Direction == models.DirectionUpload {
		if item.UploadError != "" {
			return Outcome{Err: models.NewError(models.CodeIOFailure, item.UploadError)}, true
		}
		if item.IsUploaded {
			return Outcome{Path: item.AbsPath}, true
		}
		return Outcome{}, false
	}

	if item.DownloadError != "" {
		return Outcome{Err: models.NewError(models.CodeIOFailure, item.DownloadError)}, true
	}
	if item.DownloadingStatus != models.DownloadingStatusCurrent {
		return Outcome{}, false
	}
	if w.opts.Readable != nil {
		if err := w.opts.Readable(item); err != nil {
			return Outcome{Err: models.WrapError(models.CodeIOFailure, err, "downloaded item is not readable")}, true
		}
	}
	return Outcome{Path: item.AbsPath}, true
}

func (w *Watcher) transition(to State) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.IsTerminal() {
		w.state = to
	}
}

// complete records the outcome, stops the query and releases waiters. Only
// the first call has any effect.
func (w *Watcher) complete(outcome Outcome) {
	w.completeOnce.Do(func() {
		w.mu.Lock()
		w.outcome = outcome
		if outcome.Err != nil {
			w.state = StateFailed
		} else {
			w.state = StateSucceeded
		}
		w.mu.Unlock()

		w.query.Stop()
		close(w.done)

		if outcome.Err != nil {
			slog.Debug("watch failed", "direction", w.opts.Direction, "names", w.opts.Predicate.Names, "error", outcome.Err)
		} else {
			slog.Debug("watch succeeded", "direction", w.opts.Direction, "path", outcome.Path)
		}
	})
}
