package transfer

import (
	"math"
	"sync"
)

// Aggregator folds the progress of several jobs into one 0-100 value
// weighted by each job's share of the batch's bytes. Update and Complete may
// be called from any goroutine.
//
// The emitted value never decreases. 100 is emitted exactly once, when the
// last job completes; until then emissions are capped at 99.
type Aggregator struct {
	mu sync.Mutex

	weights   []float64
	fractions []float64
	terminal  []bool
	total     int64
	completed int

	emit        func(float64)
	lastEmitted float64
	started     bool
	finished    bool
}

// NewAggregator weights job i by sizes[i]. When the sizes sum to zero every
// job gets an equal share.
func NewAggregator(sizes []int64, emit func(float64)) *Aggregator {
	var total int64
	for _, size := range sizes {
		if size > 0 {
			total += size
		}
	}

	weights := make([]float64, len(sizes))
	for i, size := range sizes {
		switch {
		case total == 0:
			weights[i] = 1 / float64(len(sizes))
		case size > 0:
			weights[i] = float64(size) / float64(total)
		}
	}

	return &Aggregator{
		weights:     weights,
		fractions:   make([]float64, len(sizes)),
		terminal:    make([]bool, len(sizes)),
		total:       total,
		emit:        emit,
		lastEmitted: -1,
	}
}

// TotalBytes is the batch denominator.
func (a *Aggregator) TotalBytes() int64 {
	return a.total
}

// Start emits the initial 0.
func (a *Aggregator) Start() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.started {
		return
	}
	a.started = true
	a.publish(0)
}

// Update records job i's latest raw fraction. Non-finite values, values that
// move backwards and updates for terminal jobs are discarded. Fractions above
// 100 are clamped so a job never exceeds its share.
func (a *Aggregator) Update(i int, fraction float64) {
	if math.IsNaN(fraction) || math.IsInf(fraction, 0) {
		return
	}
	if fraction > 100 {
		fraction = 100
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.fractions) || a.terminal[i] || fraction <= a.fractions[i] {
		return
	}
	a.fractions[i] = fraction

	value := a.value()
	if value > 99 {
		value = 99
	}
	a.publish(value)
}

// Complete marks job i terminal, successful or not. Its full share counts as
// accounted for.
func (a *Aggregator) Complete(i int) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if i < 0 || i >= len(a.terminal) || a.terminal[i] {
		return
	}
	a.terminal[i] = true
	a.fractions[i] = 100
	a.completed++

	if a.completed == len(a.terminal) {
		a.finished = true
		a.publish(100)
		return
	}

	value := a.value()
	if value > 99 {
		value = 99
	}
	a.publish(value)
}

func (a *Aggregator) Finished() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.finished
}

// ContributedBytes is the sum of every job's latest contribution in bytes.
func (a *Aggregator) ContributedBytes() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	var sum float64
	for i, weight := range a.weights {
		sum += weight * float64(a.total) * a.fractions[i] / 100
	}
	return sum
}

func (a *Aggregator) value() float64 {
	var sum float64
	for i, weight := range a.weights {
		sum += weight * a.fractions[i]
	}
	if sum > 100 {
		sum = 100
	}
	return math.Round(sum)
}

func (a *Aggregator) publish(value float64) {
	if value <= a.lastEmitted {
		return
	}
	a.lastEmitted = value
	if a.emit != nil {
		a.emit(value)
	}
}
