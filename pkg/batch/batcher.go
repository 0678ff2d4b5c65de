// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package batch implements the Adaptive Batcher: a second opinion on
// batch size, composed with the Rate Pacer's quota-based sizing, based
// on the last few batches' observed success and latency.
package batch

import (
	"sync"
	"time"
)

const windowSize = 10

const (
	successStreakThreshold = 5
	failureStreakThreshold = 2

	slowdownFactor = 1.5
	speedupFactor  = 0.7

	scaleUpOnSuccess  = 1.25
	scaleDownOnFail   = 0.67
	scaleDownOnSlower = 0.8
	scaleUpOnFaster   = 1.15
	scaleNeutral      = 1.0

	minSize = 1
	maxSize = 200
)

// Observation is one completed batch's outcome, recorded after every
// submission.
type Observation struct {
	Size          int
	DurationMs    int64
	Succeeded     bool
	ObservedAtUTC time.Time
}

// Batcher tracks a rolling window of the last windowSize batches plus
// consecutive success/failure streak counters.
type Batcher struct {
	mu                   sync.Mutex
	window               []Observation
	consecutiveSuccesses int
	consecutiveFailures  int
}

// NewBatcher returns a Batcher with an empty history.
func NewBatcher() *Batcher {
	return &Batcher{}
}

// Record appends a batch observation, updating the streak counters and
// trimming the rolling window to the last 10 entries.
func (b *Batcher) Record(obs Observation) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if obs.Succeeded {
		b.consecutiveSuccesses++
		b.consecutiveFailures = 0
	} else {
		b.consecutiveFailures++
		b.consecutiveSuccesses = 0
	}

	b.window = append(b.window, obs)
	if len(b.window) > windowSize {
		b.window = b.window[len(b.window)-windowSize:]
	}
}

// ScaleFactor returns the multiplier to apply to the Pacer's batch size,
// evaluated in order: success streak, then failure streak, then
// latency degradation/improvement, else neutral.
func (b *Batcher) ScaleFactor() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch {
	case b.consecutiveSuccesses >= successStreakThreshold:
		return scaleUpOnSuccess
	case b.consecutiveFailures >= failureStreakThreshold:
		return scaleDownOnFail
	}

	if factor, ok := b.latencyTrendFactor(); ok {
		return factor
	}
	return scaleNeutral
}

// latencyTrendFactor compares the mean duration of the most recent 3
// batches against the oldest 3 in the window. It only applies once the
// window holds at least 6 non-overlapping entries.
func (b *Batcher) latencyTrendFactor() (float64, bool) {
	if len(b.window) < 6 {
		return 0, false
	}

	oldest3 := b.window[:3]
	recent3 := b.window[len(b.window)-3:]

	oldestAvg := meanDuration(oldest3)
	recentAvg := meanDuration(recent3)
	if oldestAvg <= 0 {
		return 0, false
	}

	ratio := recentAvg / oldestAvg
	switch {
	case ratio >= slowdownFactor:
		return scaleDownOnSlower, true
	case ratio <= speedupFactor:
		return scaleUpOnFaster, true
	}
	return 0, false
}

func meanDuration(obs []Observation) float64 {
	var sum int64
	for _, o := range obs {
		sum += o.DurationMs
	}
	return float64(sum) / float64(len(obs))
}

// Compose applies the current scale factor to pacerSize, clamps the
// result to [1, 200] and to ceiling (the Pacer's current mode ceiling,
// e.g. 10 in critical mode).
func (b *Batcher) Compose(pacerSize, ceiling int) int {
	scaled := int(float64(pacerSize) * b.ScaleFactor())

	upper := maxSize
	if ceiling > 0 && ceiling < upper {
		upper = ceiling
	}
	return clamp(scaled, minSize, upper)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
