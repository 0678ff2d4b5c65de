// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func recordN(b *Batcher, n int, size int, durationMs int64, succeeded bool) {
	for i := 0; i < n; i++ {
		b.Record(Observation{Size: size, DurationMs: durationMs, Succeeded: succeeded})
	}
}

func TestScaleFactor_SuccessStreakScalesUp(t *testing.T) {
	b := NewBatcher()
	recordN(b, 5, 50, 1000, true)
	assert.Equal(t, scaleUpOnSuccess, b.ScaleFactor())
}

func TestScaleFactor_FailureStreakScalesDown(t *testing.T) {
	b := NewBatcher()
	recordN(b, 2, 50, 1000, false)
	assert.Equal(t, scaleDownOnFail, b.ScaleFactor())
}

func TestScaleFactor_FreshBatcherIsNeutral(t *testing.T) {
	b := NewBatcher()
	assert.Equal(t, scaleNeutral, b.ScaleFactor())
}

// sequenceWithoutStreak records 6 batches whose trailing run of
// successes stays below the success-streak threshold, so ScaleFactor
// falls through to the latency comparison instead of the streak rules.
func sequenceWithoutStreak(b *Batcher, oldestDurationMs, recentDurationMs int64) {
	outcomes := []bool{true, false, true, true, true, true}
	for i, ok := range outcomes {
		d := oldestDurationMs
		if i >= 3 {
			d = recentDurationMs
		}
		b.Record(Observation{Size: 50, DurationMs: d, Succeeded: ok})
	}
}

func TestScaleFactor_LatencyDegradationScalesDown(t *testing.T) {
	b := NewBatcher()
	sequenceWithoutStreak(b, 1000, 2000)
	assert.Equal(t, scaleDownOnSlower, b.ScaleFactor())
}

func TestScaleFactor_LatencyImprovementScalesUp(t *testing.T) {
	b := NewBatcher()
	sequenceWithoutStreak(b, 2000, 1000)
	assert.Equal(t, scaleUpOnFaster, b.ScaleFactor())
}

func TestRecord_WindowTrimsToLastTen(t *testing.T) {
	b := NewBatcher()
	recordN(b, 15, 50, 100, true)
	assert.Len(t, b.window, windowSize)
}

func TestRecord_StreaksResetOnOppositeOutcome(t *testing.T) {
	b := NewBatcher()
	recordN(b, 5, 50, 100, true)
	assert.Equal(t, scaleUpOnSuccess, b.ScaleFactor())

	b.Record(Observation{Size: 50, DurationMs: 100, Succeeded: false})
	assert.Equal(t, 0, b.consecutiveSuccesses)
	assert.Equal(t, 1, b.consecutiveFailures)
}

func TestCompose_ClampsToHardCapAndCeiling(t *testing.T) {
	b := NewBatcher()
	recordN(b, 5, 50, 100, true) // scale x1.25

	assert.Equal(t, maxSize, b.Compose(1000, 0))
	assert.Equal(t, 10, b.Compose(1000, 10))
	assert.GreaterOrEqual(t, b.Compose(0, 0), minSize)
}

func TestCompose_NeverBelowOne(t *testing.T) {
	b := NewBatcher()
	recordN(b, 2, 1, 100, false) // scale x0.67
	assert.Equal(t, minSize, b.Compose(1, 200))
}
