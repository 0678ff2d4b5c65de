// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import "time"

// PointsPerRecord is the quota cost of a single create operation,
// exported so callers outside this package can size a Reserve/WaitForPermit
// call from a record count without duplicating the constant.
const PointsPerRecord = 3

const pointsPerRecord = PointsPerRecord

const (
	minDelay = 100 * time.Millisecond
	maxDelay = 300 * time.Second

	targetBatchDuration = 45 * time.Second
	maxBatchSize        = 200 // hard cap from the bulk-write primitive
	minBatchSize        = 1

	criticalModeMaxBatch = 10
)

// utilizationTier maps quota health (remaining/limit) to a target
// fraction of max rate.
type utilizationTier struct {
	minRatio   float64
	target     float64
	isCritical bool
}

var utilizationTiers = []utilizationTier{
	{minRatio: 0.60, target: 0.80},
	{minRatio: 0.30, target: 0.60},
	{minRatio: 0.15, target: 0.40},
	{minRatio: 0.05, target: 0.10},
	{minRatio: 0.00, target: 0.05, isCritical: true},
}

// Pacer turns ledger state plus a batch size into a proactive
// inter-batch delay, and separately recommends the batch size itself.
// It holds no mutable state of its own — all inputs come from the
// Ledger — so a single Pacer value can be shared freely.
type Pacer struct{}

// NewPacer constructs a Pacer. It takes no configuration: every
// parameter (utilization tiers, sweet-spot duration, clamp bounds) is a
// fixed constant of the algorithm, not a tuning knob.
func NewPacer() *Pacer { return &Pacer{} }

// utilizationFor returns the target utilization fraction and whether
// it's the critical tier, given remaining/limit.
func utilizationFor(remaining, limit int) (target float64, critical bool) {
	if limit <= 0 {
		return utilizationTiers[len(utilizationTiers)-1].target, true
	}
	ratio := float64(remaining) / float64(limit)
	for _, tier := range utilizationTiers {
		if ratio >= tier.minRatio {
			return tier.target, tier.isCritical
		}
	}
	last := utilizationTiers[len(utilizationTiers)-1]
	return last.target, last.isCritical
}

// maxRate is the theoretical records/sec ceiling at full utilization:
// limit / windowSeconds / 3, since each record costs 3 points.
func maxRate(limit, windowSeconds int) float64 {
	if windowSeconds <= 0 || limit <= 0 {
		return 0
	}
	return float64(limit) / float64(windowSeconds) / pointsPerRecord
}

// Delay computes how long to sleep before submitting the next batch of
// n records, given the ledger's current view of server capacity. The
// result is clamped to [100ms, 300s].
func (p *Pacer) Delay(n int, l *Ledger) time.Duration {
	snap := l.Snapshot()
	target, _ := utilizationFor(snap.Remaining, snap.Limit)
	rate := maxRate(snap.Limit, snap.WindowSeconds)

	if rate <= 0 || n <= 0 {
		return minDelay
	}

	seconds := float64(n) / (rate * target)
	d := time.Duration(seconds * float64(time.Second))
	return clampDuration(d, minDelay, maxDelay)
}

// BatchSize recommends a batch size whose publish duration at the
// current target rate lands near the 45-second sweet spot, clamped to
// [1, 200]. In critical mode it returns at most 10.
func (p *Pacer) BatchSize(l *Ledger) int {
	snap := l.Snapshot()
	target, critical := utilizationFor(snap.Remaining, snap.Limit)
	rate := maxRate(snap.Limit, snap.WindowSeconds)

	if rate <= 0 {
		// No server information yet: force a conservative first probe.
		return minBatchSize
	}

	effectiveRate := rate * target
	size := int(effectiveRate * targetBatchDuration.Seconds())

	upperBound := maxBatchSize
	if critical {
		upperBound = criticalModeMaxBatch
	}
	return clampInt(size, minBatchSize, upperBound)
}

// Ceiling exposes the pacer's current batch-size ceiling (10 in
// critical mode, 200 otherwise) so the Adaptive Batcher can clamp its
// own scaled-up size to it instead of overshooting into a mode the
// Pacer has already flagged as critical.
func (p *Pacer) Ceiling(l *Ledger) int {
	snap := l.Snapshot()
	_, critical := utilizationFor(snap.Remaining, snap.Limit)
	if critical {
		return criticalModeMaxBatch
	}
	return maxBatchSize
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
