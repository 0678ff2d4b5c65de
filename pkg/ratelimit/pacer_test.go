// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ledgerWith(t *testing.T, limit, remaining, windowSeconds int) *Ledger {
	t.Helper()
	l, err := Load(filepath.Join(t.TempDir(), "rate-limit.json"))
	require.NoError(t, err)

	h := http.Header{}
	h.Set("ratelimit-limit", strconv.Itoa(limit))
	h.Set("ratelimit-remaining", strconv.Itoa(remaining))
	h.Set("ratelimit-policy", strconv.Itoa(limit)+";w="+strconv.Itoa(windowSeconds))
	require.NoError(t, l.UpdateFromHeaders(h))
	return l
}

func TestUtilizationFor_Tiers(t *testing.T) {
	cases := []struct {
		remaining, limit int
		wantTarget       float64
		wantCritical     bool
	}{
		{70, 100, 0.80, false},
		{45, 100, 0.60, false},
		{20, 100, 0.40, false},
		{10, 100, 0.10, false},
		{2, 100, 0.05, true},
		{0, 0, 0.05, true}, // no server info yet
	}
	for _, c := range cases {
		got, critical := utilizationFor(c.remaining, c.limit)
		assert.Equal(t, c.wantTarget, got)
		assert.Equal(t, c.wantCritical, critical)
	}
}

func TestDelay_ClampedToBounds(t *testing.T) {
	p := NewPacer()

	// Huge limit / tiny batch should hit the 100ms floor.
	big := ledgerWith(t, 1_000_000, 900_000, 3600)
	assert.Equal(t, minDelay, p.Delay(1, big))

	// Tiny limit / huge batch should hit the 300s ceiling.
	tiny := ledgerWith(t, 10, 2, 3600)
	assert.Equal(t, maxDelay, p.Delay(200, tiny))
}

func TestDelay_NoServerInfoReturnsFloor(t *testing.T) {
	p := NewPacer()
	l, err := Load(filepath.Join(t.TempDir(), "rate-limit.json"))
	require.NoError(t, err)
	assert.Equal(t, minDelay, p.Delay(5, l))
}

func TestBatchSize_ClampedToHardCap(t *testing.T) {
	p := NewPacer()
	generous := ledgerWith(t, 1_000_000, 900_000, 3600)
	assert.LessOrEqual(t, p.BatchSize(generous), maxBatchSize)
}

func TestBatchSize_CriticalModeIsSmall(t *testing.T) {
	p := NewPacer()
	critical := ledgerWith(t, 1000, 10, 3600) // remaining/limit = 1% -> critical
	size := p.BatchSize(critical)
	assert.LessOrEqual(t, size, criticalModeMaxBatch)
	assert.GreaterOrEqual(t, size, minBatchSize)
}

func TestBatchSize_NoServerInfoForcesProbe(t *testing.T) {
	p := NewPacer()
	l, err := Load(filepath.Join(t.TempDir(), "rate-limit.json"))
	require.NoError(t, err)
	assert.Equal(t, minBatchSize, p.BatchSize(l))
}

func TestMaxRate_ZeroWindowIsZero(t *testing.T) {
	assert.Equal(t, 0.0, maxRate(5000, 0))
	assert.Equal(t, 0.0, maxRate(0, 3600))
}

func TestDelay_SmallBatchAtHighRemainingFollowsTargetRate(t *testing.T) {
	p := NewPacer()
	l := ledgerWith(t, 5000, 4985, 3600)
	d := p.Delay(5, l)
	assert.GreaterOrEqual(t, d, minDelay)
	// 5 records / (5000 points / 3600 s / 3 points per record * 0.80) = 13.5s.
	assert.InDelta(t, float64(13500*time.Millisecond), float64(d), float64(time.Millisecond))
}
