// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"context"
	"net/http"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := Load(filepath.Join(t.TempDir(), "rate-limit.json"))
	require.NoError(t, err)
	return l
}

func headersWith(pairs ...string) http.Header {
	h := http.Header{}
	for i := 0; i+1 < len(pairs); i += 2 {
		h.Set(pairs[i], pairs[i+1])
	}
	return h
}

func TestUpdateFromHeaders_PolicyAndLimitHeaders(t *testing.T) {
	l := newTestLedger(t)

	h := headersWith(
		"ratelimit-limit", "5000",
		"ratelimit-remaining", "4985",
		"ratelimit-policy", "5000;w=3600",
	)
	require.NoError(t, l.UpdateFromHeaders(h))

	snap := l.Snapshot()
	assert.Equal(t, 5000, snap.Limit)
	assert.Equal(t, 4985, snap.Remaining)
	assert.Equal(t, 3600, snap.WindowSeconds)
}

func TestUpdateFromHeaders_MissingHeadersAreNoSignal(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.UpdateFromHeaders(headersWith("ratelimit-limit", "5000", "ratelimit-remaining", "4000")))

	// A response with no rate-limit headers at all must not clobber state.
	require.NoError(t, l.UpdateFromHeaders(http.Header{}))

	snap := l.Snapshot()
	assert.Equal(t, 5000, snap.Limit)
	assert.Equal(t, 4000, snap.Remaining)
}

func TestUpdateFromHeaders_XPrefixedVariant(t *testing.T) {
	l := newTestLedger(t)
	h := headersWith("x-ratelimit-limit", "1000", "x-ratelimit-remaining", "900")
	require.NoError(t, l.UpdateFromHeaders(h))

	snap := l.Snapshot()
	assert.Equal(t, 1000, snap.Limit)
	assert.Equal(t, 900, snap.Remaining)
}

func TestReserve_InsufficientHeadroomWaits(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.UpdateFromHeaders(headersWith(
		"ratelimit-limit", "1000",
		"ratelimit-remaining", "153", // headroom = floor(1000*0.15) = 150
		"ratelimit-reset", "9999999999",
	)))

	res, err := l.Reserve(3)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, 150, l.Snapshot().Remaining)

	// remaining is now 150; headroom 150 -> 150-150 < 3, must block.
	res2, err := l.Reserve(3)
	require.NoError(t, err)
	assert.False(t, res2.OK)
	assert.Greater(t, res2.WaitSeconds, 0.0)
}

func TestReserve_WindowExpiryRestoresRemaining(t *testing.T) {
	l := newTestLedger(t)
	past := time.Now().Add(-time.Minute).Unix()
	require.NoError(t, l.UpdateFromHeaders(headersWith(
		"ratelimit-limit", "1000",
		"ratelimit-remaining", "0",
		"ratelimit-reset", strconv.FormatInt(past, 10),
	)))

	res, err := l.Reserve(3)
	require.NoError(t, err)
	assert.True(t, res.OK, "expired window must restore remaining to limit before evaluating")
}

func TestSafeAvailable_ZeroWhenNoLedger(t *testing.T) {
	l := newTestLedger(t)
	assert.Equal(t, 0, l.SafeAvailable())
}

func TestSafeAvailable_MaxZeroFloor(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.UpdateFromHeaders(headersWith(
		"ratelimit-limit", "100",
		"ratelimit-remaining", "5",
		"ratelimit-reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	)))
	// headroom = floor(100*0.15) = 15; remaining(5) - headroom(15) = -10 -> floored to 0.
	assert.Equal(t, 0, l.SafeAvailable())
}

func TestWaitForPermit_ReturnsAfterReset(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.UpdateFromHeaders(headersWith(
		"ratelimit-limit", "100",
		"ratelimit-remaining", "0",
		"ratelimit-reset", strconv.FormatInt(time.Now().Add(200*time.Millisecond).Unix(), 10),
	)))

	ctx := context.Background()
	ok, err := l.WaitForPermit(ctx, 3)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWaitForPermit_CancelledReturnsFalse(t *testing.T) {
	l := newTestLedger(t)
	require.NoError(t, l.UpdateFromHeaders(headersWith(
		"ratelimit-limit", "100",
		"ratelimit-remaining", "0",
		"ratelimit-reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10),
	)))

	ctx, cancelFn := context.WithCancel(context.Background())
	cancelFn()

	ok, err := l.WaitForPermit(ctx, 3)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistence_RoundTripsAcrossLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rate-limit.json")
	l1, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, l1.UpdateFromHeaders(headersWith("ratelimit-limit", "42", "ratelimit-remaining", "10")))

	l2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 42, l2.Snapshot().Limit)
	assert.Equal(t, 10, l2.Snapshot().Remaining)
}

