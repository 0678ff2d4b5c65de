// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package clock

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClock(t *testing.T) *Clock {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tid-state.json")
	c, err := Load(path, WithClockID(7))
	require.NoError(t, err)
	return c
}

func TestNext_MonotonicallyIncreasing(t *testing.T) {
	c := newTestClock(t)

	var prev string
	for i := 0; i < 200; i++ {
		id, err := c.Next()
		require.NoError(t, err)
		assert.Regexp(t, identifierPattern, id)
		if prev != "" {
			assert.Less(t, prev, id, "identifiers must be strictly increasing")
		}
		prev = id
	}
}

func TestFromTimestamp_OutOfOrderInputsStillIncrease(t *testing.T) {
	c := newTestClock(t)

	years := []int{2020, 2015, 2010, 2025}
	var prev string
	for _, y := range years {
		ts := time.Date(y, time.January, 1, 0, 0, 0, 0, time.UTC)
		id, err := c.FromTimestamp(ts)
		require.NoError(t, err)
		if prev != "" {
			assert.Less(t, prev, id)
		}
		prev = id
	}
}

func TestFromTimestamp_ClampsToLastUsPlusOne(t *testing.T) {
	c := newTestClock(t)

	first, err := c.FromTimestamp(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// A timestamp at or before lastUs must still advance by exactly 1us.
	stateBefore := c.State()
	second, err := c.FromTimestamp(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	stateAfter := c.State()

	assert.NotEqual(t, first, second)
	assert.Equal(t, stateBefore.LastTimestampMicros+1, stateAfter.LastTimestampMicros)
}

func TestNext_ConcurrentCallersSeeStrictOrder(t *testing.T) {
	c := newTestClock(t)

	const n = 500
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := c.Next()
			require.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate identifier %q", id)
		seen[id] = true
		assert.True(t, Validate(id))
	}
}

func TestNext_PersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tid-state.json")

	c1, err := Load(path, WithClockID(3))
	require.NoError(t, err)
	first, err := c1.Next()
	require.NoError(t, err)

	c2, err := Load(path)
	require.NoError(t, err)
	second, err := c2.Next()
	require.NoError(t, err)

	assert.Less(t, first, second)
	assert.Equal(t, 3, c2.State().ClockID)
}

func TestDeterminism_FixedClockAndSeedProducesByteIdenticalSequence(t *testing.T) {
	fixedNow := time.Date(2021, 6, 15, 20, 0, 0, 0, time.UTC)

	run := func() []string {
		path := filepath.Join(t.TempDir(), "tid-state.json")
		c, err := Load(path, WithClockID(1), WithNowFunc(func() time.Time { return fixedNow }))
		require.NoError(t, err)
		out := make([]string, 5)
		for i := range out {
			id, err := c.Next()
			require.NoError(t, err)
			out[i] = id
		}
		return out
	}

	a := run()
	b := run()
	assert.Equal(t, a, b)
}

func TestValidate_RejectsMalformedIdentifiers(t *testing.T) {
	cases := []string{
		"",
		"tooshort",
		"12345678901234",      // 14 chars
		"ABCDEFGHIJKLM",       // uppercase not in alphabet
		"klmnopqrstuvw12",     // wrong length
		"0123456789abc",       // '0' and '1' not in alphabet
	}
	for _, c := range cases {
		assert.False(t, Validate(c), "expected %q to be invalid", c)
	}
}

func TestEncode_HighBitsMatch2021Timestamp(t *testing.T) {
	c := newTestClock(t)
	ts := time.Date(2021, 6, 15, 20, 0, 0, 0, time.UTC)
	id, err := c.FromTimestamp(ts)
	require.NoError(t, err)
	assert.True(t, Validate(id))
	// bits 54-50 of the 55-bit microsecond timestamp for 2021-06-15T20:00:00Z
	// are 00001, which encodes to alphabet index 1 ('3').
	assert.Equal(t, byte('3'), id[0])
}
