// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package records

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_RequiresNonEmptyArtist(t *testing.T) {
	r := New()
	r.TrackName = "Song"
	r.PlayedTime = "2021-06-15T20:00:00Z"
	r.Artists = []Artist{{Name: "  "}}
	assert.Error(t, r.Validate())

	r.Artists = []Artist{{Name: "Real Artist"}}
	assert.NoError(t, r.Validate())
}

func TestValidate_RequiresParseablePlayedTime(t *testing.T) {
	r := New()
	r.TrackName = "Song"
	r.Artists = []Artist{{Name: "Artist"}}
	r.PlayedTime = "not-a-time"
	assert.Error(t, r.Validate())
}

func TestFingerprint_LowercasesAndTrims(t *testing.T) {
	r1 := New()
	r1.TrackName = "  Song Title "
	r1.Artists = []Artist{{Name: "  THE Artist "}}
	r1.PlayedTime = "2021-06-15T20:00:00Z"

	r2 := New()
	r2.TrackName = "song title"
	r2.Artists = []Artist{{Name: "the artist"}}
	r2.PlayedTime = "2021-06-15T20:00:00Z"

	assert.Equal(t, Fingerprint(r1), Fingerprint(r2))
}

func TestFingerprint_DifferentPlayedTimeYieldsDifferentKey(t *testing.T) {
	r1 := New()
	r1.TrackName = "Song"
	r1.Artists = []Artist{{Name: "Artist"}}
	r1.PlayedTime = "2021-06-15T20:00:00Z"

	r2 := r1
	r2.PlayedTime = "2021-06-15T20:00:01Z"

	assert.NotEqual(t, Fingerprint(r1), Fingerprint(r2))
}

func TestSortOldestFirst(t *testing.T) {
	newer := New()
	newer.PlayedTime = "2022-01-01T00:00:00Z"
	older := New()
	older.PlayedTime = "2020-01-01T00:00:00Z"

	recs := []PlayRecord{newer, older}
	SortOldestFirst(recs)

	require.Len(t, recs, 2)
	assert.Equal(t, older.PlayedTime, recs[0].PlayedTime)
	assert.Equal(t, newer.PlayedTime, recs[1].PlayedTime)
}

func TestSortNewestFirst(t *testing.T) {
	newer := New()
	newer.PlayedTime = "2022-01-01T00:00:00Z"
	older := New()
	older.PlayedTime = "2020-01-01T00:00:00Z"

	recs := []PlayRecord{older, newer}
	SortNewestFirst(recs)

	require.Len(t, recs, 2)
	assert.Equal(t, newer.PlayedTime, recs[0].PlayedTime)
	assert.Equal(t, older.PlayedTime, recs[1].PlayedTime)
}
