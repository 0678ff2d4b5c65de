// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scrobbles.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestCSVSource_LastFmCommaSeparated(t *testing.T) {
	content := "uts,artist,track,album\n" +
		"1623787200,The Artist,A Song,An Album\n"
	path := writeTempCSV(t, content)

	src := CSVSource{Path: path, ClientAgent: "lfmimport/test"}
	recs, err := src.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)

	assert.Equal(t, "A Song", recs[0].TrackName)
	assert.Equal(t, "The Artist", recs[0].Artists[0].Name)
	assert.Equal(t, "An Album", recs[0].ReleaseName)
	assert.Equal(t, "2021-06-15T20:00:00Z", recs[0].PlayedTime)
}

func TestCSVSource_SemicolonDelimited(t *testing.T) {
	content := "uts;artist_name;track_name\n" +
		"1623787200;Other Artist;Other Song\n"
	path := writeTempCSV(t, content)

	src := CSVSource{Path: path}
	recs, err := src.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Other Song", recs[0].TrackName)
}

func TestCSVSource_MillisecondTimestamp(t *testing.T) {
	content := "uts,artist,track\n" +
		"1623787200000,Artist,Song\n"
	path := writeTempCSV(t, content)

	src := CSVSource{Path: path}
	recs, err := src.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "2021-06-15T20:00:00Z", recs[0].PlayedTime)
}

func TestCSVSource_BOMIsStripped(t *testing.T) {
	content := "\xef\xbb\xbfuts,artist,track\n1623787200,Artist,Song\n"
	path := writeTempCSV(t, content)

	src := CSVSource{Path: path}
	recs, err := src.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Song", recs[0].TrackName)
}

func TestCSVSource_RowsMissingArtistOrTrackAreDropped(t *testing.T) {
	content := "uts,artist,track\n" +
		"1623787200,,Song\n" +
		"1623787201,Artist,\n" +
		"1623787202,Artist,Song\n"
	path := writeTempCSV(t, content)

	src := CSVSource{Path: path}
	recs, err := src.Records()
	require.NoError(t, err)
	require.Len(t, recs, 1)
}
