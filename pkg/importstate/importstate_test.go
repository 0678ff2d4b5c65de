// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package importstate

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempInput(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_ReturnsNilWhenAbsent(t *testing.T) {
	st, err := Load(t.TempDir(), "/does/not/exist.csv", "csv")
	require.NoError(t, err)
	assert.Nil(t, st)
}

func TestNewSaveLoad_RoundTrips(t *testing.T) {
	input := writeTempInput(t, "uts,artist,track\n1,a,b\n")
	stateDir := t.TempDir()

	st, err := New(input, "csv", 100)
	require.NoError(t, err)
	st.RecordBatch(10, 9, 1)
	require.NoError(t, st.Save(stateDir))

	loaded, err := Load(stateDir, input, "csv")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 10, loaded.ProcessedRecords)
	assert.Equal(t, 9, loaded.SuccessfulRecords)
	assert.Equal(t, 1, loaded.FailedRecords)
	assert.Equal(t, 10, loaded.LastSuccessfulIndex)
}

func TestStale_DetectsModifiedInputFile(t *testing.T) {
	input := writeTempInput(t, "uts,artist,track\n1,a,b\n")
	st, err := New(input, "csv", 1)
	require.NoError(t, err)
	assert.False(t, st.Stale(input))

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, os.WriteFile(input, []byte("uts,artist,track\n1,a,b\n2,c,d\n"), 0o600))
	assert.True(t, st.Stale(input))
}

func TestRemove_DeletesPersistedState(t *testing.T) {
	input := writeTempInput(t, "uts,artist,track\n1,a,b\n")
	stateDir := t.TempDir()

	st, err := New(input, "csv", 1)
	require.NoError(t, err)
	require.NoError(t, st.Save(stateDir))

	require.NoError(t, Remove(stateDir, input, "csv"))

	loaded, err := Load(stateDir, input, "csv")
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestKey_DiffersByMode(t *testing.T) {
	assert.NotEqual(t, Key("same.csv", "csv"), Key("same.csv", "spotify"))
}
