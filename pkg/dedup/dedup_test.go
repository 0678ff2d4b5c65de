// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package dedup

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewanc26/lfmimport/pkg/records"
	"github.com/ewanc26/lfmimport/pkg/repo"
)

type fakeClient struct {
	pages      [][]repo.ListedRecord
	deleted    []string
	deleteErrs map[string]error
}

func (f *fakeClient) BulkWrite(ctx context.Context, repoDID string, ops []repo.WriteOp) (repo.BulkWriteResult, error) {
	return repo.BulkWriteResult{}, nil
}

func (f *fakeClient) ListRecords(ctx context.Context, repoDID, cursor string, limit int) ([]repo.ListedRecord, string, http.Header, error) {
	idx := 0
	if cursor != "" {
		var err error
		idx, err = parseIdx(cursor)
		if err != nil {
			return nil, "", nil, err
		}
	}
	if idx >= len(f.pages) {
		return nil, "", nil, nil
	}
	next := ""
	if idx+1 < len(f.pages) {
		next = formatIdx(idx + 1)
	}
	return f.pages[idx], next, nil, nil
}

func (f *fakeClient) DeleteRecord(ctx context.Context, repoDID, rkey string) (http.Header, error) {
	if err, ok := f.deleteErrs[rkey]; ok {
		return nil, err
	}
	f.deleted = append(f.deleted, rkey)
	return nil, nil
}

func parseIdx(s string) (int, error) {
	n := 0
	for _, c := range s {
		n = n*10 + int(c-'0')
	}
	return n, nil
}

func formatIdx(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func recordWithFingerprint(artist, track, playedTime string) records.PlayRecord {
	r := records.New()
	r.TrackName = track
	r.Artists = []records.Artist{{Name: artist}}
	r.PlayedTime = playedTime
	return r
}

func TestFetchExisting_PagesUntilCursorEmpty(t *testing.T) {
	client := &fakeClient{
		pages: [][]repo.ListedRecord{
			{{RKey: "a", Record: recordWithFingerprint("Artist", "Song A", "2021-01-01T00:00:00Z")}},
			{{RKey: "b", Record: recordWithFingerprint("Artist", "Song B", "2021-01-02T00:00:00Z")}},
		},
	}

	cache, err := FetchExisting(context.Background(), client, "did:plc:test")
	require.NoError(t, err)
	assert.Len(t, cache.Fingerprint, 2)
}

func TestFilterNew_ExcludesCachedFingerprints(t *testing.T) {
	cache := &Cache{Fingerprint: map[string]string{}}
	existing := recordWithFingerprint("Artist", "Song", "2021-01-01T00:00:00Z")
	cache.Fingerprint[records.Fingerprint(existing)] = "rkey1"

	input := []records.PlayRecord{
		existing,
		recordWithFingerprint("Artist", "New Song", "2021-01-02T00:00:00Z"),
	}

	out := FilterNew(input, cache)
	require.Len(t, out, 1)
	assert.Equal(t, "New Song", out[0].TrackName)
}

func TestDeduplicateInput_KeepsFirstOccurrence(t *testing.T) {
	first := recordWithFingerprint("Artist", "Song", "2021-01-01T00:00:00Z")
	dup := first
	dup.ReleaseName = "should be dropped"

	out := DeduplicateInput([]records.PlayRecord{first, dup})
	require.Len(t, out, 1)
	assert.Empty(t, out[0].ReleaseName)
}

func TestCache_StaleWhenOlderThanBound(t *testing.T) {
	c := &Cache{FetchedAt: time.Now().Add(-8 * 24 * time.Hour)}
	assert.True(t, c.Stale())

	c.FetchedAt = time.Now()
	assert.False(t, c.Stale())
}

func TestCache_SaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := &Cache{DID: "did:plc:test", FetchedAt: time.Now(), Fingerprint: map[string]string{"fp1": "rkey1"}}
	require.NoError(t, c.Save(dir))

	loaded, err := LoadCache(dir, "did:plc:test")
	require.NoError(t, err)
	assert.Equal(t, "rkey1", loaded.Fingerprint["fp1"])
}

func TestFindRemoteDuplicates_GroupsByFingerprintKeepsSmallestRKey(t *testing.T) {
	dupRecord := recordWithFingerprint("Artist", "Song", "2021-01-01T00:00:00Z")
	listing := []repo.ListedRecord{
		{RKey: "3zzz", Record: dupRecord},
		{RKey: "3aaa", Record: dupRecord},
		{RKey: "unique", Record: recordWithFingerprint("Artist", "Other", "2021-01-02T00:00:00Z")},
	}

	groups := FindRemoteDuplicates(listing)
	require.Len(t, groups, 1)
	assert.Equal(t, "3aaa", groups[0].Keep)
	assert.Equal(t, []string{"3zzz"}, groups[0].Remove)
}

func TestRemoveDuplicates_DeletesAndCountsSuccesses(t *testing.T) {
	client := &fakeClient{deleteErrs: map[string]error{}}
	groups := []RemoteDuplicateGroup{
		{Fingerprint: "fp", Keep: "keep1", Remove: []string{"rm1", "rm2"}},
	}

	removed, err := RemoveDuplicates(context.Background(), client, "did:plc:test", groups)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)
	assert.ElementsMatch(t, []string{"rm1", "rm2"}, client.deleted)
}

func TestNextPageSize_AdaptsToLatencyWithinBounds(t *testing.T) {
	assert.Equal(t, 50, nextPageSize(25, 100*time.Millisecond))
	assert.Equal(t, 25, nextPageSize(50, 3*time.Second))
	assert.Equal(t, 25, nextPageSize(25, 3*time.Second))
	assert.Equal(t, maxPageSize, nextPageSize(maxPageSize, 100*time.Millisecond))
	assert.Equal(t, 50, nextPageSize(50, time.Second))
}

func TestCachePath_IsKeyedByDID(t *testing.T) {
	dir := t.TempDir()
	p1 := CachePath(dir, "did:plc:abc")
	p2 := CachePath(dir, "did:plc:other")
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, dir, filepath.Dir(p1))
	assert.Equal(t, "records-did:plc:abc.json", filepath.Base(p1))
}
