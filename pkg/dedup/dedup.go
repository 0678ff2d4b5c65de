// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package dedup keeps the local input stream and the remote repository
// from ending up with duplicate plays: input-side grouping by
// fingerprint, and a cached remote listing used to skip records the
// server already has.
package dedup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/pkg/records"
	"github.com/ewanc26/lfmimport/pkg/repo"
)

// StalenessBound is how long a cached remote listing is trusted before
// a fresh fetch is required.
const StalenessBound = 7 * 24 * time.Hour

const (
	minPageSize = 25
	maxPageSize = 100
)

// Cache is the persisted mirror of the remote fingerprint set for one
// principal, keyed by repository DID so multiple accounts don't collide
// on one state directory.
type Cache struct {
	DID         string            `json:"did"`
	FetchedAt   time.Time         `json:"fetchedAt"`
	Fingerprint map[string]string `json:"fingerprintToRKey"` // fingerprint -> rkey
}

// CachePath names the cache file for one repository DID, so two
// accounts sharing a cache directory never collide. The file name is
// part of the persisted-state contract.
func CachePath(cacheDir, repoDID string) string {
	return filepath.Join(cacheDir, fmt.Sprintf("records-%s.json", repoDID))
}

// LoadCache reads the persisted cache for repoDID, or returns a fresh
// empty one if the file is absent or not valid JSON. Expiry is decided
// by the caller via Stale(); LoadCache itself never discards data on age
// alone.
func LoadCache(cacheDir, repoDID string) (*Cache, error) {
	path := CachePath(cacheDir, repoDID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Cache{DID: repoDID, Fingerprint: map[string]string{}}, nil
	}
	if err != nil {
		return nil, errors.NewPermissionError(
			"Cannot read dedup cache",
			fmt.Sprintf("failed to read %s", path),
			"Check file permissions on the state directory.",
			err,
		)
	}

	var c Cache
	if jsonErr := json.Unmarshal(data, &c); jsonErr != nil {
		slog.Warn("dedup.cache.corrupt", "err", errors.NewStateCorruptionError(path, jsonErr))
		return &Cache{DID: repoDID, Fingerprint: map[string]string{}}, nil
	}
	if c.Fingerprint == nil {
		c.Fingerprint = map[string]string{}
	}
	return &c, nil
}

// Stale reports whether the cache is older than StalenessBound.
func (c *Cache) Stale() bool {
	return c.FetchedAt.IsZero() || time.Since(c.FetchedAt) > StalenessBound
}

// Save persists the cache atomically.
func (c *Cache) Save(cacheDir string) error {
	path := CachePath(cacheDir, c.DID)
	data, err := json.Marshal(c)
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode dedup cache",
			"JSON marshaling of the dedup cache failed unexpectedly",
			"This is a bug. Please report it.",
			err,
		)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return errors.NewPermissionError("Cannot create state directory",
			fmt.Sprintf("permission denied creating %s", filepath.Dir(path)), "Check directory permissions.", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewPermissionError("Cannot write dedup cache",
			fmt.Sprintf("permission denied writing %s", tmp), "Check file permissions and available disk space.", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewInternalError("Cannot persist dedup cache",
			fmt.Sprintf("rename of %s to %s failed", tmp, path), "Check that the state directory is on a single filesystem.", err)
	}
	return nil
}

// FetchExisting pages through the remote repository's listing, building
// a fingerprint cache. Page size starts small (25) and adapts to
// observed latency: a fast page grows the next request toward 100, a
// slow one shrinks it back, so a cold fetch against an unfamiliar
// server starts conservatively and settles where the server is
// comfortable.
func FetchExisting(ctx context.Context, client repo.Client, repoDID string) (*Cache, error) {
	c := &Cache{DID: repoDID, Fingerprint: map[string]string{}}

	cursor := ""
	pageSize := minPageSize
	for {
		start := time.Now()
		page, next, _, err := client.ListRecords(ctx, repoDID, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		elapsed := time.Since(start)

		for _, lr := range page {
			fp := records.Fingerprint(lr.Record)
			c.Fingerprint[fp] = lr.RKey
		}
		if next == "" {
			break
		}
		cursor = next
		pageSize = nextPageSize(pageSize, elapsed)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
	}

	c.FetchedAt = time.Now()
	return c, nil
}

// nextPageSize grows the listing page size on a fast response and
// shrinks it on a slow one, clamped to [25, 100].
func nextPageSize(current int, elapsed time.Duration) int {
	switch {
	case elapsed < 500*time.Millisecond:
		current += 25
	case elapsed > 2*time.Second:
		current -= 25
	}
	if current < minPageSize {
		return minPageSize
	}
	if current > maxPageSize {
		return maxPageSize
	}
	return current
}

// FilterNew returns the subset of input not present in the cache,
// according to fingerprint membership.
func FilterNew(input []records.PlayRecord, cache *Cache) []records.PlayRecord {
	out := make([]records.PlayRecord, 0, len(input))
	for _, r := range input {
		if _, exists := cache.Fingerprint[records.Fingerprint(r)]; !exists {
			out = append(out, r)
		}
	}
	return out
}

// DeduplicateInput groups input records by fingerprint and keeps only
// the first occurrence of each, in original order. Used before
// submission so the same play never gets queued twice in one run.
func DeduplicateInput(input []records.PlayRecord) []records.PlayRecord {
	seen := make(map[string]struct{}, len(input))
	out := make([]records.PlayRecord, 0, len(input))
	for _, r := range input {
		fp := records.Fingerprint(r)
		if _, ok := seen[fp]; ok {
			continue
		}
		seen[fp] = struct{}{}
		out = append(out, r)
	}
	return out
}

// RemoteDuplicateGroup is a set of remote rkeys that all share one
// fingerprint — everything RemoveDuplicates will delete except Keep.
type RemoteDuplicateGroup struct {
	Fingerprint string
	Keep        string
	Remove      []string
}

// FindRemoteDuplicates groups a remote listing by fingerprint and
// reports, for every fingerprint with more than one rkey, which one to
// keep (the lexicographically smallest rkey, which for these
// time-ordered identifiers is also the oldest) and which to remove.
func FindRemoteDuplicates(listing []repo.ListedRecord) []RemoteDuplicateGroup {
	byFP := make(map[string][]string)
	for _, lr := range listing {
		fp := records.Fingerprint(lr.Record)
		byFP[fp] = append(byFP[fp], lr.RKey)
	}

	var groups []RemoteDuplicateGroup
	for fp, rkeys := range byFP {
		if len(rkeys) < 2 {
			continue
		}
		sort.Strings(rkeys)
		groups = append(groups, RemoteDuplicateGroup{
			Fingerprint: fp,
			Keep:        rkeys[0],
			Remove:      rkeys[1:],
		})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Fingerprint < groups[j].Fingerprint })
	return groups
}

// RemoveDuplicates deletes every rkey in Remove for every group,
// returning the count of records actually deleted and the first error
// encountered (deletion continues past individual failures).
func RemoveDuplicates(ctx context.Context, client repo.Client, repoDID string, groups []RemoteDuplicateGroup) (removed int, err error) {
	for _, g := range groups {
		for _, rkey := range g.Remove {
			if _, delErr := client.DeleteRecord(ctx, repoDID, rkey); delErr != nil {
				if err == nil {
					err = delErr
				}
				continue
			}
			removed++
		}
	}
	return removed, err
}
