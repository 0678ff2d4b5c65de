// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/internal/ui"
	"github.com/ewanc26/lfmimport/pkg/dedup"
	"github.com/ewanc26/lfmimport/pkg/repo"
)

// runDedup lists every record currently in the repository, groups it by
// fingerprint, and deletes every duplicate but the oldest (smallest
// rkey) in each group.
func runDedup(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("dedup", flag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Report duplicate groups without deleting anything")
	_ = fs.Parse(args)

	sess, err := newSession(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	ctx := context.Background()
	ui.Info("Listing remote records...")

	listing, err := listAllRemoteRecords(ctx, sess)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	groups := dedup.FindRemoteDuplicates(listing)
	if len(groups) == 0 {
		ui.Success("No duplicate records found")
		return
	}

	total := 0
	for _, g := range groups {
		total += len(g.Remove)
	}
	ui.Infof("Found %s across %s", ui.CountText(total, "duplicate", "duplicates"), ui.CountText(len(groups), "group", "groups"))

	if *dryRun {
		return
	}

	removed, err := dedup.RemoveDuplicates(ctx, sess.client, sess.cfg.Repo.DID, groups)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	ui.Successf("Removed %s", ui.CountText(removed, "duplicate", "duplicates"))
}

// listAllRemoteRecords pages through the whole repository listing with a
// fixed page size of 100; unlike dedup.FetchExisting, it does not adapt
// the page size to latency.
func listAllRemoteRecords(ctx context.Context, sess *session) ([]repo.ListedRecord, error) {
	var all []repo.ListedRecord
	var cursor string
	const pageSize = 100
	for {
		page, next, _, err := sess.client.ListRecords(ctx, sess.cfg.Repo.DID, cursor, pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			break
		}
		cursor = next
	}
	return all, nil
}

// runCache refreshes or clears the persisted dedup cache (the local
// snapshot of remote fingerprints used to skip already-imported plays
// without re-listing the whole repository every run).
func runCache(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("cache", flag.ExitOnError)
	clear := fs.Bool("clear", false, "Delete the persisted dedup cache instead of refreshing it")
	_ = fs.Parse(args)

	sess, err := newSession(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	cachePath := dedup.CachePath(sess.cacheDir, sess.cfg.Repo.DID)

	if *clear {
		if rmErr := os.Remove(cachePath); rmErr != nil && !os.IsNotExist(rmErr) {
			errors.FatalError(errors.NewInternalError(
				"Cannot remove dedup cache",
				cachePath,
				"Check filesystem permissions for the state directory",
				rmErr,
			), globals.JSON)
		}
		ui.Success("Dedup cache cleared")
		return
	}

	ctx := context.Background()
	ui.Info("Refreshing dedup cache from the repository...")
	cache, err := dedup.FetchExisting(ctx, sess.client, sess.cfg.Repo.DID)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}
	if err := cache.Save(sess.cacheDir); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	ui.Successf("Cached %s", ui.CountText(len(cache.Fingerprint), "fingerprint", "fingerprints"))
}
