// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/schollz/progressbar/v3"
	flag "github.com/spf13/pflag"

	"github.com/ewanc26/lfmimport/internal/cancel"
	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/internal/metrics"
	"github.com/ewanc26/lfmimport/internal/ui"
	"github.com/ewanc26/lfmimport/pkg/clock"
	"github.com/ewanc26/lfmimport/pkg/dedup"
	"github.com/ewanc26/lfmimport/pkg/importstate"
	"github.com/ewanc26/lfmimport/pkg/publish"
	"github.com/ewanc26/lfmimport/pkg/records"
)

// dryRunPreviewLimit caps how many would-be operations a dry run prints
// before collapsing the rest into a count.
const dryRunPreviewLimit = 10

// runImport executes 'import' and 'resume'. Both enter the same publish
// loop, which resumes from persisted state on its own; requireResume
// additionally makes a missing persisted state a fatal error.
func runImport(args []string, configPath string, globals GlobalFlags, requireResume bool) {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	mode := fs.String("mode", "", "Import mode: csv or spotify (default: sniffed from file extension)")
	clientAgent := fs.String("client-agent", "lfmimport", "submissionClientAgent recorded on every play")
	serviceDomain := fs.String("service-domain", "", "musicServiceBaseDomain recorded on every play (e.g. last.fm, spotify.com)")
	dryRun := fs.Bool("dry-run", false, "Mint identifiers and report counts without writing to the repository")
	skipRemoteCheck := fs.Bool("skip-remote-check", false, "Skip fetching existing remote records for input-side deduplication")
	fresh := fs.Bool("fresh", false, "Refetch the remote-records cache even if the cached copy is still within its staleness bound")
	newestFirst := fs.Bool("newest-first", false, "Submit records newest-first instead of the default oldest-first")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: lfmimport import <file> [--mode csv|spotify]")
		os.Exit(1)
	}
	inputPath := fs.Arg(0)

	sess, err := newSession(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	source, mode2, err := sourceFor(inputPath, *mode, *clientAgent, *serviceDomain)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if requireResume {
		st, stErr := importstate.Load(sess.stateDir, inputPath, mode2)
		if stErr != nil {
			errors.FatalError(stErr, globals.JSON)
		}
		if st == nil {
			errors.FatalError(errors.NewInputError(
				"No import in progress",
				fmt.Sprintf("no persisted state found for %s", inputPath),
				"Run 'lfmimport import' on this file to start a new import",
			), globals.JSON)
		}
	}

	input, err := source.Records()
	if err != nil {
		errors.FatalError(errors.NewInputError(
			"Cannot read input file",
			err.Error(),
			"Check that the file exists and matches the expected CSV or Spotify JSON shape",
		), globals.JSON)
	}
	if *newestFirst {
		records.SortNewestFirst(input)
	} else {
		records.SortOldestFirst(input)
	}
	input = dedup.DeduplicateInput(input)

	skippedDuplicates := 0
	if !*skipRemoteCheck && !*dryRun {
		cache, cacheErr := dedup.LoadCache(sess.cacheDir, sess.cfg.Repo.DID)
		if cacheErr != nil {
			errors.FatalError(cacheErr, globals.JSON)
		}
		if *fresh || cache.Stale() {
			ui.Info("Fetching existing records to skip duplicates...")
			ctx := context.Background()
			cache, cacheErr = dedup.FetchExisting(ctx, sess.client, sess.cfg.Repo.DID)
			if cacheErr != nil {
				errors.FatalError(cacheErr, globals.JSON)
			}
			if saveErr := cache.Save(sess.cacheDir); saveErr != nil {
				sess.log.Warn("dedup.cache_save_failed", "err", saveErr)
			}
		}
		before := len(input)
		input = dedup.FilterNew(input, cache)
		skippedDuplicates = before - len(input)
		if skippedDuplicates > 0 {
			ui.Infof("Skipping %s already present in the repository", ui.CountText(skippedDuplicates, "record", "records"))
		}
	}

	if len(input) == 0 {
		ui.Success("Nothing to import: every record already exists or the input was empty")
		return
	}

	token := cancel.NewToken()

	var bar *progressbar.ProgressBar
	recorder := metrics.NewRecorder(nil)
	loop := &publish.Loop{
		Clock:    sess.clock,
		Ledger:   sess.ledger,
		Pacer:    sess.pacer,
		Batcher:  sess.batcher,
		Client:   sess.client,
		StateDir: sess.stateDir,
		RepoDID:  sess.cfg.Repo.DID,
		DryRun:   *dryRun,
		Log:      sess.log,
		Metrics:  recorder,
		OnProgress: func(processed, total int64, phase string) {
			if globals.Quiet {
				return
			}
			if bar == nil {
				bar = progressbar.NewOptions64(total,
					progressbar.OptionSetDescription(phase),
					progressbar.OptionShowCount(),
					progressbar.OptionSetWidth(30),
					progressbar.OptionThrottle(100_000_000),
					progressbar.OptionClearOnFinish(),
				)
			}
			_ = bar.Set64(processed)
		},
	}

	if *dryRun {
		// An ephemeral clock with a fixed id keeps dry-run identifier
		// sequences byte-identical across runs, and leaves the real
		// clock's persisted high-water mark untouched.
		loop.Clock = clock.New(clock.WithClockID(0), clock.WithLogger(sess.log))
	}

	var dryShown int
	if *dryRun {
		ui.Header("Dry run: no records will be written")
		loop.OnDryRun = func(rkey string, rec records.PlayRecord) {
			dryShown++
			if dryShown > dryRunPreviewLimit {
				return
			}
			ui.Infof("  %s  %s — %s (%s)", rkey, rec.Artists[0].Name, rec.TrackName, rec.PlayedTime)
		}
	}

	result, err := loop.Run(token, input, inputPath, mode2)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if result.Cancelled {
		if globals.JSON {
			errors.FatalError(errors.NewUserCancellationError(), true)
		}
		ui.Banner("Import paused",
			fmt.Sprintf("Processed %d of %d records before cancellation.", result.ProcessedRecords, result.TotalRecords),
			"Re-run 'lfmimport import' on the same file to resume from here.",
		)
		os.Exit(130)
	}

	if *dryRun {
		if hidden := dryShown - dryRunPreviewLimit; hidden > 0 {
			ui.Infof("  ... and %s more", ui.CountText(hidden, "record", "records"))
		}
		ui.Successf("Dry run complete: %s would be published to %s",
			ui.CountText(result.SuccessfulRecords, "record", "records"), records.CollectionNSID)
		return
	}

	ui.Successf("Imported %s (%d failed, %d skipped as duplicates)",
		ui.CountText(result.SuccessfulRecords, "record", "records"), result.FailedRecords, skippedDuplicates)
}

