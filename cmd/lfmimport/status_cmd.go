// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"encoding/json"
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/internal/ui"
	"github.com/ewanc26/lfmimport/pkg/importstate"
)

// runStatus reports the persisted importstate.State for a given input
// file and mode, if any.
func runStatus(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	mode := fs.String("mode", "", "Import mode: csv or spotify (default: sniffed from file extension)")
	_ = fs.Parse(args)

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: lfmimport status <file> [--mode csv|spotify]")
		os.Exit(1)
	}
	inputPath := fs.Arg(0)

	sess, err := newSession(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	_, resolvedMode, err := sourceFor(inputPath, *mode, "", "")
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	st, err := importstate.Load(sess.stateDir, inputPath, resolvedMode)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if st == nil {
		if globals.JSON {
			enc, _ := json.Marshal(map[string]any{"found": false})
			fmt.Println(string(enc))
		} else {
			ui.Info("No import state found for this file; it has not been started or has already completed and been cleared.")
		}
		return
	}

	if globals.JSON {
		enc, _ := json.MarshalIndent(st, "", "  ")
		fmt.Println(string(enc))
		return
	}

	ui.Header("Import status")
	ui.Label("Input file", st.InputFile)
	ui.Label("Mode", st.Mode)
	ui.Label("Started", st.StartedAt.Format("2006-01-02 15:04:05"))
	ui.Label("Last updated", st.LastUpdatedAt.Format("2006-01-02 15:04:05"))
	ui.Label("Total records", fmt.Sprintf("%d", st.TotalRecords))
	ui.Label("Processed", fmt.Sprintf("%d", st.ProcessedRecords))
	ui.Label("Succeeded", fmt.Sprintf("%d", st.SuccessfulRecords))
	ui.Label("Failed", fmt.Sprintf("%d", st.FailedRecords))
	ui.Label("Completed", fmt.Sprintf("%t", st.Completed))
}
