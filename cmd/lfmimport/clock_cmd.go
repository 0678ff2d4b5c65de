// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/internal/ui"
)

// runResetClock clears the identifier clock's high-water mark. This is
// destructive: minting identifiers again from an earlier timestamp risks
// colliding with ones already written, and should only be used when the
// operator knows the remote repository has been independently cleared.
func runResetClock(args []string, configPath string, globals GlobalFlags) {
	fs := flag.NewFlagSet("reset-clock", flag.ExitOnError)
	yes := fs.Bool("yes", false, "Confirm the reset without an interactive prompt")
	_ = fs.Parse(args)

	if !*yes {
		fmt.Fprintln(os.Stderr, "This resets the identifier clock's high-water mark, which can produce")
		fmt.Fprintln(os.Stderr, "collisions if the repository still holds records minted under it.")
		fmt.Fprintln(os.Stderr, "Re-run with --yes to confirm.")
		os.Exit(1)
	}

	sess, err := newSession(configPath)
	if err != nil {
		errors.FatalError(err, globals.JSON)
	}

	if err := sess.clock.Reset(); err != nil {
		errors.FatalError(err, globals.JSON)
	}
	ui.Success("Identifier clock reset")
}
