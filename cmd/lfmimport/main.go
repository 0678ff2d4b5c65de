// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package main implements the lfmimport CLI for publishing Last.fm CSV
// and Spotify JSON listening history into an AT Protocol repository.
//
// Usage:
//
//	lfmimport import <file>        Import a listening-history export
//	lfmimport resume <file>        Resume a previously interrupted import
//	lfmimport status <file>        Show persisted progress for a file
//	lfmimport dedup                Sweep and remove remote duplicate plays
//	lfmimport cache                Refresh or clear the dedup cache
//	lfmimport reset-clock          Reset the identifier clock (destructive)
//	lfmimport config [init]        Show or write the project configuration
package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"

	"github.com/ewanc26/lfmimport/internal/ui"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// GlobalFlags holds the global CLI flags that apply to all commands.
type GlobalFlags struct {
	JSON    bool
	NoColor bool
	Verbose int
	Quiet   bool
}

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		configPath  = flag.StringP("config", "c", "", "Path to .lfmimport/config.yaml")
		jsonOutput  = flag.Bool("json", false, "Output in JSON format (for applicable commands)")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		verbose     = flag.CountP("verbose", "v", "Increase verbosity (-v for info, -vv for debug)")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress progress output")
		metricsAddr = flag.String("metrics-addr", "", "Serve Prometheus metrics at this address (e.g. :9090) for the duration of the command")
	)

	flag.SetInterspersed(false)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `lfmimport - Last.fm / Spotify listening history importer

Publishes listening-history records into an AT Protocol repository,
pacing submissions against the server's advertised rate limit and
resuming cleanly after an interruption.

Usage:
  lfmimport <command> [options]

Commands:
  import <file>       Import a CSV or Spotify JSON export
  resume <file>       Resume a previously interrupted import
  status <file>       Show persisted progress for a file
  dedup               Sweep and remove duplicate records already in the repository
  cache               Refresh or clear the local dedup cache
  reset-clock         Reset the identifier clock (destructive)
  config [init]       Show or write the project configuration

Global Options:
  --json              Output in JSON format
  --no-color          Disable color output (respects NO_COLOR env var)
  -v, --verbose       Increase verbosity (-v for info, -vv for debug)
  -q, --quiet         Suppress progress output
  --metrics-addr      Serve Prometheus metrics for the duration of the command
  -c, --config        Path to .lfmimport/config.yaml
  -V, --version       Show version and exit

Credentials are resolved from a .env file (LFMIMPORT_HOST, LFMIMPORT_DID,
LFMIMPORT_ACCESS_TOKEN) or a state-directory credentials.json.

Examples:
  lfmimport import scrobbles.csv
  lfmimport import history.json --mode spotify
  lfmimport status scrobbles.csv
  lfmimport dedup --dry-run
`)
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("lfmimport version %s\ncommit: %s\nbuilt: %s\n", version, commit, date)
		os.Exit(0)
	}

	if os.Getenv("NO_COLOR") != "" {
		*noColor = true
	}
	if *quiet && *verbose > 0 {
		fmt.Fprintln(os.Stderr, "Error: cannot use --quiet and --verbose together")
		os.Exit(1)
	}
	// -v/-vv raise the log level through the environment override the
	// config loader already applies.
	switch {
	case *verbose >= 2:
		_ = os.Setenv("LFMIMPORT_LOG_LEVEL", "debug")
	case *verbose == 1:
		_ = os.Setenv("LFMIMPORT_LOG_LEVEL", "info")
	}
	if *jsonOutput {
		*quiet = true
	}

	globals := GlobalFlags{JSON: *jsonOutput, NoColor: *noColor, Verbose: *verbose, Quiet: *quiet}
	ui.InitColors(globals.NoColor)

	if *metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		go func() { _ = http.ListenAndServe(*metricsAddr, mux) }()
	}

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(1)
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "import":
		runImport(cmdArgs, *configPath, globals, false)
	case "resume":
		runImport(cmdArgs, *configPath, globals, true)
	case "status":
		runStatus(cmdArgs, *configPath, globals)
	case "dedup":
		runDedup(cmdArgs, *configPath, globals)
	case "cache":
		runCache(cmdArgs, *configPath, globals)
	case "reset-clock":
		runResetClock(cmdArgs, *configPath, globals)
	case "config":
		runConfig(cmdArgs, *configPath, globals)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		flag.Usage()
		os.Exit(1)
	}
}
