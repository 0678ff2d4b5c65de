// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ewanc26/lfmimport/internal/config"
	"github.com/ewanc26/lfmimport/internal/errors"
	"github.com/ewanc26/lfmimport/pkg/batch"
	"github.com/ewanc26/lfmimport/pkg/clock"
	"github.com/ewanc26/lfmimport/pkg/credentials"
	"github.com/ewanc26/lfmimport/pkg/ratelimit"
	"github.com/ewanc26/lfmimport/pkg/records"
	"github.com/ewanc26/lfmimport/pkg/repo"
)

// session bundles every collaborator a publish or dedup command needs,
// constructed once from config + credentials + the state directory.
type session struct {
	cfg      *config.Config
	creds    credentials.Credentials
	rootDir  string
	stateDir string
	cacheDir string
	log      *slog.Logger

	clock   *clock.Clock
	ledger  *ratelimit.Ledger
	pacer   *ratelimit.Pacer
	batcher *batch.Batcher
	client  repo.Client
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Logging.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Logging.JSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

// newSession loads config and credentials and wires every publish-loop
// collaborator against files under stateDir.
func newSession(configPath string) (*session, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	rootDir, err := rootDirFromConfig()
	if err != nil {
		return nil, err
	}
	stateDir := stateSubdir(rootDir)
	cacheDir := cacheSubdir(rootDir)
	for _, dir := range []string{rootDir, stateDir, cacheDir} {
		if err := ensureDir(dir); err != nil {
			return nil, errors.NewInternalError(
				"Cannot create state directory",
				dir,
				"Check filesystem permissions for the data directory",
				err,
			)
		}
	}

	log := newLogger(cfg)

	creds, err := credentials.Resolve("", rootDir)
	if err != nil {
		return nil, err
	}
	if cfg.Repo.Host == "" {
		cfg.Repo.Host = creds.Host
	}
	if cfg.Repo.DID == "" {
		cfg.Repo.DID = creds.DID
	}

	c, err := clock.Load(filepath.Join(stateDir, "tid-state.json"), clock.WithLogger(log))
	if err != nil {
		return nil, err
	}

	ledger, err := ratelimit.Load(filepath.Join(stateDir, "rate-limit.json"))
	if err != nil {
		return nil, err
	}

	return &session{
		cfg:      cfg,
		creds:    creds,
		rootDir:  rootDir,
		stateDir: stateDir,
		cacheDir: cacheDir,
		log:      log,
		clock:    c,
		ledger:   ledger,
		pacer:    ratelimit.NewPacer(),
		batcher:  batch.NewBatcher(),
		client:   repo.NewXRPCClient(cfg.Repo.Host, creds.AccessToken),
	}, nil
}

// sourceFor builds a records.Source from a file path, sniffing the mode
// from its extension unless mode is explicitly set to "csv" or
// "spotify".
func sourceFor(path, mode, clientAgent, serviceDomain string) (records.Source, string, error) {
	if mode == "" {
		switch strings.ToLower(filepath.Ext(path)) {
		case ".json":
			mode = "spotify"
		default:
			mode = "csv"
		}
	}

	switch mode {
	case "csv":
		return records.CSVSource{Path: path, ClientAgent: clientAgent, MusicServiceBaseDomain: serviceDomain}, mode, nil
	case "spotify":
		return records.SpotifySource{Path: path, ClientAgent: clientAgent, MusicServiceBaseDomain: serviceDomain}, mode, nil
	default:
		return nil, "", errors.NewInputError(
			"Unrecognized import mode",
			"mode must be \"csv\" or \"spotify\", got "+mode,
			"Pass --mode csv or --mode spotify explicitly",
		)
	}
}
