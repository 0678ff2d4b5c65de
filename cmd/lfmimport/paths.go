// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"os"
	"path/filepath"

	"github.com/ewanc26/lfmimport/internal/errors"
)

// rootDirFromConfig resolves the per-user data directory, keyed by
// LFMIMPORT_STATE_DIR > ~/.lfmimport. Persisted files live in two
// subdirectories under it: state/ (clock, rate-limit ledger, import
// progress) and cache/ (remote-records snapshots), with
// credentials.json at the root.
func rootDirFromConfig() (string, error) {
	if envDir := os.Getenv("LFMIMPORT_STATE_DIR"); envDir != "" {
		return absPath(envDir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return absPath(".lfmimport")
	}
	return filepath.Join(home, ".lfmimport"), nil
}

func stateSubdir(root string) string { return filepath.Join(root, "state") }
func cacheSubdir(root string) string { return filepath.Join(root, "cache") }

func absPath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", errors.NewInternalError(
			"Cannot resolve path",
			"Failed to determine absolute path",
			"Check that the current working directory is accessible",
			err,
		)
	}
	return filepath.Clean(abs), nil
}

func ensureDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}
