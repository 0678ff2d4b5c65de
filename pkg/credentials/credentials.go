// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package credentials resolves the access token used to authenticate
// against the remote repository: a .env file first, then a persisted
// credentials.json under the state directory as a fallback so the CLI
// doesn't need an .env file sitting next to wherever it happens to run.
package credentials

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/ewanc26/lfmimport/internal/errors"
)

// Credentials is the minimal set of fields needed to call the remote
// repository as a given principal.
type Credentials struct {
	Host        string `json:"host"`
	DID         string `json:"did"`
	AccessToken string `json:"accessToken"`
}

// LoadEnv loads a .env file (if present; a missing file is not an
// error) and returns credentials built from LFMIMPORT_HOST,
// LFMIMPORT_DID, and LFMIMPORT_ACCESS_TOKEN. ok is false if any of the
// three is empty, so callers can fall back to the JSON store.
func LoadEnv(envPath string) (creds Credentials, ok bool) {
	if envPath == "" {
		envPath = ".env"
	}
	_ = godotenv.Load(envPath) // missing .env is fine; env vars may already be set

	creds = Credentials{
		Host:        os.Getenv("LFMIMPORT_HOST"),
		DID:         os.Getenv("LFMIMPORT_DID"),
		AccessToken: os.Getenv("LFMIMPORT_ACCESS_TOKEN"),
	}
	ok = creds.Host != "" && creds.DID != "" && creds.AccessToken != ""
	return creds, ok
}

func jsonPath(stateDir string) string {
	return filepath.Join(stateDir, "credentials.json")
}

// LoadJSON reads credentials.json from the state directory. A missing
// file returns ok=false with no error; a malformed file is reported as
// StateCorruption and also returns ok=false so the caller can prompt
// for fresh credentials instead of crashing.
func LoadJSON(stateDir string) (creds Credentials, ok bool) {
	path := jsonPath(stateDir)
	data, err := os.ReadFile(path)
	if err != nil {
		return Credentials{}, false
	}
	if jsonErr := json.Unmarshal(data, &creds); jsonErr != nil {
		slog.Warn("credentials.corrupt", "err", errors.NewStateCorruptionError(path, jsonErr))
		return Credentials{}, false
	}
	return creds, creds.Host != "" && creds.DID != "" && creds.AccessToken != ""
}

// SaveJSON persists creds to credentials.json under stateDir, atomically
// and with owner-only permissions since the file holds a bearer token.
func SaveJSON(stateDir string, creds Credentials) error {
	path := jsonPath(stateDir)
	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode credentials",
			"JSON marshaling of credentials failed unexpectedly",
			"This is a bug. Please report it.",
			err,
		)
	}

	if err := os.MkdirAll(stateDir, 0o750); err != nil {
		return errors.NewPermissionError(
			"Cannot create state directory",
			fmt.Sprintf("permission denied creating %s", stateDir),
			"Check directory permissions.",
			err,
		)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewPermissionError(
			"Cannot write credentials",
			fmt.Sprintf("permission denied writing %s", tmp),
			"Check file permissions and available disk space.",
			err,
		)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return errors.NewInternalError(
			"Cannot persist credentials",
			fmt.Sprintf("rename of %s to %s failed", tmp, path),
			"Check that the state directory is on a single filesystem.",
			err,
		)
	}
	return nil
}

// Resolve tries LoadEnv first, then LoadJSON(stateDir), returning the
// first successful result.
func Resolve(envPath, stateDir string) (Credentials, error) {
	if creds, ok := LoadEnv(envPath); ok {
		return creds, nil
	}
	if creds, ok := LoadJSON(stateDir); ok {
		return creds, nil
	}
	return Credentials{}, errors.NewConfigError(
		"No credentials found",
		"neither a .env file nor a saved credentials.json provided a host, DID, and access token",
		"Set LFMIMPORT_HOST, LFMIMPORT_DID, and LFMIMPORT_ACCESS_TOKEN in a .env file, or save them as credentials.json in the state directory.",
		nil,
	)
}
