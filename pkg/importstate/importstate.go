// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package importstate tracks per-input-file progress so an interrupted
// or crashed import can resume from the last successful batch instead
// of starting over.
package importstate

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ewanc26/lfmimport/internal/errors"
)

const stateVersion = 1

// State is the persisted progress record for one (inputFile, mode) pair.
type State struct {
	Version             int       `json:"version"`
	StartedAt           time.Time `json:"startedAt"`
	LastUpdatedAt       time.Time `json:"lastUpdatedAt"`
	InputFile           string    `json:"inputFile"`
	InputFileHash       string    `json:"inputFileHash"`
	TotalRecords        int       `json:"totalRecords"`
	ProcessedRecords    int       `json:"processedRecords"`
	SuccessfulRecords   int       `json:"successfulRecords"`
	FailedRecords       int       `json:"failedRecords"`
	LastSuccessfulIndex int       `json:"lastSuccessfulIndex"`
	Mode                string    `json:"mode"`
	Completed           bool      `json:"completed"`
}

// Key derives the state file name from the input path and mode, so the
// same file imported in two different modes (e.g. "csv" vs "spotify")
// never shares progress.
func Key(inputFile, mode string) string {
	sum := md5.Sum([]byte(inputFile + "|" + mode))
	return hex.EncodeToString(sum[:])[:8]
}

func path(stateDir, key string) string {
	return filepath.Join(stateDir, fmt.Sprintf("import-%s.json", key))
}

// FileFingerprint hashes the input file's size and modification time —
// cheap enough to call on every resume, and sufficient to detect that
// the file backing a paused import has changed underneath it.
func FileFingerprint(inputFile string) (string, error) {
	info, err := os.Stat(inputFile)
	if err != nil {
		return "", err
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%d:%d", info.Size(), info.ModTime().UnixNano())))
	return hex.EncodeToString(sum[:]), nil
}

// Load reads the persisted state for (inputFile, mode), or nil if none
// exists yet. A malformed file is StateCorruption: logged and treated
// as absent so the import starts fresh rather than failing outright.
func Load(stateDir, inputFile, mode string) (*State, error) {
	key := Key(inputFile, mode)
	data, err := os.ReadFile(path(stateDir, key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewPermissionError(
			"Cannot read import state",
			fmt.Sprintf("failed to read state for key %s", key),
			"Check file permissions on the state directory.",
			err,
		)
	}

	var st State
	if jsonErr := json.Unmarshal(data, &st); jsonErr != nil {
		slog.Warn("importstate.corrupt", "err", errors.NewStateCorruptionError(path(stateDir, key), jsonErr))
		return nil, nil
	}
	return &st, nil
}

// Stale reports whether the input file has changed since this state was
// recorded, comparing the stored hash against a freshly computed one.
func (s *State) Stale(inputFile string) bool {
	fresh, err := FileFingerprint(inputFile)
	if err != nil {
		return true
	}
	return fresh != s.InputFileHash
}

// New creates a fresh state for a new import run.
func New(inputFile, mode string, totalRecords int) (*State, error) {
	hash, err := FileFingerprint(inputFile)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	return &State{
		Version:       stateVersion,
		StartedAt:     now,
		LastUpdatedAt: now,
		InputFile:     inputFile,
		InputFileHash: hash,
		TotalRecords:  totalRecords,
		Mode:          mode,
	}, nil
}

// RecordBatch updates progress counters after a batch completes and
// advances LastSuccessfulIndex past every record the batch covered,
// whether or not individual records within it failed — resume restarts
// from the batch boundary, not mid-batch.
func (s *State) RecordBatch(batchSize, succeeded, failed int) {
	s.ProcessedRecords += batchSize
	s.SuccessfulRecords += succeeded
	s.FailedRecords += failed
	s.LastSuccessfulIndex += batchSize
	s.LastUpdatedAt = time.Now()
}

// Save persists the state atomically.
func (s *State) Save(stateDir string) error {
	key := Key(s.InputFile, s.Mode)
	p := path(stateDir, key)

	data, err := json.Marshal(s)
	if err != nil {
		return errors.NewInternalError(
			"Cannot encode import state",
			"JSON marshaling of the import state failed unexpectedly",
			"This is a bug. Please report it.",
			err,
		)
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
		return errors.NewPermissionError("Cannot create state directory",
			fmt.Sprintf("permission denied creating %s", filepath.Dir(p)), "Check directory permissions.", err)
	}
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errors.NewPermissionError("Cannot write import state",
			fmt.Sprintf("permission denied writing %s", tmp), "Check file permissions and available disk space.", err)
	}
	if err := os.Rename(tmp, p); err != nil {
		_ = os.Remove(tmp)
		return errors.NewInternalError("Cannot persist import state",
			fmt.Sprintf("rename of %s to %s failed", tmp, p), "Check that the state directory is on a single filesystem.", err)
	}
	return nil
}

// Remove deletes the persisted state file, used once an import
// completes successfully so a future run with the same input starts
// fresh rather than reporting "already completed" forever.
func Remove(stateDir, inputFile, mode string) error {
	p := path(stateDir, Key(inputFile, mode))
	err := os.Remove(p)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
