// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ratelimit holds the Quota Ledger (the persisted mirror of the
// server's rate-limit state) and the Rate Pacer that turns ledger state
// into proactive per-batch delays. Keeping them in one package lets the
// Pacer read Ledger fields directly without an indirection layer neither
// side needs.
package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ewanc26/lfmimport/internal/cancel"
	lferrors "github.com/ewanc26/lfmimport/internal/errors"
)

const defaultHeadroomThreshold = 0.15

// Ledger is the persisted quota ledger: the ground truth for "can we
// write N more points right now, and if not, when can we?"
type Ledger struct {
	mu   sync.Mutex
	path string
	st   state
}

// state is the on-disk JSON shape. Field names are part of the external
// contract and must round-trip bit-exactly.
type state struct {
	Limit             int     `json:"limit"`
	Remaining         int     `json:"remaining"`
	ResetAt           int64   `json:"resetAt"`
	WindowSeconds     int     `json:"windowSeconds"`
	UpdatedAt         int64   `json:"updatedAt"`
	HeadroomThreshold float64 `json:"headroomThreshold"`
}

// Load reads the persisted ledger at path. A missing file yields a
// zero-value ledger with no server information yet (safeAvailable
// returns 0, forcing a conservative first probe). A malformed file is
// StateCorruption: logged and treated as absent.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path, st: state{HeadroomThreshold: defaultHeadroomThreshold}}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var st state
		if jsonErr := json.Unmarshal(data, &st); jsonErr != nil {
			slog.Warn("ratelimit.ledger.corrupt", "err", lferrors.NewStateCorruptionError(path, jsonErr))
			return l, nil
		}
		if st.HeadroomThreshold <= 0 {
			st.HeadroomThreshold = defaultHeadroomThreshold
		}
		l.st = st
	case os.IsNotExist(err):
		// No information yet; fall through with zero-value ledger.
	default:
		return nil, lferrors.NewPermissionError(
			"Cannot read rate-limit ledger",
			fmt.Sprintf("failed to read %s", path),
			"Check file permissions on the state directory.",
			err,
		)
	}

	return l, nil
}

// hasServerInfo reports whether the ledger has ever seen a server
// response (Limit == 0 means "unknown").
func (l *Ledger) hasServerInfo() bool { return l.st.Limit > 0 }

// expireIfNeeded restores remaining to limit once the sliding window has
// closed: if now has reached or passed resetAt, remaining is restored to
// limit before anything else is evaluated. Caller must hold l.mu.
func (l *Ledger) expireIfNeeded(now time.Time) {
	if l.hasServerInfo() && now.Unix() >= l.st.ResetAt {
		l.st.Remaining = l.st.Limit
	}
}

func (l *Ledger) headroom() int {
	return int(math.Floor(float64(l.st.Limit) * l.st.HeadroomThreshold))
}

// UpdateFromHeaders parses the rate-limit headers from a response and
// overwrites limit/remaining/resetAt/windowSeconds. Headers that yield
// neither limit nor remaining are ignored.
func (l *Ledger) UpdateFromHeaders(h http.Header) error {
	sig := ParseHeaders(h)
	if !sig.HasLimit && !sig.HasRemaining {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if sig.HasLimit {
		l.st.Limit = sig.Limit
	}
	if sig.HasRemaining {
		l.st.Remaining = sig.Remaining
	}
	if sig.HasResetAt {
		l.st.ResetAt = sig.ResetAt
	}
	if sig.HasWindow {
		l.st.WindowSeconds = sig.WindowSeconds
	}
	if l.st.WindowSeconds == 0 {
		l.st.WindowSeconds = 3600
	}
	l.st.UpdatedAt = time.Now().Unix()

	return l.persistLocked()
}

// ReserveResult is the outcome of Reserve.
type ReserveResult struct {
	OK          bool
	WaitSeconds float64
}

// Reserve attempts to spend `points` quota points now. If the window has
// closed, remaining is first restored to limit. If there's enough
// headroom-adjusted quota, points are deducted and OK is true; otherwise
// OK is false and WaitSeconds says how long until the window resets.
func (l *Ledger) Reserve(points int) (ReserveResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	l.expireIfNeeded(now)

	headroom := l.headroom()
	if l.st.Remaining-headroom >= points {
		l.st.Remaining -= points
		l.st.UpdatedAt = now.Unix()
		if err := l.persistLocked(); err != nil {
			return ReserveResult{}, err
		}
		return ReserveResult{OK: true}, nil
	}

	wait := float64(l.st.ResetAt - now.Unix())
	if wait < 0 {
		wait = 0
	}
	return ReserveResult{OK: false, WaitSeconds: wait}, nil
}

// WaitForPermit blocks (in a cancellation-aware, bounded-time manner)
// until `points` can be reserved, then reserves them. It is guaranteed to
// return after at most one window. Returns false if cancellation
// interrupted the wait.
func (l *Ledger) WaitForPermit(ctx context.Context, points int) (bool, error) {
	for {
		res, err := l.Reserve(points)
		if err != nil {
			return false, err
		}
		if res.OK {
			return true, nil
		}

		wait := time.Duration(res.WaitSeconds+1) * time.Second
		if wait <= 0 {
			wait = time.Second
		}
		if cancel.SleepCancelable(ctx, wait) {
			return false, nil
		}
	}
}

// SafeAvailable returns max(0, remaining-headroom), or 0 if the ledger
// has no server information yet, forcing the first caller into a
// conservative probe.
func (l *Ledger) SafeAvailable() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasServerInfo() {
		return 0
	}
	l.expireIfNeeded(time.Now())

	avail := l.st.Remaining - l.headroom()
	if avail < 0 {
		return 0
	}
	return avail
}

// Capacity is the result of ServerCapacity.
type Capacity struct {
	Limit         int
	WindowSeconds int
}

// ServerCapacity returns the last known server limit/window, or ok=false
// if no server response has ever been observed.
func (l *Ledger) ServerCapacity() (Capacity, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.hasServerInfo() {
		return Capacity{}, false
	}
	return Capacity{Limit: l.st.Limit, WindowSeconds: l.st.WindowSeconds}, true
}

// Snapshot returns the current persisted fields for status reporting.
type Snapshot struct {
	Limit             int
	Remaining         int
	ResetAt           int64
	WindowSeconds     int
	UpdatedAt         int64
	HeadroomThreshold float64
}

func (l *Ledger) Snapshot() Snapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return Snapshot(l.st)
}

// persistLocked writes the ledger atomically. Caller must hold l.mu.
func (l *Ledger) persistLocked() error {
	if l.path == "" {
		return nil
	}

	data, err := json.Marshal(l.st)
	if err != nil {
		return lferrors.NewInternalError(
			"Cannot encode rate-limit ledger",
			"JSON marshaling of the quota ledger failed unexpectedly",
			"This is a bug. Please report it.",
			err,
		)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return lferrors.NewPermissionError(
			"Cannot create state directory",
			fmt.Sprintf("permission denied creating %s", dir),
			"Check directory permissions.",
			err,
		)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return lferrors.NewPermissionError(
			"Cannot write rate-limit ledger",
			fmt.Sprintf("permission denied writing %s", tmp),
			"Check file permissions and available disk space.",
			err,
		)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		_ = os.Remove(tmp)
		return lferrors.NewInternalError(
			"Cannot persist rate-limit ledger",
			fmt.Sprintf("rename of %s to %s failed", tmp, l.path),
			"Check that the state directory is on a single filesystem.",
			err,
		)
	}
	return nil
}
