// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package clock implements the monotonic identifier clock: a
// mutex-guarded generator of 13-character base32 time-ordered identifiers
// that stays strictly increasing even when fed historical or out-of-order
// timestamps, across concurrent callers and process restarts.
//
// The persisted ClockState file is part of the external contract: it
// must round-trip bit-exactly across rewrites, so field names and JSON
// shape are fixed, not chosen for convenience.
package clock

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	lferrors "github.com/ewanc26/lfmimport/internal/errors"
)

// alphabet is the non-standard base32 ordering: digits 2-7 then
// lowercase a-z, 32 symbols total.
const alphabet = "234567abcdefghijklmnopqrstuvwxyz"

var identifierPattern = regexp.MustCompile(`^[2-7a-ij][2-7a-z]{12}$`)

// State is the persisted ClockState: lastTimestampMicros is the
// monotonic high-water mark, clockId is a random 0-31 value stable for
// the lifetime of the state file, generatedCount is a diagnostic counter.
type State struct {
	LastTimestampMicros int64 `json:"lastTimestampMicros"`
	ClockID             int   `json:"clockId"`
	GeneratedCount      int64 `json:"generatedCount"`
}

// Clock mints identifiers. The zero value is not usable; construct with
// Load or New.
type Clock struct {
	mu    sync.Mutex
	state State
	path  string
	now   func() time.Time
	log   *slog.Logger
}

// Option configures a Clock at construction time.
type Option func(*Clock)

// WithNowFunc overrides the wall-clock source. Combined with a fixed seed
// (WithClockID), this gives byte-identical dry-run previews: a fixed
// clock source plus a fixed clockId makes repeated runs over the same
// input stream produce the same identifier sequence.
func WithNowFunc(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// WithLogger sets the logger used for the clock-drift warning.
func WithLogger(l *slog.Logger) Option {
	return func(c *Clock) { c.log = l }
}

// WithClockID forces a specific clock id (0-31) instead of the
// persisted/random one. Used for deterministic dry-runs.
func WithClockID(id int) Option {
	return func(c *Clock) { c.state.ClockID = id & 0x1f }
}

// New returns an in-memory clock that never persists. Dry runs use one
// so previewed identifier sequences neither disturb nor depend on the
// on-disk high-water mark.
func New(opts ...Option) *Clock {
	c := &Clock{
		now:   time.Now,
		log:   slog.Default(),
		state: State{ClockID: randomClockID()},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Load reads the persisted ClockState at path, or creates a fresh one
// with a random clockId if the file is missing. A malformed file is
// treated as StateCorruption: logged and replaced, not fatal.
func Load(path string, opts ...Option) (*Clock, error) {
	c := &Clock{
		path: path,
		now:  time.Now,
		log:  slog.Default(),
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var st State
		if jsonErr := json.Unmarshal(data, &st); jsonErr != nil {
			c.log.Warn("clock.state.corrupt", "err", lferrors.NewStateCorruptionError(path, jsonErr))
			c.state = State{ClockID: randomClockID()}
		} else {
			c.state = st
		}
	case os.IsNotExist(err):
		c.state = State{ClockID: randomClockID()}
	default:
		return nil, lferrors.NewPermissionError(
			"Cannot read clock state",
			fmt.Sprintf("failed to read %s", path),
			"Check file permissions on the state directory.",
			err,
		)
	}

	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func randomClockID() int {
	return rand.Intn(32) //nolint:gosec // not a security-sensitive value
}

// Next returns the next identifier based on the current wall-clock time.
func (c *Clock) Next() (string, error) {
	return c.mint(c.now().UnixMicro(), true)
}

// FromTimestamp returns the next identifier encoding the given historical
// instant. Used by the publish loop so the minted id reflects the
// record's played-at time rather than the mint wall-clock time — a
// historical import can span decades, so id generation cannot assume
// the current moment dominates.
func (c *Clock) FromTimestamp(t time.Time) (string, error) {
	return c.mint(t.UnixMicro(), false)
}

// mint serializes identifier generation. wallClock marks inputs coming
// from the system clock: falling behind lastUs there means the clock
// moved backward, which is worth a warning, whereas a historical
// FromTimestamp input behind the high-water mark is the normal case.
func (c *Clock) mint(inputUs int64, wallClock bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	candidateUs := inputUs
	if candidateUs <= c.state.LastTimestampMicros {
		if wallClock && inputUs < c.state.LastTimestampMicros {
			c.log.Warn("clock.drift.backward",
				"input_us", inputUs, "last_us", c.state.LastTimestampMicros)
		}
		candidateUs = c.state.LastTimestampMicros + 1
	}

	id := encode(candidateUs, c.state.ClockID)
	if !identifierPattern.MatchString(id) {
		return "", lferrors.NewInvalidIdentifierError(id)
	}

	c.state.LastTimestampMicros = candidateUs
	c.state.GeneratedCount++

	if c.path != "" {
		if err := c.persist(); err != nil {
			return "", err
		}
	}

	return id, nil
}

// encode packs a 55-bit microsecond timestamp into 11 base32 characters
// (big-endian, 5 bits per character) followed by 2 characters encoding
// the 5-bit clock id zero-padded into a 10-bit field.
func encode(timestampUs int64, clockID int) string {
	buf := make([]byte, 13)
	for i := 0; i < 11; i++ {
		shift := uint(50 - i*5)
		digit := (timestampUs >> shift) & 0x1f
		buf[i] = alphabet[digit]
	}
	// 10-bit field, clockId occupies the low 5 bits, top 5 bits are zero.
	buf[11] = alphabet[0]
	buf[12] = alphabet[clockID&0x1f]
	return string(buf)
}

// persist writes the ClockState atomically (write-temp-and-rename).
func (c *Clock) persist() error {
	data, err := json.Marshal(c.state)
	if err != nil {
		return lferrors.NewInternalError(
			"Cannot encode clock state",
			"JSON marshaling of ClockState failed unexpectedly",
			"This is a bug. Please report it.",
			err,
		)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return lferrors.NewPermissionError(
			"Cannot create state directory",
			fmt.Sprintf("permission denied creating %s", dir),
			"Check directory permissions.",
			err,
		)
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return lferrors.NewPermissionError(
			"Cannot write clock state",
			fmt.Sprintf("permission denied writing %s", tmp),
			"Check file permissions and available disk space.",
			err,
		)
	}
	if err := os.Rename(tmp, c.path); err != nil {
		_ = os.Remove(tmp)
		return lferrors.NewInternalError(
			"Cannot persist clock state",
			fmt.Sprintf("rename of %s to %s failed", tmp, c.path),
			"Check that the state directory is on a single filesystem.",
			err,
		)
	}
	return nil
}

// Validate reports whether id matches the 13-character format regex.
func Validate(id string) bool {
	return identifierPattern.MatchString(id)
}

// State returns a copy of the current persisted state, for status
// reporting.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reset clears the clock's high-water mark and assigns a fresh random
// clockId, then persists. Used only by explicit tooling action, never
// automatically.
func (c *Clock) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = State{ClockID: randomClockID()}
	if c.path == "" {
		return nil
	}
	return c.persist()
}
