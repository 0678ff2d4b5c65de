// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package errors centralizes the error taxonomy used across lfmimport:
// every error surfaced to a user carries a title, a detail, and a
// suggestion, so the CLI never has to reconstruct "what happened and what
// do I do about it" from a bare Go error string.
package errors

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime/debug"
)

// Kind discriminates the error taxonomy. The publish loop switches on
// Kind to decide whether to retry, skip, or abort; ambient CLI code only
// needs Title/Detail/Suggestion.
type Kind string

const (
	KindRateLimit          Kind = "rate_limit"
	KindTransientNetwork   Kind = "transient_network"
	KindInvalidRecord      Kind = "invalid_record"
	KindIdentifierCollide  Kind = "identifier_collision"
	KindInvalidIdentifier  Kind = "invalid_identifier"
	KindStateCorruption    Kind = "state_corruption"
	KindUserCancellation   Kind = "user_cancellation"
	KindConfig             Kind = "config"
	KindInternal           Kind = "internal"
	KindPermission         Kind = "permission"
	KindInput              Kind = "input"
)

// UserError is a structured error with enough context to reproduce the
// state at the moment of failure from the logs alone.
type UserError struct {
	Kind       Kind
	Title      string
	Detail     string
	Suggestion string
	Cause      error
}

func (e *UserError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Title, e.Detail, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Title, e.Detail)
}

func (e *UserError) Unwrap() error { return e.Cause }

func newError(kind Kind, title, detail, suggestion string, cause error) *UserError {
	return &UserError{Kind: kind, Title: title, Detail: detail, Suggestion: suggestion, Cause: cause}
}

func NewConfigError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindConfig, title, detail, suggestion, cause)
}

func NewInternalError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindInternal, title, detail, suggestion, cause)
}

func NewPermissionError(title, detail, suggestion string, cause error) *UserError {
	return newError(KindPermission, title, detail, suggestion, cause)
}

func NewInputError(title, detail, suggestion string) *UserError {
	return newError(KindInput, title, detail, suggestion, nil)
}

// NewRateLimitError wraps a detected rate-limit response. resetAt is an
// epoch-seconds hint from the server, 0 if unknown.
func NewRateLimitError(detail string, resetAt int64, cause error) *UserError {
	if resetAt > 0 {
		detail = fmt.Sprintf("%s (window resets at epoch %d)", detail, resetAt)
	}
	suggestion := "The publish loop will wait for the window to reset and retry automatically."
	return newError(KindRateLimit, "Rate limit reached", detail, suggestion, cause)
}

// NewTransientNetworkError wraps a non-2xx status, timeout, or reset
// that is not a rate-limit signal.
func NewTransientNetworkError(detail string, cause error) *UserError {
	return newError(KindTransientNetwork, "Temporary network failure", detail,
		"This batch will be retried with backoff; it will be skipped after 3 attempts.", cause)
}

// NewInvalidRecordError wraps a per-operation lexicon validation failure
// reported by the bulk-write API.
func NewInvalidRecordError(detail string, cause error) *UserError {
	return newError(KindInvalidRecord, "Record rejected by server", detail,
		"The offending record will be skipped; the rest of the batch is unaffected.", cause)
}

// NewIdentifierCollisionError wraps a create rejected because its key
// already exists — indicates lost clock persistence.
func NewIdentifierCollisionError(id string, cause error) *UserError {
	return newError(KindIdentifierCollide, "Identifier already exists",
		fmt.Sprintf("create for key %q was rejected as a duplicate", id),
		"A fresh identifier will be minted past the last known high-water mark and the write retried.", cause)
}

// NewInvalidIdentifierError wraps a Clock-produced string that fails
// format validation. Fatal: signals a programming error.
func NewInvalidIdentifierError(id string) *UserError {
	return newError(KindInvalidIdentifier, "Clock produced an invalid identifier",
		fmt.Sprintf("identifier %q failed format validation", id),
		"This is a bug in the identifier clock. Please report it with the failing timestamp.", nil)
}

// NewStateCorruptionError wraps an unreadable persisted JSON file.
// Recovery: treat as absent and start fresh.
func NewStateCorruptionError(path string, cause error) *UserError {
	return newError(KindStateCorruption, "Persisted state is unreadable",
		fmt.Sprintf("could not parse %s", path),
		"Treating this file as absent and starting from scratch.", cause)
}

// NewUserCancellationError marks the cooperative-stop path.
func NewUserCancellationError() *UserError {
	return newError(KindUserCancellation, "Import cancelled", "the user requested cancellation",
		"Re-run the same command to resume from the last successful batch.", nil)
}

// FatalError prints a UserError (or any error) and exits the process.
// jsonMode emits a single JSON object instead of the human-readable
// banner, so scripted callers never have to scrape stderr text. A
// stack trace is attached only when LFMIMPORT_DEBUG is set.
func FatalError(err error, jsonMode bool) {
	code := 1
	ue, ok := err.(*UserError)
	if ok && ue.Kind == KindUserCancellation {
		code = 130
	}

	if jsonMode {
		payload := map[string]any{"error": err.Error()}
		if ok {
			payload["title"] = ue.Title
			payload["detail"] = ue.Detail
			payload["suggestion"] = ue.Suggestion
		}
		enc, _ := json.Marshal(payload)
		fmt.Fprintln(os.Stderr, string(enc))
	} else if ok {
		fmt.Fprintf(os.Stderr, "Error: %s\n", ue.Title)
		fmt.Fprintf(os.Stderr, "  %s\n", ue.Detail)
		if ue.Suggestion != "" {
			fmt.Fprintf(os.Stderr, "  Suggestion: %s\n", ue.Suggestion)
		}
	} else {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}

	if os.Getenv("LFMIMPORT_DEBUG") != "" {
		fmt.Fprintln(os.Stderr, string(debug.Stack()))
	}

	os.Exit(code)
}
