// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"
)

// headerValue looks up a header case-insensitively, trying the bare name
// first and then its "x-" prefixed variant.
func headerValue(h http.Header, name string) (string, bool) {
	canon := textproto.CanonicalMIMEHeaderKey(name)
	if v := h.Get(canon); v != "" {
		return v, true
	}
	xCanon := textproto.CanonicalMIMEHeaderKey("x-" + name)
	if v := h.Get(xCanon); v != "" {
		return v, true
	}
	return "", false
}

// HeaderSignal is what updateFromHeaders extracts from one response. Any
// zero field means "no signal for this field" — missing headers must
// never overwrite existing ledger values.
type HeaderSignal struct {
	Limit         int
	HasLimit      bool
	Remaining     int
	HasRemaining  bool
	ResetAt       int64
	HasResetAt    bool
	WindowSeconds int
	HasWindow     bool
	RetryAfter    time.Duration
	HasRetryAfter bool
}

// ParseHeaders extracts rate-limit signal from response headers:
// ratelimit-limit, ratelimit-remaining, ratelimit-reset (epoch seconds),
// ratelimit-policy (format "<limit>;w=<seconds>"), and retry-after
// (seconds or HTTP date), all case-insensitive with "x-ratelimit-*"
// variants recognized.
func ParseHeaders(h http.Header) HeaderSignal {
	var s HeaderSignal

	if v, ok := headerValue(h, "ratelimit-limit"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			s.Limit, s.HasLimit = n, true
		}
	}

	if v, ok := headerValue(h, "ratelimit-remaining"); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			s.Remaining, s.HasRemaining = n, true
		}
	}

	if v, ok := headerValue(h, "ratelimit-reset"); ok {
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			s.ResetAt, s.HasResetAt = n, true
		}
	}

	if v, ok := headerValue(h, "ratelimit-policy"); ok {
		if limit, window, ok := parsePolicy(v); ok {
			if !s.HasLimit {
				s.Limit, s.HasLimit = limit, true
			}
			s.WindowSeconds, s.HasWindow = window, true
		}
	}

	if v, ok := headerValue(h, "retry-after"); ok {
		if d, ok := parseRetryAfter(v); ok {
			s.RetryAfter, s.HasRetryAfter = d, true
		}
	}

	return s
}

// parsePolicy parses "<limit>;w=<seconds>".
func parsePolicy(v string) (limit, window int, ok bool) {
	parts := strings.Split(v, ";")
	if len(parts) == 0 {
		return 0, 0, false
	}
	limit, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, false
	}
	for _, p := range parts[1:] {
		p = strings.TrimSpace(p)
		if strings.HasPrefix(p, "w=") {
			w, err := strconv.Atoi(strings.TrimPrefix(p, "w="))
			if err == nil {
				return limit, w, true
			}
		}
	}
	return limit, 0, true
}

// parseRetryAfter accepts either a delta-seconds integer or an HTTP-date.
func parseRetryAfter(v string) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			secs = 0
		}
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
