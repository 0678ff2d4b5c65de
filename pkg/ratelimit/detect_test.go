// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDetect_Status429IsHighestConfidence(t *testing.T) {
	d := Detect(http.StatusTooManyRequests, http.Header{}, "")
	assert.True(t, d.IsRateLimit)
	assert.Equal(t, 1.0, d.Confidence)
}

func TestDetect_RemainingZeroHeader(t *testing.T) {
	h := headersWith("ratelimit-remaining", "0", "ratelimit-reset", "1700000000")
	d := Detect(http.StatusBadRequest, h, "")
	assert.True(t, d.IsRateLimit)
	assert.Equal(t, int64(1700000000), d.ResetAt)
}

func TestDetect_RetryAfterHeader(t *testing.T) {
	h := headersWith("retry-after", "120")
	d := Detect(http.StatusServiceUnavailable, h, "")
	assert.True(t, d.IsRateLimit)
	assert.Equal(t, 120*time.Second, d.RetryAfter)
}

func TestDetect_MessageHeuristics(t *testing.T) {
	for _, msg := range []string{
		"Rate Limit Exceeded",
		"too many requests, slow down",
		"request was throttled",
		"monthly quota exceeded",
	} {
		d := Detect(http.StatusBadRequest, http.Header{}, msg)
		assert.True(t, d.IsRateLimit, "expected %q to read as a rate limit", msg)
		assert.Less(t, d.Confidence, 1.0)
	}
}

func TestDetect_PlainErrorIsNotRateLimit(t *testing.T) {
	d := Detect(http.StatusBadRequest, http.Header{}, "record failed lexicon validation")
	assert.False(t, d.IsRateLimit)
}
