// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package records defines the canonical PlayRecord written to the remote
// repository and the fingerprint used for deduplication. Parsing of
// Last.fm CSV exports and Spotify JSON exports lives here too, so the
// CLI has real input sources to drive the publish loop with.
package records

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// CollectionNSID is the lexicon collection every PlayRecord belongs to.
const CollectionNSID = "fm.teal.alpha.feed.play"

// recordType is the fixed $type tag every PlayRecord carries.
const recordType = CollectionNSID

// Artist is one contributing artist. MBID is the optional MusicBrainz
// identifier for external-catalog cross-referencing.
type Artist struct {
	Name string `json:"artistName"`
	MBID string `json:"artistMbId,omitempty"`
}

// PlayRecord is the canonical record written to the remote repository.
// Fields are flat and lexicon-shaped rather than Go-idiomatic nested
// structs, because the wire shape is dictated externally.
type PlayRecord struct {
	Type                   string   `json:"$type"`
	TrackName              string   `json:"trackName"`
	Artists                []Artist `json:"artists"`
	ReleaseName            string   `json:"releaseName,omitempty"`
	ReleaseMBID            string   `json:"releaseMbId,omitempty"`
	RecordingMBID          string   `json:"recordingMbId,omitempty"`
	PlayedTime             string   `json:"playedTime"`
	SubmissionClientAgent  string   `json:"submissionClientAgent,omitempty"`
	OriginURL              string   `json:"originUrl,omitempty"`
	MusicServiceBaseDomain string   `json:"musicServiceBaseDomain,omitempty"`
}

// New builds a PlayRecord with the fixed $type tag already set.
func New() PlayRecord {
	return PlayRecord{Type: recordType}
}

// Validate checks that the record has at least one artist with a
// non-empty name and a played-at string that parses to an absolute
// instant.
func (r PlayRecord) Validate() error {
	hasArtist := false
	for _, a := range r.Artists {
		if strings.TrimSpace(a.Name) != "" {
			hasArtist = true
			break
		}
	}
	if !hasArtist {
		return fmt.Errorf("record %q has no artist with a non-empty name", r.TrackName)
	}
	if _, err := r.PlayedAt(); err != nil {
		return fmt.Errorf("record %q has unparseable playedTime %q: %w", r.TrackName, r.PlayedTime, err)
	}
	return nil
}

// PlayedAt parses PlayedTime as RFC-3339.
func (r PlayRecord) PlayedAt() (time.Time, error) {
	return time.Parse(time.RFC3339, r.PlayedTime)
}

// Fingerprint computes the deduplication key:
// lower(trim(artists[0].name)) + "|||" + lower(trim(trackName)) + "|||"
// + playedTime, where playedTime is the literal string from the record,
// not re-parsed.
func Fingerprint(r PlayRecord) string {
	artist := ""
	if len(r.Artists) > 0 {
		artist = r.Artists[0].Name
	}
	return strings.ToLower(strings.TrimSpace(artist)) + "|||" +
		strings.ToLower(strings.TrimSpace(r.TrackName)) + "|||" +
		r.PlayedTime
}

// Source is implemented by input parsers (CSV, Spotify JSON, …). Records
// that fail Validate are dropped by the Source, not surfaced as errors,
// records missing a track or artist are dropped rather than surfaced
// as parse errors.
type Source interface {
	Records() ([]PlayRecord, error)
}

// SortOldestFirst sorts records by PlayedAt ascending, the default
// submission order. Records with unparseable timestamps sort last and
// stable among themselves.
func SortOldestFirst(recs []PlayRecord) {
	sortByPlayedAt(recs, true)
}

// SortNewestFirst sorts records by PlayedAt descending.
func SortNewestFirst(recs []PlayRecord) {
	sortByPlayedAt(recs, false)
}

func sortByPlayedAt(recs []PlayRecord, oldestFirst bool) {
	sort.SliceStable(recs, func(i, j int) bool {
		ti, erri := recs[i].PlayedAt()
		tj, errj := recs[j].PlayedAt()
		if erri != nil || errj != nil {
			return erri == nil // parseable sorts before unparseable
		}
		if oldestFirst {
			return ti.Before(tj)
		}
		return ti.After(tj)
	})
}
