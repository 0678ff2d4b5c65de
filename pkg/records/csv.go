// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package records

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

var bom = []byte{0xEF, 0xBB, 0xBF}

// CSVSource parses a Last.fm-style CSV export. Column names are matched
// case-insensitively against a small set of known aliases, and the
// delimiter is sniffed from the header line rather than assumed.
type CSVSource struct {
	Path                   string
	ClientAgent            string
	MusicServiceBaseDomain string
}

// Records implements Source.
func (s CSVSource) Records() ([]PlayRecord, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := bufio.NewReader(f)
	peek, _ := reader.Peek(3)
	if bytes.Equal(peek, bom) {
		_, _ = reader.Discard(3)
	}

	headerLine, err := reader.ReadString('\n')
	if err != nil && headerLine == "" {
		return nil, err
	}
	delim := sniffDelimiter(headerLine)

	cr := csv.NewReader(io.MultiReader(strings.NewReader(headerLine), reader))
	cr.Comma = delim
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	rows, err := cr.ReadAll()
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	header := rows[0]
	idx := columnIndex(header)

	var out []PlayRecord
	for _, row := range rows[1:] {
		rec, ok := csvRowToRecord(row, idx, s.ClientAgent, s.MusicServiceBaseDomain)
		if !ok {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// sniffDelimiter picks the most frequent of comma/semicolon/tab in the
// header line. Last.fm exports are comma-separated, but other scrobble
// tools commonly emit semicolon or tab.
func sniffDelimiter(headerLine string) rune {
	counts := map[rune]int{',': 0, ';': 0, '\t': 0}
	for _, r := range headerLine {
		if _, tracked := counts[r]; tracked {
			counts[r]++
		}
	}
	best, bestCount := ',', -1
	for d, n := range counts {
		if n > bestCount {
			best, bestCount = d, n
		}
	}
	return best
}

// columnIndex maps known column aliases to their position in header.
func columnIndex(header []string) map[string]int {
	idx := make(map[string]int)
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		idx[key] = i
	}
	return idx
}

func firstCol(idx map[string]int, row []string, names ...string) (string, bool) {
	for _, n := range names {
		if i, ok := idx[n]; ok && i < len(row) {
			v := strings.TrimSpace(row[i])
			if v != "" {
				return v, true
			}
		}
	}
	return "", false
}

func csvRowToRecord(row []string, idx map[string]int, clientAgent, serviceDomain string) (PlayRecord, bool) {
	artist, ok := firstCol(idx, row, "artist", "artist_name")
	if !ok {
		return PlayRecord{}, false
	}
	track, ok := firstCol(idx, row, "track", "song", "track_name")
	if !ok {
		return PlayRecord{}, false
	}

	playedAt, ok := parseCSVTimestamp(idx, row)
	if !ok {
		return PlayRecord{}, false
	}

	r := New()
	r.TrackName = track
	r.Artists = []Artist{{Name: artist}}
	r.PlayedTime = playedAt.Format(time.RFC3339)
	r.SubmissionClientAgent = clientAgent
	r.MusicServiceBaseDomain = serviceDomain

	if album, ok := firstCol(idx, row, "album", "album_name"); ok {
		r.ReleaseName = album
	}
	if mbid, ok := firstCol(idx, row, "mbid", "musicbrainz_id", "track_mbid"); ok {
		r.RecordingMBID = mbid
	}

	return r, true
}

// parseCSVTimestamp reads the uts/timestamp column, auto-detecting
// seconds vs milliseconds by magnitude: a 13-digit value is treated as
// milliseconds, anything shorter as seconds.
func parseCSVTimestamp(idx map[string]int, row []string) (time.Time, bool) {
	raw, ok := firstCol(idx, row, "uts", "timestamp", "utc_time")
	if !ok {
		return time.Time{}, false
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n > 1_000_000_000_000 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}

	layouts := []string{time.RFC3339, "2006-01-02 15:04:05", "02 Jan 2006, 15:04"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}
