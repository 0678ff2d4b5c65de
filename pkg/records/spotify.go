// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package records

import (
	"encoding/json"
	"os"
	"strings"
	"time"
)

// SpotifySource parses a Spotify "Extended Streaming History" JSON
// export (an array of play objects). Entries missing a track name or
// artist name are dropped rather than surfaced as errors, since partial
// exports routinely contain podcast or ad entries with those fields
// empty.
type SpotifySource struct {
	Path                   string
	ClientAgent            string
	MusicServiceBaseDomain string
}

type spotifyEntry struct {
	Ts                            string `json:"ts"`
	MasterMetadataTrackName       string `json:"master_metadata_track_name"`
	MasterMetadataAlbumArtistName string `json:"master_metadata_album_artist_name"`
	MasterMetadataAlbumAlbumName  string `json:"master_metadata_album_album_name"`
	SpotifyTrackURI               string `json:"spotify_track_uri"`
}

// Records implements Source.
func (s SpotifySource) Records() ([]PlayRecord, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return nil, err
	}

	var entries []spotifyEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	out := make([]PlayRecord, 0, len(entries))
	for _, e := range entries {
		track := strings.TrimSpace(e.MasterMetadataTrackName)
		artist := strings.TrimSpace(e.MasterMetadataAlbumArtistName)
		if track == "" || artist == "" {
			continue
		}

		playedAt, err := time.Parse(time.RFC3339, e.Ts)
		if err != nil {
			continue
		}

		r := New()
		r.TrackName = track
		r.Artists = []Artist{{Name: artist}}
		r.ReleaseName = strings.TrimSpace(e.MasterMetadataAlbumAlbumName)
		r.PlayedTime = playedAt.Format(time.RFC3339)
		r.SubmissionClientAgent = s.ClientAgent
		r.MusicServiceBaseDomain = s.MusicServiceBaseDomain
		if e.SpotifyTrackURI != "" {
			r.OriginURL = "https://open.spotify.com/track/" + strings.TrimPrefix(e.SpotifyTrackURI, "spotify:track:")
		}

		out = append(out, r)
	}
	return out, nil
}
