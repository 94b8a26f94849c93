package domain

import "time"

// Track represents an immutable catalog record for a playable audio item.
// Tracks are referenced, never owned, by the queue.
type Track struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Duration time.Duration `json:"duration"`
	AlbumID  string        `json:"id_album"`
	Artists  []string      `json:"artists"`

	// ManifestURL is the adaptive-bitrate manifest for this track.
	ManifestURL string `json:"manifest_url"`

	// TrackNumber within the album, 1-based. Zero when unknown.
	TrackNumber int `json:"track_number"`
}

// ArtistLine returns the artists joined for display and search.
func (t Track) ArtistLine() string {
	switch len(t.Artists) {
	case 0:
		return ""
	case 1:
		return t.Artists[0]
	}
	line := t.Artists[0]
	for _, a := range t.Artists[1:] {
		line += ", " + a
	}
	return line
}

// Playlist is a named, ordered collection of tracks.
type Playlist struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	CoverID string  `json:"id_cover"`
	Tracks  []Track `json:"tracks,omitempty"`
}

// Album holds the catalog metadata for an album.
type Album struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Artist  string `json:"artist"`
	Year    int    `json:"year"`
	CoverID string `json:"id_cover"`
}

// TokenPair is the credential pair issued by the catalog API. It is owned
// exclusively by the token manager and mutated only through it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RepeatMode controls queue navigation at the sequence boundaries.
type RepeatMode int

const (
	RepeatOff RepeatMode = iota
	RepeatAll
	RepeatOne
)

// String returns the config/display name of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "off"
	}
}
