package catalog

import (
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

// Wire shapes for catalog responses. Durations come over the wire in
// seconds.

type trackDTO struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Duration    float64  `json:"duration"`
	AlbumID     string   `json:"id_album"`
	Artists     []string `json:"artists"`
	TrackNumber int      `json:"track_number"`
}

type playlistDTO struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	CoverID string `json:"id_cover"`
}

func (c *Client) mapTrack(dto trackDTO) domain.Track {
	manifestURL, err := c.ManifestURL(dto.ID)
	if err != nil {
		manifestURL = ""
	}
	return domain.Track{
		ID:          dto.ID,
		Title:       dto.Title,
		Duration:    time.Duration(dto.Duration * float64(time.Second)),
		AlbumID:     dto.AlbumID,
		Artists:     dto.Artists,
		ManifestURL: manifestURL,
		TrackNumber: dto.TrackNumber,
	}
}

func mapPlaylist(dto playlistDTO) *domain.Playlist {
	return &domain.Playlist{
		ID:      dto.ID,
		Title:   dto.Title,
		CoverID: dto.CoverID,
	}
}
