// Package catalog is the thin collaborator for the catalog REST API: the
// endpoints the player core itself needs (token refresh, playlist/track/
// album metadata, cover and manifest URL construction). Metadata responses
// are cached in the durable data store; persistence is write-behind and its
// failures are only logged.
package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/auth"
	"github.com/matteo-lafrancesca/streamlayer/internal/cache"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

// Client fetches catalog metadata through the authenticated fetch layer.
type Client struct {
	api    *api.Client
	tokens *auth.Manager
	store  cache.Store
	logger *slog.Logger
}

// NewClient creates a catalog client. store may be nil to disable caching.
func NewClient(apiClient *api.Client, tokens *auth.Manager, store cache.Store, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		api:    apiClient,
		tokens: tokens,
		store:  store,
		logger: logger,
	}
}

// NewTokenRefresher returns the RefreshFunc backing auth.Manager: a POST to
// the project token endpoint exchanging the refresh token for a new pair.
// It uses its own HTTP client because it runs before (and beneath) the
// authenticated fetch layer.
func NewTokenRefresher(baseURL, projectID string, logger *slog.Logger) auth.RefreshFunc {
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := &http.Client{Timeout: 15 * time.Second}
	endpoint := strings.TrimRight(baseURL, "/") + "/projects/" + projectID + "/token/refresh"

	return func(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
		payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
		if err != nil {
			return domain.TokenPair{}, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
		if err != nil {
			return domain.TokenPair{}, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		logger.Debug("refreshing project token", "project", projectID)

		resp, err := httpClient.Do(req)
		if err != nil {
			return domain.TokenPair{}, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return domain.TokenPair{}, fmt.Errorf("failed to read response: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			return domain.TokenPair{}, &domain.APIError{
				Status:     resp.StatusCode,
				StatusText: http.StatusText(resp.StatusCode),
			}
		}

		var pair domain.TokenPair
		if err := json.Unmarshal(body, &pair); err != nil {
			return domain.TokenPair{}, fmt.Errorf("failed to parse token response: %w", err)
		}
		return pair, nil
	}
}

// Playlist returns playlist metadata, from cache when fresh.
func (c *Client) Playlist(ctx context.Context, id string) (*domain.Playlist, error) {
	key := "playlist-" + id

	var cached domain.Playlist
	if c.store != nil && cache.GetJSON(c.store, key, &cached) {
		return &cached, nil
	}

	var dto playlistDTO
	if err := c.api.FetchJSON(ctx, "/playlists/"+id, &dto); err != nil {
		return nil, err
	}
	playlist := mapPlaylist(dto)

	c.persist(key, playlist)
	return playlist, nil
}

// PlaylistTracks returns the ordered tracks of a playlist, from cache when
// fresh.
func (c *Client) PlaylistTracks(ctx context.Context, id string) ([]domain.Track, error) {
	key := "playlist-tracks-" + id

	var cached []domain.Track
	if c.store != nil && cache.GetJSON(c.store, key, &cached) {
		return cached, nil
	}

	var dto struct {
		Tracks []trackDTO `json:"tracks"`
	}
	if err := c.api.FetchJSON(ctx, "/playlists/"+id+"/tracks", &dto); err != nil {
		return nil, err
	}

	tracks := make([]domain.Track, 0, len(dto.Tracks))
	for _, td := range dto.Tracks {
		tracks = append(tracks, c.mapTrack(td))
	}

	c.persist(key, tracks)
	return tracks, nil
}

// PlaylistWithTracks fetches playlist metadata and its tracks concurrently.
func (c *Client) PlaylistWithTracks(ctx context.Context, id string) (*domain.Playlist, error) {
	var playlist *domain.Playlist
	var tracks []domain.Track

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := c.Playlist(gctx, id)
		playlist = p
		return err
	})
	g.Go(func() error {
		ts, err := c.PlaylistTracks(gctx, id)
		tracks = ts
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	playlist.Tracks = tracks
	return playlist, nil
}

// Album returns album metadata, from cache when fresh.
func (c *Client) Album(ctx context.Context, id string) (*domain.Album, error) {
	key := "album-" + id

	var cached domain.Album
	if c.store != nil && cache.GetJSON(c.store, key, &cached) {
		return &cached, nil
	}

	var album domain.Album
	if err := c.api.FetchJSON(ctx, "/albums/"+id, &album); err != nil {
		return nil, err
	}

	c.persist(key, &album)
	return &album, nil
}

// CoverURL builds the cover image URL for a cover ID at a square pixel
// size. The access token rides in the authorization query parameter since
// image pipelines cannot set headers.
func (c *Client) CoverURL(coverID string, size int) (string, error) {
	raw := fmt.Sprintf("%s/covers/%s?size=%d", c.api.BaseURL(), coverID, size)
	return api.WithAuthParam(raw, c.tokens.AccessToken())
}

// ManifestURL builds the adaptive-bitrate manifest URL for a track, with
// the auth query parameter attached.
func (c *Client) ManifestURL(trackID string) (string, error) {
	raw := fmt.Sprintf("%s/streams/%s/manifest.m3u8", c.api.BaseURL(), trackID)
	return api.WithAuthParam(raw, c.tokens.AccessToken())
}

// persist writes v behind the read path; failures degrade to no caching.
func (c *Client) persist(key string, v any) {
	if c.store == nil {
		return
	}
	go func() {
		if err := cache.SetJSON(c.store, key, v); err != nil {
			c.logger.Warn("catalog cache write failed", "key", key, "error", err)
		}
	}()
}
