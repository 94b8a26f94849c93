// Package images loads cover art through the two cache tiers: in-memory
// blob handles first, then the durable images store, then the network.
// Fetched covers are resized to the requested square size and persisted
// behind the read path.
package images

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png" // PNG decoder registration
	"log/slog"

	"golang.org/x/image/draw"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/auth"
	"github.com/matteo-lafrancesca/streamlayer/internal/cache"
)

const jpegQuality = 90

// URLBuilder produces an authenticated cover URL for a cover ID and size.
type URLBuilder interface {
	CoverURL(coverID string, size int) (string, error)
}

// Service resolves cover art for albums and playlists.
type Service struct {
	blobs  *cache.BlobCache
	store  cache.Store
	api    *api.Client
	tokens *auth.Manager
	urls   URLBuilder
	logger *slog.Logger
}

// NewService creates a cover art service. store may be nil to disable the
// durable tier.
func NewService(blobs *cache.BlobCache, store cache.Store, apiClient *api.Client, tokens *auth.Manager, urls URLBuilder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		blobs:  blobs,
		store:  store,
		api:    apiClient,
		tokens: tokens,
		urls:   urls,
		logger: logger,
	}
}

// Cover returns the cover image for coverID at a square pixel size.
// Cache failures degrade to a network fetch; only network failures with no
// cached fallback surface to the caller.
func (s *Service) Cover(ctx context.Context, coverID string, size int) (*cache.Blob, error) {
	key := fmt.Sprintf("album-%s-%d", coverID, size)

	if blob, ok := s.blobs.Get(key); ok {
		return blob, nil
	}

	if s.store != nil {
		if data, ok := s.store.Get(cache.StoreImages, key); ok {
			blob := cache.NewBlob(data, nil)
			s.blobs.Set(key, blob)
			return blob, nil
		}
	}

	data, err := s.fetch(ctx, coverID, size)
	if err != nil {
		return nil, err
	}

	if resized, err := resizeSquare(data, size); err != nil {
		s.logger.Warn("cover resize failed, keeping original", "cover", coverID, "error", err)
	} else {
		data = resized
	}

	blob := cache.NewBlob(data, nil)
	s.blobs.Set(key, blob)
	s.persist(key, data)
	return blob, nil
}

// fetch downloads the cover, refreshing the token once on expiry. The URL
// is rebuilt per attempt so a refreshed token is attached.
func (s *Service) fetch(ctx context.Context, coverID string, size int) ([]byte, error) {
	var data []byte
	err := api.WithAuthRetry(ctx, s.tokens, func(ctx context.Context) error {
		u, err := s.urls.CoverURL(coverID, size)
		if err != nil {
			return err
		}
		data, err = s.api.FetchBytes(ctx, u)
		return err
	})
	return data, err
}

func (s *Service) persist(key string, data []byte) {
	if s.store == nil {
		return
	}
	go func() {
		if err := s.store.Set(cache.StoreImages, key, data); err != nil {
			s.logger.Warn("cover cache write failed", "key", key, "error", err)
		}
	}()
}

// resizeSquare scales the image to fit within size x size, preserving the
// aspect ratio, and re-encodes as JPEG.
func resizeSquare(data []byte, size int) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if width > size || height > size {
		ratio := float64(width) / float64(height)
		if ratio > 1 {
			width = size
			height = int(float64(size) / ratio)
		} else {
			height = size
			width = int(float64(size) * ratio)
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
