package hls

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

const (
	// preloadLimit is how many upcoming tracks one pass warms.
	preloadLimit = 5

	// preloadSpacing separates consecutive warm fetches.
	preloadSpacing = 200 * time.Millisecond

	// preloadHistoryCap bounds the remembered track IDs; oldest evicted.
	preloadHistoryCap = 50
)

// Preloader warms the transport cache for upcoming queue entries by
// fetching each track's manifest and its first referenced sub-resource.
// Fetches run sequentially with a fixed spacing; a new Preload pass
// cancels the previous one.
type Preloader struct {
	fetcher Fetcher
	tokens  TokenSource
	logger  *slog.Logger

	limit      int
	spacing    time.Duration
	historyCap int

	mu      sync.Mutex
	history []string
	seen    map[string]bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPreloader creates a preloader sharing the loader's fetcher and token
// source.
func NewPreloader(fetcher Fetcher, tokens TokenSource, logger *slog.Logger) *Preloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Preloader{
		fetcher:    fetcher,
		tokens:     tokens,
		logger:     logger,
		limit:      preloadLimit,
		spacing:    preloadSpacing,
		historyCap: preloadHistoryCap,
		seen:       make(map[string]bool),
	}
}

// Preload warms up to the preload limit of not-yet-preloaded tracks from
// upcoming, in order. It returns immediately; the work happens in the
// background and any previous pass is cancelled first.
func (p *Preloader) Preload(upcoming []domain.Track) {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel

	var batch []domain.Track
	for _, track := range upcoming {
		if len(batch) >= p.limit {
			break
		}
		if !p.seen[track.ID] {
			batch = append(batch, track)
		}
	}
	p.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		for i, track := range batch {
			if i > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(p.spacing):
				}
			}
			if ctx.Err() != nil {
				return
			}
			p.warm(ctx, track)
		}
	}()
}

// warm fetches the manifest and first sub-resource for one track. Failures
// are logged only; preloading is best effort.
func (p *Preloader) warm(ctx context.Context, track domain.Track) {
	token := p.tokens.AccessToken()

	authedURL, err := api.WithAuthParam(track.ManifestURL, token)
	if err != nil {
		p.logger.Debug("preload skipped", "track", track.ID, "error", err)
		return
	}

	body, err := p.fetcher.FetchBytes(ctx, authedURL)
	if err != nil {
		p.logger.Debug("preload manifest fetch failed", "track", track.ID, "error", err)
		return
	}

	manifest, err := ParseManifest(track.ManifestURL, string(body), token)
	if err != nil {
		p.logger.Debug("preload manifest parse failed", "track", track.ID, "error", err)
		return
	}

	if first := manifest.FirstResource(); first != "" {
		if _, err := p.fetcher.FetchBytes(ctx, first); err != nil {
			p.logger.Debug("preload sub-resource fetch failed", "track", track.ID, "error", err)
			return
		}
	}

	p.remember(track.ID)
	p.logger.Debug("preloaded", "track", track.ID)
}

// remember records a preloaded ID, evicting the oldest past the cap.
func (p *Preloader) remember(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.seen[id] {
		return
	}
	p.history = append(p.history, id)
	p.seen[id] = true
	for len(p.history) > p.historyCap {
		oldest := p.history[0]
		p.history = p.history[1:]
		delete(p.seen, oldest)
	}
}

// Preloaded reports whether a track ID is in the preload history.
func (p *Preloader) Preloaded(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.seen[id]
}

// Close cancels any in-flight pass and waits for it to stop.
func (p *Preloader) Close() {
	p.mu.Lock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}
