// Package search provides fuzzy track filtering over in-memory queues
// and playlists.
package search

import (
	"log/slog"
	"sort"

	"github.com/lithammer/fuzzysearch/fuzzy"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

// Result is one matched track with ranking metadata.
type Result struct {
	Track domain.Track
	// Matched is the haystack string the query matched against, either
	// the title or the "title artist" composite.
	Matched string
	// Distance is the Levenshtein distance of the match; lower is better.
	Distance int
}

// Service ranks tracks against free-text queries. Matching is
// unicode-normalized and case-insensitive, so "beyonce" finds "Beyoncé".
type Service struct {
	logger *slog.Logger
}

// NewService creates a search service.
func NewService(logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger}
}

// FilterTracks returns the tracks matching query, best matches first.
// An empty query matches nothing.
func (s *Service) FilterTracks(query string, tracks []domain.Track) []Result {
	if query == "" || len(tracks) == 0 {
		return nil
	}

	haystack := make([]string, len(tracks))
	for i, t := range tracks {
		haystack[i] = t.Title + " " + t.ArtistLine()
	}

	ranks := fuzzy.RankFindNormalizedFold(query, haystack)
	sort.Sort(ranks)

	results := make([]Result, 0, len(ranks))
	for _, r := range ranks {
		results = append(results, Result{
			Track:    tracks[r.OriginalIndex],
			Matched:  r.Target,
			Distance: r.Distance,
		})
	}

	s.logger.Debug("track filter", "query", query, "candidates", len(tracks), "matches", len(results))
	return results
}

// FindTrack returns the single best match for query, if any.
func (s *Service) FindTrack(query string, tracks []domain.Track) (domain.Track, bool) {
	results := s.FilterTracks(query, tracks)
	if len(results) == 0 {
		return domain.Track{}, false
	}
	return results[0].Track, true
}
