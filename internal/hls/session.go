package hls

import (
	"context"
	"errors"
	"sync"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

var errSessionDestroyed = errors.New("session destroyed")

// Session is an attached stream: a parsed manifest plus sequential access
// to its segments. A loader holds at most one live session; destroying it
// invalidates all further fetches.
type Session struct {
	TrackID  string
	Manifest *Manifest

	fetcher Fetcher

	mu        sync.Mutex
	pos       int
	destroyed bool
}

func newSession(trackID string, manifest *Manifest, fetcher Fetcher) *Session {
	return &Session{
		TrackID:  trackID,
		Manifest: manifest,
		fetcher:  fetcher,
	}
}

// SegmentCount returns the number of media segments in the manifest.
func (s *Session) SegmentCount() int {
	return len(s.Manifest.Segments)
}

// NextSegment fetches the next media segment in order. Fetch failures are
// network-class stream errors; running past the last segment reports
// (nil, false, nil) so the consumer signals end of stream.
func (s *Session) NextSegment(ctx context.Context) ([]byte, bool, error) {
	s.mu.Lock()
	if s.destroyed {
		s.mu.Unlock()
		return nil, false, &domain.StreamError{Class: domain.ClassOther, Err: errSessionDestroyed}
	}
	if s.pos >= len(s.Manifest.Segments) {
		s.mu.Unlock()
		return nil, false, nil
	}
	segmentURL := s.Manifest.Segments[s.pos]
	s.pos++
	s.mu.Unlock()

	data, err := s.fetcher.FetchBytes(ctx, segmentURL)
	if err != nil {
		s.mu.Lock()
		if s.pos > 0 {
			s.pos-- // the failed segment is retried, not skipped
		}
		s.mu.Unlock()
		return nil, false, classify(err, domain.ClassNetwork)
	}
	return data, true, nil
}

// Position returns the index of the next segment to fetch.
func (s *Session) Position() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos
}

// SeekSegment positions the session at segment index i, clamped into
// range.
func (s *Session) SeekSegment(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 {
		i = 0
	}
	if n := len(s.Manifest.Segments); i > n {
		i = n
	}
	s.pos = i
}

// recover is the in-place media recovery hook: the manifest stays, the
// read position holds, the consumer rebinds its decoder on the next
// OnReady signal.
func (s *Session) recover() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = false
}

func (s *Session) destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = true
}
