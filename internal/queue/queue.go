// Package queue owns the ordered play sequence: current position, shuffle
// and repeat state, and next/previous navigation semantics.
package queue

import (
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

// restartThreshold is how far into a track "previous" restarts it instead
// of moving back.
const restartThreshold = 3 * time.Second

// PrevAction tells the caller what a PlayPrevious call decided.
type PrevAction int

const (
	// PrevNone: empty queue, nothing to do
	PrevNone PrevAction = iota
	// PrevRestart: keep the current track, seek to zero
	PrevRestart
	// PrevMoved: the index moved to an earlier (or wrapped) track
	PrevMoved
)

// Manager maintains two parallel orderings, original and shuffled, and a
// current-position index into whichever is active. The index is always
// within [0, len) while the queue is non-empty.
type Manager struct {
	mu       sync.Mutex
	original []domain.Track
	shuffled []domain.Track
	shuffle  bool
	repeat   domain.RepeatMode
	index    int

	rng    *rand.Rand
	logger *slog.Logger
}

// NewManager creates an empty queue manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
		logger: logger,
	}
}

// SetQueue replaces the active list, resets shuffle off, derives the
// shuffled variant with the starting track pinned at position 0, and
// positions at startIndex (clamped into range).
func (m *Manager) SetQueue(tracks []domain.Track, startIndex int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.original = make([]domain.Track, len(tracks))
	copy(m.original, tracks)
	m.shuffle = false

	if len(tracks) == 0 {
		m.shuffled = nil
		m.index = 0
		return
	}

	if startIndex < 0 || startIndex >= len(tracks) {
		startIndex = 0
	}
	m.index = startIndex
	m.shuffled = m.deriveShuffled(startIndex)

	m.logger.Debug("queue set", "tracks", len(tracks), "start", startIndex)
}

// deriveShuffled pins the track at pinnedIndex to position 0 and
// Fisher-Yates shuffles the remainder. Caller holds the lock.
func (m *Manager) deriveShuffled(pinnedIndex int) []domain.Track {
	out := make([]domain.Track, 0, len(m.original))
	out = append(out, m.original[pinnedIndex])
	for i, t := range m.original {
		if i != pinnedIndex {
			out = append(out, t)
		}
	}
	rest := out[1:]
	m.rng.Shuffle(len(rest), func(i, j int) {
		rest[i], rest[j] = rest[j], rest[i]
	})
	return out
}

func (m *Manager) active() []domain.Track {
	if m.shuffle {
		return m.shuffled
	}
	return m.original
}

// Current returns the track at the current position.
func (m *Manager) Current() (domain.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if len(tracks) == 0 {
		return domain.Track{}, false
	}
	return tracks[m.index], true
}

// PlayNext advances the position. An explicit skip overrides single-track
// repeat by downgrading it to repeat-all before advancing. At the end of
// the sequence repeat-all wraps to the start; repeat-off stays in place and
// reports that playback should stop.
func (m *Manager) PlayNext() (domain.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if len(tracks) == 0 {
		return domain.Track{}, false
	}

	if m.repeat == domain.RepeatOne {
		m.repeat = domain.RepeatAll
	}

	switch {
	case m.index < len(tracks)-1:
		m.index++
	case m.repeat == domain.RepeatAll:
		m.index = 0
	default:
		return tracks[m.index], false
	}

	return tracks[m.index], true
}

// PlayPrevious decides between restarting the current track and moving
// back. More than three seconds into a track means restart; at position 0
// repeat-all wraps to the last track, otherwise the current track restarts.
func (m *Manager) PlayPrevious(elapsed time.Duration) (domain.Track, PrevAction) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if len(tracks) == 0 {
		return domain.Track{}, PrevNone
	}

	if elapsed > restartThreshold {
		return tracks[m.index], PrevRestart
	}

	switch {
	case m.index > 0:
		m.index--
	case m.repeat == domain.RepeatAll:
		m.index = len(tracks) - 1
	default:
		return tracks[m.index], PrevRestart
	}

	return tracks[m.index], PrevMoved
}

// ToggleShuffle switches the active ordering. Enabling reshuffles around
// the current track (pinned at position 0) and moves the index to 0;
// disabling relocates the index to the current track's original position.
func (m *Manager) ToggleShuffle() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.original) == 0 {
		m.shuffle = !m.shuffle
		return
	}

	if !m.shuffle {
		current := m.original[m.index]
		m.shuffled = m.deriveShuffled(m.indexOf(m.original, current.ID))
		m.index = 0
		m.shuffle = true
		return
	}

	current := m.shuffled[m.index]
	m.index = m.indexOf(m.original, current.ID)
	m.shuffle = false
}

func (m *Manager) indexOf(tracks []domain.Track, id string) int {
	for i, t := range tracks {
		if t.ID == id {
			return i
		}
	}
	return 0
}

// ToggleRepeat cycles off -> all -> one -> off.
func (m *Manager) ToggleRepeat() domain.RepeatMode {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.repeat {
	case domain.RepeatOff:
		m.repeat = domain.RepeatAll
	case domain.RepeatAll:
		m.repeat = domain.RepeatOne
	default:
		m.repeat = domain.RepeatOff
	}
	return m.repeat
}

// PlayTrackAtIndex jumps to position i in the active ordering.
// Out-of-range is a no-op.
func (m *Manager) PlayTrackAtIndex(i int) (domain.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if i < 0 || i >= len(tracks) {
		return domain.Track{}, false
	}
	m.index = i
	return tracks[i], true
}

// PlayTrackByID jumps to the track with the given ID in the active
// ordering. Not-found is a no-op.
func (m *Manager) PlayTrackByID(id string) (domain.Track, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	for i, t := range tracks {
		if t.ID == id {
			m.index = i
			return t, true
		}
	}
	return domain.Track{}, false
}

// CanPlayNext reports whether a next track exists under the current repeat
// mode and position. Repeat-one counts: an explicit skip downgrades it and
// wraps.
func (m *Manager) CanPlayNext() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if len(tracks) == 0 {
		return false
	}
	return m.index < len(tracks)-1 || m.repeat != domain.RepeatOff
}

// CanPlayPrevious reports whether moving back is possible.
func (m *Manager) CanPlayPrevious() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if len(tracks) == 0 {
		return false
	}
	return m.index > 0 || m.repeat == domain.RepeatAll
}

// Upcoming returns up to n tracks after the current position in the active
// ordering, wrapping past the end when repeat-all is on.
func (m *Manager) Upcoming(n int) []domain.Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	if len(tracks) == 0 || n <= 0 {
		return nil
	}

	var out []domain.Track
	for i := 1; i <= n && i < len(tracks); i++ {
		pos := m.index + i
		if pos >= len(tracks) {
			if m.repeat != domain.RepeatAll {
				break
			}
			pos -= len(tracks)
		}
		out = append(out, tracks[pos])
	}
	return out
}

// Tracks returns a copy of the active ordering.
func (m *Manager) Tracks() []domain.Track {
	m.mu.Lock()
	defer m.mu.Unlock()

	tracks := m.active()
	out := make([]domain.Track, len(tracks))
	copy(out, tracks)
	return out
}

// Index returns the current position.
func (m *Manager) Index() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// ShuffleEnabled reports whether the shuffled ordering is active.
func (m *Manager) ShuffleEnabled() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.shuffle
}

// Repeat returns the current repeat mode.
func (m *Manager) Repeat() domain.RepeatMode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.repeat
}
