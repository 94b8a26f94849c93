package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

func makeTracks(ids ...string) []domain.Track {
	tracks := make([]domain.Track, len(ids))
	for i, id := range ids {
		tracks[i] = domain.Track{ID: id, Title: "Track " + id}
	}
	return tracks
}

func current(t *testing.T, m *Manager) domain.Track {
	t.Helper()
	track, ok := m.Current()
	require.True(t, ok)
	return track
}

func TestSetQueuePositionsAtStartIndex(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B", "C"), 1)

	assert.Equal(t, "B", current(t, m).ID)
	assert.False(t, m.ShuffleEnabled())
	assert.Equal(t, 1, m.Index())
}

func TestSetQueueClampsBadStartIndex(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B"), 7)
	assert.Equal(t, "A", current(t, m).ID)
}

func TestPlayNextAdvancesAndStopsAtEnd(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B", "C"), 1)

	track, ok := m.PlayNext()
	require.True(t, ok)
	assert.Equal(t, "C", track.ID)

	// Repeat off at the end: stays in place, playback should stop.
	track, ok = m.PlayNext()
	assert.False(t, ok)
	assert.Equal(t, "C", track.ID)
	assert.Equal(t, "C", current(t, m).ID)
}

func TestPlayNextWrapsWithRepeatAll(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B", "C"), 2)
	m.ToggleRepeat() // all

	track, ok := m.PlayNext()
	require.True(t, ok)
	assert.Equal(t, "A", track.ID)
}

func TestPlayNextDowngradesRepeatOne(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B"), 0)
	m.ToggleRepeat() // all
	m.ToggleRepeat() // one

	track, ok := m.PlayNext()
	require.True(t, ok)
	assert.Equal(t, "B", track.ID)
	assert.Equal(t, domain.RepeatAll, m.Repeat())
}

func TestPlayPreviousRestartsAfterThreeSeconds(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B"), 1)

	track, action := m.PlayPrevious(5 * time.Second)
	assert.Equal(t, PrevRestart, action)
	assert.Equal(t, "B", track.ID)
	assert.Equal(t, 1, m.Index())
}

func TestPlayPreviousMovesBackEarlyInTrack(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B"), 1)

	track, action := m.PlayPrevious(1 * time.Second)
	assert.Equal(t, PrevMoved, action)
	assert.Equal(t, "A", track.ID)
}

func TestPlayPreviousAtStart(t *testing.T) {
	t.Run("repeat all wraps to last", func(t *testing.T) {
		m := NewManager(nil)
		m.SetQueue(makeTracks("A", "B", "C"), 0)
		m.ToggleRepeat() // all

		track, action := m.PlayPrevious(1 * time.Second)
		assert.Equal(t, PrevMoved, action)
		assert.Equal(t, "C", track.ID)
	})

	t.Run("repeat off stays at index 0", func(t *testing.T) {
		m := NewManager(nil)
		m.SetQueue(makeTracks("A", "B", "C"), 0)

		track, action := m.PlayPrevious(1 * time.Second)
		assert.Equal(t, PrevRestart, action)
		assert.Equal(t, "A", track.ID)
		assert.Equal(t, 0, m.Index())
	})
}

func TestToggleShufflePinsCurrentAtZero(t *testing.T) {
	ids := make([]string, 20)
	for i := range ids {
		ids[i] = fmt.Sprintf("t%02d", i)
	}

	m := NewManager(nil)
	m.SetQueue(makeTracks(ids...), 7)

	before := current(t, m)
	m.ToggleShuffle()

	assert.True(t, m.ShuffleEnabled())
	assert.Equal(t, 0, m.Index())
	assert.Equal(t, before.ID, current(t, m).ID)

	// Every track still appears exactly once.
	seen := make(map[string]bool)
	for _, track := range m.Tracks() {
		seen[track.ID] = true
	}
	assert.Len(t, seen, len(ids))
}

func TestToggleShuffleBackRestoresOriginalIndex(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B", "C", "D"), 2)

	m.ToggleShuffle()
	m.ToggleShuffle()

	assert.False(t, m.ShuffleEnabled())
	assert.Equal(t, 2, m.Index())
	assert.Equal(t, "C", current(t, m).ID)
}

func TestToggleRepeatCycles(t *testing.T) {
	m := NewManager(nil)

	assert.Equal(t, domain.RepeatAll, m.ToggleRepeat())
	assert.Equal(t, domain.RepeatOne, m.ToggleRepeat())
	assert.Equal(t, domain.RepeatOff, m.ToggleRepeat())
}

func TestDirectNavigation(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B", "C"), 0)

	track, ok := m.PlayTrackAtIndex(2)
	require.True(t, ok)
	assert.Equal(t, "C", track.ID)

	_, ok = m.PlayTrackAtIndex(9)
	assert.False(t, ok)
	assert.Equal(t, 2, m.Index())

	track, ok = m.PlayTrackByID("B")
	require.True(t, ok)
	assert.Equal(t, "B", track.ID)

	_, ok = m.PlayTrackByID("missing")
	assert.False(t, ok)
	assert.Equal(t, "B", current(t, m).ID)
}

func TestCanPlayAffordances(t *testing.T) {
	m := NewManager(nil)
	assert.False(t, m.CanPlayNext())
	assert.False(t, m.CanPlayPrevious())

	m.SetQueue(makeTracks("A", "B"), 0)
	assert.True(t, m.CanPlayNext())
	assert.False(t, m.CanPlayPrevious())

	m.PlayNext()
	assert.False(t, m.CanPlayNext())
	assert.True(t, m.CanPlayPrevious())

	m.ToggleRepeat() // all
	assert.True(t, m.CanPlayNext())
	assert.True(t, m.CanPlayPrevious())
}

func TestUpcoming(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(makeTracks("A", "B", "C", "D"), 2)

	upcoming := m.Upcoming(5)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "D", upcoming[0].ID)

	m.ToggleRepeat() // all
	upcoming = m.Upcoming(5)
	require.Len(t, upcoming, 3)
	assert.Equal(t, []string{"D", "A", "B"}, []string{upcoming[0].ID, upcoming[1].ID, upcoming[2].ID})
}

func TestEmptyQueueNavigationIsSafe(t *testing.T) {
	m := NewManager(nil)
	m.SetQueue(nil, 0)

	_, ok := m.Current()
	assert.False(t, ok)
	_, ok = m.PlayNext()
	assert.False(t, ok)
	_, action := m.PlayPrevious(0)
	assert.Equal(t, PrevNone, action)
	assert.Nil(t, m.Upcoming(5))
}
