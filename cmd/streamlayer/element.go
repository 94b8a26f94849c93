package main

import (
	"context"
	"sync"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/player"
)

// simTrackLength stands in for real decoder-reported durations.
const simTrackLength = 3 * time.Minute

// simElement is a clock-driven stand-in for a real audio output. It
// advances its position while playing and emits an ended event at the end
// of the simulated track, which is enough to exercise the full queue and
// stream machinery from a terminal.
type simElement struct {
	mu      sync.Mutex
	playing bool
	pos     time.Duration
	dur     time.Duration
	volume  float64

	events chan player.Event
	stop   chan struct{}
	once   sync.Once
}

func newSimElement() *simElement {
	e := &simElement{
		dur:    simTrackLength,
		volume: 1.0,
		events: make(chan player.Event, 8),
		stop:   make(chan struct{}),
	}
	go e.tick()
	return e
}

func (e *simElement) tick() {
	// The tick goroutine is the only sender, so it owns the close.
	defer close(e.events)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-e.stop:
			return
		case <-ticker.C:
			e.mu.Lock()
			if !e.playing {
				e.mu.Unlock()
				continue
			}
			e.pos += 500 * time.Millisecond
			ended := e.pos >= e.dur
			if ended {
				e.pos = e.dur
				e.playing = false
			}
			e.mu.Unlock()

			if ended {
				select {
				case e.events <- player.Event{Kind: player.EventEnded}:
				default:
				}
			}
		}
	}
}

func (e *simElement) Play(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pos >= e.dur {
		e.pos = 0
	}
	e.playing = true
	return nil
}

func (e *simElement) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.playing = false
	return nil
}

func (e *simElement) Seek(pos time.Duration) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if pos < 0 {
		pos = 0
	}
	if pos > e.dur {
		pos = e.dur
	}
	e.pos = pos
	return nil
}

func (e *simElement) Position() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pos
}

func (e *simElement) Duration() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dur
}

func (e *simElement) SetVolume(level float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.volume = level
}

func (e *simElement) Events() <-chan player.Event { return e.events }

func (e *simElement) Close() error {
	e.once.Do(func() {
		close(e.stop)
	})
	return nil
}
