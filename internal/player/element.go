package player

import (
	"context"
	"time"
)

// EventKind identifies a media element notification.
type EventKind int

const (
	// EventStalled: playback stopped waiting for data
	EventStalled EventKind = iota
	// EventResumed: playback resumed after a stall (or became ready)
	EventResumed
	// EventEnded: the track finished naturally
	EventEnded
)

// Event is a media element notification.
type Event struct {
	Kind EventKind
}

// Element abstracts the single persistent media output the orchestrator
// drives for its whole lifetime. The embedding host supplies the concrete
// implementation; tests use a scripted one.
//
// Play may fail with domain.ErrPlayAborted when a pending state transition
// interrupts it; the orchestrator treats that as benign.
type Element interface {
	Play(ctx context.Context) error
	Pause() error
	Seek(pos time.Duration) error
	Position() time.Duration
	Duration() time.Duration
	SetVolume(level float64)
	Events() <-chan Event
	Close() error
}
