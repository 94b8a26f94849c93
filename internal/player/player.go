// Package player orchestrates playback: it binds the queue, the stream
// loader and the media element together, mirrors the caller's play/pause
// intent, and drives preloading of upcoming tracks.
package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
	"github.com/matteo-lafrancesca/streamlayer/internal/hls"
	"github.com/matteo-lafrancesca/streamlayer/internal/queue"
)

const (
	// stallTimeout is how long a buffering stall may last before the
	// track is abandoned and the queue advances.
	stallTimeout = 10 * time.Second

	// tickInterval paces progress notifications while playing.
	tickInterval = 250 * time.Millisecond

	// preloadDepth is how many upcoming tracks are handed to the
	// preloader after the position changes.
	preloadDepth = 5
)

// Progress is a live playback position snapshot.
type Progress struct {
	Elapsed   time.Duration
	Remaining time.Duration
}

// Status is a full playback state snapshot.
type Status struct {
	Track       domain.Track
	HasTrack    bool
	IsPlaying   bool
	IsBuffering bool
	Volume      int
	Shuffle     bool
	Repeat      domain.RepeatMode
	Progress    Progress
}

// Callbacks are the orchestrator's signals to the embedding host. They
// fire from player goroutines.
type Callbacks struct {
	// OnTrackChange fires when the queue position lands on a new track.
	OnTrackChange func(track domain.Track)
	// OnProgress fires on the progress tick while playback is active.
	OnProgress func(p Progress)
	// OnPlaybackError fires when a track is abandoned: stream failure
	// after retries, or a stall that outlived the watchdog.
	OnPlaybackError func(trackID string, err error)
}

// errStallTimeout marks a buffering stall the watchdog gave up on.
var errStallTimeout = errors.New("playback stalled beyond watchdog timeout")

// Player owns one media element for its whole lifetime and keeps it in
// sync with the queue: selecting a track loads its stream, a ready stream
// resumes the mirrored play intent, fatal stream errors skip ahead.
type Player struct {
	element   Element
	queue     *queue.Manager
	loader    *hls.Loader
	preloader *hls.Preloader
	cb        Callbacks
	logger    *slog.Logger

	stallTimeout time.Duration
	tickInterval time.Duration

	mu         sync.Mutex
	shouldPlay bool
	buffering  bool
	volume     int
	closed     bool
	session    *hls.Session
	stallTimer *time.Timer
	tickerStop chan struct{}

	pumpDone chan struct{}
}

// NewPlayer wires the orchestrator: it builds its own queue, loader and
// preloader around the given transport, and starts consuming element
// events. Close releases everything including the element.
func NewPlayer(element Element, fetcher hls.Fetcher, tokens hls.TokenSource, cb Callbacks, logger *slog.Logger) *Player {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Player{
		element:      element,
		queue:        queue.NewManager(logger),
		preloader:    hls.NewPreloader(fetcher, tokens, logger),
		cb:           cb,
		logger:       logger,
		stallTimeout: stallTimeout,
		tickInterval: tickInterval,
		volume:       100,
		pumpDone:     make(chan struct{}),
	}
	p.loader = hls.NewLoader(fetcher, tokens, hls.Callbacks{
		OnReady: p.onStreamReady,
		OnFatal: p.onStreamFatal,
	}, logger)

	go p.pumpEvents()
	return p
}

// Queue exposes the queue for read access (track list, position,
// affordances). Mutations go through the player so streams follow along.
func (p *Player) Queue() *queue.Manager {
	return p.queue
}

// SetQueue replaces the play sequence and loads the starting track.
func (p *Player) SetQueue(tracks []domain.Track, startIndex int) {
	p.queue.SetQueue(tracks, startIndex)
	if track, ok := p.queue.Current(); ok {
		p.loadTrack(track)
	} else {
		p.loader.Unload()
	}
}

// Next skips forward. At the end of the sequence with repeat off,
// playback stops on the current track.
func (p *Player) Next() {
	track, ok := p.queue.PlayNext()
	if !ok {
		p.stopPlayback()
		return
	}
	p.loadTrack(track)
}

// Previous restarts the current track when it is more than a few seconds
// in, and moves back otherwise.
func (p *Player) Previous() {
	track, action := p.queue.PlayPrevious(p.element.Position())
	switch action {
	case queue.PrevRestart:
		if err := p.element.Seek(0); err != nil {
			p.logger.Warn("seek to start failed", "track", track.ID, "error", err)
		}
	case queue.PrevMoved:
		p.loadTrack(track)
	}
}

// PlayTrackAt jumps to position i in the active ordering.
func (p *Player) PlayTrackAt(i int) {
	if track, ok := p.queue.PlayTrackAtIndex(i); ok {
		p.loadTrack(track)
	}
}

// PlayTrackByID jumps to the track with the given ID.
func (p *Player) PlayTrackByID(id string) {
	if track, ok := p.queue.PlayTrackByID(id); ok {
		p.loadTrack(track)
	}
}

// ToggleShuffle switches the ordering and refreshes the preload window.
func (p *Player) ToggleShuffle() {
	p.queue.ToggleShuffle()
	p.preloader.Preload(p.queue.Upcoming(preloadDepth))
}

// ToggleRepeat cycles the repeat mode and refreshes the preload window,
// since repeat-all extends the lookahead past the end of the queue.
func (p *Player) ToggleRepeat() domain.RepeatMode {
	mode := p.queue.ToggleRepeat()
	p.preloader.Preload(p.queue.Upcoming(preloadDepth))
	return mode
}

// SetPlaying mirrors the caller's intent onto the element. An aborted
// play attempt is benign: the intent stands and the next ready stream
// resumes it.
func (p *Player) SetPlaying(playing bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.shouldPlay = playing

	if playing {
		p.playLocked()
		p.startTickerLocked()
		return
	}
	if err := p.element.Pause(); err != nil {
		p.logger.Warn("pause failed", "error", err)
	}
	p.stopTickerLocked()
}

// IsPlaying reports the mirrored play intent.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shouldPlay
}

// IsBuffering reports whether playback is currently stalled on data.
func (p *Player) IsBuffering() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buffering
}

// SetVolume takes a 0-100 level and maps it onto the element's 0.0-1.0
// range, clamping out-of-range input.
func (p *Player) SetVolume(level int) {
	if level < 0 {
		level = 0
	}
	if level > 100 {
		level = 100
	}

	p.mu.Lock()
	p.volume = level
	p.mu.Unlock()

	p.element.SetVolume(float64(level) / 100)
}

// Volume returns the current 0-100 level.
func (p *Player) Volume() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.volume
}

// SeekFraction seeks to a fraction of the track duration, clamped to
// [0, 1].
func (p *Player) SeekFraction(fraction float64) error {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	return p.element.Seek(time.Duration(fraction * float64(p.element.Duration())))
}

// SeekTo seeks to an absolute position.
func (p *Player) SeekTo(pos time.Duration) error {
	return p.element.Seek(pos)
}

// Progress derives the live position from the element rather than any
// cached counter, so it is correct immediately after a seek.
func (p *Player) Progress() Progress {
	elapsed := p.element.Position()
	remaining := p.element.Duration() - elapsed
	if remaining < 0 {
		remaining = 0
	}
	return Progress{Elapsed: elapsed, Remaining: remaining}
}

// Status returns a full snapshot of the playback state.
func (p *Player) Status() Status {
	track, ok := p.queue.Current()

	p.mu.Lock()
	defer p.mu.Unlock()
	return Status{
		Track:       track,
		HasTrack:    ok,
		IsPlaying:   p.shouldPlay,
		IsBuffering: p.buffering,
		Volume:      p.volume,
		Shuffle:     p.queue.ShuffleEnabled(),
		Repeat:      p.queue.Repeat(),
		Progress:    p.Progress(),
	}
}

// ReportStreamError surfaces a streaming failure discovered while
// consuming the session (segment fetch, decode). The loader decides
// between retrying and skipping.
func (p *Player) ReportStreamError(err error) {
	p.loader.ReportError(err)
}

// Close tears the whole orchestrator down: loader, preloader and the
// element itself.
func (p *Player) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.shouldPlay = false
	p.stopTickerLocked()
	p.stopStallTimerLocked()
	p.mu.Unlock()

	p.loader.Close()
	p.preloader.Close()
	if err := p.element.Close(); err != nil {
		p.logger.Warn("element close failed", "error", err)
	}
	<-p.pumpDone
}

// loadTrack points the loader at the new selection, marks playback as
// buffering until the stream is ready, and warms the lookahead window.
func (p *Player) loadTrack(track domain.Track) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.buffering = true
	p.session = nil
	p.stopStallTimerLocked()
	p.mu.Unlock()

	// New source, position restarts.
	if err := p.element.Seek(0); err != nil {
		p.logger.Warn("position reset failed", "track", track.ID, "error", err)
	}

	p.loader.Load(track)
	p.preloader.Preload(p.queue.Upcoming(preloadDepth))

	if p.cb.OnTrackChange != nil {
		p.cb.OnTrackChange(track)
	}
}

// onStreamReady resumes the mirrored intent once the stream is attached.
// It also fires after in-place media recovery.
func (p *Player) onStreamReady(session *hls.Session) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.session = session
	p.buffering = false
	p.stopStallTimerLocked()
	resume := p.shouldPlay
	if resume {
		p.playLocked()
		p.startTickerLocked()
	}
	p.mu.Unlock()

	p.logger.Debug("stream attached", "track", session.TrackID, "resume", resume)
}

// onStreamFatal abandons the failed track and skips ahead when the queue
// allows it.
func (p *Player) onStreamFatal(trackID string, err error) {
	p.logger.Warn("abandoning track", "track", trackID, "error", err)
	if p.cb.OnPlaybackError != nil {
		p.cb.OnPlaybackError(trackID, err)
	}
	p.skipOrStop()
}

// pumpEvents consumes element notifications until the element closes its
// channel.
func (p *Player) pumpEvents() {
	defer close(p.pumpDone)
	for ev := range p.element.Events() {
		switch ev.Kind {
		case EventStalled:
			p.onStalled()
		case EventResumed:
			p.onResumed()
		case EventEnded:
			p.onEnded()
		}
	}
}

// onStalled flags buffering and arms the watchdog. A stall that lasts
// the full timeout is treated like a fatal stream error.
func (p *Player) onStalled() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}
	p.buffering = true
	if p.stallTimer == nil {
		p.stallTimer = time.AfterFunc(p.stallTimeout, p.onStallTimeout)
	}
}

func (p *Player) onResumed() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buffering = false
	p.stopStallTimerLocked()
}

// onStallTimeout fires when a stall outlives the watchdog.
func (p *Player) onStallTimeout() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.stallTimer = nil
	p.mu.Unlock()

	track, ok := p.queue.Current()
	if !ok {
		return
	}
	p.logger.Warn("stall watchdog fired", "track", track.ID, "timeout", p.stallTimeout)
	if p.cb.OnPlaybackError != nil {
		p.cb.OnPlaybackError(track.ID, errStallTimeout)
	}
	p.skipOrStop()
}

// onEnded handles a natural end of track. Single-track repeat replays in
// place; otherwise the queue advances if it can, and playback stops at
// the end of the sequence.
func (p *Player) onEnded() {
	if p.queue.Repeat() == domain.RepeatOne {
		if err := p.element.Seek(0); err != nil {
			p.logger.Warn("replay seek failed", "error", err)
		}
		p.mu.Lock()
		if p.shouldPlay {
			p.playLocked()
		}
		p.mu.Unlock()
		return
	}
	p.skipOrStop()
}

// skipOrStop advances the queue when a next track exists, and otherwise
// drops the play intent and stops the progress ticker.
func (p *Player) skipOrStop() {
	if !p.queue.CanPlayNext() {
		p.stopPlayback()
		return
	}
	track, ok := p.queue.PlayNext()
	if !ok {
		p.stopPlayback()
		return
	}
	p.loadTrack(track)
}

func (p *Player) stopPlayback() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shouldPlay = false
	p.stopTickerLocked()
	if err := p.element.Pause(); err != nil {
		p.logger.Warn("pause failed", "error", err)
	}
}

// playLocked starts the element, tolerating the aborted-play race that
// happens when a pending source change interrupts the attempt. Caller
// holds the lock.
func (p *Player) playLocked() {
	if err := p.element.Play(context.Background()); err != nil {
		if errors.Is(err, domain.ErrPlayAborted) {
			p.logger.Debug("play attempt aborted, intent retained")
			return
		}
		p.logger.Warn("play failed", "error", err)
	}
}

// startTickerLocked runs the progress notifier. It only runs while the
// play intent is on. Caller holds the lock.
func (p *Player) startTickerLocked() {
	if p.tickerStop != nil || p.cb.OnProgress == nil {
		return
	}
	stop := make(chan struct{})
	p.tickerStop = stop

	go func() {
		ticker := time.NewTicker(p.tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.cb.OnProgress(p.Progress())
			}
		}
	}()
}

func (p *Player) stopTickerLocked() {
	if p.tickerStop != nil {
		close(p.tickerStop)
		p.tickerStop = nil
	}
}

func (p *Player) stopStallTimerLocked() {
	if p.stallTimer != nil {
		p.stallTimer.Stop()
		p.stallTimer = nil
	}
}
