package hls

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/matteo-lafrancesca/streamlayer/internal/api"
	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

const (
	// debounceDelay coalesces rapid track switches before any network work.
	debounceDelay = 150 * time.Millisecond

	// retryDelay separates retry attempts for fatal non-auth errors.
	retryDelay = 1 * time.Second

	// maxRetries is the budget for non-auth fatal errors per track.
	maxRetries = 2
)

// State is the loader lifecycle for the selected track.
type State int

const (
	StateIdle State = iota
	StateDebouncing
	StateAttaching
	StateReady
	StateRetrying
	StateError
	StateDestroyed
)

// String returns the log name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDebouncing:
		return "debouncing"
	case StateAttaching:
		return "attaching"
	case StateReady:
		return "ready"
	case StateRetrying:
		return "retrying"
	case StateError:
		return "error"
	default:
		return "destroyed"
	}
}

// Fetcher fetches a URL carrying its credentials in the query string.
// *api.Client satisfies it.
type Fetcher interface {
	FetchBytes(ctx context.Context, rawURL string) ([]byte, error)
}

// TokenSource provides the current access token and the one-shot refresh
// used for auth recovery. *auth.Manager satisfies it.
type TokenSource interface {
	AccessToken() string
	Refresh(ctx context.Context) (string, error)
}

// Callbacks are the loader's signals to its owner. They fire from loader
// goroutines; handlers must not call back into the loader synchronously
// while blocking.
type Callbacks struct {
	// OnReady fires when a manifest is parsed and a session is live, and
	// again after an in-place media recovery.
	OnReady func(session *Session)
	// OnFatal fires when the track cannot be streamed; the owner should
	// advance the queue.
	OnFatal func(trackID string, err error)
}

// Loader drives the stream lifecycle for one selected track at a time.
// At most one session is active per loader; attaching a new one always
// destroys the prior one first.
type Loader struct {
	fetcher Fetcher
	tokens  TokenSource
	cb      Callbacks
	logger  *slog.Logger

	debounceDelay time.Duration
	retryDelay    time.Duration

	mu            sync.Mutex
	state         State
	trackID       string
	manifestURL   string
	generation    uint64
	session       *Session
	debounceTimer *time.Timer
	retryTimer    *time.Timer
	retries       int
	authRetried   bool

	attachCtx    context.Context
	attachCancel context.CancelFunc
}

// NewLoader creates a loader wired to its owner's callbacks.
func NewLoader(fetcher Fetcher, tokens TokenSource, cb Callbacks, logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{
		fetcher:       fetcher,
		tokens:        tokens,
		cb:            cb,
		logger:        logger,
		debounceDelay: debounceDelay,
		retryDelay:    retryDelay,
		state:         StateIdle,
	}
}

// Load selects a track. The attach is debounced: any further Load within
// the window restarts the timer, so a burst of switches costs one attach.
func (l *Loader) Load(track domain.Track) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDestroyed {
		return
	}

	l.cancelTimersLocked()
	l.generation++
	l.trackID = track.ID
	l.manifestURL = track.ManifestURL
	l.retries = 0
	l.authRetried = false
	l.state = StateDebouncing

	gen := l.generation
	l.debounceTimer = time.AfterFunc(l.debounceDelay, func() {
		l.attach(gen)
	})

	l.logger.Debug("track selected", "track", track.ID, "state", l.state.String())
}

// Unload clears the selected track and destroys the active session.
func (l *Loader) Unload() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == StateDestroyed {
		return
	}
	l.cancelTimersLocked()
	l.generation++
	l.trackID = ""
	l.manifestURL = ""
	l.destroySessionLocked()
	l.state = StateIdle
}

// Close tears the loader down: pending timers cancelled, session
// destroyed, in-flight fetches aborted. The loader is unusable afterwards.
func (l *Loader) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cancelTimersLocked()
	l.generation++
	l.destroySessionLocked()
	l.state = StateDestroyed
}

// State returns the current lifecycle state.
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// attach fetches and parses the manifest for the generation that scheduled
// it. A stale generation (the track changed underneath the timer) is
// dropped silently.
func (l *Loader) attach(gen uint64) {
	l.mu.Lock()
	if l.state == StateDestroyed || gen != l.generation {
		l.mu.Unlock()
		return
	}

	l.destroySessionLocked()
	l.state = StateAttaching
	trackID := l.trackID
	manifestURL := l.manifestURL
	token := l.tokens.AccessToken()

	ctx, cancel := context.WithCancel(context.Background())
	l.attachCtx = ctx
	l.attachCancel = cancel
	l.mu.Unlock()

	authedURL, err := api.WithAuthParam(manifestURL, token)
	if err != nil {
		l.fail(gen, trackID, &domain.StreamError{Class: domain.ClassOther, Fatal: true, Err: err})
		return
	}

	body, err := l.fetcher.FetchBytes(ctx, authedURL)
	if err != nil {
		l.handleAttachError(gen, trackID, err)
		return
	}

	manifest, err := ParseManifest(manifestURL, string(body), token)
	if err != nil {
		l.handleAttachError(gen, trackID, err)
		return
	}

	l.mu.Lock()
	if l.state == StateDestroyed || gen != l.generation {
		l.mu.Unlock()
		return
	}
	session := newSession(trackID, manifest, l.fetcher)
	l.session = session
	l.state = StateReady
	l.retries = 0
	l.mu.Unlock()

	l.logger.Info("stream ready", "track", trackID, "master", manifest.Master)
	if l.cb.OnReady != nil {
		l.cb.OnReady(session)
	}
}

// handleAttachError routes a manifest fetch/parse failure: one token
// refresh for auth expiry, the retry budget for everything else.
func (l *Loader) handleAttachError(gen uint64, trackID string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}

	if domain.IsTokenExpired(err) {
		l.handleAuthExpiry(gen, trackID, err)
		return
	}

	// Transport failures during attach default to network class.
	streamErr := classify(err, domain.ClassNetwork)
	l.scheduleRecovery(gen, trackID, streamErr)
}

// handleAuthExpiry performs the at-most-one refresh-and-reattach cycle.
func (l *Loader) handleAuthExpiry(gen uint64, trackID string, cause error) {
	l.mu.Lock()
	if l.state == StateDestroyed || gen != l.generation {
		l.mu.Unlock()
		return
	}
	if l.authRetried {
		l.mu.Unlock()
		l.fail(gen, trackID, fmt.Errorf("%w: %w", domain.ErrAuthFailed, cause))
		return
	}
	l.authRetried = true
	ctx := l.attachCtx
	l.mu.Unlock()

	l.logger.Info("stream auth expired, refreshing token", "track", trackID)
	if _, err := l.tokens.Refresh(ctx); err != nil {
		l.fail(gen, trackID, fmt.Errorf("%w: %w", domain.ErrAuthFailed, err))
		return
	}
	l.attach(gen)
}

// scheduleRecovery applies the class-specific retry strategy within the
// retry budget: network errors reload the manifest, media errors recover
// the session in place, anything else aborts immediately.
func (l *Loader) scheduleRecovery(gen uint64, trackID string, streamErr *domain.StreamError) {
	if streamErr.Class == domain.ClassOther {
		l.fail(gen, trackID, streamErr)
		return
	}

	l.mu.Lock()
	if l.state == StateDestroyed || gen != l.generation {
		l.mu.Unlock()
		return
	}
	if l.retries >= maxRetries {
		l.mu.Unlock()
		l.fail(gen, trackID, fmt.Errorf("%w: %w", domain.ErrStreamFatal, streamErr))
		return
	}
	l.retries++
	l.state = StateRetrying
	attempt := l.retries

	l.logger.Warn("stream error, scheduling retry",
		"track", trackID, "class", streamErr.Class.String(), "attempt", attempt, "error", streamErr)

	session := l.session
	if streamErr.Class == domain.ClassMedia && session != nil {
		l.retryTimer = time.AfterFunc(l.retryDelay, func() {
			l.recoverMedia(gen, session)
		})
	} else {
		// Network class, or a media error with no live session to recover:
		// reload the manifest from scratch.
		l.retryTimer = time.AfterFunc(l.retryDelay, func() {
			l.attach(gen)
		})
	}
	l.mu.Unlock()
}

// recoverMedia attempts in-place recovery of the live session and
// re-signals readiness so the consumer can rebind its decoder.
func (l *Loader) recoverMedia(gen uint64, session *Session) {
	l.mu.Lock()
	if l.state == StateDestroyed || gen != l.generation || session == nil || l.session != session {
		l.mu.Unlock()
		return
	}
	session.recover()
	l.state = StateReady
	l.mu.Unlock()

	l.logger.Info("media recovery attempted", "track", session.TrackID)
	if l.cb.OnReady != nil {
		l.cb.OnReady(session)
	}
}

// ReportError is the entry point for the session consumer (the playback
// layer) to surface streaming errors discovered after attach: segment
// fetch failures, decode errors. It drives the same recovery machinery as
// attach-time failures.
func (l *Loader) ReportError(err error) {
	l.mu.Lock()
	gen := l.generation
	trackID := l.trackID
	destroyed := l.state == StateDestroyed
	l.mu.Unlock()

	if destroyed {
		return
	}

	if domain.IsTokenExpired(err) {
		l.handleAuthExpiry(gen, trackID, err)
		return
	}
	// Unclassified consumer errors abort; the consumer tags network and
	// media errors it wants retried.
	l.scheduleRecovery(gen, trackID, classify(err, domain.ClassOther))
}

// fail destroys the session and signals terminal failure for this track.
func (l *Loader) fail(gen uint64, trackID string, err error) {
	l.mu.Lock()
	if l.state == StateDestroyed || gen != l.generation {
		l.mu.Unlock()
		return
	}
	l.destroySessionLocked()
	l.state = StateError
	l.mu.Unlock()

	l.logger.Error("stream failed", "track", trackID, "error", err)
	if l.cb.OnFatal != nil {
		l.cb.OnFatal(trackID, err)
	}
}

func (l *Loader) cancelTimersLocked() {
	if l.debounceTimer != nil {
		l.debounceTimer.Stop()
		l.debounceTimer = nil
	}
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
}

func (l *Loader) destroySessionLocked() {
	if l.attachCancel != nil {
		l.attachCancel()
		l.attachCancel = nil
		l.attachCtx = nil
	}
	if l.session != nil {
		l.session.destroy()
		l.session = nil
	}
}

// classify maps an arbitrary error to a stream error. Already-classified
// errors pass through; API failures count as network-class; anything else
// takes the given default class.
func classify(err error, def domain.ErrorClass) *domain.StreamError {
	var streamErr *domain.StreamError
	if errors.As(err, &streamErr) {
		return streamErr
	}
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return &domain.StreamError{Class: domain.ClassNetwork, Status: apiErr.Status, Err: err}
	}
	return &domain.StreamError{Class: def, Err: err}
}
