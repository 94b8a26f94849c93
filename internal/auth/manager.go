// Package auth owns the catalog credential pair. A single Manager instance
// is shared by every network-bound component; all token mutation goes
// through it.
package auth

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

// RefreshFunc exchanges a refresh token for a new token pair. The catalog
// client provides the concrete implementation.
type RefreshFunc func(ctx context.Context, refreshToken string) (domain.TokenPair, error)

// Manager is the single authority for the current access/refresh pair.
// Subscribers are notified synchronously on every change. Concurrent
// Refresh calls share one network exchange.
type Manager struct {
	mu        sync.RWMutex
	access    string
	refresh   string
	projectID string
	subs      map[int]func(accessToken string)
	nextSub   int

	refreshFn RefreshFunc
	group     singleflight.Group
	logger    *slog.Logger
}

// NewManager creates a Manager for the given project.
func NewManager(projectID string, refreshFn RefreshFunc, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		projectID: projectID,
		subs:      make(map[int]func(string)),
		refreshFn: refreshFn,
		logger:    logger,
	}
}

// SetTokens replaces both tokens and notifies every subscriber with the new
// access token before returning.
func (m *Manager) SetTokens(access, refresh string) {
	m.mu.Lock()
	m.access = access
	m.refresh = refresh
	subs := make([]func(string), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(access)
	}
}

// AccessToken returns the current access token, empty when unauthenticated.
func (m *Manager) AccessToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.access
}

// RefreshToken returns the current refresh token.
func (m *Manager) RefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refresh
}

// Subscribe registers a listener for token changes and returns its
// unsubscribe function.
func (m *Manager) Subscribe(fn func(accessToken string)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Refresh exchanges the refresh token for a new pair and returns the new
// access token. At most one exchange is in flight at a time; concurrent
// callers receive the result of the shared call. On failure both tokens are
// cleared (forcing re-authentication upstream) and subscribers notified.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	m.mu.RLock()
	refresh := m.refresh
	project := m.projectID
	m.mu.RUnlock()

	if refresh == "" || project == "" {
		return "", domain.ErrMissingCredentials
	}

	token, err, shared := m.group.Do("refresh", func() (any, error) {
		pair, err := m.refreshFn(ctx, refresh)
		if err != nil {
			m.logger.Error("token refresh failed", "error", err)
			m.SetTokens("", "")
			return nil, err
		}
		m.SetTokens(pair.AccessToken, pair.RefreshToken)
		return pair.AccessToken, nil
	})
	if err != nil {
		return "", err
	}

	m.logger.Debug("token refreshed", "shared", shared)
	return token.(string), nil
}
