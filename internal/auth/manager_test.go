package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/matteo-lafrancesca/streamlayer/internal/domain"
)

func TestSetTokensNotifiesSubscribers(t *testing.T) {
	m := NewManager("proj", nil, nil)

	var notified []string
	unsubscribe := m.Subscribe(func(access string) {
		notified = append(notified, access)
	})

	m.SetTokens("access-1", "refresh-1")
	assert.Equal(t, []string{"access-1"}, notified)
	assert.Equal(t, "access-1", m.AccessToken())
	assert.Equal(t, "refresh-1", m.RefreshToken())

	unsubscribe()
	m.SetTokens("access-2", "refresh-2")
	assert.Equal(t, []string{"access-1"}, notified)
}

func TestRefreshRequiresCredentials(t *testing.T) {
	t.Run("no refresh token", func(t *testing.T) {
		m := NewManager("proj", nil, nil)
		_, err := m.Refresh(context.Background())
		assert.ErrorIs(t, err, domain.ErrMissingCredentials)
	})

	t.Run("no project id", func(t *testing.T) {
		m := NewManager("", nil, nil)
		m.SetTokens("a", "r")
		_, err := m.Refresh(context.Background())
		assert.ErrorIs(t, err, domain.ErrMissingCredentials)
	})
}

func TestRefreshUpdatesTokens(t *testing.T) {
	refreshFn := func(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
		assert.Equal(t, "refresh-old", refreshToken)
		return domain.TokenPair{AccessToken: "access-new", RefreshToken: "refresh-new"}, nil
	}

	m := NewManager("proj", refreshFn, nil)
	m.SetTokens("access-old", "refresh-old")

	var lastNotified string
	m.Subscribe(func(access string) { lastNotified = access })

	token, err := m.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-new", token)
	assert.Equal(t, "access-new", m.AccessToken())
	assert.Equal(t, "refresh-new", m.RefreshToken())
	assert.Equal(t, "access-new", lastNotified)
}

func TestRefreshFailureClearsTokens(t *testing.T) {
	refreshErr := errors.New("upstream rejected refresh")
	refreshFn := func(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
		return domain.TokenPair{}, refreshErr
	}

	m := NewManager("proj", refreshFn, nil)
	m.SetTokens("access", "refresh")

	notified := false
	m.Subscribe(func(access string) {
		notified = true
		assert.Empty(t, access)
	})

	_, err := m.Refresh(context.Background())
	assert.ErrorIs(t, err, refreshErr)
	assert.Empty(t, m.AccessToken())
	assert.Empty(t, m.RefreshToken())
	assert.True(t, notified)
}

func TestConcurrentRefreshesShareOneExchange(t *testing.T) {
	var calls atomic.Int32
	gate := make(chan struct{})

	refreshFn := func(ctx context.Context, refreshToken string) (domain.TokenPair, error) {
		calls.Add(1)
		<-gate
		return domain.TokenPair{AccessToken: "shared-access", RefreshToken: "shared-refresh"}, nil
	}

	m := NewManager("proj", refreshFn, nil)
	m.SetTokens("access", "refresh")

	const callers = 5
	var started sync.WaitGroup
	var done sync.WaitGroup
	results := make([]string, callers)
	errs := make([]error, callers)

	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = m.Refresh(context.Background())
		}(i)
	}

	// Let every caller reach the in-flight exchange before releasing it.
	started.Wait()
	time.Sleep(50 * time.Millisecond)
	close(gate)
	done.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared-access", results[i])
	}
}
