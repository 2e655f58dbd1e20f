package auth

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runLoop starts the refresh loop and returns a function that stops it and
// reports its result.
func runLoop(t *testing.T, s *Session) func() error {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)

	go func() { done <- s.RunRefreshLoop(ctx) }()

	return func() error {
		cancel()

		select {
		case err := <-done:
			return err
		case <-time.After(5 * time.Second):
			t.Fatal("refresh loop did not stop")
			return nil
		}
	}
}

func TestRunRefreshLoop_RefreshesRestoredCredential(t *testing.T) {
	p := newFakeProvider(t)
	store := &memStore{initial: &Credential{RefreshToken: "persisted", ExpiresAt: testNow.Add(time.Hour)}}
	s := newTestSession(t, p, store)
	require.NoError(t, s.Load())

	got := make(chan Credential, 4)
	s.Subscribe(func(c Credential) { got <- c })

	stop := runLoop(t, s)

	select {
	case c := <-got:
		assert.Equal(t, "refreshed-1", c.AccessToken)
		assert.Equal(t, "persisted", c.RefreshToken)
	case <-time.After(5 * time.Second):
		t.Fatal("restored credential was not refreshed")
	}

	assert.True(t, errors.Is(stop(), context.Canceled))
	assert.Equal(t, int32(1), p.refreshes.Load())
}

func TestRunRefreshLoop_RetriesFailures(t *testing.T) {
	p := newFakeProvider(t)
	p.failRefreshes = 2
	store := &memStore{initial: &Credential{RefreshToken: "persisted"}}
	s := newTestSession(t, p, store)
	require.NoError(t, s.Load())

	got := make(chan Credential, 4)
	s.Subscribe(func(c Credential) { got <- c })

	stop := runLoop(t, s)

	select {
	case c := <-got:
		assert.Equal(t, "refreshed-3", c.AccessToken)
	case <-time.After(5 * time.Second):
		t.Fatal("refresh was not retried")
	}

	require.ErrorIs(t, stop(), context.Canceled)
	assert.Equal(t, int32(3), p.refreshes.Load())
}

func TestRunRefreshLoop_WaitsForLogin(t *testing.T) {
	p := newFakeProvider(t)
	// Shorter than the refresh margin, so the loop refreshes right after
	// the login at its minimum delay.
	p.expiresIn = 1
	s := newTestSession(t, p, &memStore{})

	stop := runLoop(t, s)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), p.refreshes.Load(), "nothing to refresh before login")

	login(t, s)

	assert.Eventually(t, func() bool { return p.refreshes.Load() >= 1 }, 5*time.Second, 10*time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)
}

func TestRunRefreshLoop_SleepsUntilMargin(t *testing.T) {
	p := newFakeProvider(t)
	s := newTestSession(t, p, &memStore{})

	login(t, s)

	stop := runLoop(t, s)

	time.Sleep(100 * time.Millisecond)
	require.ErrorIs(t, stop(), context.Canceled)
	assert.Equal(t, int32(0), p.refreshes.Load(), "token valid for an hour must not be refreshed yet")
}

func TestUntilRefresh(t *testing.T) {
	p := newFakeProvider(t)
	s := newTestSession(t, p, &memStore{})

	wait, ok := s.untilRefresh(Credential{RefreshToken: "r"})
	assert.True(t, ok)
	assert.Zero(t, wait)

	wait, ok = s.untilRefresh(Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: testNow.Add(time.Hour)})
	assert.True(t, ok)
	assert.Equal(t, time.Hour-DefaultRefreshMargin, wait)

	wait, ok = s.untilRefresh(Credential{AccessToken: "a", RefreshToken: "r", ExpiresAt: testNow})
	assert.True(t, ok)
	assert.Equal(t, 10*time.Millisecond, wait)

	_, ok = s.untilRefresh(Credential{AccessToken: "a", RefreshToken: "r"})
	assert.False(t, ok)
}

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingTimer) After(d time.Duration) <-chan time.Time {
	r.mu.Lock()
	r.delays = append(r.delays, d)
	r.mu.Unlock()

	return instantTimer{}.After(d)
}

func TestRefreshWithRetry_BackoffCappedAtMaxDelay(t *testing.T) {
	p := newFakeProvider(t)
	s := NewSession(Config{
		OAuth:         p.oauthConfig(),
		RetryMinDelay: time.Second,
		RetryMaxDelay: 5 * time.Second,
	}, &memStore{}, p.srv.Client(), slog.Default(), WithClock(func() time.Time { return testNow }))

	login(t, s)

	timer := &recordingTimer{}
	s.retryTimer = timer

	p.mu.Lock()
	p.failRefreshes = 40
	p.mu.Unlock()

	require.NoError(t, s.refreshWithRetry(context.Background()))
	assert.Equal(t, int32(41), p.refreshes.Load())

	timer.mu.Lock()
	defer timer.mu.Unlock()

	require.Len(t, timer.delays, 40)

	var longest time.Duration
	for i, d := range timer.delays {
		assert.LessOrEqual(t, d, 5*time.Second, "delay %d", i)
		longest = max(longest, d)
	}

	assert.Equal(t, 5*time.Second, longest)

	tok, ok := s.AccessToken()
	assert.True(t, ok)
	assert.Equal(t, "refreshed-41", tok)
}
