package auth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
)

// RunRefreshLoop keeps the credential fresh until ctx is canceled. It waits
// while there is nothing to refresh, refreshes immediately when no access
// token is held, and otherwise refreshes RefreshMargin before expiry.
// Failures are retried with capped exponential backoff and jitter. The
// return value is always the context's error.
func (s *Session) RunRefreshLoop(ctx context.Context) error {
	s.logger.Info("refresh loop started", slog.Duration("margin", s.cfg.RefreshMargin))
	defer s.logger.Info("refresh loop stopped")

	for {
		s.drainChanged()

		cur, ok := s.Credential()
		if !ok || cur.RefreshToken == "" {
			if err := s.waitChanged(ctx); err != nil {
				return err
			}

			continue
		}

		wait, scheduled := s.untilRefresh(cur)
		if !scheduled {
			if err := s.waitChanged(ctx); err != nil {
				return err
			}

			continue
		}

		if wait > 0 {
			s.logger.Debug("next refresh scheduled", slog.Duration("in", wait))

			fired, err := s.sleep(ctx, wait)
			if err != nil {
				return err
			}

			if !fired {
				continue
			}
		}

		if err := s.refreshWithRetry(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			s.logger.Warn("refresh abandoned", slog.String("error", err.Error()))
		}
	}
}

// untilRefresh returns how long to wait before refreshing cur. scheduled
// is false when an access token is held but its expiry is unknown.
func (s *Session) untilRefresh(cur Credential) (time.Duration, bool) {
	if cur.AccessToken == "" {
		return 0, true
	}

	if cur.ExpiresAt.IsZero() {
		return 0, false
	}

	wait := cur.ExpiresAt.Add(-s.cfg.RefreshMargin).Sub(s.now())

	// Tokens shorter-lived than the margin would otherwise refresh in a
	// tight loop.
	return max(wait, s.cfg.RetryMinDelay), true
}

func (s *Session) refreshWithRetry(ctx context.Context) error {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.UntilSucceeded(),
		retry.Delay(s.cfg.RetryMinDelay),
		retry.MaxDelay(s.cfg.RetryMaxDelay),
		retry.MaxJitter(s.cfg.RetryMinDelay),
		retry.DelayType(retry.CombineDelay(retry.BackOffDelay, retry.RandomDelay)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return !errors.Is(err, ErrNoRefreshToken)
		}),
		retry.OnRetry(func(attempt uint, err error) {
			s.logger.Warn("token refresh failed, retrying",
				slog.Uint64("attempt", uint64(attempt)+1),
				slog.String("error", err.Error()),
			)
		}),
	}

	if s.retryTimer != nil {
		opts = append(opts, retry.WithTimer(s.retryTimer))
	}

	return retry.Do(func() error { return s.Refresh(ctx) }, opts...)
}

// waitChanged blocks until the next commit or Load.
func (s *Session) waitChanged(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.changed:
		return nil
	}
}

// sleep waits d. fired is false when a commit cut the wait short.
func (s *Session) sleep(ctx context.Context, d time.Duration) (fired bool, err error) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-s.changed:
		return false, nil
	case <-timer.C:
		return true, nil
	}
}

func (s *Session) drainChanged() {
	select {
	case <-s.changed:
	default:
	}
}
