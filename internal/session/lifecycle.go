package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/identity"
	"github.com/poltrona/poltrona/internal/store"
	"github.com/poltrona/poltrona/internal/telemetry"
)

// refreshTimeout bounds one shared refresh, retries included.
const refreshTimeout = time.Minute

// Refresh rotates the token pair now.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresh(ctx, TriggerExplicit)
}

// refresh runs at most one refresh at a time; concurrent callers share the
// in-flight result. The shared call outlives a cancelled caller, bounded by refreshTimeout, so
// callers that joined it are not failed by someone else's cancellation.
func (m *Manager) refresh(ctx context.Context, trigger string) error {
	_, err, shared := m.refreshGroup.Do("refresh", func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()
		return nil, m.doRefresh(ctx, trigger)
	})
	if shared {
		log.Debug().Str("trigger", trigger).Msg("joined in-flight refresh")
	}
	return err
}

func (m *Manager) doRefresh(ctx context.Context, trigger string) error {
	if !m.IsAuthenticated() {
		return auth.ErrNotAuthenticated
	}

	ctx, span := telemetry.Tracer().Start(ctx, "session.refresh")
	defer span.End()

	started := m.now()
	userID := m.setRefreshing()

	// The refresh token is read from storage on every attempt so a pair
	// rotated by someone else is never replayed.
	var consumed string
	op := func() (*identity.Grant, error) {
		sess, _, err := m.sessions.Load()
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("%w: %w", auth.ErrNotAuthenticated, err))
		}
		consumed = sess.RefreshToken
		grant, err := m.exchanger.Refresh(ctx, consumed)
		if err != nil {
			if errors.Is(err, auth.ErrTokenRefreshFailed) {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		return grant, nil
	}

	grant, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(m.newBackOff()),
		backoff.WithMaxTries(m.cfg.RefreshAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Debug().Err(err).Dur("next", next).Msg("retrying token refresh")
		}),
	)
	m.metrics.RecordRefresh(ctx, trigger, started, err)

	switch {
	case err == nil:
	case errors.Is(err, auth.ErrTokenRefreshFailed):
		if m.replaced(consumed) {
			// The rejected token was already superseded in storage.
			m.settleRefresh(userID)
			return fmt.Errorf("%w: %w", auth.ErrNotAuthenticated, store.ErrSessionReplaced)
		}
		m.expire(ctx, err)
		return err
	case errors.Is(err, auth.ErrNotAuthenticated):
		m.settleRefresh(userID)
		return err
	default:
		// Unreachable provider: the token is unknown, not rejected.
		m.settleRefresh(userID)
		log.Warn().Err(err).Str("trigger", trigger).Msg("token refresh failed, keeping session")
		return err
	}

	if err := m.sessions.UpdateTokens(consumed, grant.Tokens.AccessToken, grant.Tokens.RefreshToken); err != nil {
		if errors.Is(err, store.ErrNoSession) || errors.Is(err, store.ErrSessionReplaced) {
			// Signed out, or signed in again, while the refresh was in flight.
			// The rotated pair belongs to a session that no longer exists.
			log.Debug().Err(err).Str("trigger", trigger).Msg("discarding refreshed tokens")
			m.settleRefresh(userID)
			return fmt.Errorf("%w: %w", auth.ErrNotAuthenticated, err)
		}
		m.settleRefresh(userID)
		return fmt.Errorf("failed to persist refreshed tokens: %w", err)
	}

	m.mu.Lock()
	m.lastRefresh = m.now()
	if m.user != nil {
		m.state = StateValid
	}
	m.mu.Unlock()

	log.Debug().Str("trigger", trigger).Time("expires_at", grant.Tokens.ExpiresAt).Msg("token refreshed")
	m.publish(EventTokenRefreshed, userID)

	m.syncProfile(ctx, grant.Tokens.AccessToken)
	return nil
}

// setRefreshing marks the session as refreshing and returns the user it
// belongs to.
func (m *Manager) setRefreshing() string {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = StateRefreshing
	if m.user == nil {
		return ""
	}
	return m.user.ID
}

// replaced reports whether storage no longer holds the refresh token consumed.
func (m *Manager) replaced(consumed string) bool {
	sess, _, err := m.sessions.Load()
	return err != nil || sess.RefreshToken != consumed
}

// settleRefresh ends a refresh that did not rotate the pair. If the
// refreshing user is still current the session survives only while storage
// holds one; otherwise the user is signed out locally. A user signed in
// meanwhile is left untouched.
func (m *Manager) settleRefresh(userID string) {
	_, _, err := m.sessions.Load()

	m.mu.Lock()
	if m.user == nil || m.user.ID != userID || m.state != StateRefreshing {
		m.mu.Unlock()
		return
	}
	if err == nil {
		m.state = StateValid
		m.mu.Unlock()
		return
	}
	m.user = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	log.Info().Str("user_id", userID).Msg("session removed from storage, signed out")
	m.publish(EventSignedOut, userID)
}

// expire ends a session whose refresh token was rejected.
func (m *Manager) expire(ctx context.Context, cause error) {
	m.mu.Lock()
	userID := ""
	if m.user != nil {
		userID = m.user.ID
	}
	m.state = StateRefreshFailed
	m.mu.Unlock()

	if err := m.sessions.Clear(); err != nil {
		log.Error().Err(err).Msg("failed to clear expired session")
	}

	m.mu.Lock()
	m.user = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	m.metrics.RecordSessionExpired(ctx)
	log.Warn().Err(cause).Str("user_id", userID).Msg("session expired")
	m.publish(EventSessionExpired, userID)
}

// Verify probes the access token. A rejected token triggers a refresh; a
// probe that cannot reach the provider leaves the session untouched. On a
// valid token the profile is reconciled.
func (m *Manager) Verify(ctx context.Context) (Validity, error) {
	sess, _, err := m.sessions.Load()
	if err != nil {
		return ValidityInvalid, auth.ErrNotAuthenticated
	}

	_, err = m.exchanger.GetUser(ctx, sess.AccessToken)
	switch {
	case err == nil:
		m.metrics.RecordProbe(ctx, ValidityValid.String())
		m.syncProfile(ctx, sess.AccessToken)
		return ValidityValid, nil

	case errors.Is(err, identity.ErrTokenRejected):
		m.metrics.RecordProbe(ctx, ValidityInvalid.String())
		log.Debug().Msg("access token rejected, refreshing")
		return ValidityInvalid, m.refresh(ctx, TriggerVerify)

	default:
		m.metrics.RecordProbe(ctx, ValidityUnknown.String())
		log.Warn().Err(err).Msg("token probe inconclusive")
		return ValidityUnknown, nil
	}
}

// Run drives the token lifecycle until ctx is cancelled: a refresh every
// RefreshInterval, and one on activity when at least ActivityWindow has
// passed since the last refresh. Background failures are logged only.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.cfg.Validate(); err != nil {
		return err
	}

	ticker := time.NewTicker(m.cfg.RefreshInterval)
	defer ticker.Stop()

	log.Debug().
		Dur("refresh_interval", m.cfg.RefreshInterval).
		Dur("activity_window", m.cfg.ActivityWindow).
		Msg("session lifecycle started")

	if m.IsAuthenticated() {
		if m.cfg.VerifyOnStartup {
			if _, err := m.Verify(ctx); err != nil {
				log.Warn().Err(err).Msg("startup verification failed")
			}
		} else if token, err := m.AccessToken(); err == nil {
			m.syncProfile(ctx, token)
		}
	}

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("session lifecycle stopped")
			return nil

		case <-ticker.C:
			if !m.IsAuthenticated() {
				continue
			}
			if err := m.refresh(ctx, TriggerTimer); err != nil {
				log.Warn().Err(err).Msg("scheduled refresh failed")
			}

		case <-m.activity:
			if !m.IsAuthenticated() || !m.activityDue() {
				continue
			}
			if err := m.refresh(ctx, TriggerActivity); err != nil {
				log.Warn().Err(err).Msg("activity refresh failed")
			}
		}
	}
}

func (m *Manager) activityDue() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.now().Sub(m.lastRefresh) >= m.cfg.ActivityWindow
}
