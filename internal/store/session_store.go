package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/poltrona/poltrona/internal/models"
	"github.com/rs/zerolog/log"
)

// SessionStore persists the session in one of two tiers chosen by the
// remember-me flag. Durable is checked before tab-scoped on load.
type SessionStore struct {
	mu sync.Mutex

	durable KV
	tab     KV
}

// NewSessionStore creates a session store over the durable and tab-scoped tiers.
func NewSessionStore(durable, tab KV) *SessionStore {
	return &SessionStore{durable: durable, tab: tab}
}

func (s *SessionStore) tier(rememberMe bool) (KV, KV) {
	if rememberMe {
		return s.durable, s.tab
	}
	return s.tab, s.durable
}

// Save writes user, access token, refresh token and the tenant id to the
// tier selected by rememberMe, in that order, and clears the other tier.
func (s *SessionStore) Save(user *models.User, accessToken, refreshToken string, rememberMe bool) error {
	if user == nil {
		return errors.New("user is required")
	}

	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	target, other := s.tier(rememberMe)

	if err := target.Set(KeyAuthUser, string(userJSON)); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	if err := target.Set(KeyAuthToken, accessToken); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if err := writeOptional(target, KeyRefreshToken, refreshToken); err != nil {
		return fmt.Errorf("failed to save refresh token: %w", err)
	}
	if err := writeOptional(target, KeyCurrentShopID, user.ShopIDValue()); err != nil {
		return fmt.Errorf("failed to save shop id: %w", err)
	}

	if err := other.Delete(sessionKeys...); err != nil {
		log.Warn().Err(err).Msg("failed to clear inactive session tier")
	}

	log.Debug().
		Str("user_id", user.ID).
		Bool("remember_me", rememberMe).
		Msg("session saved")

	return nil
}

// Load returns the stored session and the tier it came from. Returns
// ErrNoSession when neither tier holds a user with an access token.
func (s *SessionStore) Load() (*models.Session, Tier, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.load()
}

// load returns ErrNoSession when neither tier holds a session, wrapping
// whatever made a tier unreadable.
func (s *SessionStore) load() (*models.Session, Tier, error) {
	var causes []error
	for _, tier := range []Tier{TierDurable, TierTab} {
		kv, _ := s.tier(tier == TierDurable)
		sess, err := readSession(kv, tier)
		if err != nil {
			causes = append(causes, fmt.Errorf("%s: %w", tier, err))
			continue
		}
		if sess != nil {
			return sess, tier, nil
		}
	}
	if len(causes) > 0 {
		return nil, TierNone, fmt.Errorf("%w: %w", ErrNoSession, errors.Join(causes...))
	}
	return nil, TierNone, ErrNoSession
}

// UpdateTokens overwrites the token pair in whichever tier holds the session,
// provided the stored refresh token is still consumed, the one the new pair
// was minted from. Otherwise the session was replaced in the meantime and
// ErrSessionReplaced is returned with nothing written. An empty refresh token
// keeps the stored one.
func (s *SessionStore) UpdateTokens(consumed, accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, tier, err := s.load()
	if err != nil {
		return err
	}
	if sess.RefreshToken != consumed {
		return ErrSessionReplaced
	}
	kv, _ := s.tier(tier == TierDurable)

	if err := kv.Set(KeyAuthToken, accessToken); err != nil {
		return fmt.Errorf("failed to save access token: %w", err)
	}
	if refreshToken != "" {
		if err := kv.Set(KeyRefreshToken, refreshToken); err != nil {
			return fmt.Errorf("failed to save refresh token: %w", err)
		}
	}
	return nil
}

// UpdateUser overwrites the user record and tenant id in whichever tier
// holds the session.
func (s *SessionStore) UpdateUser(user *models.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, tier, err := s.load()
	if err != nil {
		return err
	}
	kv, _ := s.tier(tier == TierDurable)

	if err := kv.Set(KeyAuthUser, string(userJSON)); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return writeOptional(kv, KeyCurrentShopID, user.ShopIDValue())
}

// CurrentShopID reads the tenant id without loading the full session.
func (s *SessionStore) CurrentShopID() (string, error) {
	for _, kv := range []KV{s.durable, s.tab} {
		v, err := kv.Get(KeyCurrentShopID)
		if err == nil && v != "" {
			return v, nil
		}
	}
	return "", ErrKeyNotFound
}

// Clear removes the session keys from both tiers. It is idempotent.
func (s *SessionStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	if err := s.durable.Delete(sessionKeys...); err != nil {
		errs = append(errs, fmt.Errorf("durable: %w", err))
	}
	if err := s.tab.Delete(sessionKeys...); err != nil {
		errs = append(errs, fmt.Errorf("tab: %w", err))
	}

	log.Debug().Msg("session cleared")

	return errors.Join(errs...)
}

func writeOptional(kv KV, key, value string) error {
	if value == "" {
		return kv.Delete(key)
	}
	return kv.Set(key, value)
}

// readSession reads a complete {user, accessToken} pair from one tier. A tier
// without a session yields nil, nil; an unreadable one yields the cause.
func readSession(kv KV, tier Tier) (*models.Session, error) {
	token, err := kv.Get(KeyAuthToken)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		log.Warn().Err(err).Stringer("tier", tier).Msg("failed to read access token")
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	raw, err := kv.Get(KeyAuthUser)
	if err != nil {
		if errors.Is(err, ErrKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		log.Warn().Err(err).Stringer("tier", tier).Msg("discarding unreadable stored user")
		return nil, fmt.Errorf("unreadable stored user: %w", err)
	}

	refresh, err := kv.Get(KeyRefreshToken)
	if err != nil {
		refresh = ""
	}

	return &models.Session{
		User:         &user,
		AccessToken:  token,
		RefreshToken: refresh,
		RememberMe:   tier == TierDurable,
	}, nil
}
