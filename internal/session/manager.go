package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/config"
	"github.com/poltrona/poltrona/internal/identity"
	"github.com/poltrona/poltrona/internal/models"
	"github.com/poltrona/poltrona/internal/profile"
	"github.com/poltrona/poltrona/internal/store"
	"github.com/poltrona/poltrona/internal/telemetry"
)

// Exchanger is the identity provider as seen by the session manager.
type Exchanger interface {
	LoginWithPassword(ctx context.Context, email, password string) (*identity.Grant, error)
	Refresh(ctx context.Context, refreshToken string) (*identity.Grant, error)
	ExchangeCode(ctx context.Context, code, verifier string) (*identity.Grant, error)
	SignUp(ctx context.Context, req identity.SignUpRequest) (*identity.SignUpResult, error)
	GetUser(ctx context.Context, accessToken string) (*identity.Identity, error)
	Recover(ctx context.Context, email, redirectTo string) error
	VerifyRecovery(ctx context.Context, email, token string) (*identity.Grant, error)
	UpdatePassword(ctx context.Context, accessToken, password string) error
}

// Profiles reconciles and provisions backend profiles.
type Profiles interface {
	Reconcile(ctx context.Context, cached *models.User, accessToken string) (*models.User, error)
	Ensure(ctx context.Context, accessToken string, seed profile.Seed) (*profile.Profile, bool, error)
	AssignShop(ctx context.Context, user *models.User, accessToken, shopID string) (*models.User, error)
}

var (
	_ Exchanger = (*identity.Client)(nil)
	_ Profiles  = (*profile.Reconciler)(nil)
)

// Refresh triggers, recorded on metrics and logs.
const (
	TriggerTimer    = "timer"
	TriggerActivity = "activity"
	TriggerVerify   = "verify"
	TriggerExplicit = "explicit"
)

// Manager owns the session: it signs users in and out, keeps tokens fresh
// and the profile current, and answers authorization questions. It is safe
// for concurrent use.
type Manager struct {
	cfg       config.SessionConfig
	exchanger Exchanger
	profiles  Profiles
	sessions  *store.SessionStore
	oauthErrs *store.OAuthErrors
	events    *Broadcaster
	metrics   *telemetry.Metrics

	now        func() time.Time
	newBackOff func() backoff.BackOff

	refreshGroup singleflight.Group
	activity     chan struct{}

	mu          sync.RWMutex
	user        *models.User
	state       State
	rememberMe  bool
	lastRefresh time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithOAuthErrors sets the slot OAuth redirect errors are recorded in.
func WithOAuthErrors(o *store.OAuthErrors) Option {
	return func(m *Manager) { m.oauthErrs = o }
}

// WithMetrics overrides the metrics instruments.
func WithMetrics(metrics *telemetry.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithBackOff overrides the refresh retry policy.
func WithBackOff(fn func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackOff = fn }
}

// NewManager creates a manager. Call Bootstrap before use.
func NewManager(cfg config.SessionConfig, exchanger Exchanger, profiles Profiles, sessions *store.SessionStore, opts ...Option) *Manager {
	m := &Manager{
		cfg:       cfg,
		exchanger: exchanger,
		profiles:  profiles,
		sessions:  sessions,
		events:    NewBroadcaster(),
		metrics:   telemetry.GetMetrics(),
		now:       time.Now,
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxInterval = 5 * time.Second
			return b
		},
		activity: make(chan struct{}, 1),
		state:    StateUnauthenticated,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg.RefreshAttempts == 0 {
		m.cfg.RefreshAttempts = 1
	}
	return m
}

// Subscribe registers for lifecycle events.
func (m *Manager) Subscribe(buffer int) (<-chan Event, func()) {
	return m.events.Subscribe(buffer)
}

// State returns a snapshot of the session.
func (m *Manager) State() AuthState {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return AuthState{
		User:       m.user.Clone(),
		State:      m.state,
		RememberMe: m.rememberMe,
	}
}

// IsAuthenticated reports whether a user is signed in.
func (m *Manager) IsAuthenticated() bool {
	return m.State().IsAuthenticated()
}

// Can evaluates a permission for the signed-in user.
func (m *Manager) Can(perm auth.Permission) bool {
	return m.State().Can(perm)
}

// AccessToken returns the stored access token.
func (m *Manager) AccessToken() (string, error) {
	sess, _, err := m.sessions.Load()
	if err != nil {
		return "", fmt.Errorf("%w: %w", auth.ErrNotAuthenticated, err)
	}
	return sess.AccessToken, nil
}

// Bootstrap restores a persisted session without touching the network. A
// stored session is trusted until a probe or refresh proves otherwise.
func (m *Manager) Bootstrap() AuthState {
	sess, tier, err := m.sessions.Load()

	m.mu.Lock()
	if err != nil {
		m.user = nil
		m.state = StateUnauthenticated
	} else {
		m.user = sess.User
		m.state = StateValid
		m.rememberMe = tier == store.TierDurable
		log.Debug().Str("user_id", sess.User.ID).Stringer("tier", tier).Msg("session restored")
	}
	m.mu.Unlock()

	return m.State()
}

type loginOptions struct {
	rememberMe *bool
}

// LoginOption configures a sign-in.
type LoginOption func(*loginOptions)

// WithRememberMe selects durable (true) or process-scoped (false) storage.
// Without it the configured default applies.
func WithRememberMe(remember bool) LoginOption {
	return func(o *loginOptions) { o.rememberMe = &remember }
}

func (m *Manager) remember(opts []LoginOption) bool {
	o := loginOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.rememberMe != nil {
		return *o.rememberMe
	}
	return m.cfg.RememberDefault
}

// Login signs in with email and password.
func (m *Manager) Login(ctx context.Context, email, password string, opts ...LoginOption) (AuthState, error) {
	grant, err := m.exchanger.LoginWithPassword(ctx, email, password)
	m.metrics.RecordLogin(ctx, "password", err)
	if err != nil {
		log.Debug().Err(err).Msg("password login failed")
		return m.State(), err
	}

	user := userFromGrant(grant, email)
	user = m.reconciled(ctx, user, grant.Tokens.AccessToken)

	if err := m.establish(user, grant.Tokens, m.remember(opts)); err != nil {
		return m.State(), err
	}
	return m.State(), nil
}

// LoginWithOAuthCallback completes an OAuth sign-in from the redirect URL,
// query or fragment. verifier is the PKCE verifier from AuthorizeURL and is
// only used when the provider answered with a code. Provider errors are
// recorded for ConsumeOAuthError.
func (m *Manager) LoginWithOAuthCallback(ctx context.Context, raw, verifier string, opts ...LoginOption) (AuthState, error) {
	params, err := identity.ParseCallback(raw)
	if err != nil {
		return m.State(), err
	}

	if params.Failed() {
		m.recordOAuthError(params.Error, params.ErrorDescription)
		err := fmt.Errorf("%w: %s", auth.ErrOAuthFailed, params.Error)
		m.metrics.RecordLogin(ctx, "oauth", err)
		return m.State(), err
	}

	grant, err := m.oauthGrant(ctx, params, verifier)
	m.metrics.RecordLogin(ctx, "oauth", err)
	if err != nil {
		m.recordOAuthError("exchange_failed", err.Error())
		return m.State(), err
	}

	user := userFromGrant(grant, "")
	user = m.provisioned(ctx, user, grant.Tokens.AccessToken)

	if err := m.establish(user, grant.Tokens, m.remember(opts)); err != nil {
		return m.State(), err
	}
	return m.State(), nil
}

func (m *Manager) oauthGrant(ctx context.Context, params *identity.CallbackParams, verifier string) (*identity.Grant, error) {
	if params.Code != "" {
		if verifier == "" {
			return nil, fmt.Errorf("%w: missing PKCE verifier", auth.ErrOAuthFailed)
		}
		return m.exchanger.ExchangeCode(ctx, params.Code, verifier)
	}

	grant := &identity.Grant{
		Tokens: models.TokenPair{
			AccessToken:  params.AccessToken,
			RefreshToken: params.RefreshToken,
		},
	}
	if params.ExpiresIn > 0 {
		grant.Tokens.ExpiresAt = m.now().Add(time.Duration(params.ExpiresIn) * time.Second)
	}

	id, err := m.exchanger.GetUser(ctx, params.AccessToken)
	switch {
	case err == nil:
		grant.User = *id
	case errors.Is(err, identity.ErrTokenRejected):
		return nil, fmt.Errorf("%w: %v", auth.ErrOAuthFailed, err)
	default:
		// The token is still usable; read what the claims say.
		claims, cerr := identity.InspectAccessToken(params.AccessToken)
		if cerr != nil {
			return nil, fmt.Errorf("%w: %v", auth.ErrOAuthFailed, err)
		}
		grant.User = identity.Identity{ID: claims.Subject, Email: claims.Email}
	}
	return grant, nil
}

func (m *Manager) recordOAuthError(code, description string) {
	if m.oauthErrs == nil {
		return
	}
	if err := m.oauthErrs.Put(store.OAuthError{Code: code, Description: description}); err != nil {
		log.Warn().Err(err).Msg("failed to record oauth error")
	}
}

// ConsumeOAuthError returns the last OAuth redirect error once.
func (m *Manager) ConsumeOAuthError() (*store.OAuthError, bool) {
	if m.oauthErrs == nil {
		return nil, false
	}
	return m.oauthErrs.Consume()
}

// RegistrationData is what a new user submits. Role is accepted from the
// caller but never honoured: self-registration always starts at the lowest
// privilege tier.
type RegistrationData struct {
	Email    string
	Password string
	FullName string
	Phone    string
	ShopSlug string
	Role     models.Role
}

// Registration is the outcome of Register. SignedIn is false when the
// provider requires email confirmation first.
type Registration struct {
	UserID   string
	SignedIn bool
}

// Register creates an account. When the provider issues a session right
// away the user is signed in and a profile is provisioned.
func (m *Manager) Register(ctx context.Context, data RegistrationData, opts ...LoginOption) (*Registration, error) {
	if data.Role != "" && data.Role != models.LowestPrivilegeRole {
		log.Warn().Str("requested_role", string(data.Role)).Msg("ignoring role on self-registration")
	}

	res, err := m.exchanger.SignUp(ctx, identity.SignUpRequest{
		Email:    data.Email,
		Password: data.Password,
		FullName: data.FullName,
		Phone:    data.Phone,
		ShopSlug: data.ShopSlug,
		Role:     models.LowestPrivilegeRole,
	})
	m.metrics.RecordLogin(ctx, "signup", err)
	if err != nil {
		return nil, err
	}

	reg := &Registration{UserID: res.User.ID}
	if res.Tokens == nil || res.Tokens.AccessToken == "" {
		return reg, nil
	}

	grant := &identity.Grant{Tokens: *res.Tokens, User: res.User}
	if grant.User.DisplayName == "" {
		grant.User.DisplayName = data.FullName
	}
	user := userFromGrant(grant, data.Email)
	user = m.provisioned(ctx, user, res.Tokens.AccessToken)

	if err := m.establish(user, *res.Tokens, m.remember(opts)); err != nil {
		return reg, err
	}
	reg.SignedIn = true
	return reg, nil
}

// RequestRecovery emails a password reset token.
func (m *Manager) RequestRecovery(ctx context.Context, email, redirectTo string) error {
	return m.exchanger.Recover(ctx, email, redirectTo)
}

// CompleteRecovery exchanges an emailed recovery token for a session and
// sets a new password.
func (m *Manager) CompleteRecovery(ctx context.Context, email, token, newPassword string, opts ...LoginOption) (AuthState, error) {
	grant, err := m.exchanger.VerifyRecovery(ctx, email, token)
	m.metrics.RecordLogin(ctx, "recovery", err)
	if err != nil {
		return m.State(), err
	}

	if err := m.exchanger.UpdatePassword(ctx, grant.Tokens.AccessToken, newPassword); err != nil {
		return m.State(), err
	}

	user := userFromGrant(grant, email)
	user = m.reconciled(ctx, user, grant.Tokens.AccessToken)

	if err := m.establish(user, grant.Tokens, m.remember(opts)); err != nil {
		return m.State(), err
	}
	return m.State(), nil
}

// Logout clears both storage tiers. It is safe to call when signed out.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	userID := ""
	if m.user != nil {
		userID = m.user.ID
	}
	m.user = nil
	m.state = StateUnauthenticated
	m.mu.Unlock()

	err := m.sessions.Clear()
	if userID != "" {
		m.publish(EventSignedOut, userID)
	}
	return err
}

// AssignShop binds the signed-in user to a shop.
func (m *Manager) AssignShop(ctx context.Context, shopID string) (AuthState, error) {
	sess, _, err := m.sessions.Load()
	if err != nil {
		return m.State(), auth.ErrNotAuthenticated
	}

	m.mu.RLock()
	current := m.user.Clone()
	m.mu.RUnlock()
	if current == nil {
		current = sess.User
	}

	updated, err := m.profiles.AssignShop(ctx, current, sess.AccessToken, shopID)
	if err != nil {
		return m.State(), err
	}
	m.applyUser(updated)
	return m.State(), nil
}

// Touch signals user activity. It never blocks.
func (m *Manager) Touch() {
	select {
	case m.activity <- struct{}{}:
	default:
	}
}

func userFromGrant(grant *identity.Grant, fallbackEmail string) *models.User {
	u := &models.User{
		ID:        grant.User.ID,
		Email:     grant.User.Email,
		FullName:  grant.User.DisplayName,
		Role:      models.LowestPrivilegeRole,
		CreatedAt: grant.User.CreatedAt,
	}
	if u.Email == "" {
		u.Email = fallbackEmail
	}
	if u.ID == "" {
		if claims, err := identity.InspectAccessToken(grant.Tokens.AccessToken); err == nil {
			u.ID = claims.Subject
			if u.Email == "" {
				u.Email = claims.Email
			}
		}
	}
	return u
}

// reconciled merges the backend profile into user. Failures keep user.
func (m *Manager) reconciled(ctx context.Context, user *models.User, accessToken string) *models.User {
	merged, err := m.profiles.Reconcile(ctx, user, accessToken)
	m.metrics.RecordProfileSync(ctx, err)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("profile reconciliation failed, using cached user")
		if merged == nil {
			return user
		}
	}
	return merged
}

// provisioned makes sure a profile exists for a fresh identity and merges it.
func (m *Manager) provisioned(ctx context.Context, user *models.User, accessToken string) *models.User {
	p, created, err := m.profiles.Ensure(ctx, accessToken, profile.Seed{
		UserID:   user.ID,
		Email:    user.Email,
		FullName: user.FullName,
	})
	m.metrics.RecordProfileSync(ctx, err)
	if err != nil {
		log.Warn().Err(err).Str("user_id", user.ID).Msg("profile provisioning failed")
		return user
	}
	if created {
		log.Debug().Str("user_id", user.ID).Msg("created profile for new identity")
	}
	return profile.Merge(user, p)
}

// establish persists a new session and marks it valid.
func (m *Manager) establish(user *models.User, tokens models.TokenPair, rememberMe bool) error {
	if user.ID == "" {
		return fmt.Errorf("%w: identity without id", auth.ErrBackendUnavailable)
	}
	if err := m.sessions.Save(user, tokens.AccessToken, tokens.RefreshToken, rememberMe); err != nil {
		return fmt.Errorf("failed to persist session: %w", err)
	}

	m.mu.Lock()
	m.user = user.Clone()
	m.state = StateValid
	m.rememberMe = rememberMe
	m.lastRefresh = m.now()
	m.mu.Unlock()

	log.Info().Str("user_id", user.ID).Str("role", string(user.Role)).Msg("signed in")
	m.publish(EventSignedIn, user.ID)
	return nil
}

// applyUser stores an updated user if it differs from the current one.
func (m *Manager) applyUser(u *models.User) {
	m.mu.Lock()
	if m.user == nil || m.state == StateUnauthenticated {
		m.mu.Unlock()
		return
	}
	if m.user.Equal(u) {
		m.mu.Unlock()
		return
	}
	m.user = u.Clone()
	m.mu.Unlock()

	if err := m.sessions.UpdateUser(u); err != nil {
		log.Warn().Err(err).Msg("failed to persist updated user")
	}
	m.publish(EventProfileUpdated, u.ID)
}

// syncProfile reconciles the in-memory user with the backend profile.
func (m *Manager) syncProfile(ctx context.Context, accessToken string) {
	m.mu.RLock()
	cached := m.user.Clone()
	m.mu.RUnlock()
	if cached == nil {
		return
	}

	merged, err := m.profiles.Reconcile(ctx, cached, accessToken)
	m.metrics.RecordProfileSync(ctx, err)
	if err != nil {
		log.Warn().Err(err).Str("user_id", cached.ID).Msg("profile reconciliation failed")
		return
	}
	m.applyUser(merged)
}

func (m *Manager) publish(t EventType, userID string) {
	m.events.Publish(Event{Type: t, UserID: userID, At: m.now()})
}
