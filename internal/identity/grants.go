package identity

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/models"
)

// LoginWithPassword exchanges an email and password for a token pair.
func (c *Client) LoginWithPassword(ctx context.Context, email, password string) (*Grant, error) {
	body := map[string]string{
		"email":    strings.TrimSpace(email),
		"password": password,
	}
	r, err := c.call(ctx, c.httpClient, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"password"}}, body, "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, classifyLogin(r)
	}
	return c.decodeGrant(r)
}

// Refresh exchanges a refresh token for a rotated pair. The old refresh
// token must be considered spent once this returns successfully.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Grant, error) {
	if refreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", auth.ErrTokenRefreshFailed)
	}
	body := map[string]string{"refresh_token": refreshToken}
	r, err := c.call(ctx, c.httpClient, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"refresh_token"}}, body, "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, classifyRefresh(r)
	}
	return c.decodeGrant(r)
}

// ExchangeCode completes a PKCE OAuth flow.
func (c *Client) ExchangeCode(ctx context.Context, code, verifier string) (*Grant, error) {
	body := map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	}
	r, err := c.call(ctx, c.httpClient, http.MethodPost, "/auth/v1/token", url.Values{"grant_type": {"pkce"}}, body, "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, fmt.Errorf("%w: %v", auth.ErrOAuthFailed, classifyGeneric("code exchange", r))
	}
	return c.decodeGrant(r)
}

func (c *Client) decodeGrant(r *response) (*Grant, error) {
	var tr tokenResponse
	if err := r.decode(&tr); err != nil {
		return nil, err
	}
	if tr.AccessToken == "" {
		return nil, fmt.Errorf("%w: token response without access token", auth.ErrBackendUnavailable)
	}
	return c.grant(&tr), nil
}

// SignUpRequest carries registration data. Role is forwarded as given; the
// caller is responsible for pinning it.
type SignUpRequest struct {
	Email    string
	Password string
	FullName string
	Phone    string
	ShopSlug string
	Role     models.Role
}

// SignUpResult holds the created identity. Tokens is nil when the provider
// requires email confirmation before issuing a session.
type SignUpResult struct {
	User   Identity
	Tokens *models.TokenPair
}

// SignUp registers a new email/password account.
func (c *Client) SignUp(ctx context.Context, req SignUpRequest) (*SignUpResult, error) {
	data := map[string]any{
		"full_name": req.FullName,
		"role":      string(req.Role),
	}
	if req.Phone != "" {
		data["phone"] = req.Phone
	}
	if req.ShopSlug != "" {
		data["shop_slug"] = req.ShopSlug
	}
	body := map[string]any{
		"email":    strings.TrimSpace(req.Email),
		"password": req.Password,
		"data":     data,
	}

	r, err := c.call(ctx, c.httpClient, http.MethodPost, "/auth/v1/signup", nil, body, "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, classifySignup(r)
	}

	// The provider returns either a session (autoconfirm) or a bare user.
	var resp struct {
		tokenResponse
		providerUser
	}
	if err := r.decode(&resp); err != nil {
		return nil, err
	}

	result := &SignUpResult{}
	switch {
	case resp.User != nil:
		result.User = resp.User.identity()
	default:
		result.User = resp.providerUser.identity()
	}
	if resp.AccessToken != "" {
		g := c.grant(&resp.tokenResponse)
		result.Tokens = &g.Tokens
	}
	return result, nil
}

// GetUser returns the identity behind an access token. A 401/403 answer
// yields ErrTokenRejected; anything else that fails is ErrBackendUnavailable.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*Identity, error) {
	r, err := c.call(ctx, c.httpClient, http.MethodGet, "/auth/v1/user", nil, nil, accessToken)
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, classifyUser(r)
	}
	var u providerUser
	if err := r.decode(&u); err != nil {
		return nil, err
	}
	id := u.identity()
	return &id, nil
}

// Recover asks the provider to email a password reset link.
func (c *Client) Recover(ctx context.Context, email, redirectTo string) error {
	var q url.Values
	if redirectTo != "" {
		q = url.Values{"redirect_to": {redirectTo}}
	}
	r, err := c.call(ctx, c.httpClient, http.MethodPost, "/auth/v1/recover", q, map[string]string{"email": strings.TrimSpace(email)}, "")
	if err != nil {
		return err
	}
	if !r.ok() {
		return classifyGeneric("recover", r)
	}
	return nil
}

// VerifyRecovery exchanges an emailed recovery token for a session.
func (c *Client) VerifyRecovery(ctx context.Context, email, token string) (*Grant, error) {
	body := map[string]string{
		"type":  "recovery",
		"email": strings.TrimSpace(email),
		"token": token,
	}
	r, err := c.call(ctx, c.httpClient, http.MethodPost, "/auth/v1/verify", nil, body, "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, classifyVerify(r)
	}
	return c.decodeGrant(r)
}

// UpdatePassword sets a new password for the user owning accessToken.
func (c *Client) UpdatePassword(ctx context.Context, accessToken, password string) error {
	r, err := c.call(ctx, c.httpClient, http.MethodPut, "/auth/v1/user", nil, map[string]string{"password": password}, accessToken)
	if err != nil {
		return err
	}
	if !r.ok() {
		return classifyGeneric("password update", r)
	}
	return nil
}

// Settings describes which sign-in methods the project has enabled.
type Settings struct {
	External      map[string]bool `json:"external"`
	DisableSignup bool            `json:"disable_signup"`
	Autoconfirm   bool            `json:"mailer_autoconfirm"`
}

// ProviderEnabled reports whether an external OAuth provider is switched on.
func (s *Settings) ProviderEnabled(provider string) bool {
	return s.External[strings.ToLower(provider)]
}

// Settings fetches provider settings through the metadata client.
func (c *Client) Settings(ctx context.Context) (*Settings, error) {
	r, err := c.call(ctx, c.metadataClient, http.MethodGet, "/auth/v1/settings", nil, nil, "")
	if err != nil {
		return nil, err
	}
	if !r.ok() {
		return nil, classifyGeneric("settings", r)
	}
	var s Settings
	if err := r.decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}
