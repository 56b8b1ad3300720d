package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/models"
)

const maxResponseBytes = 1 << 20

// Client talks to the hosted identity provider (/auth/v1/*).
type Client struct {
	baseURL        string
	anonKey        string
	httpClient     *http.Client
	metadataClient *http.Client
	now            func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the client used for token and user calls.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.httpClient = c }
}

// WithMetadataClient sets the (usually caching) client used for provider settings.
func WithMetadataClient(c *http.Client) Option {
	return func(cl *Client) { cl.metadataClient = c }
}

// NewClient creates an identity provider client for a backend project.
func NewClient(baseURL, anonKey string, opts ...Option) (*Client, error) {
	if baseURL == "" || anonKey == "" {
		return nil, errors.New("backend URL and anon key are required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid backend URL: %w", err)
	}

	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonKey: anonKey,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.metadataClient == nil {
		c.metadataClient = c.httpClient
	}
	return c, nil
}

// BaseURL returns the backend project URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Identity is the provider's view of a user.
type Identity struct {
	ID          string
	Email       string
	DisplayName string
	AvatarURL   string
	CreatedAt   *time.Time
}

// Grant is the result of any successful token grant.
type Grant struct {
	Tokens models.TokenPair
	User   Identity
}

type providerUser struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	UserMetadata map[string]any `json:"user_metadata"`
	CreatedAt    *time.Time     `json:"created_at"`
}

func (u *providerUser) identity() Identity {
	id := Identity{ID: u.ID, Email: u.Email, CreatedAt: u.CreatedAt}
	id.DisplayName = metadataString(u.UserMetadata, "full_name", "name")
	id.AvatarURL = metadataString(u.UserMetadata, "avatar_url", "picture")
	return id
}

func metadataString(md map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := md[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

type tokenResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *providerUser `json:"user"`
}

func (c *Client) grant(tr *tokenResponse) *Grant {
	g := &Grant{
		Tokens: models.TokenPair{
			AccessToken:  tr.AccessToken,
			RefreshToken: tr.RefreshToken,
		},
	}
	switch {
	case tr.ExpiresAt > 0:
		g.Tokens.ExpiresAt = time.Unix(tr.ExpiresAt, 0)
	case tr.ExpiresIn > 0:
		g.Tokens.ExpiresAt = c.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	}
	if tr.User != nil {
		g.User = tr.User.identity()
	}
	return g
}

type response struct {
	status int
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

func (r *response) decode(out any) error {
	if err := json.Unmarshal(r.body, out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", auth.ErrBackendUnavailable, err)
	}
	return nil
}

// call performs a request. A transport failure is returned as
// auth.ErrBackendUnavailable; any HTTP status is returned in the response.
func (c *Client) call(ctx context.Context, hc *http.Client, method, path string, query url.Values, body any, accessToken string) (*response, error) {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	bearer := c.anonKey
	if accessToken != "" {
		bearer = accessToken
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", auth.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", auth.ErrBackendUnavailable, err)
	}

	return &response{status: resp.StatusCode, body: data}, nil
}
