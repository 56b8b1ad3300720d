package profile

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

// ErrNotFound is returned when no profile row exists for an identity.
var ErrNotFound = errors.New("profile not found")

// Profile is a row of the profiles table. Pointer fields distinguish a
// column the backend left null from a real value.
type Profile struct {
	UserID          string      `json:"user_id"`
	Email           string      `json:"email,omitempty"`
	FullName        *string     `json:"full_name,omitempty"`
	Role            models.Role `json:"role,omitempty"`
	ShopID          *string     `json:"shop_id,omitempty"`
	IsPlatformAdmin *bool       `json:"is_platform_admin,omitempty"`
	CreatedAt       *time.Time  `json:"created_at,omitempty"`
}

// Client reads and writes the profiles and staff tables through the REST API.
type Client struct {
	baseURL    string
	anonKey    string
	httpClient *http.Client
}

// NewClient creates a profile REST client.
func NewClient(baseURL, anonKey string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		anonKey:    anonKey,
		httpClient: httpClient,
	}
}

// Get fetches the profile row for userID.
func (c *Client) Get(ctx context.Context, accessToken, userID string) (*Profile, error) {
	q := url.Values{
		"user_id": {"eq." + userID},
		"select":  {"*"},
	}
	var rows []Profile
	if err := c.do(ctx, http.MethodGet, "/rest/v1/profiles", q, nil, accessToken, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// Create inserts a profile row and returns the stored representation.
func (c *Client) Create(ctx context.Context, accessToken string, p *Profile) (*Profile, error) {
	var rows []Profile
	if err := c.do(ctx, http.MethodPost, "/rest/v1/profiles", nil, p, accessToken, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return p, nil
	}
	return &rows[0], nil
}

// UpdateShop binds the profile of userID to a tenant.
func (c *Client) UpdateShop(ctx context.Context, accessToken, userID, shopID string) (*Profile, error) {
	q := url.Values{"user_id": {"eq." + userID}}
	body := map[string]string{"shop_id": shopID}

	var rows []Profile
	if err := c.do(ctx, http.MethodPatch, "/rest/v1/profiles", q, body, accessToken, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

// FindStaffLink returns the staff record created for email, or nil if the
// email was never invited as staff.
func (c *Client) FindStaffLink(ctx context.Context, accessToken, email string) (*models.StaffLink, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	q := url.Values{
		"email":  {"eq." + email},
		"select": {"id,shop_id,user_id,email"},
		"limit":  {"1"},
	}
	var rows []models.StaffLink
	if err := c.do(ctx, http.MethodGet, "/rest/v1/staff", q, nil, accessToken, &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any, accessToken string, out any) error {
	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=representation")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w: %v", auth.ErrProfileFetchFailed, auth.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: failed to read response: %v", auth.ErrProfileFetchFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s %s: HTTP %d: %s", auth.ErrProfileFetchFailed, method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: invalid response: %v", auth.ErrProfileFetchFailed, err)
	}
	return nil
}
