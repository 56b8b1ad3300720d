package identity

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/models"
)

const testAnonKey = "anon-key"

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(srv.URL, testAnonKey)
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNewClient_RequiresURLAndKey(t *testing.T) {
	_, err := NewClient("", testAnonKey)
	require.Error(t, err)

	_, err = NewClient("https://x.example", "")
	require.Error(t, err)

	c, err := NewClient("https://x.example/", testAnonKey)
	require.NoError(t, err)
	assert.Equal(t, "https://x.example", c.BaseURL())
}

func TestLoginWithPassword_Success(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/auth/v1/token", r.URL.Path)
		assert.Equal(t, "password", r.URL.Query().Get("grant_type"))
		assert.Equal(t, testAnonKey, r.Header.Get("apikey"))
		assert.Equal(t, "Bearer "+testAnonKey, r.Header.Get("Authorization"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "admin@x.com", body["email"])
		assert.Equal(t, "right", body["password"])

		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "T1",
			"refresh_token": "R1",
			"expires_in":    3600,
			"user": map[string]any{
				"id":            "U1",
				"email":         "admin@x.com",
				"user_metadata": map[string]any{"full_name": "Ada Admin"},
			},
		})
	})
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c.now = func() time.Time { return now }

	g, err := c.LoginWithPassword(context.Background(), " admin@x.com ", "right")
	require.NoError(t, err)
	assert.Equal(t, "T1", g.Tokens.AccessToken)
	assert.Equal(t, "R1", g.Tokens.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), g.Tokens.ExpiresAt)
	assert.Equal(t, "U1", g.User.ID)
	assert.Equal(t, "admin@x.com", g.User.Email)
	assert.Equal(t, "Ada Admin", g.User.DisplayName)
}

func TestLoginWithPassword_ErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   error
	}{
		{
			name:   "wrong password",
			status: http.StatusBadRequest,
			body:   map[string]any{"error": "invalid_grant", "error_description": "Invalid login credentials"},
			want:   auth.ErrInvalidCredentials,
		},
		{
			name:   "unknown email is indistinguishable",
			status: http.StatusBadRequest,
			body:   map[string]any{"code": 400, "msg": "Invalid login credentials"},
			want:   auth.ErrInvalidCredentials,
		},
		{
			name:   "unconfirmed email",
			status: http.StatusBadRequest,
			body:   map[string]any{"error_code": "email_not_confirmed", "msg": "Email not confirmed"},
			want:   auth.ErrEmailUnconfirmed,
		},
		{
			name:   "rate limited by status",
			status: http.StatusTooManyRequests,
			body:   map[string]any{"msg": "slow down"},
			want:   auth.ErrRateLimited,
		},
		{
			name:   "rate limited by message",
			status: http.StatusBadRequest,
			body:   map[string]any{"msg": "Email rate limit exceeded"},
			want:   auth.ErrRateLimited,
		},
		{
			name:   "server error",
			status: http.StatusBadGateway,
			body:   map[string]any{"message": "upstream down"},
			want:   auth.ErrBackendUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			_, err := c.LoginWithPassword(context.Background(), "a@b.c", "x")
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestLoginWithPassword_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c, err := NewClient(srv.URL, testAnonKey)
	require.NoError(t, err)

	_, err = c.LoginWithPassword(context.Background(), "a@b.c", "x")
	require.ErrorIs(t, err, auth.ErrBackendUnavailable)
}

func TestRefresh(t *testing.T) {
	t.Run("rotates the pair", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "refresh_token", r.URL.Query().Get("grant_type"))
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "R1", body["refresh_token"])
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "T2",
				"refresh_token": "R2",
				"expires_at":    1900000000,
			})
		})
		g, err := c.Refresh(context.Background(), "R1")
		require.NoError(t, err)
		assert.Equal(t, "T2", g.Tokens.AccessToken)
		assert.Equal(t, "R2", g.Tokens.RefreshToken)
		assert.Equal(t, time.Unix(1900000000, 0), g.Tokens.ExpiresAt)
	})

	t.Run("rejected token is terminal", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "Refresh Token Not Found"})
		})
		_, err := c.Refresh(context.Background(), "R1")
		require.ErrorIs(t, err, auth.ErrTokenRefreshFailed)
	})

	t.Run("server error is transient", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
		_, err := c.Refresh(context.Background(), "R1")
		require.ErrorIs(t, err, auth.ErrBackendUnavailable)
		assert.False(t, errors.Is(err, auth.ErrTokenRefreshFailed))
	})

	t.Run("missing refresh token", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("no request expected")
		})
		_, err := c.Refresh(context.Background(), "")
		require.ErrorIs(t, err, auth.ErrTokenRefreshFailed)
	})
}

func TestExchangeCode(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pkce", r.URL.Query().Get("grant_type"))
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["auth_code"] != "good" {
			writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "invalid flow state"})
			return
		}
		assert.Equal(t, "verifier", body["code_verifier"])
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "T", "refresh_token": "R"})
	})

	g, err := c.ExchangeCode(context.Background(), "good", "verifier")
	require.NoError(t, err)
	assert.Equal(t, "T", g.Tokens.AccessToken)

	_, err = c.ExchangeCode(context.Background(), "bad", "verifier")
	require.ErrorIs(t, err, auth.ErrOAuthFailed)
}

func TestSignUp(t *testing.T) {
	t.Run("autoconfirmed returns tokens", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/auth/v1/signup", r.URL.Path)
			var body struct {
				Email string            `json:"email"`
				Data  map[string]string `json:"data"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "new@x.com", body.Email)
			assert.Equal(t, "client", body.Data["role"])
			assert.Equal(t, "Nuovo Cliente", body.Data["full_name"])
			assert.Equal(t, "la-poltrona", body.Data["shop_slug"])

			writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "T",
				"refresh_token": "R",
				"user":          map[string]any{"id": "U9", "email": "new@x.com"},
			})
		})

		res, err := c.SignUp(context.Background(), SignUpRequest{
			Email:    "new@x.com",
			Password: "secret123",
			FullName: "Nuovo Cliente",
			ShopSlug: "la-poltrona",
			Role:     models.RoleClient,
		})
		require.NoError(t, err)
		assert.Equal(t, "U9", res.User.ID)
		require.NotNil(t, res.Tokens)
		assert.Equal(t, "T", res.Tokens.AccessToken)
	})

	t.Run("confirmation required returns bare user", func(t *testing.T) {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "U10", "email": "wait@x.com"})
		})
		res, err := c.SignUp(context.Background(), SignUpRequest{Email: "wait@x.com", Password: "secret123", Role: models.RoleClient})
		require.NoError(t, err)
		assert.Equal(t, "U10", res.User.ID)
		assert.Nil(t, res.Tokens)
	})

	t.Run("classified failures", func(t *testing.T) {
		tests := []struct {
			body map[string]any
			want error
		}{
			{map[string]any{"code": 422, "error_code": "user_already_exists", "msg": "User already registered"}, auth.ErrUserAlreadyRegistered},
			{map[string]any{"code": 422, "error_code": "weak_password", "msg": "Password should be at least 6 characters"}, auth.ErrWeakPassword},
		}
		for _, tt := range tests {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, http.StatusUnprocessableEntity, tt.body)
			})
			_, err := c.SignUp(context.Background(), SignUpRequest{Email: "a@b.c", Password: "x"})
			require.ErrorIs(t, err, tt.want)
		}
	})
}

func TestGetUser(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			writeJSON(w, http.StatusOK, map[string]any{
				"id":            "U1",
				"email":         "a@b.c",
				"user_metadata": map[string]any{"name": "Alt Name", "picture": "https://img"},
			})
		case "Bearer revoked":
			writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	})

	u, err := c.GetUser(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "U1", u.ID)
	assert.Equal(t, "Alt Name", u.DisplayName)
	assert.Equal(t, "https://img", u.AvatarURL)

	_, err = c.GetUser(context.Background(), "revoked")
	require.ErrorIs(t, err, ErrTokenRejected)

	_, err = c.GetUser(context.Background(), "other")
	require.ErrorIs(t, err, auth.ErrBackendUnavailable)
	assert.False(t, errors.Is(err, ErrTokenRejected))
}

func TestRecoveryFlow(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/v1/recover":
			assert.Equal(t, "https://app/reset", r.URL.Query().Get("redirect_to"))
			writeJSON(w, http.StatusOK, map[string]any{})
		case "/auth/v1/verify":
			var body map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "recovery", body["type"])
			if body["token"] != "123456" {
				writeJSON(w, http.StatusForbidden, map[string]any{"msg": "Token has expired or is invalid"})
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"access_token": "TR", "refresh_token": "RR"})
		case "/auth/v1/user":
			assert.Equal(t, http.MethodPut, r.Method)
			assert.Equal(t, "Bearer TR", r.Header.Get("Authorization"))
			writeJSON(w, http.StatusOK, map[string]any{"id": "U1"})
		}
	})

	ctx := context.Background()
	require.NoError(t, c.Recover(ctx, "a@b.c", "https://app/reset"))

	_, err := c.VerifyRecovery(ctx, "a@b.c", "000000")
	require.ErrorIs(t, err, auth.ErrInvalidRecoveryToken)

	g, err := c.VerifyRecovery(ctx, "a@b.c", "123456")
	require.NoError(t, err)
	assert.Equal(t, "TR", g.Tokens.AccessToken)

	require.NoError(t, c.UpdatePassword(ctx, g.Tokens.AccessToken, "new-secret"))
}

func TestSettings(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/auth/v1/settings", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"external":       map[string]bool{"google": true, "github": false},
			"disable_signup": false,
		})
	})

	s, err := c.Settings(context.Background())
	require.NoError(t, err)
	assert.True(t, s.ProviderEnabled("Google"))
	assert.False(t, s.ProviderEnabled("github"))
	assert.False(t, s.ProviderEnabled("apple"))
}
