package profile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poltrona/poltrona/internal/auth"
	"github.com/poltrona/poltrona/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", "anon", srv.Client())
}

func TestClient_Get(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/profiles", r.URL.Path)
		assert.Equal(t, "*", r.URL.Query().Get("select"))
		assert.Equal(t, "anon", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))

		switch r.URL.Query().Get("user_id") {
		case "eq.U1":
			_, _ = w.Write([]byte(`[{"user_id":"U1","role":"admin","shop_id":"S1","is_platform_admin":false,"full_name":"Ada"}]`))
		default:
			_, _ = w.Write([]byte(`[]`))
		}
	})

	p, err := c.Get(context.Background(), "T1", "U1")
	require.NoError(t, err)
	assert.Equal(t, models.RoleAdmin, p.Role)
	require.NotNil(t, p.ShopID)
	assert.Equal(t, "S1", *p.ShopID)
	require.NotNil(t, p.IsPlatformAdmin)
	assert.False(t, *p.IsPlatformAdmin)

	_, err = c.Get(context.Background(), "T1", "U2")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestClient_GetFailure(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"JWT expired"}`, http.StatusUnauthorized)
	})

	_, err := c.Get(context.Background(), "T1", "U1")
	require.ErrorIs(t, err, auth.ErrProfileFetchFailed)
}

func TestClient_CreateAndUpdateShop(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		switch r.Method {
		case http.MethodPost:
			assert.Equal(t, "U1", body["user_id"])
			assert.Equal(t, "client", body["role"])
			_, _ = w.Write([]byte(`[{"user_id":"U1","role":"client"}]`))
		case http.MethodPatch:
			assert.Equal(t, "eq.U1", r.URL.Query().Get("user_id"))
			assert.Equal(t, "S9", body["shop_id"])
			_, _ = w.Write([]byte(`[{"user_id":"U1","role":"admin","shop_id":"S9"}]`))
		}
	})

	created, err := c.Create(context.Background(), "T1", &Profile{UserID: "U1", Role: models.RoleClient})
	require.NoError(t, err)
	assert.Equal(t, models.RoleClient, created.Role)

	updated, err := c.UpdateShop(context.Background(), "T1", "U1", "S9")
	require.NoError(t, err)
	assert.Equal(t, "S9", *updated.ShopID)
}

func TestClient_FindStaffLink(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/staff", r.URL.Path)
		if r.URL.Query().Get("email") == "eq.barber@x.com" {
			_, _ = w.Write([]byte(`[{"id":"ST1","shop_id":"S1","user_id":null,"email":"barber@x.com"}]`))
			return
		}
		_, _ = w.Write([]byte(`[]`))
	})

	link, err := c.FindStaffLink(context.Background(), "T", " Barber@X.com ")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, "ST1", link.ID)
	assert.Nil(t, link.UserID)

	link, err = c.FindStaffLink(context.Background(), "T", "client@x.com")
	require.NoError(t, err)
	assert.Nil(t, link)

	link, err = c.FindStaffLink(context.Background(), "T", "")
	require.NoError(t, err)
	assert.Nil(t, link)
}
