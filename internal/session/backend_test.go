package session

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/stretchr/testify/require"

	"github.com/poltrona/poltrona/internal/config"
	"github.com/poltrona/poltrona/internal/identity"
	"github.com/poltrona/poltrona/internal/profile"
	"github.com/poltrona/poltrona/internal/store"
	"github.com/poltrona/poltrona/internal/store/file"
	"github.com/poltrona/poltrona/internal/store/memory"
)

type refreshMode int

const (
	refreshRotate refreshMode = iota
	refreshReject
	refreshDown
)

type tokenUser struct {
	ID    string
	Email string
	Name  string
}

// fakeBackend serves the identity and REST endpoints the manager talks to.
type fakeBackend struct {
	t   *testing.T
	srv *httptest.Server

	mu          sync.Mutex
	refreshMode refreshMode
	refreshSeen []string
	refreshGate chan struct{}
	refreshHit  chan struct{}
	probeStatus int
	users       map[string]tokenUser
	profiles    map[string]map[string]any
	staff       map[string]map[string]any
	signups     []map[string]any
	created     []map[string]any
	passwords   []string
}

func newFakeBackend(t *testing.T) *fakeBackend {
	t.Helper()
	b := &fakeBackend{
		t:           t,
		probeStatus: http.StatusOK,
		users: map[string]tokenUser{
			"T1": {ID: "U1", Email: "admin@x.com"},
		},
		profiles: map[string]map[string]any{
			"U1": {"user_id": "U1", "role": "admin", "shop_id": "S1", "is_platform_admin": false},
		},
		staff: map[string]map[string]any{},
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBackend) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (b *fakeBackend) decode(r *http.Request) map[string]any {
	var body map[string]any
	require.NoError(b.t, json.NewDecoder(r.Body).Decode(&body))
	return body
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/auth/v1/token":
		b.token(w, r)
	case r.URL.Path == "/auth/v1/signup":
		b.signup(w, r)
	case r.URL.Path == "/auth/v1/user" && r.Method == http.MethodGet:
		b.user(w, r)
	case r.URL.Path == "/auth/v1/user" && r.Method == http.MethodPut:
		body := b.decode(r)
		b.mu.Lock()
		b.passwords = append(b.passwords, body["password"].(string))
		b.mu.Unlock()
		b.writeJSON(w, http.StatusOK, map[string]any{"id": "U1"})
	case r.URL.Path == "/auth/v1/verify":
		body := b.decode(r)
		if body["token"] != "123456" {
			b.writeJSON(w, http.StatusForbidden, map[string]any{"msg": "Token has expired or is invalid"})
			return
		}
		b.writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "T1", "refresh_token": "R1",
			"user": map[string]any{"id": "U1", "email": "admin@x.com"},
		})
	case r.URL.Path == "/auth/v1/recover":
		b.writeJSON(w, http.StatusOK, map[string]any{})
	case r.URL.Path == "/rest/v1/profiles":
		b.profilesTable(w, r)
	case r.URL.Path == "/rest/v1/staff":
		email := strings.TrimPrefix(r.URL.Query().Get("email"), "eq.")
		b.mu.Lock()
		row, ok := b.staff[email]
		b.mu.Unlock()
		if !ok {
			b.writeJSON(w, http.StatusOK, []any{})
			return
		}
		b.writeJSON(w, http.StatusOK, []any{row})
	default:
		http.NotFound(w, r)
	}
}

func (b *fakeBackend) token(w http.ResponseWriter, r *http.Request) {
	body := b.decode(r)

	switch r.URL.Query().Get("grant_type") {
	case "password":
		if body["email"] == "admin@x.com" && body["password"] == "right" {
			b.writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  "T1",
				"refresh_token": "R1",
				"expires_in":    3600,
				"user":          map[string]any{"id": "U1", "email": "admin@x.com"},
			})
			return
		}
		b.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})

	case "refresh_token":
		b.mu.Lock()
		b.refreshSeen = append(b.refreshSeen, body["refresh_token"].(string))
		n := len(b.refreshSeen)
		mode := b.refreshMode
		gate, hit := b.refreshGate, b.refreshHit
		b.mu.Unlock()

		if hit != nil {
			select {
			case hit <- struct{}{}:
			default:
			}
		}
		if gate != nil {
			<-gate
		}

		switch mode {
		case refreshReject:
			b.writeJSON(w, http.StatusBadRequest, map[string]any{
				"error":             "invalid_grant",
				"error_description": "Invalid Refresh Token: Already Used",
			})
		case refreshDown:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			access := fmt.Sprintf("T%d", n+1)
			b.mu.Lock()
			b.users[access] = tokenUser{ID: "U1", Email: "admin@x.com"}
			b.mu.Unlock()
			b.writeJSON(w, http.StatusOK, map[string]any{
				"access_token":  access,
				"refresh_token": fmt.Sprintf("R%d", n+1),
				"expires_in":    3600,
				"user":          map[string]any{"id": "U1", "email": "admin@x.com"},
			})
		}

	case "pkce":
		if body["auth_code"] != "abc" || body["code_verifier"] != "verifier" {
			b.writeJSON(w, http.StatusBadRequest, map[string]any{"msg": "invalid flow state"})
			return
		}
		b.writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "T1",
			"refresh_token": "R1",
			"user":          map[string]any{"id": "U1", "email": "admin@x.com"},
		})
	}
}

func (b *fakeBackend) signup(w http.ResponseWriter, r *http.Request) {
	body := b.decode(r)
	email := body["email"].(string)
	id := "U-" + strings.Split(email, "@")[0]
	access := "T-" + id

	b.mu.Lock()
	b.signups = append(b.signups, body)
	b.users[access] = tokenUser{ID: id, Email: email}
	b.mu.Unlock()

	b.writeJSON(w, http.StatusOK, map[string]any{
		"access_token":  access,
		"refresh_token": "R-" + id,
		"user":          map[string]any{"id": id, "email": email},
	})
}

func (b *fakeBackend) user(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")

	b.mu.Lock()
	status := b.probeStatus
	u, ok := b.users[token]
	b.mu.Unlock()

	if status != http.StatusOK {
		b.writeJSON(w, status, map[string]any{"msg": "invalid JWT"})
		return
	}
	if !ok {
		b.writeJSON(w, http.StatusUnauthorized, map[string]any{"msg": "invalid JWT"})
		return
	}
	b.writeJSON(w, http.StatusOK, map[string]any{
		"id":            u.ID,
		"email":         u.Email,
		"user_metadata": map[string]any{"full_name": u.Name},
	})
}

func (b *fakeBackend) profilesTable(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Query().Get("user_id"), "eq.")

	b.mu.Lock()
	defer b.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		row, ok := b.profiles[userID]
		if !ok {
			b.writeJSON(w, http.StatusOK, []any{})
			return
		}
		b.writeJSON(w, http.StatusOK, []any{row})
	case http.MethodPost:
		body := b.decode(r)
		b.created = append(b.created, body)
		b.profiles[body["user_id"].(string)] = body
		b.writeJSON(w, http.StatusCreated, []any{body})
	case http.MethodPatch:
		body := b.decode(r)
		row, ok := b.profiles[userID]
		if !ok {
			b.writeJSON(w, http.StatusOK, []any{})
			return
		}
		for k, v := range body {
			row[k] = v
		}
		b.writeJSON(w, http.StatusOK, []any{row})
	}
}

func (b *fakeBackend) setProfile(userID string, row map[string]any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.profiles[userID] = row
}

func (b *fakeBackend) setRefreshMode(mode refreshMode) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refreshMode = mode
}

func (b *fakeBackend) setProbeStatus(status int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probeStatus = status
}

func (b *fakeBackend) refreshes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.refreshSeen...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	backend *fakeBackend
	durable *file.KV
	tab     *memory.KV
	store   *store.SessionStore
	clock   *testClock
	manager *Manager
}

func testSessionConfig() config.SessionConfig {
	return config.SessionConfig{
		RefreshInterval: 50 * time.Minute,
		ActivityWindow:  30 * time.Minute,
		RefreshAttempts: 3,
		RememberDefault: true,
	}
}

func newHarness(t *testing.T, cfg config.SessionConfig) *harness {
	t.Helper()

	b := newFakeBackend(t)

	durable, err := file.NewKV(t.TempDir(), b.srv.URL)
	require.NoError(t, err)
	tab := memory.NewKV()
	sessions := store.NewSessionStore(durable, tab)

	h := &harness{
		backend: b,
		durable: durable,
		tab:     tab,
		store:   sessions,
		clock:   newTestClock(),
	}
	h.manager = h.newManager(t, cfg)
	return h
}

// newManager builds a manager over the harness storage, as a fresh process would.
func (h *harness) newManager(t *testing.T, cfg config.SessionConfig) *Manager {
	t.Helper()

	ic, err := identity.NewClient(h.backend.srv.URL, "anon", identity.WithHTTPClient(h.backend.srv.Client()))
	require.NoError(t, err)
	reconciler := profile.NewReconciler(profile.NewClient(h.backend.srv.URL, "anon", h.backend.srv.Client()))

	return NewManager(cfg, ic, reconciler, h.store,
		WithOAuthErrors(store.NewOAuthErrors(h.durable)),
		WithClock(h.clock.Now),
		WithBackOff(func() backoff.BackOff { return &backoff.ZeroBackOff{} }),
	)
}

func (h *harness) durableValue(t *testing.T, key string) string {
	t.Helper()
	v, err := h.durable.Get(key)
	require.NoError(t, err, "durable key %s", key)
	return v
}
