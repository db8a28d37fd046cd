package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAPI issues "access-N" tokens and accepts only the latest one.
type fakeAPI struct {
	mu           sync.Mutex
	generation   int
	refreshCalls atomic.Int32
	logoutCalls  atomic.Int32
	rejectAll    bool
	failRefresh  bool
}

func (f *fakeAPI) current() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return "access-" + string(rune('0'+f.generation))
}

func (f *fakeAPI) rotate() Tokens {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.generation++
	return Tokens{AccessToken: "access-" + string(rune('0'+f.generation)), RefreshToken: "refresh"}
}

func (f *fakeAPI) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["username"] != "agent" || body["password"] != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(f.rotate())
	})
	mux.HandleFunc("POST /auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if f.failRefresh || body["refresh_token"] != "refresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(f.rotate())
	})
	mux.HandleFunc("POST /auth/logout", func(w http.ResponseWriter, r *http.Request) {
		f.logoutCalls.Add(1)
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /alerts", func(w http.ResponseWriter, r *http.Request) {
		if f.rejectAll || r.Header.Get("Authorization") != "Bearer "+f.current() {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.URL.Query().Get("page") == "2" {
			_, _ = w.Write([]byte(`{"alerts":[],"next_page":0}`))
			return
		}
		_, _ = w.Write([]byte(`{"alerts":[
			{"id":1,"content":"Hi","guest_id":42,"notification":{"label":"System","color":"#fff"},"created_at":"2024-01-01T00:00:00Z","read":false},
			{"id":2,"content":"Bye","guest_id":"g-7","notification":null,"created_at":"2024-01-01T00:01:00Z","read":true}
		],"next_page":2}`))
	})
	mux.HandleFunc("GET /broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	return mux
}

func newTestClient(t *testing.T) (*Client, *fakeAPI) {
	t.Helper()
	api := &fakeAPI{}
	srv := httptest.NewServer(api.handler(t))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL+"/", srv.Client()), api
}

func TestLoginStoresTokens(t *testing.T) {
	c, _ := newTestClient(t)
	tok, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)
	assert.Equal(t, "access-1", tok.AccessToken)
	assert.Equal(t, "access-1", c.AccessToken())
}

func TestLoginRejected(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "wrong")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Status)
	assert.Equal(t, "bad credentials", apiErr.Body)
	assert.Empty(t, c.AccessToken())
}

func TestListAlertsDecodesPage(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)

	page, err := c.ListAlerts(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, page.Alerts, 2)
	assert.Equal(t, 2, page.NextPage)

	first := page.Alerts[0].Alert()
	assert.Equal(t, "Hi", first.Content)
	assert.Equal(t, "42", first.GuestID)
	require.NotNil(t, first.Notification)
	assert.Equal(t, "#fff", first.Notification.Color)

	second := page.Alerts[1]
	assert.Equal(t, GuestID("g-7"), second.GuestID)
	assert.Nil(t, second.Notification)
	assert.True(t, second.Read)

	last, err := c.ListAlerts(context.Background(), 2)
	require.NoError(t, err)
	assert.Empty(t, last.Alerts)
	assert.Zero(t, last.NextPage)
}

func TestExpiredTokenRefreshesOnce(t *testing.T) {
	c, api := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)

	var seen Tokens
	c.OnRefresh(func(tok Tokens) { seen = tok })

	// server side rotation makes the stored token stale
	api.rotate()

	_, err = c.ListAlerts(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
	assert.Equal(t, "access-3", c.AccessToken())
	assert.Equal(t, "access-3", seen.AccessToken)
}

func TestSecondUnauthorizedGivesUp(t *testing.T) {
	c, api := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)
	api.rejectAll = true

	_, err = c.ListAlerts(context.Background(), 1)
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, int32(1), api.refreshCalls.Load())
}

func TestRefreshRejected(t *testing.T) {
	c, api := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)
	api.failRefresh = true

	_, err = c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthorizedWithoutLogin(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.ListAlerts(context.Background(), 1)
	require.ErrorIs(t, err, ErrNoSession)
	_, err = c.Refresh(context.Background())
	require.ErrorIs(t, err, ErrNoSession)
}

func TestLogoutForgetsTokens(t *testing.T) {
	c, api := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)

	require.NoError(t, c.Logout(context.Background()))
	assert.Empty(t, c.AccessToken())
	assert.Equal(t, int32(1), api.logoutCalls.Load())

	// second logout is a local no-op
	require.NoError(t, c.Logout(context.Background()))
	assert.Equal(t, int32(1), api.logoutCalls.Load())
}

func TestServerErrorBecomesAPIError(t *testing.T) {
	c, _ := newTestClient(t)
	_, err := c.Login(context.Background(), "agent", "secret")
	require.NoError(t, err)

	err = c.authorized(context.Background(), http.MethodGet, "/broken", nil, nil)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.Status)
	assert.Contains(t, apiErr.Error(), "boom")
}
