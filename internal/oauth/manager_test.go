package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/brandon/mailcore/pkg/types"
)

type memStore struct {
	mu    sync.Mutex
	creds map[string]types.Credential
	saves int
}

func newMemStore() *memStore {
	return &memStore{creds: make(map[string]types.Credential)}
}

func (s *memStore) LoadCredential(_ context.Context, id string) (*types.Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.creds[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (s *memStore) SaveCredential(_ context.Context, id string, c *types.Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[id] = *c
	s.saves++
	return nil
}

func (s *memStore) DeleteCredential(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.creds, id)
	return nil
}

type tokenServer struct {
	*httptest.Server
	hits  int32
	forms chan url.Values
}

func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, form url.Values)) *tokenServer {
	t.Helper()
	ts := &tokenServer{forms: make(chan url.Values, 64)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.hits, 1)
		require.NoError(t, r.ParseForm())
		ts.forms <- r.PostForm
		handler(w, r.PostForm)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func newTestManager(t *testing.T, tokenURL string, store CredentialStore) *Manager {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	providers := map[string]Provider{
		"test": {
			Name:         "test",
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			RedirectURL:  "http://localhost/callback",
			Endpoint:     oauth2.Endpoint{AuthURL: "https://auth.example.com/authorize", TokenURL: tokenURL},
		},
	}
	return NewManager(providers, store, nil, logger)
}

func TestGetValidTokenReturnsFreshTokenWithoutNetwork(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, 200, map[string]any{"access_token": "new", "expires_in": 3600})
	})
	store := newMemStore()
	m := newTestManager(t, ts.URL, store)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:     "test",
		AccessToken:  "cached",
		RefreshToken: "r1",
		ExpiresAt:    now.Add(10 * time.Minute).UnixMilli(),
	}))

	tok, err := m.GetValidToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "cached", tok)
	assert.Zero(t, atomic.LoadInt32(&ts.hits))
}

func TestGetValidTokenRefreshesInsideBuffer(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, 200, map[string]any{"access_token": "new", "expires_in": 3600, "token_type": "Bearer"})
	})
	store := newMemStore()
	m := newTestManager(t, ts.URL, store)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:     "test",
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    now.Add(4 * time.Minute).UnixMilli(),
	}))

	tok, err := m.GetValidToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "new", tok)

	form := <-ts.forms
	assert.Equal(t, "refresh_token", form.Get("grant_type"))
	assert.Equal(t, "r1", form.Get("refresh_token"))
	assert.Equal(t, "client-id", form.Get("client_id"))
	assert.Equal(t, "client-secret", form.Get("client_secret"))

	saved, err := store.LoadCredential(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "new", saved.AccessToken)
	assert.Equal(t, "r1", saved.RefreshToken, "refresh token kept when the response omits it")
}

func TestGetValidTokenStaticCredential(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, "http://127.0.0.1:1/token", store)
	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{Provider: "test", AccessToken: "app-password"}))

	tok, err := m.GetValidToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "app-password", tok)
}

func TestGetValidTokenExpiredWithoutRefreshToken(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, "http://127.0.0.1:1/token", store)
	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:    "test",
		AccessToken: "old",
		ExpiresAt:   time.Now().Add(-time.Hour).UnixMilli(),
	}))

	_, err := m.GetValidToken(context.Background(), "acct")
	require.Error(t, err)
	assert.True(t, IsReauthRequired(err))

	// still outside the buffer, so handed out as is
	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:    "test",
		AccessToken: "short-lived",
		ExpiresAt:   time.Now().Add(time.Hour).UnixMilli(),
	}))
	tok, err := m.GetValidToken(context.Background(), "acct")
	require.NoError(t, err)
	assert.Equal(t, "short-lived", tok)
}

func TestGetValidTokenUnknownAccount(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/token", newMemStore())
	_, err := m.GetValidToken(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestGetValidTokenSingleFlight(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		time.Sleep(100 * time.Millisecond)
		writeJSON(w, 200, map[string]any{"access_token": "shared", "expires_in": 3600})
	})
	m := newTestManager(t, ts.URL, newMemStore())
	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:     "test",
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}))

	const callers = 10
	var (
		wg     sync.WaitGroup
		start  = make(chan struct{})
		tokens = make([]string, callers)
		errs   = make([]error, callers)
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			tokens[i], errs[i] = m.GetValidToken(context.Background(), "acct")
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "shared", tokens[i])
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&ts.hits))
}

func TestGetValidTokenInvalidGrant(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, 400, map[string]any{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
	})
	m := newTestManager(t, ts.URL, newMemStore())
	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:     "test",
		AccessToken:  "stale",
		RefreshToken: "revoked",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}))

	_, err := m.GetValidToken(context.Background(), "acct")
	require.Error(t, err)

	var ce *CredentialError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReauthRequired, ce.Kind)
	assert.Equal(t, "invalid_grant", ce.Reason)
	assert.False(t, ce.Retryable())
}

func TestGetValidTokenServerErrorIsRetryable(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, 503, map[string]any{"error": "temporarily_unavailable"})
	})
	m := newTestManager(t, ts.URL, newMemStore())
	require.NoError(t, m.Register(context.Background(), "acct", &types.Credential{
		Provider:     "test",
		AccessToken:  "stale",
		RefreshToken: "r1",
		ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
	}))

	_, err := m.GetValidToken(context.Background(), "acct")
	require.Error(t, err)
	assert.True(t, IsRefreshFailed(err))
}

// routeRecorder notes which route carried each token request
type routeRecorder struct {
	mu     sync.Mutex
	routes []string
}

func (r *routeRecorder) client(route string) *http.Client {
	return &http.Client{Transport: roundTripFunc(func(req *http.Request) (*http.Response, error) {
		r.mu.Lock()
		r.routes = append(r.routes, route)
		r.mu.Unlock()
		return http.DefaultTransport.RoundTrip(req)
	})}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestRefreshResolvesClientPerAccount(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		writeJSON(w, 200, map[string]any{"access_token": "new-" + form.Get("refresh_token"), "expires_in": 60})
	})
	m := newTestManager(t, ts.URL, newMemStore())

	rec := &routeRecorder{}
	var global atomic.Value
	global.Store("direct")
	m.SetHTTPClientFunc(func(accountID string) *http.Client {
		if accountID == "own-proxy" {
			return rec.client("socks-own")
		}
		return rec.client(global.Load().(string))
	})

	for _, id := range []string{"own-proxy", "shared"} {
		require.NoError(t, m.Register(context.Background(), id, &types.Credential{
			Provider:     "test",
			AccessToken:  "old",
			RefreshToken: "r-" + id,
			ExpiresAt:    time.Now().Add(-time.Minute).UnixMilli(),
		}))
	}

	tok, err := m.GetValidToken(context.Background(), "own-proxy")
	require.NoError(t, err)
	assert.Equal(t, "new-r-own-proxy", tok)

	// a proxy change after startup applies to the next refresh
	global.Store("http-global")
	tok, err = m.GetValidToken(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, "new-r-shared", tok)

	// 60s tokens sit inside the expiry buffer, so every call refreshes
	m.SetHTTPClientFunc(func(string) *http.Client { return nil })
	_, err = m.GetValidToken(context.Background(), "shared")
	require.NoError(t, err)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{"socks-own", "http-global"}, rec.routes)
	assert.EqualValues(t, 3, atomic.LoadInt32(&ts.hits))
}

func TestExchangeCode(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, form url.Values) {
		if form.Get("code") != "good-code" {
			writeJSON(w, 400, map[string]any{"error": "invalid_grant", "error_description": "Malformed auth code."})
			return
		}
		writeJSON(w, 200, map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"expires_in":    3600,
			"scope":         "mail",
		})
	})
	m := newTestManager(t, ts.URL, newMemStore())

	cred, err := m.ExchangeCode(context.Background(), "acct", "test", "good-code")
	require.NoError(t, err)
	assert.Equal(t, "at", cred.AccessToken)
	assert.Equal(t, "rt", cred.RefreshToken)
	assert.Equal(t, "mail", cred.Scope)
	assert.Equal(t, "test", cred.Provider)
	assert.True(t, cred.Expiry().After(time.Now().Add(50*time.Minute)))

	form := <-ts.forms
	assert.Equal(t, "authorization_code", form.Get("grant_type"))
	assert.Equal(t, "http://localhost/callback", form.Get("redirect_uri"))

	_, err = m.ExchangeCode(context.Background(), "acct", "test", "bad-code")
	require.Error(t, err)
	var ce *CredentialError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, ReauthRequired, ce.Kind)
	assert.Equal(t, "Malformed auth code.", ce.Reason)
}

func TestAuthURLAndState(t *testing.T) {
	m := newTestManager(t, "http://127.0.0.1:1/token", newMemStore())
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	raw, state, err := m.AuthURL("test", "user@example.com")
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, state, q.Get("state"))
	assert.Equal(t, "offline", q.Get("access_type"))
	assert.Equal(t, "consent", q.Get("prompt"))
	assert.Equal(t, "client-id", q.Get("client_id"))

	assert.NoError(t, m.ValidateState(state, "user@example.com"))
	assert.Error(t, m.ValidateState(state, "other@example.com"))

	m.now = func() time.Time { return now.Add(StateTTL + time.Second) }
	assert.Error(t, m.ValidateState(state, "user@example.com"))
}
