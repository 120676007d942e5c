// Package oauth owns OAuth2 credential state: validity checks, refresh,
// code exchange and persistence.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/brandon/mailcore/pkg/types"
)

// ExpiryBuffer is how long before expiry a token is treated as expired
const ExpiryBuffer = 5 * time.Minute

const (
	refreshTimeout = 30 * time.Second
	defaultTTL     = time.Hour
)

// CredentialStore persists credentials. LoadCredential returns (nil, nil)
// when nothing is stored for the account.
type CredentialStore interface {
	LoadCredential(ctx context.Context, accountID string) (*types.Credential, error)
	SaveCredential(ctx context.Context, accountID string, cred *types.Credential) error
	DeleteCredential(ctx context.Context, accountID string) error
}

// ErrNoCredential is returned when an account has never been granted
var ErrNoCredential = errors.New("oauth: no credential for account")

// HTTPClientFunc returns the client for one account's token endpoint
// traffic, resolved on every exchange or refresh
type HTTPClientFunc func(accountID string) *http.Client

// Manager hands out valid access tokens, refreshing at most once
// concurrently per account.
type Manager struct {
	providers  map[string]Provider
	store      CredentialStore
	httpClient *http.Client
	clientFor  HTTPClientFunc
	logger     *logrus.Logger
	now        func() time.Time

	mu    sync.Mutex
	creds map[string]*types.Credential
	group singleflight.Group
}

// NewManager creates a credential manager. httpClient carries token
// endpoint traffic and may route through a proxy tunnel.
func NewManager(providers map[string]Provider, store CredentialStore, httpClient *http.Client, logger *logrus.Logger) *Manager {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Manager{
		providers:  providers,
		store:      store,
		httpClient: httpClient,
		logger:     logger,
		now:        time.Now,
		creds:      make(map[string]*types.Credential),
	}
}

// SetHTTPClientFunc makes token traffic follow each account's current
// proxy settings. A nil result from fn falls back to the manager's client.
func (m *Manager) SetHTTPClientFunc(fn HTTPClientFunc) {
	m.mu.Lock()
	m.clientFor = fn
	m.mu.Unlock()
}

// Provider returns the named provider
func (m *Manager) Provider(name string) (Provider, bool) {
	p, ok := m.providers[name]
	return p, ok
}

// Register installs a freshly granted credential for an account
func (m *Manager) Register(ctx context.Context, accountID string, cred *types.Credential) error {
	c := *cred
	m.mu.Lock()
	m.creds[accountID] = &c
	m.mu.Unlock()
	return m.store.SaveCredential(ctx, accountID, &c)
}

// Forget drops the credential when its account is removed
func (m *Manager) Forget(ctx context.Context, accountID string) error {
	m.mu.Lock()
	delete(m.creds, accountID)
	m.mu.Unlock()
	return m.store.DeleteCredential(ctx, accountID)
}

// Credential returns a copy of the account's current credential
func (m *Manager) Credential(ctx context.Context, accountID string) (types.Credential, error) {
	cred, err := m.current(ctx, accountID)
	if err != nil {
		return types.Credential{}, err
	}
	return *cred, nil
}

// GetValidToken returns an access token valid for at least ExpiryBuffer.
// Static credentials (no refresh token, no expiry) are returned unchanged.
func (m *Manager) GetValidToken(ctx context.Context, accountID string) (string, error) {
	cred, err := m.current(ctx, accountID)
	if err != nil {
		return "", err
	}
	if m.usable(cred) {
		return cred.AccessToken, nil
	}
	if !cred.Refreshable() {
		return "", &CredentialError{Kind: ReauthRequired, Reason: "missing_refresh_token"}
	}

	// The flight outlives any single caller's cancellation
	flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	v, err, shared := m.group.Do(accountID, func() (any, error) {
		return m.refresh(flightCtx, accountID)
	})
	if err != nil {
		return "", err
	}
	if shared {
		m.logger.WithField("account", accountID).Debug("Joined in-flight token refresh")
	}
	return v.(*types.Credential).AccessToken, nil
}

// ExchangeCode performs the authorization-code grant for accountID
func (m *Manager) ExchangeCode(ctx context.Context, accountID, providerName, code string) (*types.Credential, error) {
	p, ok := m.providers[providerName]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider %q", providerName)
	}

	tok, err := p.config().Exchange(m.withHTTPClient(ctx, accountID), code)
	if err != nil {
		var re *oauth2.RetrieveError
		if errors.As(err, &re) {
			return nil, &CredentialError{Kind: ReauthRequired, Reason: retrieveErrorText(re), Err: err}
		}
		return nil, &CredentialError{Kind: RefreshFailed, Err: err}
	}

	return credentialFromToken(providerName, tok, nil, m.now()), nil
}

func (m *Manager) current(ctx context.Context, accountID string) (*types.Credential, error) {
	m.mu.Lock()
	cred, ok := m.creds[accountID]
	m.mu.Unlock()
	if ok {
		return cred, nil
	}

	cred, err := m.store.LoadCredential(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to load credential: %w", err)
	}
	if cred == nil {
		return nil, ErrNoCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.creds[accountID]; ok {
		return existing, nil
	}
	m.creds[accountID] = cred
	return cred, nil
}

// usable reports whether cred can be handed out without a refresh
func (m *Manager) usable(cred *types.Credential) bool {
	if !cred.Refreshable() && cred.ExpiresAt == 0 {
		return true
	}
	return cred.Expiry().After(m.now().Add(ExpiryBuffer))
}

func (m *Manager) refresh(ctx context.Context, accountID string) (*types.Credential, error) {
	cred, err := m.current(ctx, accountID)
	if err != nil {
		return nil, err
	}
	// a previous flight may have finished between the caller's check and ours
	if m.usable(cred) {
		return cred, nil
	}

	p, ok := m.providers[cred.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown oauth provider %q", cred.Provider)
	}

	log := m.logger.WithFields(logrus.Fields{"account": accountID, "provider": cred.Provider})
	log.Debug("Refreshing access token")

	src := p.config().TokenSource(m.withHTTPClient(ctx, accountID), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		cerr := refreshError(err)
		log.WithError(cerr).Warn("Token refresh failed")
		return nil, cerr
	}

	next := credentialFromToken(cred.Provider, tok, cred, m.now())
	m.mu.Lock()
	m.creds[accountID] = next
	m.mu.Unlock()

	if err := m.store.SaveCredential(ctx, accountID, next); err != nil {
		log.WithError(err).Warn("Failed to persist refreshed credential")
	}

	log.WithField("expires_at", next.Expiry()).Info("Access token refreshed")
	return next, nil
}

func (m *Manager) withHTTPClient(ctx context.Context, accountID string) context.Context {
	m.mu.Lock()
	fn := m.clientFor
	m.mu.Unlock()

	client := m.httpClient
	if fn != nil {
		if c := fn(accountID); c != nil {
			client = c
		}
	}
	return context.WithValue(ctx, oauth2.HTTPClient, client)
}

// refreshError maps token endpoint failures. 400 and 401 mean the grant is
// unusable; anything else may be transient.
func refreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		switch re.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized:
			reason := re.ErrorCode
			if reason == "" {
				reason = http.StatusText(re.Response.StatusCode)
			}
			return &CredentialError{Kind: ReauthRequired, Reason: reason, Err: err}
		}
		return &CredentialError{Kind: RefreshFailed, Reason: re.ErrorCode, Err: err}
	}
	return &CredentialError{Kind: RefreshFailed, Err: err}
}

func retrieveErrorText(re *oauth2.RetrieveError) string {
	switch {
	case re.ErrorDescription != "":
		return re.ErrorDescription
	case re.ErrorCode != "":
		return re.ErrorCode
	case len(re.Body) > 0:
		return string(re.Body)
	case re.Response != nil:
		return re.Response.Status
	}
	return "token exchange failed"
}

func credentialFromToken(provider string, tok *oauth2.Token, prev *types.Credential, now time.Time) *types.Credential {
	expiry := tok.Expiry
	if expiry.IsZero() {
		expiry = now.Add(defaultTTL)
	}

	cred := &types.Credential{
		Provider:     provider,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    expiry.UnixMilli(),
	}
	if scope, ok := tok.Extra("scope").(string); ok {
		cred.Scope = scope
	}
	if prev != nil {
		if cred.RefreshToken == "" {
			cred.RefreshToken = prev.RefreshToken
		}
		if cred.Scope == "" {
			cred.Scope = prev.Scope
		}
	}
	return cred
}
