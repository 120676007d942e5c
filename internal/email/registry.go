package email

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/proxy"
)

// Sessions owns at most one live Session per account
type Sessions struct {
	tunnels TunnelFactory
	dial    proxy.DialFunc
	logger  *logrus.Logger

	connectTimeout time.Duration
	authTimeout    time.Duration
	fetchTimeout   time.Duration

	mu        sync.Mutex
	byAccount map[string]*Session
}

// Option configures Sessions
type Option func(*Sessions)

// WithDialer replaces the direct TCP dialer used when no proxy applies
func WithDialer(dial proxy.DialFunc) Option {
	return func(s *Sessions) { s.dial = dial }
}

// WithTimeouts overrides the connect, auth and fetch timeouts. Zero
// values keep the defaults.
func WithTimeouts(connect, auth, fetch time.Duration) Option {
	return func(s *Sessions) {
		if connect > 0 {
			s.connectTimeout = connect
		}
		if auth > 0 {
			s.authTimeout = auth
		}
		if fetch > 0 {
			s.fetchTimeout = fetch
		}
	}
}

// NewSessions creates a registry. tunnels may be nil to always dial direct.
func NewSessions(tunnels TunnelFactory, logger *logrus.Logger, opts ...Option) *Sessions {
	var d net.Dialer
	s := &Sessions{
		tunnels:        tunnels,
		dial:           d.DialContext,
		logger:         logger,
		connectTimeout: ConnectTimeout,
		authTimeout:    AuthTimeout,
		fetchTimeout:   FetchTimeout,
		byAccount:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Open connects and authenticates a new session for cfg.AccountID,
// closing any session the account already had.
func (r *Sessions) Open(ctx context.Context, cfg SessionConfig) (*Session, error) {
	r.mu.Lock()
	prev := r.byAccount[cfg.AccountID]
	delete(r.byAccount, cfg.AccountID)
	r.mu.Unlock()
	if prev != nil {
		prev.Disconnect()
	}

	s := &Session{
		cfg:            cfg,
		tunnels:        r.tunnels,
		dial:           r.dial,
		logger:         r.logger,
		connectTimeout: r.connectTimeout,
		authTimeout:    r.authTimeout,
		fetchTimeout:   r.fetchTimeout,
		state:          Disconnected,
	}
	if err := s.connect(ctx); err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.byAccount[cfg.AccountID] = s
	r.mu.Unlock()
	return s, nil
}

// Get returns the account's session if it is still usable
func (r *Sessions) Get(accountID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byAccount[accountID]
	if !ok {
		return nil, false
	}
	switch s.State() {
	case Ready, MailboxSelected:
		return s, true
	}
	delete(r.byAccount, accountID)
	return nil, false
}

// Release disconnects and forgets the account's session
func (r *Sessions) Release(accountID string) {
	r.mu.Lock()
	s := r.byAccount[accountID]
	delete(r.byAccount, accountID)
	r.mu.Unlock()
	if s != nil {
		s.Disconnect()
	}
}

// CloseAll disconnects every session
func (r *Sessions) CloseAll() {
	r.mu.Lock()
	all := r.byAccount
	r.byAccount = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range all {
		s.Disconnect()
	}
}
