package email

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/proxy"
	"github.com/brandon/mailcore/pkg/types"
)

// Session timeouts
const (
	ConnectTimeout = 30 * time.Second
	AuthTimeout    = 30 * time.Second
	FetchTimeout   = 60 * time.Second
	logoutTimeout  = 5 * time.Second
)

// AuthMethod selects how a session authenticates
type AuthMethod int

const (
	// AuthPassword uses LOGIN with a password or app secret
	AuthPassword AuthMethod = iota
	// AuthOAuth2 uses OAUTHBEARER, or XOAUTH2 when that is all the server offers
	AuthOAuth2
)

// SessionConfig describes one IMAP account endpoint
type SessionConfig struct {
	AccountID  string
	Host       string
	Port       int
	Username   string
	Secret     string // password or OAuth2 access token
	Auth       AuthMethod
	DisableTLS bool
	Proxy      types.ProxyDescriptor
}

// TunnelFactory opens proxied connections. It returns (nil, nil) when
// the descriptor is disabled.
type TunnelFactory interface {
	Create(ctx context.Context, desc types.ProxyDescriptor, host string, port int) (net.Conn, error)
}

// MailboxStatus describes the selected mailbox
type MailboxStatus struct {
	Name        string
	Messages    uint32
	Unseen      uint32
	UIDNext     uint32
	UIDValidity uint32
}

// Session is a stateful IMAP connection for one account. Operations must
// not be called concurrently; the owner serializes them.
type Session struct {
	cfg     SessionConfig
	tunnels TunnelFactory
	dial    proxy.DialFunc
	logger  *logrus.Logger

	connectTimeout time.Duration
	authTimeout    time.Duration
	fetchTimeout   time.Duration

	mu      sync.Mutex
	state   State
	client  *client.Client
	conn    net.Conn
	mailbox *MailboxStatus
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AccountID returns the account this session belongs to
func (s *Session) AccountID() string {
	return s.cfg.AccountID
}

// Mailbox returns the selected mailbox, or nil
func (s *Session) Mailbox() *MailboxStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mailbox == nil {
		return nil
	}
	mb := *s.mailbox
	return &mb
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

func (s *Session) log() *logrus.Entry {
	return s.logger.WithFields(logrus.Fields{
		"account": s.cfg.AccountID,
		"host":    s.cfg.Host,
	})
}

// connect runs Connecting -> Authenticating -> Ready. On failure the
// session ends Closed.
func (s *Session) connect(ctx context.Context) error {
	s.setState(Connecting)

	connectCtx, cancel := context.WithTimeout(ctx, s.connectTimeout)
	defer cancel()

	conn, err := s.openTransport(connectCtx)
	if err != nil {
		s.setState(Closed)
		return err
	}

	if dl, ok := connectCtx.Deadline(); ok {
		conn.SetDeadline(dl) //nolint:errcheck
	}
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		s.setState(Closed)
		return s.failure(connectCtx, "connect", err)
	}

	s.setState(Authenticating)
	conn.SetDeadline(time.Now().Add(s.authTimeout)) //nolint:errcheck
	if err := s.authenticate(c); err != nil {
		c.Terminate() //nolint:errcheck
		s.setState(Closed)
		kind := AuthFailed
		if isTimeout(err) {
			kind = Timeout
		}
		s.log().WithError(err).Warn("Mail session authentication failed")
		return &SessionError{Kind: kind, Op: "authenticate", Err: err}
	}
	conn.SetDeadline(time.Time{}) //nolint:errcheck

	s.mu.Lock()
	s.client = c
	s.conn = conn
	s.state = Ready
	s.mu.Unlock()

	go s.watch(c)

	s.log().Info("Connected to IMAP server")
	return nil
}

// openTransport returns a tunneled socket when proxying is enabled, a
// direct one otherwise, wrapped in TLS unless disabled.
func (s *Session) openTransport(ctx context.Context) (net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if s.tunnels != nil {
		conn, err = s.tunnels.Create(ctx, s.cfg.Proxy, s.cfg.Host, s.cfg.Port)
		if err != nil {
			return nil, err
		}
	}
	if conn == nil {
		addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
		conn, err = s.dial(ctx, "tcp", addr)
		if err != nil {
			return nil, s.failure(ctx, "dial", err)
		}
	}

	if s.cfg.DisableTLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName: s.cfg.Host,
		MinVersion: tls.VersionTLS12,
		// many self-hosted servers present self-signed certificates
		InsecureSkipVerify: true, //nolint:gosec
	})
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		conn.Close()
		return nil, s.failure(ctx, "tls handshake", err)
	}
	return tlsConn, nil
}

func (s *Session) authenticate(c *client.Client) error {
	if s.cfg.Auth != AuthOAuth2 {
		return c.Login(s.cfg.Username, s.cfg.Secret)
	}

	if ok, _ := c.SupportAuth(sasl.OAuthBearer); ok {
		return c.Authenticate(sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.cfg.Username,
			Token:    s.cfg.Secret,
			Host:     s.cfg.Host,
			Port:     s.cfg.Port,
		}))
	}
	return c.Authenticate(newXOAuth2Client(s.cfg.Username, s.cfg.Secret))
}

// watch moves the session to Closed when the server drops an idle
// connection. No error is surfaced; the next operation sees NotConnected.
func (s *Session) watch(c *client.Client) {
	<-c.LoggedOut()

	s.mu.Lock()
	unexpected := s.client == c && s.state != Closing && s.state != Closed
	if unexpected {
		s.state = Closed
		s.client = nil
		s.mailbox = nil
	}
	s.mu.Unlock()

	if unexpected {
		s.log().Info("IMAP connection ended by server")
	}
}

// require returns the client if the session is in one of states
func (s *Session) require(op string, states ...State) (*client.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range states {
		if s.state == st && s.client != nil {
			return s.client, nil
		}
	}
	return nil, &SessionError{Kind: NotConnected, Op: op, State: s.state}
}

// run executes one command bounded by ctx. Transport failures close the
// session; command-level rejections (NO/BAD) leave it usable.
func (s *Session) run(ctx context.Context, op string, c *client.Client, fn func() error) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	if dl, ok := ctx.Deadline(); ok {
		conn.SetDeadline(dl) //nolint:errcheck
	}
	stop := context.AfterFunc(ctx, func() {
		conn.SetDeadline(time.Now()) //nolint:errcheck
	})
	err := fn()
	stop()
	conn.SetDeadline(time.Time{}) //nolint:errcheck

	if err == nil {
		return nil
	}

	select {
	case <-c.LoggedOut():
	default:
		if !isTransportError(err) && ctx.Err() == nil {
			return &commandError{op: op, err: err}
		}
	}

	s.teardown()
	return s.failure(ctx, op, err)
}

func (s *Session) failure(ctx context.Context, op string, err error) error {
	kind := TransportClosed
	if isTimeout(err) || ctx.Err() != nil || pastDeadline(ctx) {
		kind = Timeout
	}
	s.log().WithError(err).WithField("op", op).Warn("Mail session transport failure")
	return &SessionError{Kind: kind, Op: op, Err: err}
}

func pastDeadline(ctx context.Context) bool {
	dl, ok := ctx.Deadline()
	return ok && !time.Now().Before(dl)
}

// teardown drops the connection without a LOGOUT exchange
func (s *Session) teardown() {
	s.mu.Lock()
	c := s.client
	s.client = nil
	s.mailbox = nil
	s.state = Closed
	s.mu.Unlock()

	if c != nil {
		c.Terminate() //nolint:errcheck
	}
}

// SelectMailbox opens name and exposes its counts. Allowed from Ready and,
// to switch mailboxes, from MailboxSelected.
func (s *Session) SelectMailbox(ctx context.Context, name string) (*MailboxStatus, error) {
	c, err := s.require("select", Ready, MailboxSelected)
	if err != nil {
		return nil, err
	}

	var mbox *imap.MailboxStatus
	err = s.run(ctx, "select", c, func() error {
		var err error
		mbox, err = c.Select(name, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	status := &MailboxStatus{
		Name:        mbox.Name,
		Messages:    mbox.Messages,
		Unseen:      mbox.Unseen,
		UIDNext:     mbox.UidNext,
		UIDValidity: mbox.UidValidity,
	}

	s.mu.Lock()
	s.mailbox = status
	s.state = MailboxSelected
	s.mu.Unlock()

	s.log().WithFields(logrus.Fields{
		"mailbox":  name,
		"messages": mbox.Messages,
	}).Debug("Selected mailbox")

	mb := *status
	return &mb, nil
}

// Disconnect logs out and closes the socket. It never fails and repeated
// calls are no-ops.
func (s *Session) Disconnect() {
	s.mu.Lock()
	switch s.state {
	case Closing, Closed:
		s.mu.Unlock()
		return
	}
	c, conn := s.client, s.conn
	s.state = Closing
	s.mu.Unlock()

	if c != nil {
		if conn != nil {
			conn.SetDeadline(time.Now().Add(logoutTimeout)) //nolint:errcheck
		}
		if err := c.Logout(); err != nil {
			s.log().WithError(err).Debug("Logout failed, terminating connection")
			c.Terminate() //nolint:errcheck
		}
	}

	s.mu.Lock()
	s.state = Closed
	s.client = nil
	s.mailbox = nil
	s.mu.Unlock()

	s.log().Debug("Mail session closed")
}

// commandError is a server-side rejection of a single command
type commandError struct {
	op  string
	err error
}

func (e *commandError) Error() string { return e.op + ": " + e.err.Error() }
func (e *commandError) Unwrap() error { return e.err }
