package email

import (
	"bytes"
	"context"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/internal/email/imaptest"
	"github.com/brandon/mailcore/pkg/types"
)

const plainMessage = "From: Alice <alice@example.org>\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: Quarterly numbers\r\n" +
	"Date: Mon, 02 Jun 2025 09:30:00 +0000\r\n" +
	"Message-ID: <q1@example.org>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"hello bob\r\n"

const htmlMessage = "From: carol@example.org\r\n" +
	"To: bob@example.org\r\n" +
	"Subject: =?UTF-8?B?5Lya6K6u?=\r\n" +
	"Date: Tue, 03 Jun 2025 10:00:00 +0000\r\n" +
	"Content-Type: text/html; charset=utf-8\r\n" +
	"\r\n" +
	"<p>agenda</p>\r\n"

// stallConn swallows writes once stalled, so the server never answers
type stallConn struct {
	net.Conn
	stalled atomic.Bool
	writes  atomic.Int64
}

func (c *stallConn) Write(p []byte) (int, error) {
	c.writes.Add(1)
	if c.stalled.Load() {
		return len(p), nil
	}
	return c.Conn.Write(p)
}

type dialRecorder struct {
	mu    sync.Mutex
	conns []*stallConn
	dials atomic.Int32
}

func (r *dialRecorder) dial(ctx context.Context, network, addr string) (net.Conn, error) {
	r.dials.Add(1)
	var d net.Dialer
	c, err := d.DialContext(ctx, network, addr)
	if err != nil {
		return nil, err
	}
	sc := &stallConn{Conn: c}
	r.mu.Lock()
	r.conns = append(r.conns, sc)
	r.mu.Unlock()
	return sc, nil
}

func (r *dialRecorder) last() *stallConn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conns[len(r.conns)-1]
}

func startIMAPServer(t *testing.T) (*memory.Backend, int) {
	return imaptest.NewServer(t)
}

func appendMessage(t *testing.T, be *memory.Backend, mailbox string, flags []string, raw string) {
	t.Helper()
	u, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	mb, err := u.GetMailbox(mailbox)
	require.NoError(t, err)
	require.NoError(t, mb.CreateMessage(flags, time.Now(), bytes.NewBufferString(raw)))
}

func sessionConfig(port int) SessionConfig {
	return SessionConfig{
		AccountID:  "acct-1",
		Host:       "127.0.0.1",
		Port:       port,
		Username:   "username",
		Secret:     "password",
		DisableTLS: true,
	}
}

func newTestSessions(t *testing.T, tunnels TunnelFactory, opts ...Option) (*Sessions, *dialRecorder) {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	rec := &dialRecorder{}
	reg := NewSessions(tunnels, logger, append([]Option{WithDialer(rec.dial)}, opts...)...)
	t.Cleanup(reg.CloseAll)
	return reg, rec
}

// seeded returns a session with INBOX selected holding uid 6 (seen), 7 and 8
func seeded(t *testing.T, opts ...Option) (*Session, *dialRecorder, *memory.Backend) {
	t.Helper()
	be, port := startIMAPServer(t)
	appendMessage(t, be, "INBOX", nil, plainMessage)
	appendMessage(t, be, "INBOX", nil, htmlMessage)

	reg, rec := newTestSessions(t, nil, opts...)
	s, err := reg.Open(context.Background(), sessionConfig(port))
	require.NoError(t, err)

	mb, err := s.SelectMailbox(context.Background(), "INBOX")
	require.NoError(t, err)
	require.EqualValues(t, 3, mb.Messages)
	return s, rec, be
}

func TestOpenSelectSearchFetch(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()
	assert.Equal(t, MailboxSelected, s.State())

	all, err := s.Search(ctx, Criteria{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 7, 8}, all)

	unseen, err := s.Search(ctx, Criteria{UnseenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 8}, unseen)

	msgs, err := s.FetchAndParse(ctx, unseen)
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.EqualValues(t, 7, msgs[0].UID)
	assert.Equal(t, "Quarterly numbers", msgs[0].Subject)
	assert.Equal(t, []string{"bob@example.org"}, msgs[0].To)
	assert.Contains(t, msgs[0].Text, "hello bob")
	assert.False(t, msgs[0].HasFlag(imap.SeenFlag))
	assert.False(t, msgs[0].ParseFailed)

	assert.EqualValues(t, 8, msgs[1].UID)
	assert.Equal(t, "会议", msgs[1].Subject)
	assert.Contains(t, msgs[1].HTML, "<p>agenda</p>")

	// BODY.PEEK leaves messages unread
	unseen, err = s.Search(ctx, Criteria{UnseenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{7, 8}, unseen)
}

func TestFetchRangeHeadersOnly(t *testing.T) {
	s, _, _ := seeded(t)

	msgs, err := s.FetchRange(context.Background(), []uint32{7}, FetchOptions{HeadersOnly: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 7, msgs[0].UID)
	assert.Equal(t, "Quarterly numbers", msgs[0].Subject)
	assert.Equal(t, []string{"bob@example.org"}, msgs[0].To)
	assert.NotContains(t, string(msgs[0].Body), "hello bob")
}

func TestFetchEmptyUIDs(t *testing.T) {
	s, _, _ := seeded(t)
	msgs, err := s.FetchAndParse(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestDecodePlaceholder(t *testing.T) {
	pm := decode(nil)
	assert.True(t, pm.ParseFailed)
	assert.Equal(t, ParseFailedSubject, pm.Subject)
	assert.NotEmpty(t, pm.ParseError)
}

func TestOpenAuthFailure(t *testing.T) {
	_, port := startIMAPServer(t)
	reg, _ := newTestSessions(t, nil)

	cfg := sessionConfig(port)
	cfg.Secret = "wrong"
	s, err := reg.Open(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, s)
	assert.True(t, IsKind(err, AuthFailed), "got %v", err)

	_, ok := reg.Get(cfg.AccountID)
	assert.False(t, ok)
}

type fakeTunnels struct {
	created atomic.Int32
}

func (f *fakeTunnels) Create(ctx context.Context, desc types.ProxyDescriptor, host string, port int) (net.Conn, error) {
	if !desc.Enabled {
		return nil, nil
	}
	f.created.Add(1)
	var d net.Dialer
	return d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
}

func TestOpenThroughTunnel(t *testing.T) {
	_, port := startIMAPServer(t)
	tunnels := &fakeTunnels{}
	reg, rec := newTestSessions(t, tunnels)

	cfg := sessionConfig(port)
	cfg.Proxy = types.ProxyDescriptor{Enabled: true, Protocol: types.ProxySOCKS5, Host: "127.0.0.1", Port: 1080}
	s, err := reg.Open(context.Background(), cfg)
	require.NoError(t, err)

	assert.Equal(t, Ready, s.State())
	assert.EqualValues(t, 1, tunnels.created.Load())
	assert.Zero(t, rec.dials.Load())
}

func TestPreconditionFailsWithoutIO(t *testing.T) {
	be, port := startIMAPServer(t)
	appendMessage(t, be, "INBOX", nil, plainMessage)
	reg, rec := newTestSessions(t, nil)

	s, err := reg.Open(context.Background(), sessionConfig(port))
	require.NoError(t, err)
	conn := rec.last()
	before := conn.writes.Load()

	_, err = s.FetchAndParse(context.Background(), []uint32{6})
	assert.True(t, IsKind(err, NotConnected), "got %v", err)
	_, err = s.Search(context.Background(), Criteria{})
	assert.True(t, IsKind(err, NotConnected))
	assert.True(t, IsKind(s.MarkRead(context.Background(), []uint32{6}), NotConnected))

	assert.Equal(t, before, conn.writes.Load())
	assert.Equal(t, Ready, s.State())

	s.Disconnect()
	_, err = s.SelectMailbox(context.Background(), "INBOX")
	assert.True(t, IsKind(err, NotConnected))
	assert.EqualValues(t, 1, rec.dials.Load())
}

func TestServerDropClosesSession(t *testing.T) {
	s, rec, _ := seeded(t)

	rec.last().Conn.Close()

	require.Eventually(t, func() bool { return s.State() == Closed }, 2*time.Second, 10*time.Millisecond)
	_, err := s.Search(context.Background(), Criteria{})
	assert.True(t, IsKind(err, NotConnected))
}

func TestDisconnectIdempotent(t *testing.T) {
	s, _, _ := seeded(t)
	s.Disconnect()
	s.Disconnect()
	assert.Equal(t, Closed, s.State())
	assert.Nil(t, s.Mailbox())
}

func TestMarkReadAndDelete(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.MarkRead(ctx, []uint32{7}))
	unseen, err := s.Search(ctx, Criteria{UnseenOnly: true})
	require.NoError(t, err)
	assert.Equal(t, []uint32{8}, unseen)

	require.NoError(t, s.MarkUnread(ctx, []uint32{7}))
	require.NoError(t, s.SetFlagged(ctx, []uint32{7}, true))

	msgs, err := s.FetchRange(ctx, []uint32{7}, FetchOptions{HeadersOnly: true})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].HasFlag(imap.FlaggedFlag))
	assert.False(t, msgs[0].HasFlag(imap.SeenFlag))

	require.NoError(t, s.Delete(ctx, []uint32{7}))
	all, err := s.Search(ctx, Criteria{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 8}, all)
}

func TestCopyKeepsSource(t *testing.T) {
	s, _, be := seeded(t)
	ctx := context.Background()
	u, err := be.Login(nil, "username", "password")
	require.NoError(t, err)
	require.NoError(t, u.CreateMailbox("Keep"))

	require.NoError(t, s.Copy(ctx, []uint32{6, 7}, "Keep"))

	st, err := s.Status(ctx, "Keep")
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.Messages)
	assert.EqualValues(t, 1, st.Unseen)

	all, err := s.Search(ctx, Criteria{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 7, 8}, all)
	assert.Equal(t, MailboxSelected, s.State())

	err = s.Copy(ctx, []uint32{7}, "Nowhere")
	require.Error(t, err)
	assert.False(t, IsKind(err, TransportClosed))
	assert.NoError(t, s.Copy(ctx, nil, "Keep"))
}

func TestMailboxOperations(t *testing.T) {
	s, _, _ := seeded(t)
	ctx := context.Background()

	require.NoError(t, s.CreateMailbox(ctx, "Archive"))
	require.NoError(t, s.Move(ctx, []uint32{8}, "Archive"))

	st, err := s.Status(ctx, "Archive")
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.Messages)
	assert.EqualValues(t, 1, st.Unseen)

	left, err := s.Search(ctx, Criteria{})
	require.NoError(t, err)
	assert.Equal(t, []uint32{6, 7}, left)

	list, err := s.ListMailboxes(ctx)
	require.NoError(t, err)
	var names []string
	for _, f := range list {
		names = append(names, f.Path)
	}
	assert.ElementsMatch(t, []string{"INBOX", "Archive"}, names)

	require.NoError(t, s.RenameMailbox(ctx, "Archive", "Old"))
	require.NoError(t, s.DeleteMailbox(ctx, "Old"))

	// a rejected command leaves the session usable
	_, err = s.SelectMailbox(ctx, "Missing")
	require.Error(t, err)
	assert.False(t, IsKind(err, TransportClosed))
	_, err = s.SelectMailbox(ctx, "INBOX")
	require.NoError(t, err)
}

func TestFetchTimeoutClosesSession(t *testing.T) {
	s, rec, _ := seeded(t, WithTimeouts(0, 0, 150*time.Millisecond))

	rec.last().stalled.Store(true)
	start := time.Now()
	_, err := s.FetchAndParse(context.Background(), []uint32{6, 7})
	require.Error(t, err)
	assert.True(t, IsKind(err, Timeout), "got %v", err)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Equal(t, Closed, s.State())
}

func TestConnectTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	var (
		mu   sync.Mutex
		held []net.Conn
	)
	t.Cleanup(func() {
		ln.Close()
		mu.Lock()
		defer mu.Unlock()
		for _, c := range held {
			c.Close()
		}
	})
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			held = append(held, c)
			mu.Unlock()
		}
	}()

	reg, _ := newTestSessions(t, nil, WithTimeouts(100*time.Millisecond, 0, 0))
	_, err = reg.Open(context.Background(), sessionConfig(ln.Addr().(*net.TCPAddr).Port))
	require.Error(t, err)
	assert.True(t, IsKind(err, Timeout), "got %v", err)
}

func TestOpenReplacesExistingSession(t *testing.T) {
	_, port := startIMAPServer(t)
	reg, _ := newTestSessions(t, nil)

	first, err := reg.Open(context.Background(), sessionConfig(port))
	require.NoError(t, err)
	second, err := reg.Open(context.Background(), sessionConfig(port))
	require.NoError(t, err)

	assert.Equal(t, Closed, first.State())
	got, ok := reg.Get("acct-1")
	require.True(t, ok)
	assert.Same(t, second, got)

	reg.Release("acct-1")
	assert.Equal(t, Closed, second.State())
}
