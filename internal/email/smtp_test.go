package email

import (
	"bufio"
	"context"
	"encoding/base64"
	"net"
	"strings"
	"sync"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brandon/mailcore/pkg/types"
)

// fakeSMTP accepts one submission and records the dialogue
type fakeSMTP struct {
	authMechs string

	mu    sync.Mutex
	auth  string
	from  string
	rcpts []string
	data  string
}

func (f *fakeSMTP) serve(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		f.handle(conn)
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func (f *fakeSMTP) handle(conn net.Conn) {
	r := bufio.NewReader(conn)
	reply := func(s string) { conn.Write([]byte(s + "\r\n")) } //nolint:errcheck

	reply("220 localhost ESMTP")
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])

		f.mu.Lock()
		switch verb {
		case "EHLO":
			reply("250-localhost")
			reply("250 AUTH " + f.authMechs)
		case "AUTH":
			f.auth = line
			reply("235 2.7.0 Authentication successful")
		case "MAIL":
			f.from = line
			reply("250 OK")
		case "RCPT":
			f.rcpts = append(f.rcpts, line)
			reply("250 OK")
		case "DATA":
			reply("354 Go ahead")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil || l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			f.data = b.String()
			reply("250 Queued")
		case "QUIT":
			reply("221 Bye")
			f.mu.Unlock()
			return
		default:
			reply("502 Unknown")
		}
		f.mu.Unlock()
	}
}

func newTestSMTP(t *testing.T) *SMTPClient {
	logger, _ := logtest.NewNullLogger()
	return NewSMTPClient(nil, logger)
}

func TestSendPasswordAuth(t *testing.T) {
	srv := &fakeSMTP{authMechs: "PLAIN"}
	port := srv.serve(t)

	c := newTestSMTP(t)
	err := c.Send(context.Background(), SMTPConfig{
		AccountID: "acct-1",
		Host:      "127.0.0.1",
		Port:      port,
		Username:  "alice@example.org",
		Secret:    "hunter2",
	}, &types.OutgoingMessage{
		To:       []string{"Bob <bob@example.org>"},
		Bcc:      []string{"audit@example.org"},
		Subject:  "Hello",
		BodyText: "hi",
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.True(t, strings.HasPrefix(srv.auth, "AUTH PLAIN "))
	creds, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(srv.auth, "AUTH PLAIN "))
	require.NoError(t, err)
	assert.Equal(t, "\x00alice@example.org\x00hunter2", string(creds))

	assert.Equal(t, "MAIL FROM:<alice@example.org>", strings.SplitN(srv.from, " BODY", 2)[0])
	assert.Equal(t, []string{"RCPT TO:<bob@example.org>", "RCPT TO:<audit@example.org>"}, srv.rcpts)
	assert.Contains(t, srv.data, "Subject: Hello")
	assert.NotContains(t, srv.data, "audit@example.org")
}

func TestSendOAuthFallsBackToXOAuth2(t *testing.T) {
	srv := &fakeSMTP{authMechs: "LOGIN XOAUTH2"}
	port := srv.serve(t)

	c := newTestSMTP(t)
	err := c.Send(context.Background(), SMTPConfig{
		Host:     "127.0.0.1",
		Port:     port,
		Username: "alice@outlook.com",
		Secret:   "access-token",
		Auth:     AuthOAuth2,
	}, &types.OutgoingMessage{
		From:     "alice@outlook.com",
		To:       []string{"bob@example.org"},
		Subject:  "Token",
		BodyText: "hi",
	})
	require.NoError(t, err)

	srv.mu.Lock()
	defer srv.mu.Unlock()
	require.True(t, strings.HasPrefix(srv.auth, "AUTH XOAUTH2 "))
	ir, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(srv.auth, "AUTH XOAUTH2 "))
	require.NoError(t, err)
	assert.Equal(t, "user=alice@outlook.com\x01auth=Bearer access-token\x01\x01", string(ir))
}

func TestSendUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	err = newTestSMTP(t).Send(context.Background(), SMTPConfig{Host: "127.0.0.1", Port: port, Username: "a@example.org"},
		&types.OutgoingMessage{To: []string{"b@example.org"}, BodyText: "x"})
	assert.Error(t, err)
}
