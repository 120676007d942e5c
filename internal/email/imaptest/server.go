// Package imaptest runs an in-process IMAP server over the go-imap memory
// backend, extended with MOVE and an unseen count in STATUS.
package imaptest

import (
	"io"
	"log"
	"net"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/stretchr/testify/require"
)

// Username and Password log in to the memory backend
const (
	Username = "username"
	Password = "password"
)

// NewServer listens on a loopback port until the test ends
func NewServer(t testing.TB) (*memory.Backend, int) {
	t.Helper()
	be := memory.New()
	srv := server.New(moveBackend{be})
	srv.AllowInsecureAuth = true
	srv.ErrorLog = log.New(io.Discard, "", 0)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln) //nolint:errcheck
	t.Cleanup(func() { srv.Close() })

	return be, ln.Addr().(*net.TCPAddr).Port
}

// Mailbox reaches into the backend for direct inspection
func Mailbox(t testing.TB, be *memory.Backend, name string) *memory.Mailbox {
	t.Helper()
	u, err := be.Login(nil, Username, Password)
	require.NoError(t, err)
	mb, err := u.GetMailbox(name)
	require.NoError(t, err)
	return mb.(*memory.Mailbox)
}

type moveBackend struct {
	*memory.Backend
}

func (b moveBackend) Login(conn *imap.ConnInfo, username, password string) (backend.User, error) {
	u, err := b.Backend.Login(conn, username, password)
	if err != nil {
		return nil, err
	}
	return moveUser{u}, nil
}

type moveUser struct {
	backend.User
}

func (u moveUser) GetMailbox(name string) (backend.Mailbox, error) {
	mb, err := u.User.GetMailbox(name)
	if err != nil {
		return nil, err
	}
	return moveMailbox{mb}, nil
}

type moveMailbox struct {
	backend.Mailbox
}

// MoveMessages is copy, mark deleted and expunge in one step
func (m moveMailbox) MoveMessages(uid bool, seqset *imap.SeqSet, dest string) error {
	if err := m.CopyMessages(uid, seqset, dest); err != nil {
		return err
	}
	if err := m.UpdateMessagesFlags(uid, seqset, imap.AddFlags, []string{imap.DeletedFlag}); err != nil {
		return err
	}
	return m.Expunge()
}

func (m moveMailbox) Status(items []imap.StatusItem) (*imap.MailboxStatus, error) {
	status, err := m.Mailbox.Status(items)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		if item != imap.StatusUnseen {
			continue
		}
		unseen, err := m.SearchMessages(false, &imap.SearchCriteria{WithoutFlags: []string{imap.SeenFlag}})
		if err != nil {
			return nil, err
		}
		status.Unseen = uint32(len(unseen))
	}
	return status, nil
}
