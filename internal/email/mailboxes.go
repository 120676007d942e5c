package email

import (
	"context"
	"strings"

	"github.com/emersion/go-imap"

	"github.com/brandon/mailcore/internal/folders"
)

// ListMailboxes returns every mailbox with its attributes. Counts are
// not filled; use Status for those.
func (s *Session) ListMailboxes(ctx context.Context) ([]folders.ProviderFolder, error) {
	c, err := s.require("list", Ready, MailboxSelected)
	if err != nil {
		return nil, err
	}

	var out []folders.ProviderFolder
	err = s.run(ctx, "list", c, func() error {
		mailboxes := make(chan *imap.MailboxInfo, 10)
		done := make(chan error, 1)
		go func() {
			done <- c.List("", "*", mailboxes)
		}()

		for m := range mailboxes {
			out = append(out, folders.ProviderFolder{
				Name:       leafName(m.Name, m.Delimiter),
				Path:       m.Name,
				Delimiter:  m.Delimiter,
				Attributes: append([]string(nil), m.Attributes...),
			})
		}
		return <-done
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Status reads counts for name without selecting it
func (s *Session) Status(ctx context.Context, name string) (*MailboxStatus, error) {
	c, err := s.require("status", Ready, MailboxSelected)
	if err != nil {
		return nil, err
	}

	var mbox *imap.MailboxStatus
	err = s.run(ctx, "status", c, func() error {
		var err error
		mbox, err = c.Status(name, []imap.StatusItem{
			imap.StatusMessages, imap.StatusUnseen, imap.StatusUidNext, imap.StatusUidValidity,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	return &MailboxStatus{
		Name:        mbox.Name,
		Messages:    mbox.Messages,
		Unseen:      mbox.Unseen,
		UIDNext:     mbox.UidNext,
		UIDValidity: mbox.UidValidity,
	}, nil
}

// CreateMailbox creates name on the server
func (s *Session) CreateMailbox(ctx context.Context, name string) error {
	c, err := s.require("create", Ready, MailboxSelected)
	if err != nil {
		return err
	}
	return s.run(ctx, "create", c, func() error { return c.Create(name) })
}

// DeleteMailbox removes name from the server
func (s *Session) DeleteMailbox(ctx context.Context, name string) error {
	c, err := s.require("delete mailbox", Ready, MailboxSelected)
	if err != nil {
		return err
	}
	return s.run(ctx, "delete mailbox", c, func() error { return c.Delete(name) })
}

// RenameMailbox renames from to to
func (s *Session) RenameMailbox(ctx context.Context, from, to string) error {
	c, err := s.require("rename", Ready, MailboxSelected)
	if err != nil {
		return err
	}
	return s.run(ctx, "rename", c, func() error { return c.Rename(from, to) })
}

func leafName(path, delim string) string {
	if delim == "" {
		return path
	}
	if i := strings.LastIndex(path, delim); i >= 0 {
		return path[i+len(delim):]
	}
	return path
}
