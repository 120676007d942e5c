package email

import (
	"context"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// MarkRead sets \Seen on uids
func (s *Session) MarkRead(ctx context.Context, uids []uint32) error {
	return s.storeFlag(ctx, "mark read", uids, imap.AddFlags, imap.SeenFlag)
}

// MarkUnread clears \Seen on uids
func (s *Session) MarkUnread(ctx context.Context, uids []uint32) error {
	return s.storeFlag(ctx, "mark unread", uids, imap.RemoveFlags, imap.SeenFlag)
}

// SetFlagged sets or clears \Flagged on uids
func (s *Session) SetFlagged(ctx context.Context, uids []uint32, flagged bool) error {
	var op imap.FlagsOp = imap.AddFlags
	if !flagged {
		op = imap.RemoveFlags
	}
	return s.storeFlag(ctx, "flag", uids, op, imap.FlaggedFlag)
}

// Delete marks uids \Deleted and expunges the mailbox
func (s *Session) Delete(ctx context.Context, uids []uint32) error {
	if err := s.storeFlag(ctx, "delete", uids, imap.AddFlags, imap.DeletedFlag); err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	c, err := s.require("expunge", MailboxSelected)
	if err != nil {
		return err
	}
	return s.run(ctx, "expunge", c, func() error {
		return c.Expunge(nil)
	})
}

// Copy copies uids into dest
func (s *Session) Copy(ctx context.Context, uids []uint32, dest string) error {
	return s.transfer(ctx, "copy", uids, func(c *client.Client, set *imap.SeqSet) error {
		return c.UidCopy(set, dest)
	})
}

// Move moves uids into dest. Servers without MOVE get COPY, STORE and
// EXPUNGE instead.
func (s *Session) Move(ctx context.Context, uids []uint32, dest string) error {
	return s.transfer(ctx, "move", uids, func(c *client.Client, set *imap.SeqSet) error {
		return c.UidMove(set, dest)
	})
}

func (s *Session) storeFlag(ctx context.Context, op string, uids []uint32, mode imap.FlagsOp, flag string) error {
	return s.transfer(ctx, op, uids, func(c *client.Client, set *imap.SeqSet) error {
		item := imap.FormatFlagsOp(mode, true)
		return c.UidStore(set, item, []interface{}{flag}, nil)
	})
}

func (s *Session) transfer(ctx context.Context, op string, uids []uint32, fn func(*client.Client, *imap.SeqSet) error) error {
	c, err := s.require(op, MailboxSelected)
	if err != nil {
		return err
	}
	if len(uids) == 0 {
		return nil
	}

	set := new(imap.SeqSet)
	set.AddNum(uids...)
	return s.run(ctx, op, c, func() error {
		return fn(c, set)
	})
}
