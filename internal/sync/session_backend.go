package sync

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailcore/internal/batch"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/folders"
	"github.com/brandon/mailcore/internal/oauth"
	"github.com/brandon/mailcore/internal/proxy"
	"github.com/brandon/mailcore/pkg/types"
)

// sessionBackend reaches the provider over IMAP and SMTP. Every call opens
// its own session and closes it before returning.
type sessionBackend struct {
	acct      Account
	sessions  *email.Sessions
	smtp      *email.SMTPClient
	creds     *oauth.Manager
	proxies   *proxy.Settings
	engine    *batch.Engine
	batchSize int
	logger    *logrus.Logger
	now       func() time.Time

	observe func(*email.Session)
}

func (b *sessionBackend) Kind() folders.Kind { return folders.Session }

func (b *sessionBackend) secret(ctx context.Context, password string) (string, email.AuthMethod, error) {
	if !b.acct.OAuth {
		return password, email.AuthPassword, nil
	}
	tok, err := b.creds.GetValidToken(ctx, b.acct.ID)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get token: %w", err)
	}
	return tok, email.AuthOAuth2, nil
}

// withSession runs fn against a fresh session that is always disconnected
// afterwards, whatever fn returns.
func (b *sessionBackend) withSession(ctx context.Context, fn func(*email.Session) error) error {
	secret, method, err := b.secret(ctx, b.acct.IMAP.Password)
	if err != nil {
		return err
	}

	s, err := b.sessions.Open(ctx, email.SessionConfig{
		AccountID:  b.acct.ID,
		Host:       b.acct.IMAP.Host,
		Port:       b.acct.IMAP.Port,
		Username:   b.acct.IMAP.Username,
		Secret:     secret,
		Auth:       method,
		DisableTLS: b.acct.DisableTLS,
		Proxy:      b.proxies.Effective(&b.acct.Proxy),
	})
	if err != nil {
		return fmt.Errorf("failed to open session: %w", err)
	}
	if b.observe != nil {
		b.observe(s)
	}
	defer func() {
		b.sessions.Release(b.acct.ID)
		s.Disconnect()
	}()

	return fn(s)
}

func (b *sessionBackend) ListFolders(ctx context.Context) ([]folders.ProviderFolder, error) {
	var out []folders.ProviderFolder
	err := b.withSession(ctx, func(s *email.Session) error {
		list, err := s.ListMailboxes(ctx)
		if err != nil {
			return fmt.Errorf("failed to list mailboxes: %w", err)
		}
		for _, f := range list {
			if hasAttribute(f.Attributes, imap.NoSelectAttr) {
				out = append(out, f)
				continue
			}
			status, err := s.Status(ctx, f.Path)
			if err != nil {
				if email.IsKind(err, email.TransportClosed) || email.IsKind(err, email.Timeout) {
					return err
				}
				b.logger.WithError(err).WithField("mailbox", f.Path).Warn("Failed to get mailbox status")
			} else {
				f.MessageTotal = int(status.Messages)
				f.MessageUnread = int(status.Unseen)
			}
			out = append(out, f)
		}
		return nil
	})
	return out, err
}

func (b *sessionBackend) Fetch(ctx context.Context, target Target, opts SyncOptions) (batch.Result[types.MailRecord], error) {
	var res batch.Result[types.MailRecord]
	err := b.withSession(ctx, func(s *email.Session) error {
		mb, err := s.SelectMailbox(ctx, target.Path)
		if err != nil {
			return fmt.Errorf("failed to select %s: %w", target.Path, err)
		}

		uids, err := s.Search(ctx, email.Criteria{UnseenOnly: opts.UnreadOnly, Since: opts.Since})
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}
		if opts.Limit > 0 && len(uids) > opts.Limit {
			uids = uids[len(uids)-opts.Limit:]
		}

		res = batch.FetchInBatches(ctx, b.engine, uids, b.batchSize, func(ctx context.Context, chunk []uint32) (batch.Result[types.MailRecord], error) {
			msgs, err := s.FetchAndParse(ctx, chunk)
			if err != nil {
				return batch.Result[types.MailRecord]{}, err
			}

			var part batch.Result[types.MailRecord]
			seen := make(map[uint32]bool, len(msgs))
			for _, m := range msgs {
				seen[m.UID] = true
				part.Succeeded = append(part.Succeeded, b.record(target.ID, mb.UIDValidity, m))
			}
			for _, uid := range chunk {
				if !seen[uid] {
					part.Failed = append(part.Failed, batch.Failure{ID: strconv.FormatUint(uint64(uid), 10), Err: "not returned by server"})
				}
			}
			return part, nil
		})
		return nil
	})
	return res, err
}

func (b *sessionBackend) record(folderID string, validity uint32, m email.ParsedMessage) types.MailRecord {
	date := m.Date
	if date.IsZero() {
		date = m.InternalDate
	}
	return types.MailRecord{
		ID:                localID(b.acct),
		ProviderMessageID: sessionMessageID(validity, m.UID),
		AccountID:         b.acct.ID,
		FolderID:          folderID,
		Subject:           m.Subject,
		From:              m.From,
		To:                m.To,
		Cc:                m.Cc,
		Date:              date,
		Headers:           m.Headers,
		BodyText:          m.Text,
		BodyHTML:          m.HTML,
		Preview:           preview(m.Text),
		Flags: types.Flags{
			Read:    m.HasFlag(imap.SeenFlag),
			Flagged: m.HasFlag(imap.FlaggedFlag),
		},
		Attachments: m.Attachments,
		ParseFailed: m.ParseFailed,
		CachedAt:    b.now(),
	}
}

// mutate selects target and runs fn with the UIDs behind ids
func (b *sessionBackend) mutate(ctx context.Context, target Target, ids []string, fn func(*email.Session, []uint32) error) (batch.Result[string], error) {
	var res batch.Result[string]
	err := b.withSession(ctx, func(s *email.Session) error {
		mb, err := s.SelectMailbox(ctx, target.Path)
		if err != nil {
			return fmt.Errorf("failed to select %s: %w", target.Path, err)
		}

		var uids []uint32
		for _, id := range ids {
			uid, err := parseSessionMessageID(id, mb.UIDValidity)
			if err != nil {
				res.Failed = append(res.Failed, batch.Failure{ID: id, Err: err.Error()})
				continue
			}
			uids = append(uids, uid)
			res.Succeeded = append(res.Succeeded, id)
		}
		if err := fn(s, uids); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return batch.Result[string]{}, err
	}
	return res, nil
}

func (b *sessionBackend) SetRead(ctx context.Context, target Target, ids []string, read bool) (batch.Result[string], error) {
	return b.mutate(ctx, target, ids, func(s *email.Session, uids []uint32) error {
		if read {
			return s.MarkRead(ctx, uids)
		}
		return s.MarkUnread(ctx, uids)
	})
}

func (b *sessionBackend) SetFlagged(ctx context.Context, target Target, ids []string, flagged bool) (batch.Result[string], error) {
	return b.mutate(ctx, target, ids, func(s *email.Session, uids []uint32) error {
		return s.SetFlagged(ctx, uids, flagged)
	})
}

func (b *sessionBackend) Delete(ctx context.Context, target Target, ids []string) (batch.Result[string], error) {
	return b.mutate(ctx, target, ids, func(s *email.Session, uids []uint32) error {
		return s.Delete(ctx, uids)
	})
}

func (b *sessionBackend) Move(ctx context.Context, from Target, ids []string, to Target) (batch.Result[string], error) {
	return b.mutate(ctx, from, ids, func(s *email.Session, uids []uint32) error {
		return s.Move(ctx, uids, to.Path)
	})
}

func (b *sessionBackend) CreateFolder(ctx context.Context, name string) error {
	return b.withSession(ctx, func(s *email.Session) error {
		return s.CreateMailbox(ctx, name)
	})
}

func (b *sessionBackend) DeleteFolder(ctx context.Context, target Target) error {
	return b.withSession(ctx, func(s *email.Session) error {
		return s.DeleteMailbox(ctx, target.Path)
	})
}

func (b *sessionBackend) Send(ctx context.Context, msg *types.OutgoingMessage) error {
	secret, method, err := b.secret(ctx, b.acct.SMTP.Password)
	if err != nil {
		return err
	}
	return b.smtp.Send(ctx, email.SMTPConfig{
		AccountID:  b.acct.ID,
		Host:       b.acct.SMTP.Host,
		Port:       b.acct.SMTP.Port,
		Username:   b.acct.SMTP.Username,
		Secret:     secret,
		Auth:       method,
		DisableTLS: b.acct.DisableTLS,
		Proxy:      b.proxies.Effective(&b.acct.Proxy),
	}, msg)
}

// sessionMessageID is stable for as long as the mailbox keeps its UIDVALIDITY
func sessionMessageID(validity, uid uint32) string {
	return fmt.Sprintf("%d:%d", validity, uid)
}

func parseSessionMessageID(id string, validity uint32) (uint32, error) {
	v, u, ok := strings.Cut(id, ":")
	if !ok {
		return 0, fmt.Errorf("malformed message id %q", id)
	}
	gotValidity, err := strconv.ParseUint(v, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("malformed message id %q", id)
	}
	uid, err := strconv.ParseUint(u, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("malformed message id %q", id)
	}
	if uint32(gotValidity) != validity {
		return 0, fmt.Errorf("message id %q is stale: mailbox uidvalidity is now %d", id, validity)
	}
	return uint32(uid), nil
}

func hasAttribute(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}
