package sync

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/brandon/mailcore/internal/batch"
	"github.com/brandon/mailcore/internal/email"
	"github.com/brandon/mailcore/internal/folders"
	"github.com/brandon/mailcore/internal/gmail"
	"github.com/brandon/mailcore/internal/oauth"
	"github.com/brandon/mailcore/pkg/types"
)

// restBackend reaches Gmail through its HTTP API
type restBackend struct {
	acct      Account
	client    *gmail.Client
	engine    *batch.Engine
	batchSize int
	logger    *logrus.Logger
	now       func() time.Time
}

// tokenSource hands the credential manager's current token to the HTTP
// transport on every request
type tokenSource struct {
	creds     *oauth.Manager
	accountID string
}

func (t tokenSource) Token() (*oauth2.Token, error) {
	tok, err := t.creds.GetValidToken(context.Background(), t.accountID)
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: tok, TokenType: "Bearer"}, nil
}

func (b *restBackend) Kind() folders.Kind { return folders.REST }

func (b *restBackend) ListFolders(ctx context.Context) ([]folders.ProviderFolder, error) {
	labels, err := b.client.ListLabels(ctx)
	if err != nil {
		return nil, err
	}
	return gmail.ProviderFolders(labels), nil
}

func (b *restBackend) Fetch(ctx context.Context, target Target, opts SyncOptions) (batch.Result[types.MailRecord], error) {
	ids, err := b.client.ListMessageIDs(ctx, target.Path, gmail.Query(opts.UnreadOnly, opts.Since), opts.Limit)
	if err != nil {
		return batch.Result[types.MailRecord]{}, err
	}
	b.logger.WithFields(logrus.Fields{
		"account": b.acct.ID,
		"label":   target.Path,
		"count":   len(ids),
	}).Debug("Listed message ids")

	res := batch.FetchInBatches(ctx, b.engine, ids, b.batchSize, func(ctx context.Context, chunk []string) (batch.Result[types.MailRecord], error) {
		return batch.FanOut(ctx, chunk, len(chunk), func(ctx context.Context, id string) (types.MailRecord, error) {
			msg, err := b.client.GetMessage(ctx, id)
			if err != nil {
				return types.MailRecord{}, err
			}
			return b.record(target, gmail.Decode(msg)), nil
		}), nil
	})
	return res, nil
}

func (b *restBackend) record(target Target, m *gmail.Message) types.MailRecord {
	folderID := target.ID
	if target.Path == "" {
		if id := gmail.PrimaryFolder(m.LabelIDs); id != "" {
			folderID = id
		}
	}

	text := preview(m.Text)
	if text == "" {
		text = preview(m.Snippet)
	}
	return types.MailRecord{
		ID:                localID(b.acct),
		ProviderMessageID: m.ID,
		AccountID:         b.acct.ID,
		FolderID:          folderID,
		Subject:           m.Subject,
		From:              m.From,
		To:                m.To,
		Cc:                m.Cc,
		Date:              m.Date,
		Headers:           m.Headers,
		BodyText:          m.Text,
		BodyHTML:          m.HTML,
		Preview:           text,
		Flags:             m.Flags(),
		Attachments:       m.Attachments,
		CachedAt:          b.now(),
	}
}

// each applies fn to every id, at most one chunk of calls in flight
func (b *restBackend) each(ctx context.Context, ids []string, fn func(ctx context.Context, id string) error) batch.Result[string] {
	return batch.FanOut(ctx, ids, b.batchSize, func(ctx context.Context, id string) (string, error) {
		if err := fn(ctx, id); err != nil {
			return "", err
		}
		return id, nil
	})
}

func (b *restBackend) SetRead(ctx context.Context, _ Target, ids []string, read bool) (batch.Result[string], error) {
	unread := []string{gmail.LabelUnread}
	return b.each(ctx, ids, func(ctx context.Context, id string) error {
		if read {
			return b.client.Modify(ctx, id, nil, unread)
		}
		return b.client.Modify(ctx, id, unread, nil)
	}), nil
}

func (b *restBackend) SetFlagged(ctx context.Context, _ Target, ids []string, flagged bool) (batch.Result[string], error) {
	starred := []string{gmail.LabelStarred}
	return b.each(ctx, ids, func(ctx context.Context, id string) error {
		if flagged {
			return b.client.Modify(ctx, id, starred, nil)
		}
		return b.client.Modify(ctx, id, nil, starred)
	}), nil
}

// Delete moves messages to the trash, or removes them for good when they
// are already there
func (b *restBackend) Delete(ctx context.Context, target Target, ids []string) (batch.Result[string], error) {
	permanent := target.ID == folders.Trash
	return b.each(ctx, ids, func(ctx context.Context, id string) error {
		if permanent {
			return b.client.Delete(ctx, id)
		}
		return b.client.Trash(ctx, id)
	}), nil
}

func (b *restBackend) Move(ctx context.Context, from Target, ids []string, to Target) (batch.Result[string], error) {
	if to.Path == "" {
		return batch.Result[string]{}, fmt.Errorf("no label for folder %s", to.ID)
	}
	if to.ID == folders.Trash {
		return b.Delete(ctx, from, ids)
	}

	// leaving the trash restores the message's labels before the new one
	// is added
	restore := from.ID == folders.Trash
	var remove []string
	if from.Path != "" && !restore {
		remove = []string{from.Path}
	}
	add := []string{to.Path}
	return b.each(ctx, ids, func(ctx context.Context, id string) error {
		if restore {
			if err := b.client.Untrash(ctx, id); err != nil {
				return err
			}
		}
		return b.client.Modify(ctx, id, add, remove)
	}), nil
}

func (b *restBackend) CreateFolder(ctx context.Context, name string) error {
	label, err := b.client.CreateLabel(ctx, name)
	if err != nil {
		return err
	}
	b.logger.WithFields(logrus.Fields{
		"account": b.acct.ID,
		"label":   label.Id,
	}).Debug("Created label")
	return nil
}

func (b *restBackend) DeleteFolder(ctx context.Context, target Target) error {
	return b.client.DeleteLabel(ctx, target.Path)
}

func (b *restBackend) Send(ctx context.Context, msg *types.OutgoingMessage) error {
	out := *msg
	if out.From == "" {
		out.From = b.acct.Email
	}
	raw, err := email.Compose(&out, b.now())
	if err != nil {
		return err
	}
	_, err = b.client.Send(ctx, raw)
	return err
}
