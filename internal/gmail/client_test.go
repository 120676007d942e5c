package gmail

import (
	"context"
	"net/http"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/brandon/mailcore/internal/folders"
	"github.com/brandon/mailcore/internal/gmail/gmailtest"
)

func newTestClient(t *testing.T, srv *gmailtest.Server) *Client {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	c, err := NewClient(context.Background(), Config{
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "tok-123"}),
		Endpoint:    srv.Endpoint(),
	}, logger)
	require.NoError(t, err)
	return c
}

func TestListMessageIDsPagesUpToMax(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()
	srv.PageSize = 2
	day := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"m1", "m2", "m3", "m4", "m5"} {
		srv.AddMessage(gmailtest.Message(id, []string{"INBOX"}, id, "a@example.org", "x", day))
	}
	srv.AddMessage(gmailtest.Message("s1", []string{"SENT"}, "s1", "me@example.org", "x", day))

	c := newTestClient(t, srv)
	ids, err := c.ListMessageIDs(context.Background(), "INBOX", "", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	all, err := c.ListMessageIDs(context.Background(), "INBOX", "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 5)

	assert.Contains(t, srv.Tokens, "tok-123")
}

func TestGetMessageDecodes(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()
	date := time.Date(2025, 6, 2, 9, 30, 0, 0, time.UTC)
	srv.AddMessage(gmailtest.Message("m1", []string{"INBOX", "UNREAD", "STARRED"}, "Hello", "Alice <alice@example.org>", "body text", date))

	c := newTestClient(t, srv)
	raw, err := c.GetMessage(context.Background(), "m1")
	require.NoError(t, err)

	m := Decode(raw)
	assert.Equal(t, "m1", m.ID)
	assert.Equal(t, "Hello", m.Subject)
	assert.Equal(t, "Alice <alice@example.org>", m.From)
	assert.Equal(t, []string{"me@example.org"}, m.To)
	assert.Equal(t, "body text", m.Text)
	assert.Equal(t, "<p>body text</p>", m.HTML)
	assert.True(t, m.Date.Equal(date))
	assert.Equal(t, false, m.Flags().Read)
	assert.Equal(t, true, m.Flags().Flagged)
	assert.Equal(t, folders.Inbox, PrimaryFolder(m.LabelIDs))
}

func TestGetMessageNotFound(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()

	_, err := newTestClient(t, srv).GetMessage(context.Background(), "missing")
	require.Error(t, err)
}

func TestMutations(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()
	srv.AddMessage(gmailtest.Message("m1", []string{"INBOX", "UNREAD"}, "s", "a@example.org", "x", time.Now()))
	srv.AddMessage(gmailtest.Message("m2", []string{"INBOX"}, "s", "a@example.org", "x", time.Now()))
	ctx := context.Background()
	c := newTestClient(t, srv)

	require.NoError(t, c.Modify(ctx, "m1", nil, []string{LabelUnread}))
	assert.Equal(t, []gmailtest.ModifyCall{{Remove: []string{LabelUnread}}}, srv.Modified["m1"])

	require.NoError(t, c.Trash(ctx, "m1"))
	assert.Equal(t, []string{"m1"}, srv.Trashed)
	require.NoError(t, c.Untrash(ctx, "m1"))
	assert.Equal(t, []string{"m1"}, srv.Untrashed)
	require.Error(t, c.Untrash(ctx, "missing"))

	require.NoError(t, c.Delete(ctx, "m2"))
	assert.Equal(t, []string{"m2"}, srv.Deleted)

	id, err := c.Send(ctx, []byte("Subject: hi\r\n\r\nbody"))
	require.NoError(t, err)
	assert.Equal(t, "sent-1", id)
	require.Len(t, srv.Sent, 1)
	assert.Equal(t, "Subject: hi\r\n\r\nbody", string(srv.Sent[0]))
}

func TestLabelLifecycle(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()
	srv.AddLabel("INBOX", "INBOX", 0, 0)
	ctx := context.Background()
	c := newTestClient(t, srv)

	label, err := c.CreateLabel(ctx, "Receipts")
	require.NoError(t, err)
	assert.Equal(t, "Receipts", label.Name)
	assert.NotEmpty(t, label.Id)
	require.Len(t, srv.Labels(), 2)

	_, err = c.CreateLabel(ctx, "receipts")
	assert.Error(t, err)

	require.NoError(t, c.DeleteLabel(ctx, label.Id))
	require.Len(t, srv.Labels(), 1)
	assert.Error(t, c.DeleteLabel(ctx, label.Id))
}

func TestListLabelsToProviderFolders(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()
	srv.AddLabel("INBOX", "INBOX", 10, 2)
	srv.AddLabel("UNREAD", "UNREAD", 2, 2)
	srv.AddLabel("CATEGORY_SOCIAL", "CATEGORY_SOCIAL", 3, 0)
	srv.AddLabel("Label_7", "Receipts", 4, 1)

	labels, err := newTestClient(t, srv).ListLabels(context.Background())
	require.NoError(t, err)

	pfs := ProviderFolders(labels)
	require.Len(t, pfs, 2)
	assert.Equal(t, "INBOX", pfs[0].Path)
	assert.Equal(t, 10, pfs[0].MessageTotal)
	assert.Equal(t, "Label_7", pfs[1].Path)
	assert.Equal(t, "Receipts", pfs[1].Name)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	srv := gmailtest.NewServer()
	defer srv.Close()
	logger, _ := logtest.NewNullLogger()
	c, err := NewClient(context.Background(), Config{
		TokenSource: oauth2.StaticTokenSource(&oauth2.Token{AccessToken: "t"}),
		Endpoint:    srv.Endpoint(),
		Rate:        0.001,
		Burst:       1,
	}, logger)
	require.NoError(t, err)

	_, err = c.ListLabels(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.ListLabels(ctx)
	assert.Error(t, err)
}

func TestNewClientRequiresTokenSource(t *testing.T) {
	logger, _ := logtest.NewNullLogger()
	_, err := NewClient(context.Background(), Config{HTTPClient: http.DefaultClient}, logger)
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	since := time.Date(2025, 3, 7, 15, 0, 0, 0, time.UTC)
	assert.Equal(t, "", Query(false, time.Time{}))
	assert.Equal(t, "is:unread", Query(true, time.Time{}))
	assert.Equal(t, "after:2025/03/07", Query(false, since))
	assert.Equal(t, "is:unread after:2025/03/07", Query(true, since))
}

func TestPrimaryFolderPriority(t *testing.T) {
	assert.Equal(t, folders.Trash, PrimaryFolder([]string{"INBOX", "TRASH"}))
	assert.Equal(t, folders.Sent, PrimaryFolder([]string{"STARRED", "SENT"}))
	assert.Equal(t, folders.Starred, PrimaryFolder([]string{"STARRED", "UNREAD"}))
	assert.Equal(t, "", PrimaryFolder([]string{"Label_1"}))
}

func TestDecodeAttachmentsAndBadBody(t *testing.T) {
	m := Decode(&gmailMessageWithAttachment)
	require.Len(t, m.Attachments, 1)
	assert.Equal(t, "a.pdf", m.Attachments[0].Filename)
	assert.Equal(t, 1234, m.Attachments[0].Size)
	assert.Equal(t, "", m.Text)
}

var gmailMessageWithAttachment = gmail.Message{
	Id: "att",
	Payload: &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: "!!not base64!!"}},
			{MimeType: "application/pdf", Filename: "a.pdf", Body: &gmail.MessagePartBody{AttachmentId: "x", Size: 1234}},
		},
	},
}
