package gmail

import (
	"encoding/base64"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	gmail "google.golang.org/api/gmail/v1"

	"github.com/brandon/mailcore/internal/folders"
	"github.com/brandon/mailcore/pkg/types"
)

// System label ids
const (
	LabelInbox   = "INBOX"
	LabelUnread  = "UNREAD"
	LabelStarred = "STARRED"
	LabelTrash   = "TRASH"
	LabelSpam    = "SPAM"
	LabelSent    = "SENT"
	LabelDraft   = "DRAFT"
)

// labelPriority decides a message's folder when it carries several labels
var labelPriority = []string{LabelTrash, LabelSpam, LabelDraft, LabelSent, LabelInbox, LabelStarred}

// Message is a decoded full-format message
type Message struct {
	ID          string
	ThreadID    string
	LabelIDs    []string
	Subject     string
	From        string
	To          []string
	Cc          []string
	Date        time.Time
	Headers     map[string]string
	Text        string
	HTML        string
	Snippet     string
	Attachments []types.Attachment
}

// Flags derives read and flagged state from labels
func (m *Message) Flags() types.Flags {
	return types.Flags{
		Read:    !hasLabel(m.LabelIDs, LabelUnread),
		Flagged: hasLabel(m.LabelIDs, LabelStarred),
	}
}

// Decode converts an API message. Part bodies that fail base64url
// decoding are skipped.
func Decode(msg *gmail.Message) *Message {
	out := &Message{
		ID:       msg.Id,
		ThreadID: msg.ThreadId,
		LabelIDs: msg.LabelIds,
		Snippet:  msg.Snippet,
		Headers:  make(map[string]string),
	}
	if msg.InternalDate > 0 {
		out.Date = time.UnixMilli(msg.InternalDate).UTC()
	}
	if msg.Payload == nil {
		return out
	}

	for _, h := range msg.Payload.Headers {
		out.Headers[h.Name] = h.Value
		switch strings.ToLower(h.Name) {
		case "subject":
			out.Subject = h.Value
		case "from":
			out.From = h.Value
		case "to":
			out.To = addresses(h.Value)
		case "cc":
			out.Cc = addresses(h.Value)
		}
	}
	walk(msg.Payload, out)
	return out
}

func walk(part *gmail.MessagePart, out *Message) {
	if part == nil {
		return
	}

	if part.Filename != "" {
		att := types.Attachment{Filename: part.Filename, ContentType: part.MimeType}
		if part.Body != nil {
			att.Size = int(part.Body.Size)
		}
		out.Attachments = append(out.Attachments, att)
	} else if part.Body != nil && part.Body.Data != "" {
		switch part.MimeType {
		case "text/plain":
			if out.Text == "" {
				out.Text = decodeBody(part.Body.Data)
			}
		case "text/html":
			if out.HTML == "" {
				out.HTML = decodeBody(part.Body.Data)
			}
		}
	}

	for _, p := range part.Parts {
		walk(p, out)
	}
}

func decodeBody(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	return ""
}

func addresses(v string) []string {
	list, err := mail.ParseAddressList(v)
	if err != nil {
		return []string{strings.TrimSpace(v)}
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Address)
	}
	return out
}

func hasLabel(labels []string, id string) bool {
	for _, l := range labels {
		if l == id {
			return true
		}
	}
	return false
}

// PrimaryFolder returns the canonical folder a message belongs to, or
// "" when none of its labels is a folder label
func PrimaryFolder(labels []string) string {
	for _, id := range labelPriority {
		if hasLabel(labels, id) {
			canonical, _ := folders.LabelFolder(id)
			return canonical
		}
	}
	return ""
}

// isPseudoLabel reports labels that are message attributes, not folders
func isPseudoLabel(id string) bool {
	switch id {
	case LabelUnread, "IMPORTANT", "CHAT":
		return true
	}
	return strings.HasPrefix(id, "CATEGORY_")
}

// ProviderFolders converts labels for the reconciler
func ProviderFolders(labels []*gmail.Label) []folders.ProviderFolder {
	out := make([]folders.ProviderFolder, 0, len(labels))
	for _, l := range labels {
		if isPseudoLabel(l.Id) {
			continue
		}
		out = append(out, folders.ProviderFolder{
			Name:          l.Name,
			Path:          l.Id,
			Delimiter:     "/",
			MessageTotal:  int(l.MessagesTotal),
			MessageUnread: int(l.MessagesUnread),
		})
	}
	return out
}
