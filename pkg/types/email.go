package types

import "time"

// MailRecord represents a cached message
type MailRecord struct {
	ID                string            `json:"id"`
	ProviderMessageID string            `json:"providerMessageId"`
	AccountID         string            `json:"accountId"`
	FolderID          string            `json:"folderId"`
	Subject           string            `json:"subject"`
	From              string            `json:"from"`
	To                []string          `json:"to,omitempty"`
	Cc                []string          `json:"cc,omitempty"`
	Date              time.Time         `json:"date"`
	Headers           map[string]string `json:"headers,omitempty"`
	BodyText          string            `json:"bodyText,omitempty"`
	BodyHTML          string            `json:"bodyHtml,omitempty"`
	Preview           string            `json:"preview,omitempty"`
	Flags             Flags             `json:"flags"`
	Attachments       []Attachment      `json:"attachments,omitempty"`
	ParseFailed       bool              `json:"parseFailed,omitempty"`
	CachedAt          time.Time         `json:"cachedAt"`
}

// Flags holds the per-message state mirrored from the provider
type Flags struct {
	Read    bool `json:"read"`
	Flagged bool `json:"flagged"`
}

// Attachment describes an attachment without its content
type Attachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"contentType"`
	Size        int    `json:"size"`
}

// FolderRecord represents a folder in the canonical model
type FolderRecord struct {
	ID            string `json:"id"`
	DisplayName   string `json:"displayName"`
	ProviderPath  string `json:"providerPath,omitempty"`
	Delimiter     string `json:"delimiter,omitempty"`
	MessageTotal  int    `json:"messageTotal"`
	MessageUnread int    `json:"messageUnread"`
	IsSystem      bool   `json:"isSystem"`
}

// OutgoingMessage is a message to be sent
type OutgoingMessage struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	BodyText    string
	BodyHTML    string
	ReplyTo     string
	InReplyTo   string
	Attachments []OutgoingAttachment
}

// OutgoingAttachment is an attachment with content
type OutgoingAttachment struct {
	Filename string
	Content  []byte
	MimeType string
}

// Recipients returns every envelope recipient
func (m *OutgoingMessage) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	out = append(out, m.To...)
	out = append(out, m.Cc...)
	return append(out, m.Bcc...)
}
